package layer

import (
	"context"

	"github.com/petervdpas/grouprelay/internal/groupchat"
	"github.com/petervdpas/grouprelay/internal/groupchat/wire"
)

// eventSync applies one inbound Sync event to the consensus log and then
// rebroadcasts it, verbatim, to the group's entire online roster —
// including the sender, so every peer's local log advances from the same
// Coordinator-assigned height.
func (c *Coordinator) eventSync(ctx context.Context, senderGID groupchat.GroupID, evt wire.LayerEvent) ([]Outbound, error) {
	gcd := evt.GroupID
	if !c.presence.IsOnlineMember(gcd, senderGID) {
		return nil, nil
	}
	fid, err := c.presence.FID(gcd)
	if err != nil {
		return nil, nil
	}

	se := evt.SyncEvent
	switch se.Kind {
	case wire.SyncMemberJoin:
		// Server-produced broadcast only; never applied from the network.
		return nil, nil

	case wire.SyncMemberInfo:
		member, err := c.repo.MemberGet(ctx, fid, se.MID)
		if err != nil {
			return nil, nil
		}
		if se.MName != "" {
			member.MName = se.MName
		}
		if se.MAddr != "" {
			member.MAddr = se.MAddr
		}
		if _, err := c.repo.MemberUpsert(ctx, member); err != nil {
			return nil, err
		}
		height, err := c.appendConsensus(ctx, fid, gcd, groupchat.ConsensusMemberInfo, member.ID)
		if err != nil {
			return nil, err
		}
		return c.broadcastToOnline(gcd, syncOutEvent(gcd, height, se)), nil

	case wire.SyncMemberLeave:
		member, err := c.repo.MemberGet(ctx, fid, se.MID)
		if err != nil {
			return nil, nil
		}
		if err := c.repo.MemberSoftDelete(ctx, member.ID); err != nil {
			return nil, err
		}
		if err := c.blobs.DeleteAvatar(se.MID); err != nil {
			return nil, err
		}
		c.presence.DelMember(gcd, se.MID)
		height, err := c.appendConsensus(ctx, fid, gcd, groupchat.ConsensusMemberLeave, member.ID)
		if err != nil {
			return nil, err
		}
		return c.broadcastToOnline(gcd, syncOutEvent(gcd, height, se)), nil

	case wire.SyncMessageCreate:
		sender, err := c.repo.MemberGet(ctx, fid, se.SenderMID)
		if err != nil {
			return nil, nil
		}
		mtype, content, err := wire.Encode(fid, gcd, se.Message, c.blobs)
		if err != nil {
			return nil, err
		}
		msgID, err := c.repo.MessageInsert(ctx, groupchat.Message{FID: fid, MID: sender.ID, Type: mtype, Content: content})
		if err != nil {
			return nil, err
		}
		height, err := c.appendConsensus(ctx, fid, gcd, groupchat.ConsensusMessageCreate, msgID)
		if err != nil {
			return nil, err
		}
		return c.broadcastToOnline(gcd, syncOutEvent(gcd, height, se)), nil

	case wire.SyncGroupInfo, wire.SyncGroupTransfer, wire.SyncGroupManagerAdd, wire.SyncGroupManagerDel:
		height, err := c.appendConsensus(ctx, fid, gcd, syncKindToConsensus(se.Kind), 0)
		if err != nil {
			return nil, err
		}
		return c.broadcastToOnline(gcd, syncOutEvent(gcd, height, se)), nil

	case wire.SyncGroupClose:
		if err := c.repo.GroupSetClosed(ctx, fid, true); err != nil {
			return nil, err
		}
		height, err := c.appendConsensus(ctx, fid, gcd, groupchat.ConsensusGroupClose, 0)
		if err != nil {
			return nil, err
		}
		return c.broadcastToOnline(gcd, syncOutEvent(gcd, height, se)), nil

	default:
		return nil, nil
	}
}

func syncOutEvent(gcd groupchat.GroupID, height int64, se wire.SyncEvent) *wire.LayerEvent {
	return &wire.LayerEvent{Kind: wire.EventSync, GroupID: gcd, Height: height, SyncEvent: se}
}

func syncKindToConsensus(k wire.SyncEventKind) groupchat.ConsensusType {
	switch k {
	case wire.SyncGroupInfo:
		return groupchat.ConsensusGroupInfo
	case wire.SyncGroupTransfer:
		return groupchat.ConsensusGroupTransfer
	case wire.SyncGroupManagerAdd:
		return groupchat.ConsensusGroupManagerAdd
	case wire.SyncGroupManagerDel:
		return groupchat.ConsensusGroupManagerDel
	default:
		return groupchat.ConsensusGroupInfo
	}
}

// eventSyncReq replies with a window of materialised consensus rows,
// capped at groupchat.MaxSyncWindow entries per reply. A request from a
// peer already at (or claiming beyond) the current height sends nothing.
func (c *Coordinator) eventSyncReq(ctx context.Context, senderGID groupchat.GroupID, evt wire.LayerEvent) ([]Outbound, error) {
	gcd := evt.GroupID
	if !c.presence.IsOnlineMember(gcd, senderGID) {
		return nil, nil
	}
	fid, err := c.presence.FID(gcd)
	if err != nil {
		return nil, nil
	}
	height, err := c.presence.Height(gcd)
	if err != nil {
		return nil, nil
	}

	from := evt.Height
	if from >= height {
		return nil, nil
	}
	to := from + groupchat.MaxSyncWindow
	if to > height {
		to = height
	}

	rows, err := c.repo.ConsensusList(ctx, fid, from+1, to)
	if err != nil {
		return nil, err
	}

	events := make([]wire.PackedEvent, 0, len(rows))
	for _, row := range rows {
		pe, ok, err := c.materializePackedEvent(ctx, fid, gcd, row)
		if err != nil {
			return nil, err
		}
		if ok {
			events = append(events, pe)
		}
	}

	reply := &wire.LayerEvent{
		Kind:    wire.EventPacked,
		GroupID: gcd,
		PackedReply: wire.Packed{
			GroupID: gcd,
			Height:  height,
			From:    from,
			To:      to,
			Events:  events,
		},
	}
	return []Outbound{{Recipient: senderGID, Kind: OutboundEvent, Event: reply}}, nil
}

func (c *Coordinator) materializePackedEvent(ctx context.Context, fid int64, gcd groupchat.GroupID, row groupchat.Consensus) (wire.PackedEvent, bool, error) {
	base := wire.PackedEvent{Height: row.Height, CreatedAt: row.CreatedAt.UnixMilli()}

	switch row.Type {
	case groupchat.ConsensusMemberJoin:
		member, err := c.repo.MemberGetByPK(ctx, row.CID)
		if err != nil {
			return wire.PackedEvent{}, false, nil
		}
		avatar, _ := c.blobs.ReadAvatar(member.MID)
		base.Kind = wire.PackedMemberJoin
		base.MID = member.MID
		base.MAddr = member.MAddr
		base.MName = member.MName
		base.Avatar = avatar
		return base, true, nil

	case groupchat.ConsensusMemberInfo:
		member, err := c.repo.MemberGetByPK(ctx, row.CID)
		if err != nil {
			return wire.PackedEvent{}, false, nil
		}
		base.Kind = wire.PackedMemberInfo
		base.MID = member.MID
		base.MAddr = member.MAddr
		base.MName = member.MName
		return base, true, nil

	case groupchat.ConsensusMemberLeave:
		member, err := c.repo.MemberGetByPK(ctx, row.CID)
		if err != nil {
			return wire.PackedEvent{}, false, nil
		}
		base.Kind = wire.PackedMemberLeave
		base.MID = member.MID
		return base, true, nil

	case groupchat.ConsensusMessageCreate:
		msg, err := c.repo.MessageGetByPK(ctx, row.CID)
		if err != nil {
			return wire.PackedEvent{}, false, nil
		}
		sender, err := c.repo.MemberGetByPK(ctx, msg.MID)
		if err != nil {
			return wire.PackedEvent{}, false, nil
		}
		nm, err := wire.Decode(msg.Type, msg.Content, gcd, c.blobs)
		if err != nil {
			return wire.PackedEvent{}, false, nil
		}
		base.Kind = wire.PackedMessageCreate
		base.SenderMID = sender.MID
		base.Message = nm
		return base, true, nil

	case groupchat.ConsensusGroupInfo:
		base.Kind = wire.PackedGroupInfo
		return base, true, nil
	case groupchat.ConsensusGroupTransfer:
		base.Kind = wire.PackedGroupTransfer
		return base, true, nil
	case groupchat.ConsensusGroupManagerAdd:
		base.Kind = wire.PackedGroupManagerAdd
		return base, true, nil
	case groupchat.ConsensusGroupManagerDel:
		base.Kind = wire.PackedGroupManagerDel
		return base, true, nil
	case groupchat.ConsensusGroupClose:
		base.Kind = wire.PackedGroupClose
		return base, true, nil

	default:
		return wire.PackedEvent{}, false, nil
	}
}
