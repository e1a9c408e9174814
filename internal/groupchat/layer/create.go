package layer

import (
	"context"
	"errors"

	"github.com/petervdpas/grouprelay/internal/groupchat"
	"github.com/petervdpas/grouprelay/internal/groupchat/wire"
)

// appendConsensus bumps the in-memory height, then persists the consensus
// row and the durable GroupChat.height in one transaction: the database can
// never hold a consensus row at a height groups.height does not yet record.
// A crash before the commit is harmless — on restart the presence map
// reloads GroupChat.height and the in-memory counter resynchronises with
// what the database actually holds.
func (c *Coordinator) appendConsensus(ctx context.Context, fid int64, gid groupchat.GroupID, ctype groupchat.ConsensusType, cid int64) (int64, error) {
	height, err := c.presence.BumpHeight(gid)
	if err != nil {
		return 0, err
	}
	if err := c.repo.AppendConsensus(ctx, fid, height, ctype, cid); err != nil {
		return 0, err
	}
	c.metrics.Observe(ctype)
	return height, nil
}

// eventCreate creates a group on behalf of an authorised manager,
// enrolling one on demand in permissionless mode.
func (c *Coordinator) eventCreate(ctx context.Context, senderGID groupchat.GroupID, addr groupchat.PeerAddr, evt wire.LayerEvent) ([]Outbound, error) {
	mgr, err := c.repo.ManagerGet(ctx, senderGID)
	switch {
	case errors.Is(err, groupchat.ErrNotFound):
		if !c.permissionless {
			reply := &wire.LayerEvent{Kind: wire.EventCheckResult, CheckKind: groupchat.CheckDeny, Supported: groupchat.Supported}
			return []Outbound{{Recipient: senderGID, Kind: OutboundEvent, Event: reply}}, nil
		}
		mgr, err = c.repo.ManagerUpsert(ctx, senderGID, false)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	if mgr.IsSuspended {
		reply := &wire.LayerEvent{Kind: wire.EventCheckResult, CheckKind: groupchat.CheckSuspend, Remaining: mgr.RemainingCreates, Supported: groupchat.Supported}
		return []Outbound{{Recipient: senderGID, Kind: OutboundEvent, Event: reply}}, nil
	}
	if mgr.RemainingCreates <= 0 {
		reply := &wire.LayerEvent{Kind: wire.EventCheckResult, CheckKind: groupchat.CheckNone, Supported: groupchat.Supported}
		return []Outbound{{Recipient: senderGID, Kind: OutboundEvent, Event: reply}}, nil
	}

	info := evt.Info
	if info.Kind == groupchat.GroupInfoEncrypted {
		// Encrypted groups are not supported yet; no durable rows are
		// written for this shape.
		reply := &wire.LayerEvent{Kind: wire.EventCreateResult, GroupID: info.EncryptedGID, OK: false}
		return []Outbound{{Recipient: senderGID, Kind: OutboundEvent, Event: reply}}, nil
	}

	row := groupchat.GroupChat{
		Owner:     info.Owner,
		GID:       info.GID,
		Type:      info.Type,
		Name:      info.Name,
		Bio:       info.Bio,
		NeedAgree: info.NeedAgree,
	}
	fid, err := c.repo.GroupInsert(ctx, row)
	if errors.Is(err, groupchat.ErrUniqueGroupID) {
		reply := &wire.LayerEvent{Kind: wire.EventCreateResult, GroupID: info.GID, OK: false}
		return []Outbound{{Recipient: senderGID, Kind: OutboundEvent, Event: reply}}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := c.blobs.InitLocalFiles(info.GID); err != nil {
		return nil, err
	}
	if err := c.blobs.WriteAvatar(info.GID, info.Avatar); err != nil {
		return nil, err
	}
	if err := c.blobs.WriteAvatar(info.Owner, info.OwnerAvatar); err != nil {
		return nil, err
	}

	memberID, err := c.repo.MemberUpsert(ctx, groupchat.Member{
		FID:       fid,
		MID:       info.Owner,
		MAddr:     addr,
		MName:     info.OwnerName,
		IsManager: true,
	})
	if err != nil {
		return nil, err
	}

	if err := c.repo.ManagerDecrementRemaining(ctx, mgr.ID); err != nil {
		return nil, err
	}

	c.presence.Install(info.GID, fid, 0)
	if err := c.presence.AddMemberAs(info.GID, info.Owner, addr, true); err != nil {
		return nil, err
	}

	if _, err := c.appendConsensus(ctx, fid, info.GID, groupchat.ConsensusMemberJoin, memberID); err != nil {
		return nil, err
	}

	reply := &wire.LayerEvent{Kind: wire.EventCreateResult, GroupID: info.GID, OK: true}
	return []Outbound{{Recipient: senderGID, Kind: OutboundEvent, Event: reply}}, nil
}
