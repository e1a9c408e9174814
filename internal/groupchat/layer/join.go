package layer

import (
	"context"

	"github.com/petervdpas/grouprelay/internal/groupchat"
	"github.com/petervdpas/grouprelay/internal/groupchat/wire"
)

// proofContextInvite binds an invite credential to the join operation, so
// the same signature cannot be replayed to authorise anything else.
const proofContextInvite = "invite"

// eventRequest handles a join attempt: open join, invite, or the reserved
// zero-knowledge variant. An existing member is simply re-Agreed.
func (c *Coordinator) eventRequest(ctx context.Context, senderGID groupchat.GroupID, addr groupchat.PeerAddr, evt wire.LayerEvent) ([]Outbound, error) {
	gcd := evt.GroupID
	fid, err := c.presence.FID(gcd)
	if err != nil {
		return []Outbound{rejectOutbound(senderGID, gcd, true)}, nil
	}

	group, err := c.repo.GroupGetByPK(ctx, fid)
	if err != nil {
		return []Outbound{rejectOutbound(senderGID, gcd, true)}, nil
	}

	exists, err := c.repo.MemberExists(ctx, fid, senderGID)
	if err != nil {
		return nil, err
	}
	if exists {
		if err := c.presence.AddMember(gcd, senderGID, addr); err != nil {
			return nil, err
		}
		avatar, _ := c.blobs.ReadAvatar(group.GID)
		return []Outbound{agreeOutbound(senderGID, gcd, group.ToGroupInfo(avatar))}, nil
	}

	switch evt.Join.Kind {
	case wire.JoinProofOpen:
		if group.Type != groupchat.GroupTypeOpen {
			return []Outbound{rejectOutbound(senderGID, gcd, false)}, nil
		}
		return c.admitMember(ctx, fid, gcd, group, senderGID, addr, evt.Join.Name, evt.Join.Avatar)

	case wire.JoinProofInvite:
		inviterExists, err := c.repo.MemberExists(ctx, fid, evt.Join.InviterGID)
		if err != nil {
			return nil, err
		}
		if !inviterExists {
			return []Outbound{rejectOutbound(senderGID, gcd, true)}, nil
		}
		if group.NeedAgree {
			inviterIsManager, err := c.repo.MemberIsManager(ctx, fid, evt.Join.InviterGID)
			if err != nil {
				return nil, err
			}
			if !inviterIsManager {
				reqRow := groupchat.Request{
					FID:       fid,
					MID:       senderGID,
					MAddr:     addr,
					MName:     evt.Join.Name,
					JoinProof: evt.Join.Proof,
				}
				reqID, err := c.repo.RequestInsert(ctx, reqRow)
				if err != nil {
					return nil, err
				}
				handleEvt := &wire.LayerEvent{
					Kind:      wire.EventRequestHandle,
					GroupID:   gcd,
					MID:       senderGID,
					MAddr:     addr,
					Proof:     evt.Join.Proof,
					RequestID: reqID,
					ReqAt:     c.now().UnixMilli(),
				}
				return c.broadcastToManagers(ctx, fid, gcd, handleEvt)
			}
		}
		if err := c.verifier.Verify(evt.Join.InviterGID, addr, proofContextInvite, evt.Join.Proof); err != nil {
			return []Outbound{rejectOutbound(senderGID, gcd, true)}, nil
		}
		return c.admitMember(ctx, fid, gcd, group, senderGID, addr, evt.Join.Name, evt.Join.Avatar)

	case wire.JoinProofZkp:
		return nil, nil

	default:
		return nil, nil
	}
}

// admitMember inserts a new Member row, persists its avatar, adds it to
// presence, appends a MemberJoin consensus row, broadcasts the resulting
// Sync to the online roster, and replies Agree to the joiner.
func (c *Coordinator) admitMember(ctx context.Context, fid int64, gcd groupchat.GroupID, group groupchat.GroupChat, mid groupchat.GroupID, addr groupchat.PeerAddr, name string, avatar []byte) ([]Outbound, error) {
	if err := c.blobs.WriteAvatar(mid, avatar); err != nil {
		return nil, err
	}
	memberID, err := c.repo.MemberUpsert(ctx, groupchat.Member{FID: fid, MID: mid, MAddr: addr, MName: name})
	if err != nil {
		return nil, err
	}
	if err := c.presence.AddMember(gcd, mid, addr); err != nil {
		return nil, err
	}

	height, err := c.appendConsensus(ctx, fid, gcd, groupchat.ConsensusMemberJoin, memberID)
	if err != nil {
		return nil, err
	}

	syncEvt := &wire.LayerEvent{
		Kind:    wire.EventSync,
		GroupID: gcd,
		Height:  height,
		SyncEvent: wire.SyncEvent{
			Kind:   wire.SyncMemberJoin,
			MID:    mid,
			MAddr:  addr,
			MName:  name,
			Avatar: avatar,
		},
	}
	out := c.broadcastToOnline(gcd, syncEvt)

	groupAvatar, _ := c.blobs.ReadAvatar(group.GID)
	out = append(out, agreeOutbound(mid, gcd, group.ToGroupInfo(groupAvatar)))
	return out, nil
}

// eventRequestResult applies a manager's decision on a pending join
// request, then echoes the decision to every online manager.
func (c *Coordinator) eventRequestResult(ctx context.Context, senderGID groupchat.GroupID, evt wire.LayerEvent) ([]Outbound, error) {
	gcd := evt.GroupID
	fid, err := c.presence.FID(gcd)
	if err != nil {
		return nil, nil
	}
	isManager, err := c.repo.MemberIsManager(ctx, fid, senderGID)
	if err != nil {
		return nil, err
	}
	if !isManager {
		return nil, nil
	}

	req, err := c.repo.RequestGet(ctx, evt.RequestID)
	if err != nil {
		return nil, nil
	}

	group, err := c.repo.GroupGetByPK(ctx, fid)
	if err != nil {
		return nil, err
	}

	var out []Outbound
	if evt.OK {
		admitted, err := c.admitMember(ctx, fid, gcd, group, req.MID, req.MAddr, req.MName, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, admitted...)
	} else {
		out = append(out, rejectOutbound(req.MID, gcd, true))
	}

	resultEvt := &wire.LayerEvent{Kind: wire.EventRequestResult, GroupID: gcd, RequestID: evt.RequestID, OK: evt.OK}
	managerOut, err := c.broadcastToManagers(ctx, fid, gcd, resultEvt)
	if err != nil {
		return nil, err
	}
	out = append(out, managerOut...)
	return out, nil
}

func agreeOutbound(recipient, gcd groupchat.GroupID, info groupchat.GroupInfo) Outbound {
	return Outbound{
		Recipient: recipient,
		Kind:      OutboundEvent,
		Event:     &wire.LayerEvent{Kind: wire.EventAgree, GroupID: gcd, GroupInfo: info},
	}
}

func rejectOutbound(recipient, gcd groupchat.GroupID, lost bool) Outbound {
	return Outbound{
		Recipient: recipient,
		Kind:      OutboundEvent,
		Event:     &wire.LayerEvent{Kind: wire.EventReject, GroupID: gcd, Lost: lost},
	}
}
