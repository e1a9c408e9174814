package layer

import (
	"context"

	"github.com/petervdpas/grouprelay/internal/groupchat"
	"github.com/petervdpas/grouprelay/internal/groupchat/wire"
)

// handleConnect admits a returning member to a group's online roster.
func (c *Coordinator) handleConnect(ctx context.Context, senderGID groupchat.GroupID, recv wire.Recv) ([]Outbound, error) {
	lc, ok := wire.DecodeLayerConnect(recv.Body)
	if !ok {
		c.logger.Printf("layer: decode error on Connect from %s", senderGID)
		return nil, nil
	}

	switch lc.ProofKind {
	case wire.ConnectProofZkp:
		// Reserved: accepted to decode, no further action.
		return nil, nil
	case wire.ConnectProofCommon:
		return c.connectCommon(ctx, senderGID, recv.Addr, lc)
	default:
		return nil, nil
	}
}

func (c *Coordinator) connectCommon(ctx context.Context, senderGID groupchat.GroupID, addr groupchat.PeerAddr, lc wire.LayerConnect) ([]Outbound, error) {
	fid, err := c.presence.FID(lc.GroupID)
	if err != nil {
		return []Outbound{unsuccessfulConnect(senderGID, lc.GroupID)}, nil
	}
	height, _ := c.presence.Height(lc.GroupID)

	isMember, err := c.repo.MemberExists(ctx, fid, senderGID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return []Outbound{unsuccessfulConnect(senderGID, lc.GroupID)}, nil
	}

	if err := c.presence.AddMember(lc.GroupID, senderGID, addr); err != nil {
		return []Outbound{unsuccessfulConnect(senderGID, lc.GroupID)}, nil
	}

	out := []Outbound{{
		Recipient: senderGID,
		Kind:      OutboundResult,
		Result: &wire.LayerResult{
			Kind:    wire.LayerResultOk,
			GroupID: lc.GroupID,
			Height:  height,
			OK:      true,
		},
	}}

	onlineEvt := &wire.LayerEvent{
		Kind:    wire.EventMemberOnline,
		GroupID: lc.GroupID,
		MID:     senderGID,
		MAddr:   addr,
	}
	for _, peer := range c.presence.OnlinePeers(lc.GroupID) {
		out = append(out, Outbound{Recipient: peer.MID, Kind: OutboundEvent, Event: onlineEvt})
	}
	return out, nil
}

func unsuccessfulConnect(senderGID, gid groupchat.GroupID) Outbound {
	return Outbound{
		Recipient: senderGID,
		Kind:      OutboundResult,
		Result: &wire.LayerResult{
			Kind:    wire.LayerResultErr,
			GroupID: gid,
			OK:      false,
		},
	}
}

// handleLeave removes addr from every group's online roster and broadcasts
// MemberOffline to each group's remaining members. Only entries whose
// currently-recorded address equals addr are removed, so a member who
// already reconnected from elsewhere survives the stale disconnect.
func (c *Coordinator) handleLeave(ctx context.Context, addr groupchat.PeerAddr) []Outbound {
	removed := c.presence.DelByAddr(addr)
	var out []Outbound
	for _, r := range removed {
		evt := &wire.LayerEvent{Kind: wire.EventMemberOffline, GroupID: r.GID, MID: r.MID}
		for _, peer := range c.presence.OnlinePeers(r.GID) {
			out = append(out, Outbound{Recipient: peer.MID, Kind: OutboundEvent, Event: evt})
		}
	}
	return out
}
