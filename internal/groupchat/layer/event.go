package layer

import (
	"context"

	"github.com/petervdpas/grouprelay/internal/groupchat"
	"github.com/petervdpas/grouprelay/internal/groupchat/wire"
)

// handleEvent dispatches one decoded push-channel event.
func (c *Coordinator) handleEvent(ctx context.Context, senderGID groupchat.GroupID, recv wire.Recv) ([]Outbound, error) {
	evt, ok := wire.DecodeLayerEvent(recv.Body)
	if !ok {
		c.logger.Printf("layer: decode error on Event from %s", senderGID)
		return nil, nil
	}

	switch evt.Kind {
	case wire.EventOffline:
		return c.eventOffline(senderGID, evt), nil
	case wire.EventCheck:
		return c.eventCheck(ctx, senderGID)
	case wire.EventCreate:
		return c.eventCreate(ctx, senderGID, recv.Addr, evt)
	case wire.EventRequest:
		return c.eventRequest(ctx, senderGID, recv.Addr, evt)
	case wire.EventRequestResult:
		return c.eventRequestResult(ctx, senderGID, evt)
	case wire.EventSync:
		return c.eventSync(ctx, senderGID, evt)
	case wire.EventSyncReq:
		return c.eventSyncReq(ctx, senderGID, evt)
	case wire.EventMemberOnlineSync:
		return c.eventMemberOnlineSync(senderGID, evt), nil
	case wire.EventSuspend, wire.EventActived:
		// Reserved, no-op.
		return nil, nil
	default:
		// CheckResult, CreateResult, MemberOnline, MemberOffline,
		// RequestHandle, Agree, Reject, Packed, MemberOnlineSyncResult:
		// unreachable on the server path; ignore.
		return nil, nil
	}
}

func (c *Coordinator) eventOffline(senderGID groupchat.GroupID, evt wire.LayerEvent) []Outbound {
	if !c.presence.IsOnlineMember(evt.GroupID, senderGID) {
		return nil
	}
	c.presence.DelMember(evt.GroupID, senderGID)
	out := []Outbound{}
	offEvt := &wire.LayerEvent{Kind: wire.EventMemberOffline, GroupID: evt.GroupID, MID: senderGID}
	for _, peer := range c.presence.OnlinePeers(evt.GroupID) {
		out = append(out, Outbound{Recipient: peer.MID, Kind: OutboundEvent, Event: offEvt})
	}
	return out
}

func (c *Coordinator) eventMemberOnlineSync(senderGID groupchat.GroupID, evt wire.LayerEvent) []Outbound {
	if !c.presence.IsOnlineMember(evt.GroupID, senderGID) {
		return nil
	}
	peers := c.presence.OnlinePeers(evt.GroupID)
	views := make([]wire.OnlinePeerView, len(peers))
	for i, p := range peers {
		views[i] = wire.OnlinePeerView{MID: p.MID, MAddr: p.MAddr}
	}
	reply := &wire.LayerEvent{Kind: wire.EventMemberOnlineSyncResult, GroupID: evt.GroupID, Online: views}
	return []Outbound{{Recipient: senderGID, Kind: OutboundEvent, Event: reply}}
}

// broadcastToOnline returns one Outbound per currently-online member of gid.
func (c *Coordinator) broadcastToOnline(gid groupchat.GroupID, evt *wire.LayerEvent) []Outbound {
	var out []Outbound
	for _, peer := range c.presence.OnlinePeers(gid) {
		out = append(out, Outbound{Recipient: peer.MID, Kind: OutboundEvent, Event: evt})
	}
	return out
}

// broadcastToManagers sends evt to every currently-online manager of gid.
// It consults the durable Member.is_manager flag rather than the transient
// presence flag, which only the Create path ever sets.
func (c *Coordinator) broadcastToManagers(ctx context.Context, fid int64, gid groupchat.GroupID, evt *wire.LayerEvent) ([]Outbound, error) {
	var out []Outbound
	for _, peer := range c.presence.OnlinePeers(gid) {
		isManager, err := c.repo.MemberIsManager(ctx, fid, peer.MID)
		if err != nil {
			return nil, err
		}
		if isManager {
			out = append(out, Outbound{Recipient: peer.MID, Kind: OutboundEvent, Event: evt})
		}
	}
	return out, nil
}
