package layer

import (
	"context"
	"errors"

	"github.com/petervdpas/grouprelay/internal/groupchat"
	"github.com/petervdpas/grouprelay/internal/groupchat/wire"
)

// checkPolicy decides whether senderGID may create a group, and how many
// creations it has left.
func (c *Coordinator) checkPolicy(ctx context.Context, senderGID groupchat.GroupID) (wire.LayerEvent, error) {
	mgr, err := c.repo.ManagerGet(ctx, senderGID)
	if errors.Is(err, groupchat.ErrNotFound) {
		if c.permissionless {
			return wire.LayerEvent{Kind: wire.EventCheckResult, CheckKind: groupchat.CheckAllow, Remaining: c.defaultRemain, Supported: groupchat.Supported}, nil
		}
		return wire.LayerEvent{Kind: wire.EventCheckResult, CheckKind: groupchat.CheckDeny, Supported: groupchat.Supported}, nil
	}
	if err != nil {
		return wire.LayerEvent{}, err
	}
	if mgr.IsSuspended {
		return wire.LayerEvent{Kind: wire.EventCheckResult, CheckKind: groupchat.CheckSuspend, Remaining: mgr.RemainingCreates, Supported: groupchat.Supported}, nil
	}
	if mgr.RemainingCreates > 0 {
		return wire.LayerEvent{Kind: wire.EventCheckResult, CheckKind: groupchat.CheckAllow, Remaining: mgr.RemainingCreates, Supported: groupchat.Supported}, nil
	}
	return wire.LayerEvent{Kind: wire.EventCheckResult, CheckKind: groupchat.CheckNone, Supported: groupchat.Supported}, nil
}

func (c *Coordinator) eventCheck(ctx context.Context, senderGID groupchat.GroupID) ([]Outbound, error) {
	result, err := c.checkPolicy(ctx, senderGID)
	if err != nil {
		return nil, err
	}
	result.GroupID = groupchat.GroupID{}
	return []Outbound{{Recipient: senderGID, Kind: OutboundEvent, Event: &result}}, nil
}
