// Package layer implements the group-chat protocol state machine: the
// Coordinator sits between the transport and the durable
// Repository/PresenceMap, handling admission, consensus-log appends, and
// presence-aware fan-out.
package layer

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/petervdpas/grouprelay/internal/groupchat"
	"github.com/petervdpas/grouprelay/internal/groupchat/proof"
	"github.com/petervdpas/grouprelay/internal/groupchat/wire"
)

// Blobs is the blob-store collaborator the Coordinator needs: the narrow
// codec operations from wire.Blobs, plus group lifecycle and cleanup hooks.
type Blobs interface {
	wire.Blobs
	InitLocalFiles(gid groupchat.GroupID) error
	DeleteAvatar(gid groupchat.GroupID) error
}

// OutboundKind tags one outbound envelope shape.
type OutboundKind int

const (
	OutboundResult OutboundKind = iota
	OutboundEvent
)

// Outbound is one (recipient_gid, envelope) pair in a handle(...) reply
// batch.
type Outbound struct {
	Recipient groupchat.GroupID
	Kind      OutboundKind
	Result    *wire.LayerResult
	Event     *wire.LayerEvent
}

// Coordinator is the single writer of the PresenceMap. A read/write lock
// wraps Handle so inbound messages are applied serially: the broadcast
// derived from one event is assembled before the next message is handled,
// so every recipient observes consensus heights in the same order.
type Coordinator struct {
	mu sync.RWMutex

	repo     groupchat.Repository
	presence *groupchat.PresenceMap
	blobs    Blobs
	verifier proof.Verifier

	permissionless bool
	defaultRemain  int32

	logger  *log.Logger
	now     func() time.Time
	metrics *groupchat.Metrics
}

// New constructs a Coordinator. presence must already be loaded with every
// non-deleted group (groupchat.PresenceMap.Load) before the first Handle
// call. metrics may be nil to disable counters (e.g. in unit tests).
func New(repo groupchat.Repository, presence *groupchat.PresenceMap, blobs Blobs, verifier proof.Verifier, permissionless bool, logger *log.Logger, metrics *groupchat.Metrics) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		repo:           repo,
		presence:       presence,
		blobs:          blobs,
		verifier:       verifier,
		permissionless: permissionless,
		defaultRemain:  groupchat.DefaultRemain,
		logger:         logger,
		now:            time.Now,
		metrics:        metrics,
	}
}

// Handle is the Coordinator's single entry point. It returns the batch of
// outbound envelopes produced by processing recv, or an error if the
// repository failed; malformed payloads, unknown entities and unauthorised
// senders are handled locally and never surface here.
func (c *Coordinator) Handle(ctx context.Context, senderGID groupchat.GroupID, recv wire.Recv) ([]Outbound, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch recv.Kind {
	case wire.RecvConnect:
		return c.handleConnect(ctx, senderGID, recv)
	case wire.RecvLeave:
		return c.handleLeave(ctx, recv.Addr), nil
	case wire.RecvEvent:
		return c.handleEvent(ctx, senderGID, recv)
	default:
		// Stream, Result, ResultConnect, Delivery: no-ops at this layer.
		return nil, nil
	}
}
