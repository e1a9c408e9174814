package transport

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"

	"github.com/petervdpas/grouprelay/internal/groupchat"
	"github.com/petervdpas/grouprelay/internal/groupchat/wire"
)

// presenceTypeOf maps an outbound event kind to its gossipsub presence
// type, or reports ok=false for every other event kind.
func presenceTypeOf(kind wire.EventKind) (typ string, ok bool) {
	switch kind {
	case wire.EventMemberOnline:
		return presenceTypeOnline, true
	case wire.EventMemberOffline:
		return presenceTypeOffline, true
	default:
		return "", false
	}
}

// presenceTopicPrefix namespaces this relay's gossipsub presence topics
// from any other protocol sharing the same libp2p swarm. Topics are scoped
// per group — the online roster is per group, so one topic per group keeps
// gossip traffic from fanning out to peers with no stake in it.
const presenceTopicPrefix = "goop.groupchat.presence.v1."

const (
	presenceTypeOnline  = "online"
	presenceTypeOffline = "offline"
)

// presenceMsg is the gossipsub wire body for a member online/offline
// transition: just the fields a MemberOnline/MemberOffline event actually
// carries.
type presenceMsg struct {
	Type string `json:"type"`
	MID  string `json:"mid"`
	Addr string `json:"addr"`
	TS   int64  `json:"ts"`
}

// presenceTopic lazily joins (and caches) the gossipsub topic for gid.
func (t *Transport) presenceTopic(gid groupchat.GroupID) (*pubsub.Topic, error) {
	t.presenceMu.Lock()
	defer t.presenceMu.Unlock()
	if top, ok := t.presenceTopics[gid]; ok {
		return top, nil
	}
	top, err := t.ps.Join(presenceTopicPrefix + hex.EncodeToString(gid[:]))
	if err != nil {
		return nil, err
	}
	t.presenceTopics[gid] = top
	return top, nil
}

// publishPresence gossips a member's online/offline transition across the
// swarm, alongside (not instead of) the direct per-stream push already done
// by dispatchOutbound: the per-stream push only reaches peers this host
// already has a live group-chat stream with, while gossipsub additionally
// reaches any mDNS-discovered peer sharing the topic mesh. Best-effort and
// fire-and-forget, exactly like the direct push it accompanies; presence
// transitions are never logged to the consensus log.
func (t *Transport) publishPresence(gid groupchat.GroupID, typ string, mid groupchat.GroupID, addr groupchat.PeerAddr) {
	top, err := t.presenceTopic(gid)
	if err != nil {
		t.logger.Printf("transport: join presence topic for %x: %v", gid, err)
		return
	}
	msg := presenceMsg{
		Type: typ,
		MID:  hex.EncodeToString(mid[:]),
		Addr: string(addr),
		TS:   time.Now().UnixMilli(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), peerWriteTimeout)
	defer cancel()
	if err := top.Publish(ctx, b); err != nil {
		t.logger.Printf("transport: publish presence for %x: %v", gid, err)
	}
}
