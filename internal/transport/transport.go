// Package transport adapts the groupchat Coordinator onto a libp2p host:
// one long-lived protocol stream per connected peer, JSON-framed envelopes
// dispatched into Coordinator.Handle, outbound batches fanned back out to
// the recipients' streams.
package transport

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/multiformats/go-multiaddr"

	"github.com/petervdpas/grouprelay/internal/groupchat"
	"github.com/petervdpas/grouprelay/internal/groupchat/layer"
	"github.com/petervdpas/grouprelay/internal/groupchat/wire"
)

func init() {
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("autonat", "warn")
}

// GroupChatProtoID is the single libp2p stream protocol this transport
// speaks. It plays the role of the group-chat layer tag: every envelope on
// a stream with this ID belongs to the group-chat service, so no per-frame
// service tag is needed.
const GroupChatProtoID = "/goop/groupchat/1.0.0"

const (
	mdnsTag          = "goop-groupchat-mdns"
	peerWriteTimeout = 5 * time.Second
)

// Transport owns the libp2p host and the live peer-connection table. Each
// connection maps a groupchat.GroupID (the peer's verified identity) to the
// stream used to push outbound envelopes to it.
type Transport struct {
	host        host.Host
	coordinator *layer.Coordinator

	mu     sync.RWMutex
	conns  map[groupchat.GroupID]*peerConn
	closed bool

	ps             *pubsub.PubSub
	presenceMu     sync.Mutex
	presenceTopics map[groupchat.GroupID]*pubsub.Topic

	logger *log.Logger
}

type peerConn struct {
	addr   groupchat.PeerAddr
	stream network.Stream
	enc    *jsonEncoder
	sendCh chan wire.Recv
	cancel context.CancelFunc
}

// loadOrCreateKey loads a persistent Ed25519 identity key from disk, or
// generates and saves one on first run.
func loadOrCreateKey(keyFile string) (crypto.PrivKey, error) {
	data, err := os.ReadFile(keyFile)
	if err == nil {
		if priv, err := crypto.UnmarshalPrivateKey(data); err == nil {
			return priv, nil
		}
	}
	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, err
	}
	raw, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("transport: marshal identity key: %w", err)
	}
	if dir := filepath.Dir(keyFile); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("transport: create key dir: %w", err)
		}
	}
	if err := os.WriteFile(keyFile, raw, 0o600); err != nil {
		return nil, fmt.Errorf("transport: save identity key: %w", err)
	}
	return priv, nil
}

// GroupIDFromPeer derives the groupchat-level identity of a libp2p peer
// from its public key. Ed25519 keys (this transport's own identity type)
// are exactly 32 raw bytes, so the raw key IS the GroupID — which is what
// lets proof.Ed25519Verifier treat a subject's GroupID as its verification
// key. Any other key type is sha256-folded into the 32-byte space.
func GroupIDFromPeer(p peer.ID) (groupchat.GroupID, error) {
	pub, err := p.ExtractPublicKey()
	if err != nil {
		return groupchat.GroupID{}, err
	}
	raw, err := pub.Raw()
	if err != nil {
		return groupchat.GroupID{}, err
	}
	if len(raw) == 32 {
		var gid groupchat.GroupID
		copy(gid[:], raw)
		return gid, nil
	}
	return sha256.Sum256(raw), nil
}

// New constructs a libp2p host bound to listenPort, loading (or creating)
// an identity key at keyFile, and wires its single protocol handler to
// coordinator.
func New(ctx context.Context, listenPort int, keyFile string, coordinator *layer.Coordinator, logger *log.Logger) (*Transport, error) {
	if logger == nil {
		logger = log.Default()
	}
	priv, err := loadOrCreateKey(keyFile)
	if err != nil {
		return nil, err
	}

	listenAddr, err := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", listenPort))
	if err != nil {
		return nil, fmt.Errorf("transport: build listen multiaddr: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrs(listenAddr),
	)
	if err != nil {
		return nil, fmt.Errorf("transport: new host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("transport: new gossipsub: %w", err)
	}

	t := &Transport{
		host:           h,
		coordinator:    coordinator,
		conns:          make(map[groupchat.GroupID]*peerConn),
		ps:             ps,
		presenceTopics: make(map[groupchat.GroupID]*pubsub.Topic),
		logger:         logger,
	}

	h.SetStreamHandler(protocol.ID(GroupChatProtoID), t.handleIncomingStream)

	md := mdns.NewMdnsService(h, mdnsTag, &mdnsNotifee{h: h})
	if err := md.Start(); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("transport: start mdns: %w", err)
	}

	return t, nil
}

type mdnsNotifee struct{ h host.Host }

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = n.h.Connect(ctx, pi)
}

// Addrs returns the host's listen multiaddrs for display/registration.
func (t *Transport) Addrs() []string {
	var out []string
	for _, a := range t.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, t.host.ID()))
	}
	return out
}

// Close shuts down the host and every live peer connection. Once closed, no
// further outbound envelope can be delivered; dispatchOutbound treats that
// as fatal, not as an ordinary disconnect.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	for gid, pc := range t.conns {
		pc.cancel()
		delete(t.conns, gid)
	}
	t.mu.Unlock()
	return t.host.Close()
}

// dispatchOutbound delivers each Outbound envelope the Coordinator produced.
// Sends are fire-and-forget: a recipient with no live connection is
// silently skipped, since the Coordinator's PresenceMap already reflects
// who is online and a miss here only races a concurrent disconnect. Once
// the transport itself has been closed there is no such thing as "this one
// recipient went away" any more; sending any outbound envelope then is
// fatal, and the process exits rather than pretending delivery is merely
// best-effort.
func (t *Transport) dispatchOutbound(out []layer.Outbound) {
	// A MemberOnline/MemberOffline transition is broadcast once per online
	// recipient in out, but it is one gossipsub-worthy event, not one per
	// recipient; publish it at most once regardless of how many direct
	// per-stream pushes accompany it.
	type presenceKey struct {
		gid groupchat.GroupID
		mid groupchat.GroupID
		typ string
	}
	publishedPresence := make(map[presenceKey]bool)

	for _, o := range out {
		t.mu.RLock()
		closed := t.closed
		pc, ok := t.conns[o.Recipient]
		t.mu.RUnlock()

		if closed {
			t.logger.Fatalf("transport: %v", groupchat.ErrTransportClosed)
		}
		if !ok {
			continue
		}

		var recv wire.Recv
		switch o.Kind {
		case layer.OutboundResult:
			recv = wire.Recv{Kind: wire.RecvResult, Addr: pc.addr, Body: wire.EncodeLayerResult(*o.Result)}
		case layer.OutboundEvent:
			recv = wire.Recv{Kind: wire.RecvEvent, Addr: pc.addr, Body: wire.EncodeLayerEvent(*o.Event)}
			if typ, ok := presenceTypeOf(o.Event.Kind); ok {
				key := presenceKey{gid: o.Event.GroupID, mid: o.Event.MID, typ: typ}
				if !publishedPresence[key] {
					publishedPresence[key] = true
					t.publishPresence(o.Event.GroupID, typ, o.Event.MID, o.Event.MAddr)
				}
			}
		}

		select {
		case pc.sendCh <- recv:
		default:
			t.logger.Printf("transport: send buffer full for %s, dropping", o.Recipient)
		}
	}
}
