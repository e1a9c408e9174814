package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"time"

	"github.com/libp2p/go-libp2p/core/network"

	"github.com/petervdpas/grouprelay/internal/groupchat"
	"github.com/petervdpas/grouprelay/internal/groupchat/wire"
)

// jsonEncoder serialises wire.Recv frames newline-delimited.
type jsonEncoder struct {
	enc *json.Encoder
}

func (e *jsonEncoder) Encode(r wire.Recv) error { return e.enc.Encode(r) }

// handleIncomingStream is the libp2p stream handler: one stream per
// connected peer, for the lifetime of the connection. When the read loop
// ends the peer is treated as gone and a Leave is synthesised so every
// group it was online in hears MemberOffline.
func (t *Transport) handleIncomingStream(s network.Stream) {
	remote := s.Conn().RemotePeer()
	gid, err := GroupIDFromPeer(remote)
	if err != nil {
		t.logger.Printf("transport: cannot derive identity for %s: %v", remote, err)
		s.Reset()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	pc := &peerConn{
		addr:   groupchat.PeerAddr(remote.String()),
		stream: s,
		enc:    &jsonEncoder{enc: json.NewEncoder(s)},
		sendCh: make(chan wire.Recv, 64),
		cancel: cancel,
	}

	t.mu.Lock()
	t.conns[gid] = pc
	t.mu.Unlock()

	go t.drainLoop(ctx, pc)

	t.readLoop(ctx, s, gid, pc)

	cancel()
	t.mu.Lock()
	if t.conns[gid] == pc {
		delete(t.conns, gid)
	}
	t.mu.Unlock()

	leaveOut, err := t.coordinator.Handle(context.Background(), gid, wire.Recv{Kind: wire.RecvLeave, Addr: pc.addr})
	if err == nil {
		t.dispatchOutbound(leaveOut)
	}
	s.Close()
}

// readLoop decodes frames from the stream and dispatches each into the
// Coordinator, writing back any outbound envelopes it produces.
func (t *Transport) readLoop(ctx context.Context, s network.Stream, gid groupchat.GroupID, pc *peerConn) {
	dec := json.NewDecoder(bufio.NewReader(s))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var frame wire.Recv
		if err := dec.Decode(&frame); err != nil {
			return
		}
		// Frame.Addr always reflects the currently-authenticated connection,
		// not whatever the client claimed.
		frame.Addr = pc.addr

		out, err := t.coordinator.Handle(ctx, gid, frame)
		if err != nil {
			t.logger.Printf("transport: handle error from %s: %v", gid, err)
			continue
		}
		t.dispatchOutbound(out)
	}
}

// drainLoop writes queued outbound frames to the stream with a deadline so
// one slow peer cannot block delivery to others.
func (t *Transport) drainLoop(ctx context.Context, pc *peerConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-pc.sendCh:
			_ = pc.stream.SetWriteDeadline(time.Now().Add(peerWriteTimeout))
			if err := pc.enc.Encode(frame); err != nil {
				return
			}
		}
	}
}
