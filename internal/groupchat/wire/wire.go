// Package wire defines the tagged-union wire types exchanged between the
// transport and the groupchat Coordinator, and the Event Codec that maps
// between persisted Message rows and NetworkMessage variants. Every
// discriminated union carries a stable integer ordinal, framed as
// self-delimiting JSON; malformed bodies decode to (zero, false), never a
// panic.
package wire

import (
	"encoding/json"

	"github.com/petervdpas/grouprelay/internal/groupchat"
)

// RecvKind tags one inbound transport envelope.
type RecvKind int

const (
	RecvConnect RecvKind = iota
	RecvLeave
	RecvEvent
	RecvStream        // no-op at this layer
	RecvResult        // no-op
	RecvResultConnect // no-op
	RecvDelivery      // no-op
)

// Recv is one inbound transport envelope handed to Coordinator.Handle.
type Recv struct {
	Kind RecvKind
	Addr groupchat.PeerAddr
	Body []byte // present for RecvConnect/RecvEvent; self-delimited JSON
}

// ConnectProofKind discriminates the two ConnectProof variants.
type ConnectProofKind int

const (
	ConnectProofCommon ConnectProofKind = iota
	ConnectProofZkp
)

// LayerConnect is the decoded body of a RecvConnect envelope.
type LayerConnect struct {
	GroupID   groupchat.GroupID
	ProofKind ConnectProofKind
	Proof     groupchat.Proof
}

// LayerResultKind discriminates the LayerResult outbound variants.
type LayerResultKind int

const (
	LayerResultCheck LayerResultKind = iota
	LayerResultOk
	LayerResultErr
)

// LayerResult is the reply to a Connect attempt.
type LayerResult struct {
	Kind      LayerResultKind
	GroupID   groupchat.GroupID
	Height    int64
	OK        bool
	Supported []groupchat.GroupType
}

// JoinProofKind discriminates the three join-request shapes.
type JoinProofKind int

const (
	JoinProofOpen JoinProofKind = iota
	JoinProofInvite
	JoinProofZkp
)

// JoinProof is the decoded payload of a Request event.
type JoinProof struct {
	Kind JoinProofKind

	// Open
	Name   string
	Avatar []byte

	// Invite
	InviterGID groupchat.GroupID
	Proof      groupchat.Proof

	// Zkp
	ZkpProof groupchat.Proof
}

// EventKind tags one LayerEvent variant. Ordinals are stable wire
// constants.
type EventKind int

const (
	EventOffline EventKind = iota
	EventCheck
	EventCreate
	EventRequest
	EventRequestResult
	EventSync
	EventSyncReq
	EventMemberOnlineSync
	EventSuspend
	EventActived
	// Outbound/result variants. Never legitimately received; the
	// coordinator decodes and ignores them.
	EventCheckResult
	EventCreateResult
	EventMemberOnline
	EventMemberOffline
	EventRequestHandle
	EventAgree
	EventReject
	EventPacked
	EventMemberOnlineSyncResult
)

// LayerEvent is the decoded body of a RecvEvent envelope.
type LayerEvent struct {
	Kind EventKind

	GroupID groupchat.GroupID // gcd, present on most variants

	// Create; Proof also carries the join proof on a RequestHandle
	// broadcast so online managers can inspect the credential they are
	// deciding on.
	Info  groupchat.GroupInfo
	Proof groupchat.Proof

	// Request
	Join JoinProof

	// RequestResult / RequestHandle
	RequestID int64
	OK        bool

	// Sync / SyncReq
	Height    int64 // Sync: ignored height hint; SyncReq: "from"
	SyncEvent SyncEvent

	// CheckResult / CreateResult
	CheckKind groupchat.CheckType
	Remaining int32
	Supported []groupchat.GroupType

	// MemberOnline / MemberOffline
	MID   groupchat.GroupID
	MAddr groupchat.PeerAddr

	// RequestHandle
	ReqAt int64

	// Agree
	GroupInfo groupchat.GroupInfo

	// Reject
	Lost bool

	// MemberOnlineSyncResult
	Online []OnlinePeerView

	// Packed
	PackedReply Packed
}

// SyncEventKind tags the ConsensusType-aligned payload carried by a Sync
// event.
type SyncEventKind int

const (
	SyncMemberJoin       SyncEventKind = iota // never accepted from the network; see Coordinator
	SyncMemberInfo
	SyncMemberLeave
	SyncMessageCreate
	SyncGroupInfo
	SyncGroupTransfer
	SyncGroupManagerAdd
	SyncGroupManagerDel
	SyncGroupClose
)

// SyncEvent is the payload of an inbound Sync/outbound Sync broadcast.
type SyncEvent struct {
	Kind SyncEventKind

	// MemberJoin (server-produced broadcast only; never accepted inbound);
	// MAddr/MName also carry a MemberInfo event's updated fields, empty
	// meaning unchanged.
	MAddr  groupchat.PeerAddr
	MName  string
	Avatar []byte

	// MemberInfo / MemberLeave
	MID groupchat.GroupID

	// MessageCreate
	SenderMID groupchat.GroupID
	Message   NetworkMessage
}

// PackedEventKind tags one materialised historical log entry.
type PackedEventKind int

const (
	PackedMemberJoin PackedEventKind = iota
	PackedMessageCreate
	PackedGroupInfo
	PackedGroupTransfer
	PackedGroupManagerAdd
	PackedGroupManagerDel
	PackedGroupClose
	PackedMemberInfo
	PackedMemberLeave
)

// PackedEvent is one materialised entry in a Packed sync reply.
type PackedEvent struct {
	Kind      PackedEventKind
	Height    int64
	CreatedAt int64 // epoch millis

	// MemberJoin
	MID    groupchat.GroupID
	MAddr  groupchat.PeerAddr
	MName  string
	Avatar []byte

	// MessageCreate
	SenderMID groupchat.GroupID
	Message   NetworkMessage
}

// OnlinePeerView is a roster entry stripped of its is_manager flag; who
// manages a group is not the asking peer's business.
type OnlinePeerView struct {
	MID   groupchat.GroupID
	MAddr groupchat.PeerAddr
}

// Packed is the reply to a SyncReq: a contiguous window of PackedEvent
// rows, capped at groupchat.MaxSyncWindow entries.
type Packed struct {
	GroupID groupchat.GroupID
	Height  int64 // current group height at the time of the reply
	From    int64
	To      int64
	Events  []PackedEvent
}

// EncodeLayerConnect serialises a LayerConnect for transport.
func EncodeLayerConnect(lc LayerConnect) []byte {
	b, _ := json.Marshal(lc)
	return b
}

// DecodeLayerConnect parses a RecvConnect body. ok is false on malformed
// input; the dispatcher drops such messages rather than crashing.
func DecodeLayerConnect(body []byte) (lc LayerConnect, ok bool) {
	if err := json.Unmarshal(body, &lc); err != nil {
		return LayerConnect{}, false
	}
	return lc, true
}

// EncodeLayerEvent serialises a LayerEvent for transport, whether inbound
// (Create, Request, Sync, ...) or outbound (CheckResult, Agree, Sync
// broadcast, ...).
func EncodeLayerEvent(e LayerEvent) []byte {
	b, _ := json.Marshal(e)
	return b
}

// DecodeLayerEvent parses a RecvEvent body.
func DecodeLayerEvent(body []byte) (e LayerEvent, ok bool) {
	if err := json.Unmarshal(body, &e); err != nil {
		return LayerEvent{}, false
	}
	return e, true
}

// EncodeLayerResult serialises a LayerResult for transport.
func EncodeLayerResult(r LayerResult) []byte {
	b, _ := json.Marshal(r)
	return b
}

// DecodeLayerResult parses a connect-reply body (client side use).
func DecodeLayerResult(body []byte) (r LayerResult, ok bool) {
	if err := json.Unmarshal(body, &r); err != nil {
		return LayerResult{}, false
	}
	return r, true
}
