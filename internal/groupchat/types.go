// Package groupchat implements the group-chat relay core: membership
// lifecycle, the per-group consensus log, and presence-aware fan-out.
package groupchat

import (
	"encoding/hex"
	"fmt"
	"time"
)

// GroupID is a 32-byte opaque peer/group identity, hex-stringable.
type GroupID [32]byte

// String renders the identity as a lowercase hex string.
func (g GroupID) String() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, 64)
	for i, b := range g {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

// IsZero reports whether g is the zero identity.
func (g GroupID) IsZero() bool {
	return g == GroupID{}
}

// MarshalText renders g as hex, so it serialises as a plain JSON string.
func (g GroupID) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText parses a hex-encoded GroupID.
func (g *GroupID) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("groupchat: invalid GroupID: %w", err)
	}
	if len(b) != len(g) {
		return fmt.Errorf("groupchat: invalid GroupID length %d", len(b))
	}
	copy(g[:], b)
	return nil
}

// PeerAddr is an opaque network address, value-equal and hex-stringable.
// In this transport it is the libp2p peer.ID string form.
type PeerAddr string

// Proof is an opaque credential, verifiable against (subject, addr, context)
// by an injected proof.Verifier. The core never inspects its contents.
type Proof []byte

// GroupType is the kind of group chat a manager may create.
type GroupType int

// Ordinal values are fixed wire constants shared with every peer; changing
// them is a protocol break, not a refactor.
const (
	GroupTypeEncrypted GroupType = 0
	GroupTypePrivate   GroupType = 1
	GroupTypeOpen      GroupType = 2
)

func (t GroupType) String() string {
	switch t {
	case GroupTypeEncrypted:
		return "encrypted"
	case GroupTypePrivate:
		return "private"
	case GroupTypeOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Supported lists the group types the Check policy advertises.
var Supported = []GroupType{GroupTypeEncrypted, GroupTypePrivate, GroupTypeOpen}

// ConsensusType tags one row of the append-only consensus log.
type ConsensusType int

const (
	ConsensusGroupInfo       ConsensusType = 0
	ConsensusGroupTransfer   ConsensusType = 1
	ConsensusGroupManagerAdd ConsensusType = 2
	ConsensusGroupManagerDel ConsensusType = 3
	ConsensusGroupClose      ConsensusType = 4
	ConsensusMemberInfo      ConsensusType = 5
	ConsensusMemberJoin      ConsensusType = 6
	ConsensusMemberLeave     ConsensusType = 7
	ConsensusMessageCreate   ConsensusType = 8
)

// MessageType tags the kind of content a Message row carries.
type MessageType int

const (
	MessageString  MessageType = 0
	MessageImage   MessageType = 1
	MessageFile    MessageType = 2
	MessageContact MessageType = 3
	MessageEmoji   MessageType = 4
	MessageRecord  MessageType = 5
	MessagePhone   MessageType = 6
	MessageVideo   MessageType = 7
	MessageInvite  MessageType = 8
)

// CheckType is the outcome category of a creation-permission check.
type CheckType int

const (
	CheckAllow   CheckType = 0
	CheckNone    CheckType = 1
	CheckSuspend CheckType = 2
	CheckDeny    CheckType = 3
)

// Compiled-in policy constants.
const (
	DefaultRemain = 10
	// Permissionless controls whether an unknown sender_gid may create a
	// group on demand during the Check/Create policy. Overridden by the
	// PERMISSIONLESS environment variable at bootstrap.
	Permissionless = true
	// MaxSyncWindow caps the number of packed events a single SyncReq reply
	// may carry.
	MaxSyncWindow = 100
)

// Manager is the authorisation record for who may create groups.
type Manager struct {
	ID               int64
	GID              GroupID
	RemainingCreates int32
	IsSuspended      bool
	CreatedAt        time.Time
	IsDeleted        bool
}

// GroupChat is a durable group.
type GroupChat struct {
	ID        int64
	Owner     GroupID
	Height    int64
	GID       GroupID
	Type      GroupType
	Name      string
	Bio       string
	NeedAgree bool
	KeyHash   []byte
	IsClosed  bool
	CreatedAt time.Time
	IsDeleted bool
}

// ToGroupInfo materialises the GroupInfo view sent to a joining peer,
// resolving the group's avatar from the given blob bytes.
func (g GroupChat) ToGroupInfo(avatar []byte) GroupInfo {
	return GroupInfo{
		Kind:      GroupInfoCommon,
		Owner:     g.Owner,
		GID:       g.GID,
		Type:      g.Type,
		NeedAgree: g.NeedAgree,
		Name:      g.Name,
		Bio:       g.Bio,
		Avatar:    avatar,
	}
}

// GroupInfoKind discriminates the two shapes a Create event's group
// description may take.
type GroupInfoKind int

const (
	GroupInfoCommon GroupInfoKind = iota
	GroupInfoEncrypted
)

// GroupInfo is the Create event payload and the Agree reply payload.
type GroupInfo struct {
	Kind GroupInfoKind

	// Common
	Owner       GroupID
	OwnerName   string
	OwnerAvatar []byte
	GID         GroupID
	Type        GroupType
	NeedAgree   bool
	Name        string
	Bio         string
	Avatar      []byte

	// Encrypted: reserved. Create rejects this Kind for now; EncryptedGID
	// is still decoded so a future implementation has somewhere to read it
	// from.
	EncryptedGID     GroupID
	EncryptedPayload []byte
}

// Member is the membership of a GroupID in a group.
type Member struct {
	ID        int64
	FID       int64 // GroupChat.ID
	MID       GroupID
	MAddr     PeerAddr
	MName     string
	IsManager bool
	CreatedAt time.Time
	IsDeleted bool
}

// Request is a pending join request awaiting a manager decision.
type Request struct {
	ID        int64
	FID       int64
	MID       GroupID
	MAddr     PeerAddr
	MName     string
	CreatedAt time.Time
	JoinProof Proof
}

// Message is one user-visible message.
type Message struct {
	ID        int64
	FID       int64
	MID       int64 // Member.ID
	Type      MessageType
	Content   string
	CreatedAt time.Time
}

// Consensus is one row of the append-only event log.
type Consensus struct {
	ID        int64
	FID       int64
	Height    int64
	Type      ConsensusType
	CID       int64 // points at the affected Member/Message row, 0 if none
	CreatedAt time.Time
}
