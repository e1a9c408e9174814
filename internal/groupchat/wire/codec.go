package wire

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/petervdpas/grouprelay/internal/groupchat"
)

// NetworkMessageKind tags one NetworkMessage variant.
type NetworkMessageKind int

const (
	NMString NetworkMessageKind = iota
	NMImage
	NMFile
	NMContact
	NMRecord
	NMEmoji
	NMPhone
	NMVideo
	NMInvite
	NMNone
)

// NetworkMessage is the wire-level representation of one chat message body.
type NetworkMessage struct {
	Kind NetworkMessageKind

	Text string // String, Invite

	Bytes    []byte // Image, File, Record
	FileName string // File

	ContactName   string
	ContactGID    groupchat.GroupID
	ContactAddr   groupchat.PeerAddr
	ContactAvatar []byte

	RecordDuration int64 // seconds
}

// Blobs is the narrow blob-store collaborator the Event Codec needs. It is
// satisfied structurally by *blob.Store; defined here so wire does not
// import internal/blob (no import cycle, codec stays a pure mapping
// function testable with a fake).
type Blobs interface {
	WriteImage(gid groupchat.GroupID, data []byte) (string, error)
	ReadImage(gid groupchat.GroupID, name string) ([]byte, error)
	WriteFile(gid groupchat.GroupID, name string, data []byte) (string, error)
	ReadFile(gid groupchat.GroupID, name string) ([]byte, error)
	WriteAvatar(gid groupchat.GroupID, data []byte) error
	ReadAvatar(gid groupchat.GroupID) ([]byte, error)
	// WriteRecord returns the bare "<fid>_<epoch_ms>.m4a" logical name; the
	// codec prepends the duration prefix to form the persisted content
	// string. The store names the file, the codec owns the persisted
	// logical-name format.
	WriteRecord(gid groupchat.GroupID, fid int64, data []byte) (string, error)
	ReadRecord(gid groupchat.GroupID, name string) ([]byte, error)
}

// Encode maps a NetworkMessage to a persisted (MessageType, content) pair,
// writing any blob sidecar (image, file, record, contact avatar) as a side
// effect.
func Encode(fid int64, gid groupchat.GroupID, msg NetworkMessage, blobs Blobs) (groupchat.MessageType, string, error) {
	switch msg.Kind {
	case NMString:
		return groupchat.MessageString, msg.Text, nil
	case NMImage:
		name, err := blobs.WriteImage(gid, msg.Bytes)
		if err != nil {
			return 0, "", err
		}
		return groupchat.MessageImage, name, nil
	case NMFile:
		name, err := blobs.WriteFile(gid, msg.FileName, msg.Bytes)
		if err != nil {
			return 0, "", err
		}
		return groupchat.MessageFile, name, nil
	case NMContact:
		if err := blobs.WriteAvatar(msg.ContactGID, msg.ContactAvatar); err != nil {
			return 0, "", err
		}
		content := strings.Join([]string{
			escapeContactField(msg.ContactName),
			msg.ContactGID.String(),
			hex.EncodeToString([]byte(msg.ContactAddr)),
		}, ";;")
		return groupchat.MessageContact, content, nil
	case NMRecord:
		name, err := blobs.WriteRecord(gid, fid, msg.Bytes)
		if err != nil {
			return 0, "", err
		}
		return groupchat.MessageRecord, strconv.FormatInt(msg.RecordDuration, 10) + "-" + name, nil
	case NMEmoji:
		return groupchat.MessageEmoji, "", nil
	case NMPhone:
		return groupchat.MessagePhone, "", nil
	case NMVideo:
		return groupchat.MessageVideo, "", nil
	case NMInvite:
		return groupchat.MessageInvite, msg.Text, nil
	default:
		return groupchat.MessageEmoji, "", nil
	}
}

// Decode maps a persisted (MessageType, content) row back to a
// NetworkMessage, reading blob sidecars through blobs. A malformed Contact
// string decodes to None rather than failing; a codec fault is not a
// protocol error.
func Decode(mtype groupchat.MessageType, content string, gid groupchat.GroupID, blobs Blobs) (NetworkMessage, error) {
	switch mtype {
	case groupchat.MessageString:
		return NetworkMessage{Kind: NMString, Text: content}, nil
	case groupchat.MessageImage:
		b, err := blobs.ReadImage(gid, content)
		if err != nil {
			return NetworkMessage{}, err
		}
		return NetworkMessage{Kind: NMImage, Bytes: b}, nil
	case groupchat.MessageFile:
		b, err := blobs.ReadFile(gid, content)
		if err != nil {
			return NetworkMessage{}, err
		}
		return NetworkMessage{Kind: NMFile, FileName: content, Bytes: b}, nil
	case groupchat.MessageContact:
		parts := strings.Split(content, ";;")
		if len(parts) != 3 {
			return NetworkMessage{Kind: NMNone}, nil
		}
		name := unescapeContactField(parts[0])
		var cgid groupchat.GroupID
		if !decodeGroupIDHex(parts[1], &cgid) {
			return NetworkMessage{Kind: NMNone}, nil
		}
		addrBytes, err := hex.DecodeString(parts[2])
		if err != nil {
			return NetworkMessage{Kind: NMNone}, nil
		}
		avatar, _ := blobs.ReadAvatar(cgid)
		return NetworkMessage{
			Kind:          NMContact,
			ContactName:   name,
			ContactGID:    cgid,
			ContactAddr:   groupchat.PeerAddr(addrBytes),
			ContactAvatar: avatar,
		}, nil
	case groupchat.MessageRecord:
		dur, name, ok := splitRecordContent(content)
		if !ok {
			return NetworkMessage{Kind: NMNone}, nil
		}
		b, err := blobs.ReadRecord(gid, name)
		if err != nil {
			return NetworkMessage{}, err
		}
		return NetworkMessage{Kind: NMRecord, Bytes: b, RecordDuration: dur}, nil
	case groupchat.MessageEmoji:
		return NetworkMessage{Kind: NMEmoji}, nil
	case groupchat.MessagePhone:
		return NetworkMessage{Kind: NMPhone}, nil
	case groupchat.MessageVideo:
		return NetworkMessage{Kind: NMVideo}, nil
	case groupchat.MessageInvite:
		return NetworkMessage{Kind: NMInvite, Text: content}, nil
	default:
		return NetworkMessage{Kind: NMNone}, nil
	}
}

func escapeContactField(name string) string {
	return strings.ReplaceAll(name, ";", "-;")
}

func unescapeContactField(name string) string {
	return strings.ReplaceAll(name, "-;", ";")
}

func decodeGroupIDHex(s string, out *groupchat.GroupID) bool {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(out) {
		return false
	}
	copy(out[:], b)
	return true
}

func splitRecordContent(content string) (int64, string, bool) {
	i := strings.IndexByte(content, '-')
	if i < 0 {
		return 0, "", false
	}
	dur, err := strconv.ParseInt(content[:i], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return dur, content[i+1:], true
}
