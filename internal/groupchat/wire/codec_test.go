package wire

import (
	"testing"

	"github.com/petervdpas/grouprelay/internal/groupchat"
)

type fakeBlobs struct {
	images  map[string][]byte
	files   map[string][]byte
	avatars map[groupchat.GroupID][]byte
	records map[string][]byte
	seq     int
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{
		images:  make(map[string][]byte),
		files:   make(map[string][]byte),
		avatars: make(map[groupchat.GroupID][]byte),
		records: make(map[string][]byte),
	}
}

func (f *fakeBlobs) nextName() string {
	f.seq++
	return "blob" + string(rune('0'+f.seq))
}

func (f *fakeBlobs) WriteImage(gid groupchat.GroupID, data []byte) (string, error) {
	name := f.nextName()
	f.images[name] = data
	return name, nil
}
func (f *fakeBlobs) ReadImage(gid groupchat.GroupID, name string) ([]byte, error) {
	return f.images[name], nil
}
func (f *fakeBlobs) WriteFile(gid groupchat.GroupID, name string, data []byte) (string, error) {
	f.files[name] = data
	return name, nil
}
func (f *fakeBlobs) ReadFile(gid groupchat.GroupID, name string) ([]byte, error) {
	return f.files[name], nil
}
func (f *fakeBlobs) WriteAvatar(gid groupchat.GroupID, data []byte) error {
	f.avatars[gid] = data
	return nil
}
func (f *fakeBlobs) ReadAvatar(gid groupchat.GroupID) ([]byte, error) {
	return f.avatars[gid], nil
}
func (f *fakeBlobs) WriteRecord(gid groupchat.GroupID, fid int64, data []byte) (string, error) {
	name := f.nextName()
	f.records[name] = data
	return name, nil
}
func (f *fakeBlobs) ReadRecord(gid groupchat.GroupID, name string) ([]byte, error) {
	return f.records[name], nil
}

var _ Blobs = (*fakeBlobs)(nil)

func TestEncodeDecodeStringRoundTrip(t *testing.T) {
	blobs := newFakeBlobs()
	var gid groupchat.GroupID

	mtype, content, err := Encode(1, gid, NetworkMessage{Kind: NMString, Text: "hello"}, blobs)
	if err != nil {
		t.Fatal(err)
	}
	if mtype != groupchat.MessageString || content != "hello" {
		t.Fatalf("Encode() = %v, %q; want MessageString, \"hello\"", mtype, content)
	}

	msg, err := Decode(mtype, content, gid, blobs)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Kind != NMString || msg.Text != "hello" {
		t.Fatalf("Decode() = %+v, want Text=hello", msg)
	}
}

func TestEncodeDecodeImageRoundTrip(t *testing.T) {
	blobs := newFakeBlobs()
	var gid groupchat.GroupID
	data := []byte{1, 2, 3}

	mtype, content, err := Encode(1, gid, NetworkMessage{Kind: NMImage, Bytes: data}, blobs)
	if err != nil {
		t.Fatal(err)
	}
	msg, err := Decode(mtype, content, gid, blobs)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Kind != NMImage || string(msg.Bytes) != string(data) {
		t.Fatalf("Decode() = %+v, want Bytes=%v", msg, data)
	}
}

func TestEncodeDecodeContactRoundTrip(t *testing.T) {
	blobs := newFakeBlobs()
	var gid groupchat.GroupID
	var contactGID groupchat.GroupID
	contactGID[0] = 0xaa

	msg := NetworkMessage{
		Kind:          NMContact,
		ContactName:   "a;b",
		ContactGID:    contactGID,
		ContactAddr:   groupchat.PeerAddr("peer-addr"),
		ContactAvatar: []byte("avatar-bytes"),
	}

	mtype, content, err := Encode(1, gid, msg, blobs)
	if err != nil {
		t.Fatal(err)
	}
	if mtype != groupchat.MessageContact {
		t.Fatalf("Encode() mtype = %v, want MessageContact", mtype)
	}

	decoded, err := Decode(mtype, content, gid, blobs)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Kind != NMContact {
		t.Fatalf("Decode() kind = %v, want NMContact", decoded.Kind)
	}
	if decoded.ContactName != "a;b" {
		t.Fatalf("ContactName = %q, want %q", decoded.ContactName, "a;b")
	}
	if decoded.ContactGID != contactGID {
		t.Fatalf("ContactGID mismatch")
	}
	if string(decoded.ContactAddr) != "peer-addr" {
		t.Fatalf("ContactAddr = %q, want peer-addr", decoded.ContactAddr)
	}
	if string(decoded.ContactAvatar) != "avatar-bytes" {
		t.Fatalf("ContactAvatar = %q, want avatar-bytes", decoded.ContactAvatar)
	}
}

func TestDecodeContactMalformedFallsBackToNone(t *testing.T) {
	blobs := newFakeBlobs()
	var gid groupchat.GroupID

	msg, err := Decode(groupchat.MessageContact, "not-enough-parts", gid, blobs)
	if err != nil {
		t.Fatalf("Decode() should never error on malformed content, got %v", err)
	}
	if msg.Kind != NMNone {
		t.Fatalf("Decode() kind = %v, want NMNone", msg.Kind)
	}
}

func TestEncodeDecodeRecordRoundTrip(t *testing.T) {
	blobs := newFakeBlobs()
	var gid groupchat.GroupID
	data := []byte("audio-bytes")

	mtype, content, err := Encode(42, gid, NetworkMessage{Kind: NMRecord, Bytes: data, RecordDuration: 17}, blobs)
	if err != nil {
		t.Fatal(err)
	}
	if mtype != groupchat.MessageRecord {
		t.Fatalf("mtype = %v, want MessageRecord", mtype)
	}

	decoded, err := Decode(mtype, content, gid, blobs)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.RecordDuration != 17 {
		t.Fatalf("RecordDuration = %d, want 17", decoded.RecordDuration)
	}
	if string(decoded.Bytes) != string(data) {
		t.Fatalf("Bytes = %q, want %q", decoded.Bytes, data)
	}
}

func TestEncodeDecodeNoContentKinds(t *testing.T) {
	blobs := newFakeBlobs()
	var gid groupchat.GroupID

	for _, kind := range []NetworkMessageKind{NMEmoji, NMPhone, NMVideo} {
		mtype, content, err := Encode(1, gid, NetworkMessage{Kind: kind}, blobs)
		if err != nil {
			t.Fatal(err)
		}
		if content != "" {
			t.Fatalf("kind %v: content = %q, want empty", kind, content)
		}
		decoded, err := Decode(mtype, content, gid, blobs)
		if err != nil {
			t.Fatal(err)
		}
		if decoded.Kind != kind {
			t.Fatalf("round trip kind = %v, want %v", decoded.Kind, kind)
		}
	}
}
