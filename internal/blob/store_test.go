package blob

import (
	"errors"
	"testing"
	"time"

	"github.com/petervdpas/grouprelay/internal/groupchat"
)

func testGID(b byte) groupchat.GroupID {
	var g groupchat.GroupID
	g[0] = b
	return g
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), false)
	if err != nil {
		t.Fatalf("NewStore() = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInitLocalFilesCreatesSubdirs(t *testing.T) {
	s := newTestStore(t)
	gid := testGID(1)
	if err := s.InitLocalFiles(gid); err != nil {
		t.Fatal(err)
	}
	// A read against a never-written file should return empty bytes, not an
	// error, once the subdirectory exists.
	b, err := s.ReadAvatar(gid)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 0 {
		t.Fatalf("ReadAvatar() on fresh store = %v, want empty", b)
	}
}

func TestReadMissingReturnsEmptyNotError(t *testing.T) {
	s := newTestStore(t)
	gid := testGID(2)

	b, err := s.ReadImage(gid, "never-written.png")
	if err != nil {
		t.Fatalf("ReadImage() on missing file returned an error: %v", err)
	}
	if len(b) != 0 {
		t.Fatalf("ReadImage() on missing file = %v, want empty", b)
	}
}

func TestWriteReadAvatarRoundTrip(t *testing.T) {
	s := newTestStore(t)
	gid := testGID(3)
	data := []byte("avatar-bytes")

	if err := s.WriteAvatar(gid, data); err != nil {
		t.Fatal(err)
	}
	got, err := s.ReadAvatar(gid)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Fatalf("ReadAvatar() = %q, want %q", got, data)
	}

	if err := s.DeleteAvatar(gid); err != nil {
		t.Fatal(err)
	}
	got, err = s.ReadAvatar(gid)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("ReadAvatar() after delete = %v, want empty", got)
	}
	// Deleting again must not error.
	if err := s.DeleteAvatar(gid); err != nil {
		t.Fatalf("DeleteAvatar() on already-deleted avatar = %v", err)
	}
}

func TestWriteFilePreservesOriginalName(t *testing.T) {
	s := newTestStore(t)
	gid := testGID(4)

	name, err := s.WriteFile(gid, "report.pdf", []byte("pdf-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if name != "report.pdf" {
		t.Fatalf("WriteFile() name = %q, want report.pdf", name)
	}
	got, err := s.ReadFile(gid, name)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "pdf-bytes" {
		t.Fatalf("ReadFile() = %q, want pdf-bytes", got)
	}
}

func TestPathRejectsTraversal(t *testing.T) {
	s := newTestStore(t)
	gid := testGID(5)

	if _, err := s.ReadFile(gid, "../../../etc/passwd"); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("ReadFile() with traversal = %v, want ErrOutsideRoot", err)
	}
	if _, err := s.WriteFile(gid, "../escape.txt", []byte("x")); !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("WriteFile() with traversal = %v, want ErrOutsideRoot", err)
	}
}

func TestWriteImageReturnsTwentyCharToken(t *testing.T) {
	s := newTestStore(t)
	gid := testGID(6)

	name, err := s.WriteImage(gid, []byte{0xff, 0xd8, 0xff}) // not a decodable image; thumbnailing best-effort fails silently
	if err != nil {
		t.Fatal(err)
	}
	const suffix = ".png"
	if len(name) != 20+len(suffix) || name[len(name)-len(suffix):] != suffix {
		t.Fatalf("WriteImage() name = %q, want 20 chars + %q", name, suffix)
	}

	got, err := s.ReadImage(gid, name)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string([]byte{0xff, 0xd8, 0xff}) {
		t.Fatalf("ReadImage() = %v, want original bytes", got)
	}

	// writeThumbnailAsync runs in a goroutine; give it a moment, then assert
	// a malformed source produced no thumbnail rather than erroring.
	time.Sleep(50 * time.Millisecond)
	thumb, err := s.ReadThumbnail(gid, name)
	if err != nil {
		t.Fatal(err)
	}
	if len(thumb) != 0 {
		t.Fatalf("ReadThumbnail() for an undecodable source = %v, want empty", thumb)
	}
}

func TestWriteRecordNamesByFIDAndTimestamp(t *testing.T) {
	s := newTestStore(t)
	gid := testGID(7)

	name, err := s.WriteRecord(gid, 99, []byte("audio"))
	if err != nil {
		t.Fatal(err)
	}
	if len(name) < len("99_") || name[:3] != "99_" {
		t.Fatalf("WriteRecord() name = %q, want to start with \"99_\"", name)
	}
	got, err := s.ReadRecord(gid, name)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "audio" {
		t.Fatalf("ReadRecord() = %q, want audio", got)
	}
}
