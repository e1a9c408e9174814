// Package blob implements the filesystem-backed blob store the groupchat
// Coordinator reads and writes avatars, images, files and voice records
// through. Reads of absent files return empty bytes rather than erroring;
// writes are atomic overwrites (temp file, fsync, rename).
package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/petervdpas/grouprelay/internal/groupchat"
)

// ErrOutsideRoot is returned for a logical name that escapes its group's
// subtree; traversal is refused rather than silently clamped.
var ErrOutsideRoot = errors.New("blob: path outside group root")

const (
	dirFiles   = "files"
	dirImages  = "images"
	dirThumbs  = "thumbs"
	dirEmojis  = "emojis"
	dirRecords = "records"
	dirAvatars = "avatars"
)

// Store is the base-directory-rooted blob tree: <base>/<group-id>/{files,
// images, thumbs, emojis, records, avatars}/<logical-name>.
type Store struct {
	base string

	// watcher notices externally-dropped blob files (e.g. an operator
	// copying an avatar in by hand) and reports them through Events(),
	// which app.Run drains and logs; the groupchat Coordinator never
	// depends on it.
	watcher *fsnotify.Watcher
}

// NewStore roots a Store at base, creating it if necessary. watch enables
// the fsnotify-backed reload watcher described above.
func NewStore(base string, watch bool) (*Store, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create base dir: %w", err)
	}
	s := &Store{base: base}
	if watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("blob: new watcher: %w", err)
		}
		if err := w.Add(base); err != nil {
			w.Close()
			return nil, fmt.Errorf("blob: watch base dir: %w", err)
		}
		s.watcher = w
	}
	return s, nil
}

// Close releases the reload watcher, if any.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// Events exposes the reload watcher's event stream, or nil if disabled.
func (s *Store) Events() <-chan fsnotify.Event {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Events
}

// InitLocalFiles creates the six logical subdirectories for gid.
func (s *Store) InitLocalFiles(gid groupchat.GroupID) error {
	for _, d := range []string{dirFiles, dirImages, dirThumbs, dirEmojis, dirRecords, dirAvatars} {
		if err := os.MkdirAll(filepath.Join(s.groupDir(gid), d), 0o755); err != nil {
			return fmt.Errorf("blob: init %s/%s: %w", gid, d, err)
		}
	}
	if s.watcher != nil {
		_ = s.watcher.Add(s.groupDir(gid))
	}
	return nil
}

func (s *Store) groupDir(gid groupchat.GroupID) string {
	return filepath.Join(s.base, gid.String())
}

func (s *Store) path(gid groupchat.GroupID, sub, name string) (string, error) {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(filepath.ToSlash(name), "/")
	root := filepath.Join(s.groupDir(gid), sub)
	abs := filepath.Clean(filepath.Join(root, filepath.FromSlash(name)))

	rootClean := filepath.Clean(root)
	prefix := rootClean + string(filepath.Separator)
	if abs != rootClean && !strings.HasPrefix(abs, prefix) {
		return "", ErrOutsideRoot
	}
	return abs, nil
}

// read returns the file's bytes, or an empty slice (never an error) if it
// is absent; callers treat a missing blob as empty content, not a failure.
func read(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []byte{}, nil
	}
	return b, err
}

// write overwrites path atomically: write to a sibling temp file, fsync,
// rename into place.
func write(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".blob-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = f.Close(); _ = os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// randomToken produces a random logical file-name component from a uuid
// with its separators stripped, truncated to n characters.
func randomToken(n int) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	for len(raw) < n {
		raw += strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return raw[:n]
}

// WriteImage stores the full-size image under a random 20-char token plus
// ".png" and asynchronously persists a thumbnail when the source decodes
// and is wider than thumbWidthThreshold. It returns the logical name of the
// full-size file.
func (s *Store) WriteImage(gid groupchat.GroupID, data []byte) (string, error) {
	name := randomToken(20) + ".png"
	path, err := s.path(gid, dirImages, name)
	if err != nil {
		return "", err
	}
	if err := write(path, data); err != nil {
		return "", err
	}
	go s.writeThumbnailAsync(gid, name, data)
	return name, nil
}

// ReadImage reads a full-size image by logical name.
func (s *Store) ReadImage(gid groupchat.GroupID, name string) ([]byte, error) {
	path, err := s.path(gid, dirImages, name)
	if err != nil {
		return nil, err
	}
	return read(path)
}

// ReadThumbnail reads a previously-generated thumbnail, or empty bytes if
// one was never produced (source narrower than the 100px threshold).
func (s *Store) ReadThumbnail(gid groupchat.GroupID, name string) ([]byte, error) {
	path, err := s.path(gid, dirThumbs, name)
	if err != nil {
		return nil, err
	}
	return read(path)
}

// WriteFile stores a file under its original filename, returning the
// logical name (the filename itself).
func (s *Store) WriteFile(gid groupchat.GroupID, name string, data []byte) (string, error) {
	path, err := s.path(gid, dirFiles, name)
	if err != nil {
		return "", err
	}
	if err := write(path, data); err != nil {
		return "", err
	}
	return name, nil
}

// ReadFile reads a file by logical name.
func (s *Store) ReadFile(gid groupchat.GroupID, name string) ([]byte, error) {
	path, err := s.path(gid, dirFiles, name)
	if err != nil {
		return nil, err
	}
	return read(path)
}

// WriteAvatar stores gid's avatar under "<gid>.png".
func (s *Store) WriteAvatar(gid groupchat.GroupID, data []byte) error {
	path, err := s.path(gid, dirAvatars, gid.String()+".png")
	if err != nil {
		return err
	}
	return write(path, data)
}

// ReadAvatar reads gid's avatar.
func (s *Store) ReadAvatar(gid groupchat.GroupID) ([]byte, error) {
	path, err := s.path(gid, dirAvatars, gid.String()+".png")
	if err != nil {
		return nil, err
	}
	return read(path)
}

// DeleteAvatar removes gid's avatar file. Only MemberLeave triggers this;
// group closure and message deletion leave their blobs in place. It is not
// an error for the file to already be absent.
func (s *Store) DeleteAvatar(gid groupchat.GroupID) error {
	path, err := s.path(gid, dirAvatars, gid.String()+".png")
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// WriteRecord stores a voice record under "<fid>_<epoch_ms>.m4a" and
// returns that bare logical name. The caller (the Event Codec) prepends
// the duration prefix to form the persisted content string; the store
// itself only owns the filename.
func (s *Store) WriteRecord(gid groupchat.GroupID, fid int64, data []byte) (string, error) {
	name := strconv.FormatInt(fid, 10) + "_" + strconv.FormatInt(time.Now().UnixMilli(), 10) + ".m4a"
	path, err := s.path(gid, dirRecords, name)
	if err != nil {
		return "", err
	}
	if err := write(path, data); err != nil {
		return "", err
	}
	return name, nil
}

// ReadRecord reads a voice record by its bare logical name (without the
// duration prefix, which the codec strips before calling in).
func (s *Store) ReadRecord(gid groupchat.GroupID, name string) ([]byte, error) {
	path, err := s.path(gid, dirRecords, name)
	if err != nil {
		return nil, err
	}
	return read(path)
}
