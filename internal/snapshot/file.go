package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Aste21/Lodz-Hack/internal/models"
)

const (
	fileExt    = ".bin"
	nameLayout = "20060102_150405"
)

// FileName returns the snapshot file name for a capture, e.g. alerts_20250614_123005.bin
func FileName(kind models.FeedKind, capturedAt time.Time) string {
	return kind.String() + "_" + capturedAt.UTC().Format(nameLayout) + fileExt
}

// ParseFileName recovers kind and capture time from a snapshot file name
func ParseFileName(name string) (models.FeedKind, time.Time, error) {
	base := strings.TrimSuffix(filepath.Base(name), fileExt)
	for _, kind := range models.Kinds {
		prefix := kind.String() + "_"
		if !strings.HasPrefix(base, prefix) {
			continue
		}
		t, err := time.ParseInLocation(nameLayout, strings.TrimPrefix(base, prefix), time.UTC)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("parse snapshot name %s: %w", name, err)
		}
		return kind, t, nil
	}
	return "", time.Time{}, fmt.Errorf("not a snapshot file: %s", name)
}

// FileStore writes raw payloads to one directory per feed kind
type FileStore struct {
	dirs map[models.FeedKind]string
}

// NewFileStore creates the directories if needed
func NewFileStore(dirs map[models.FeedKind]string) (*FileStore, error) {
	fs := &FileStore{dirs: make(map[models.FeedKind]string, len(dirs))}
	for kind, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", kind, err)
		}
		fs.dirs[kind] = dir
	}
	return fs, nil
}

// Dir returns the directory of a feed kind
func (s *FileStore) Dir(kind models.FeedKind) (string, bool) {
	dir, ok := s.dirs[kind]
	return dir, ok
}

// Persist writes the payload atomically. A capture in the same second as an
// existing file replaces it.
func (s *FileStore) Persist(ctx context.Context, snap models.Snapshot) error {
	if err := s.write(snap); err != nil {
		return &StoreError{Backend: "file", Kind: snap.Kind, Err: err}
	}
	return nil
}

// Path returns where a snapshot is (or would be) stored
func (s *FileStore) Path(kind models.FeedKind, capturedAt time.Time) (string, error) {
	dir, ok := s.dirs[kind]
	if !ok {
		return "", fmt.Errorf("no directory configured for %s", kind)
	}
	return filepath.Join(dir, FileName(kind, capturedAt)), nil
}

func (s *FileStore) write(snap models.Snapshot) error {
	path, err := s.Path(snap.Kind, snap.CapturedAt)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+snap.Kind.String()+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(snap.Payload); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	if err := syncDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("sync dir %s: %w", filepath.Dir(path), err)
	}
	return nil
}

// syncDir flushes the directory entry so a completed rename survives a crash
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return err
	}
	return d.Close()
}

// List returns the snapshot files of a kind, oldest first
func (s *FileStore) List(kind models.FeedKind) ([]string, error) {
	dir, ok := s.dirs[kind]
	if !ok {
		return nil, fmt.Errorf("no directory configured for %s", kind)
	}
	return ListDir(dir, kind)
}

// ListDir returns the snapshot files of a kind found in dir, oldest first
func ListDir(dir string, kind models.FeedKind) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, kind.String()+"_*"+fileExt))
	if err != nil {
		return nil, err
	}
	files := matches[:0]
	for _, m := range matches {
		if _, _, err := ParseFileName(m); err == nil {
			files = append(files, m)
		}
	}
	// The timestamp layout sorts lexicographically in time order
	sort.Strings(files)
	return files, nil
}

// Latest returns the most recent snapshot of a kind, or nil when none is stored
func (s *FileStore) Latest(kind models.FeedKind) (*models.Snapshot, error) {
	files, err := s.List(kind)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	return Read(files[len(files)-1])
}

// Read loads a snapshot file. Message is left nil; decode Payload to get it.
func Read(path string) (*models.Snapshot, error) {
	kind, capturedAt, err := ParseFileName(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return &models.Snapshot{
		Kind:       kind,
		CapturedAt: capturedAt,
		Payload:    data,
	}, nil
}
