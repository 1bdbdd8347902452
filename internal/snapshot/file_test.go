package snapshot

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Aste21/Lodz-Hack/internal/models"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	root := t.TempDir()
	fs, err := NewFileStore(map[models.FeedKind]string{
		models.KindAlerts:           filepath.Join(root, "saved_alerts"),
		models.KindVehiclePositions: filepath.Join(root, "saved_vehicle_positions"),
	})
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return fs
}

func TestFileName(t *testing.T) {
	warsaw := time.FixedZone("CEST", 2*60*60)
	tests := []struct {
		kind models.FeedKind
		at   time.Time
		want string
	}{
		{models.KindAlerts, time.Date(2025, 6, 14, 12, 30, 5, 0, time.UTC), "alerts_20250614_123005.bin"},
		{models.KindVehiclePositions, time.Date(2025, 1, 2, 3, 4, 5, 999, time.UTC), "vehicle_positions_20250102_030405.bin"},
		{models.KindAlerts, time.Date(2025, 6, 14, 14, 30, 5, 0, warsaw), "alerts_20250614_123005.bin"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FileName(tt.kind, tt.at); got != tt.want {
				t.Errorf("FileName() = %s, want %s", got, tt.want)
			}
			kind, at, err := ParseFileName(tt.want)
			if err != nil {
				t.Fatalf("ParseFileName failed: %v", err)
			}
			if kind != tt.kind || !at.Equal(tt.at.Truncate(time.Second)) {
				t.Errorf("ParseFileName() = %s %v", kind, at)
			}
		})
	}

	if _, _, err := ParseFileName("notes.txt"); err == nil {
		t.Error("Expected error for non-snapshot file")
	}
}

func TestPersistRoundTrip(t *testing.T) {
	fs := newTestFileStore(t)
	payload := []byte{0x0a, 0x06, 0x0a, 0x03, '2', '.', '0', 0x00, 0xff}
	at := time.Date(2025, 6, 14, 12, 30, 5, 0, time.UTC)

	err := fs.Persist(context.Background(), models.Snapshot{
		Kind:       models.KindVehiclePositions,
		CapturedAt: at,
		Payload:    payload,
	})
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	path, _ := fs.Path(models.KindVehiclePositions, at)
	if filepath.Base(path) != "vehicle_positions_20250614_123005.bin" {
		t.Errorf("Unexpected file %s", path)
	}

	snap, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(snap.Payload, payload) {
		t.Error("Stored bytes differ from persisted payload")
	}
	if !snap.CapturedAt.Equal(at) || snap.Kind != models.KindVehiclePositions {
		t.Errorf("Unexpected snapshot metadata %s %v", snap.Kind, snap.CapturedAt)
	}

	// No temp files left behind
	dir, _ := fs.Dir(models.KindVehiclePositions)
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("Expected exactly one file, got %d", len(entries))
	}
}

func TestPersistSameSecondOverwrites(t *testing.T) {
	fs := newTestFileStore(t)
	at := time.Date(2025, 6, 14, 12, 30, 5, 0, time.UTC)

	for i, payload := range [][]byte{[]byte("first"), []byte("second")} {
		snap := models.Snapshot{Kind: models.KindAlerts, CapturedAt: at.Add(time.Duration(i) * 300 * time.Millisecond), Payload: payload}
		if err := fs.Persist(context.Background(), snap); err != nil {
			t.Fatalf("Persist failed: %v", err)
		}
	}

	files, err := fs.List(models.KindAlerts)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("Expected 1 file, got %d", len(files))
	}
	snap, err := Read(files[0])
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(snap.Payload) != "second" {
		t.Errorf("Expected second write to win, got %q", snap.Payload)
	}
}

func TestLatest(t *testing.T) {
	fs := newTestFileStore(t)

	snap, err := fs.Latest(models.KindAlerts)
	if err != nil || snap != nil {
		t.Fatalf("Expected nil snapshot for empty directory, got %v %v", snap, err)
	}

	base := time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)
	for i, offset := range []time.Duration{time.Minute, 3 * time.Hour, time.Second} {
		err := fs.Persist(context.Background(), models.Snapshot{
			Kind:       models.KindAlerts,
			CapturedAt: base.Add(offset),
			Payload:    []byte{byte(i)},
		})
		if err != nil {
			t.Fatalf("Persist failed: %v", err)
		}
	}

	snap, err = fs.Latest(models.KindAlerts)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if !snap.CapturedAt.Equal(base.Add(3*time.Hour)) || snap.Payload[0] != 1 {
		t.Errorf("Expected the 15:00 snapshot, got %v %v", snap.CapturedAt, snap.Payload)
	}

	if other, _ := fs.Latest(models.KindVehiclePositions); other != nil {
		t.Error("Kinds must not share snapshots")
	}
}

func TestPersistUnwritableDirectory(t *testing.T) {
	fs := newTestFileStore(t)
	dir, _ := fs.Dir(models.KindAlerts)
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}

	err := fs.Persist(context.Background(), models.Snapshot{Kind: models.KindAlerts, CapturedAt: time.Now(), Payload: []byte("x")})
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("Expected *StoreError, got %v", err)
	}
	if storeErr.Backend != "file" || storeErr.Kind != models.KindAlerts {
		t.Errorf("Unexpected store error %+v", storeErr)
	}
}

func TestSyncDir(t *testing.T) {
	if err := syncDir(t.TempDir()); err != nil {
		t.Errorf("syncDir failed: %v", err)
	}
	if err := syncDir(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Expected error for missing directory")
	}
}

type failingPersister struct{ err error }

func (f failingPersister) Persist(context.Context, models.Snapshot) error { return f.err }

func TestMulti(t *testing.T) {
	fs := newTestFileStore(t)
	boom := &StoreError{Backend: "sqlite", Kind: models.KindAlerts, Err: errors.New("locked")}
	m := Multi{failingPersister{err: boom}, fs}

	at := time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC)
	err := m.Persist(context.Background(), models.Snapshot{Kind: models.KindAlerts, CapturedAt: at, Payload: []byte("p")})
	if !errors.Is(err, boom) {
		t.Errorf("Expected joined error to contain backend failure, got %v", err)
	}

	files, _ := fs.List(models.KindAlerts)
	if len(files) != 1 {
		t.Error("A failing backend must not stop the others")
	}

	if err := (Multi{fs}).Persist(context.Background(), models.Snapshot{Kind: models.KindAlerts, CapturedAt: at, Payload: []byte("p")}); err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
}
