package feed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Aste21/Lodz-Hack/internal/models"
	"github.com/Aste21/Lodz-Hack/internal/store"
)

type fetchResult struct {
	data []byte
	err  error
}

// scriptedFetcher returns its results in order, repeating the last one
type scriptedFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
	called  chan struct{}
}

func (f *scriptedFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	r := f.results[i]
	f.mu.Unlock()

	if f.called != nil {
		select {
		case f.called <- struct{}{}:
		default:
		}
	}
	return r.data, r.err
}

func (f *scriptedFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingPersister struct {
	mu    sync.Mutex
	snaps []models.Snapshot
	err   error
}

func (p *recordingPersister) Persist(ctx context.Context, snap models.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.snaps = append(p.snaps, snap)
	return nil
}

func (p *recordingPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snaps)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(kind models.FeedKind, fetcher Fetcher, persister Persister) (*Manager, *store.Store) {
	cache := store.NewStore()
	spec := FeedSpec{Kind: kind, URL: "http://feeds.test/" + kind.String() + ".bin", Interval: time.Hour}
	m := NewManager(spec, fetcher, cache, persister, discardLogger())
	m.now = func() time.Time { return time.Date(2025, 6, 14, 12, 30, 5, 0, time.UTC) }
	return m, cache
}

func TestRunCycleQualifyingPoll(t *testing.T) {
	data := VehiclePositionsFeed(1700000000, MockVehicles()...)
	fetcher := &scriptedFetcher{results: []fetchResult{{data: data}}}
	persister := &recordingPersister{}
	m, cache := newTestManager(models.KindVehiclePositions, fetcher, persister)

	if err := m.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if persister.count() != 1 {
		t.Fatalf("Expected 1 snapshot, got %d", persister.count())
	}
	snap := persister.snaps[0]
	if !bytes.Equal(snap.Payload, data) {
		t.Error("Snapshot payload must be the fetched bytes")
	}
	if snap.Kind != models.KindVehiclePositions || !snap.CapturedAt.Equal(m.now()) {
		t.Errorf("Unexpected snapshot metadata %v %v", snap.Kind, snap.CapturedAt)
	}

	latest, ok := cache.GetLatest(models.KindVehiclePositions)
	if !ok {
		t.Fatal("Expected cache entry")
	}
	if len(latest.Message.Vehicles()) != 3 {
		t.Errorf("Expected 3 cached vehicles, got %d", len(latest.Message.Vehicles()))
	}

	st := m.Status()
	if st.Cycles != 1 || st.Snapshots != 1 || st.Failures != 0 || st.LastSuccess == nil {
		t.Errorf("Unexpected status %+v", st)
	}
}

func TestRunCycleNothingToKeep(t *testing.T) {
	vehicles := []VehicleFixture{{ID: "1", VehicleID: "1401", Lat: 51.75, Lon: 19.45}}
	fetcher := &scriptedFetcher{results: []fetchResult{{data: VehiclePositionsFeed(1700000000, vehicles...)}}}
	persister := &recordingPersister{}
	m, cache := newTestManager(models.KindVehiclePositions, fetcher, persister)

	if err := m.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if persister.count() != 0 {
		t.Errorf("Expected nothing persisted, got %d", persister.count())
	}
	if _, ok := cache.GetLatest(models.KindVehiclePositions); !ok {
		t.Error("Cache must be updated even when nothing qualifies")
	}
}

func TestRunCycleFailuresLeaveCacheUnchanged(t *testing.T) {
	good := AlertsFeed(1700000000, AlertFixture{ID: "a1", Header: "Objazd"})
	netErr := &NetworkError{URL: "http://feeds.test/alerts.bin", StatusCode: 503}

	tests := []struct {
		name    string
		second  fetchResult
		wantErr any
	}{
		{"NetworkError", fetchResult{err: netErr}, new(*NetworkError)},
		{"DecodeError", fetchResult{data: good[:len(good)-1]}, new(*DecodeError)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &scriptedFetcher{results: []fetchResult{{data: good}, tt.second}}
			persister := &recordingPersister{}
			m, cache := newTestManager(models.KindAlerts, fetcher, persister)

			if err := m.RunCycle(context.Background()); err != nil {
				t.Fatalf("First cycle failed: %v", err)
			}
			before, _ := cache.GetLatest(models.KindAlerts)

			err := m.RunCycle(context.Background())
			if err == nil {
				t.Fatal("Expected second cycle to fail")
			}
			if !errors.As(err, tt.wantErr) {
				t.Errorf("Unexpected error type %T", err)
			}

			after, _ := cache.GetLatest(models.KindAlerts)
			if after != before {
				t.Error("Failed cycle must not replace the cached entry")
			}
			if persister.count() != 1 {
				t.Errorf("Failed cycle must not persist, got %d snapshots", persister.count())
			}

			st := m.Status()
			if st.Failures != 1 || st.ConsecutiveFailures != 1 || st.LastError == "" {
				t.Errorf("Unexpected status %+v", st)
			}
		})
	}
}

func TestRunCycleConsecutiveFailures(t *testing.T) {
	good := AlertsFeed(1700000000, AlertFixture{ID: "a1", Header: "Objazd"})
	netErr := &NetworkError{URL: "http://feeds.test/alerts.bin", StatusCode: 503}
	fetcher := &scriptedFetcher{results: []fetchResult{{data: good}, {err: netErr}}}
	m, cache := newTestManager(models.KindAlerts, fetcher, &recordingPersister{})

	if err := m.RunCycle(context.Background()); err != nil {
		t.Fatalf("First cycle failed: %v", err)
	}
	before, _ := cache.GetLatest(models.KindAlerts)

	for i := 0; i < 5; i++ {
		if err := m.RunCycle(context.Background()); err == nil {
			t.Fatalf("Cycle %d: expected failure", i+2)
		}
	}

	after, _ := cache.GetLatest(models.KindAlerts)
	if after != before {
		t.Error("Failed cycles must not replace the cached entry")
	}
	st := m.Status()
	if st.Cycles != 6 || st.Failures != 5 || st.ConsecutiveFailures != 5 {
		t.Errorf("Unexpected status %+v", st)
	}
	if st.LastSuccess == nil || !st.LastSuccess.Equal(before.FetchedAt) {
		t.Errorf("Last success must stay at the first cycle, got %v", st.LastSuccess)
	}
}

func TestRunKeepsPollingThroughFailures(t *testing.T) {
	netErr := &NetworkError{URL: "http://feeds.test/alerts.bin", StatusCode: 503}
	fetcher := &scriptedFetcher{results: []fetchResult{{err: netErr}}}
	m, cache := newTestManager(models.KindAlerts, fetcher, nil)
	m.spec.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for m.Status().ConsecutiveFailures < 5 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("Expected at least 5 failed cycles, got %+v", m.Status())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}

	if _, ok := cache.GetLatest(models.KindAlerts); ok {
		t.Error("Failed cycles must not populate the cache")
	}
	if st := m.Status(); st.LastSuccess != nil || st.Failures != st.ConsecutiveFailures {
		t.Errorf("Unexpected status %+v", st)
	}
}

func TestRunHoldsOffAfterFailures(t *testing.T) {
	netErr := &NetworkError{URL: "http://feeds.test/alerts.bin", StatusCode: 503}
	fetcher := &scriptedFetcher{
		results: []fetchResult{{err: netErr}},
		called:  make(chan struct{}, 1),
	}
	m, _ := newTestManager(models.KindAlerts, fetcher, nil)
	m.spec.Interval = 5 * time.Millisecond
	// The clock is frozen, so the first hold-off covers every later tick
	m.WithRetryPolicy(NewExponentialPolicy(time.Hour, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-fetcher.called:
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("First cycle did not start immediately")
	}
	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}

	if calls := fetcher.count(); calls != 1 {
		t.Errorf("Expected ticks to be skipped during hold-off, got %d fetches", calls)
	}
}

func TestRunCycleStoreFailure(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{{data: AlertsFeed(1700000000, AlertFixture{ID: "a1"})}}}
	persister := &recordingPersister{err: errors.New("disk full")}
	m, cache := newTestManager(models.KindAlerts, fetcher, persister)

	if err := m.RunCycle(context.Background()); err == nil {
		t.Fatal("Expected persist error to be reported")
	}
	if _, ok := cache.GetLatest(models.KindAlerts); !ok {
		t.Error("Store failure must not affect the cache")
	}
	st := m.Status()
	if st.StoreFailures != 1 || st.Failures != 0 || st.Snapshots != 0 {
		t.Errorf("Unexpected status %+v", st)
	}
}

func TestRunCycleWithoutPersister(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{{data: AlertsFeed(1, AlertFixture{ID: "a1"})}}}
	m, _ := newTestManager(models.KindAlerts, fetcher, nil)

	if err := m.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
}

// blockingFetcher holds every fetch until released
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
	data    []byte
}

func (f *blockingFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.started <- struct{}{}
	<-f.release
	return f.data, nil
}

func TestRunCycleNoOverlap(t *testing.T) {
	fetcher := &blockingFetcher{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		data:    AlertsFeed(1),
	}
	m, _ := newTestManager(models.KindAlerts, fetcher, nil)

	done := make(chan error, 1)
	go func() { done <- m.RunCycle(context.Background()) }()
	<-fetcher.started

	if err := m.RunCycle(context.Background()); !errors.Is(err, ErrCycleInFlight) {
		t.Errorf("Expected ErrCycleInFlight, got %v", err)
	}

	close(fetcher.release)
	if err := <-done; err != nil {
		t.Errorf("First cycle failed: %v", err)
	}
}

func TestRunStartsImmediatelyAndStops(t *testing.T) {
	fetcher := &scriptedFetcher{
		results: []fetchResult{{data: VehiclePositionsFeed(1700000000, MockVehicles()...)}},
		called:  make(chan struct{}, 1),
	}
	m, _ := newTestManager(models.KindVehiclePositions, fetcher, &recordingPersister{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-fetcher.called:
	case <-time.After(2 * time.Second):
		t.Fatal("First cycle did not start immediately")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	fetcher.mu.Lock()
	calls := fetcher.calls
	fetcher.mu.Unlock()
	if calls != 1 {
		t.Errorf("Expected exactly one cycle within the first interval, got %d", calls)
	}
}

func TestFetchFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		keep bool
	}{
		{"Nil", nil, false},
		{"Network", &NetworkError{URL: "u", StatusCode: 500}, true},
		{"Decode", &DecodeError{Size: 3, Err: errors.New("bad")}, true},
		{"Persist", errors.New("persist snapshot: disk full"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fetchFailure(tt.err) != nil; got != tt.keep {
				t.Errorf("fetchFailure(%v) kept = %v, want %v", tt.err, got, tt.keep)
			}
		})
	}
}
