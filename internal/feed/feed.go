package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Aste21/Lodz-Hack/internal/models"
)

// ErrCycleInFlight is returned when a cycle is requested while another one runs
var ErrCycleInFlight = errors.New("fetch cycle already in flight")

const persistTimeout = 15 * time.Second

// Fetcher retrieves raw feed bytes
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Cache receives every successfully decoded message
type Cache interface {
	SetLatest(latest *models.Latest)
}

// Persister durably records a qualifying snapshot
type Persister interface {
	Persist(ctx context.Context, snap models.Snapshot) error
}

// FeedSpec parameterizes a Manager for one feed kind
type FeedSpec struct {
	Kind     models.FeedKind
	URL      string
	Interval time.Duration
}

// Manager polls one feed on a fixed interval: fetch, decode, cache, detect, persist
type Manager struct {
	spec      FeedSpec
	fetcher   Fetcher
	cache     Cache
	persister Persister
	detect    Detector
	retry     RetryPolicy
	logger    *slog.Logger
	now       func() time.Time

	inFlight *semaphore.Weighted

	mu     sync.RWMutex
	status models.FeedStatus
}

// NewManager creates a feed manager. persister may be nil, in which case
// qualifying polls are only logged.
func NewManager(spec FeedSpec, fetcher Fetcher, cache Cache, persister Persister, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		spec:      spec,
		fetcher:   fetcher,
		cache:     cache,
		persister: persister,
		detect:    DetectorFor(spec.Kind),
		retry:     EveryTick{},
		logger:    logger.With("feed", spec.Kind.String()),
		now:       time.Now,
		inFlight:  semaphore.NewWeighted(1),
		status: models.FeedStatus{
			Kind:     spec.Kind,
			URL:      spec.URL,
			Interval: spec.Interval.String(),
		},
	}
}

// WithRetryPolicy replaces the default EveryTick policy
func (m *Manager) WithRetryPolicy(p RetryPolicy) *Manager {
	m.retry = p
	return m
}

// Run polls until ctx is cancelled. The first cycle starts immediately;
// the following ones start every interval, measured start to start.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("Feed monitor started", "url", m.spec.URL, "interval", m.spec.Interval)

	var holdUntil time.Time
	tick := func() {
		if now := m.now(); now.Before(holdUntil) {
			m.logger.Debug("Holding off after failures", "until", holdUntil.Format(time.RFC3339))
			return
		}
		err := m.RunCycle(ctx)
		if errors.Is(err, ErrCycleInFlight) {
			return
		}
		if d := m.retry.Next(fetchFailure(err)); d > 0 {
			holdUntil = m.now().Add(d)
			m.logger.Warn("Backing off", "delay", d)
		}
	}

	tick()

	ticker := time.NewTicker(m.spec.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tick()
		case <-ctx.Done():
			m.logger.Info("Feed monitor stopped")
			return nil
		}
	}
}

// RunCycle executes one fetch cycle. At most one cycle per manager runs at a time.
func (m *Manager) RunCycle(ctx context.Context) error {
	if !m.inFlight.TryAcquire(1) {
		m.logger.Warn("Previous cycle still running, skipping")
		return ErrCycleInFlight
	}
	defer m.inFlight.Release(1)

	capturedAt := m.now()

	data, err := m.fetcher.Fetch(ctx, m.spec.URL)
	if err != nil {
		m.fail(ctx, "Fetch failed", err)
		return err
	}

	msg, dropped, err := decode(data, m.spec.Kind)
	if err != nil {
		m.fail(ctx, "Decode failed", err)
		return err
	}
	if dropped > 0 {
		m.logger.Debug("Dropped entities of another variant", "dropped", dropped)
	}

	m.cache.SetLatest(&models.Latest{
		Kind:      m.spec.Kind,
		Message:   msg,
		Raw:       data,
		FetchedAt: capturedAt,
	})

	if !m.detect(msg) {
		m.logger.Info("Nothing worth keeping", "entities", len(msg.Entities), "header_timestamp", msg.HeaderTimestamp)
		m.succeed(capturedAt, false)
		return nil
	}

	m.logger.Info("Qualifying poll", "entities", len(msg.Entities), "header_timestamp", msg.HeaderTimestamp)
	m.logEntities(msg)

	if m.persister == nil {
		m.succeed(capturedAt, false)
		return nil
	}

	// A snapshot we decided to keep is written even while shutting down
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	snap := models.Snapshot{
		Kind:       m.spec.Kind,
		CapturedAt: capturedAt,
		Payload:    data,
		Message:    msg,
	}
	if err := m.persister.Persist(persistCtx, snap); err != nil {
		m.logger.Error("Snapshot not durably recorded", "captured_at", capturedAt.Format(time.RFC3339), "error", err)
		m.mu.Lock()
		m.status.StoreFailures++
		m.status.LastError = err.Error()
		m.mu.Unlock()
		m.succeed(capturedAt, false)
		return fmt.Errorf("persist snapshot: %w", err)
	}

	m.succeed(capturedAt, true)
	return nil
}

// Status returns a copy of the manager's counters
func (m *Manager) Status() models.FeedStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := m.status
	if st.LastSuccess != nil {
		t := *st.LastSuccess
		st.LastSuccess = &t
	}
	return st
}

func (m *Manager) fail(ctx context.Context, msg string, err error) {
	if ctx.Err() != nil {
		m.logger.Debug("Cycle interrupted by shutdown", "error", err)
		return
	}
	m.logger.Error(msg, "url", m.spec.URL, "error", err)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Cycles++
	m.status.Failures++
	m.status.ConsecutiveFailures++
	m.status.LastError = err.Error()
}

func (m *Manager) succeed(at time.Time, persisted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Cycles++
	m.status.ConsecutiveFailures = 0
	m.status.LastSuccess = &at
	if persisted {
		m.status.Snapshots++
	}
}

func (m *Manager) logEntities(msg *models.FeedMessage) {
	if !m.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for _, e := range msg.Entities {
		switch ent := e.(type) {
		case *models.Alert:
			m.logger.Debug("Alert",
				"id", ent.ID,
				"header", ent.Header,
				"active_periods", len(ent.ActivePeriods),
				"informed_entities", len(ent.InformedEntities),
				"effect", ent.Effect)
		case *models.VehiclePosition:
			if !ent.HasTripAssociation() {
				continue
			}
			m.logger.Debug("Vehicle on trip",
				"id", ent.ID,
				"vehicle_id", ent.VehicleID,
				"trip_id", ent.TripID,
				"route_id", ent.RouteID)
		}
	}
}

// fetchFailure keeps only the errors that should drive the retry policy
func fetchFailure(err error) error {
	var netErr *NetworkError
	var decErr *DecodeError
	if errors.As(err, &netErr) || errors.As(err, &decErr) {
		return err
	}
	return nil
}
