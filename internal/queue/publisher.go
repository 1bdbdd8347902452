package queue

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Aste21/Lodz-Hack/internal/models"
	"github.com/Aste21/Lodz-Hack/internal/snapshot"
)

// DefaultQueue is the Redis list new snapshot events are pushed onto
const DefaultQueue = "gtfsrt_snapshots"

// SnapshotEvent is the msgpack envelope published for every stored snapshot
type SnapshotEvent struct {
	EventID          string   `msgpack:"event_id"`
	Kind             string   `msgpack:"feed_kind"`
	CapturedAtMs     int64    `msgpack:"captured_at_ms"`
	HeaderTimestamp  uint64   `msgpack:"header_timestamp"`
	EntityCount      int      `msgpack:"entity_count"`
	AlertCount       int      `msgpack:"alert_count"`
	VehiclesWithTrip int      `msgpack:"vehicles_with_trip"`
	Routes           []string `msgpack:"routes"`
	File             string   `msgpack:"file,omitempty"`
}

// Locator resolves where the file backend keeps a snapshot
type Locator interface {
	Path(kind models.FeedKind, capturedAt time.Time) (string, error)
}

// Publisher announces snapshots on a Redis list
type Publisher struct {
	rdb     *redis.Client
	queue   string
	locator Locator
}

// Connect parses a redis:// URL and checks the server is reachable
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return rdb, nil
}

// NewPublisher creates a publisher. locator may be nil when files are not kept.
func NewPublisher(rdb *redis.Client, queue string, locator Locator) *Publisher {
	if queue == "" {
		queue = DefaultQueue
	}
	return &Publisher{rdb: rdb, queue: queue, locator: locator}
}

// Persist publishes an event describing snap. The file is named only once
// the file backend has written it, so it must run after that backend.
func (p *Publisher) Persist(ctx context.Context, snap models.Snapshot) error {
	event := NewEvent(snap)
	if p.locator != nil {
		if path, err := p.locator.Path(snap.Kind, snap.CapturedAt); err == nil {
			if _, err := os.Stat(path); err == nil {
				event.File = path
			}
		}
	}

	payload, err := msgpack.Marshal(&event)
	if err != nil {
		return &snapshot.StoreError{Backend: "redis", Kind: snap.Kind, Err: fmt.Errorf("encode event: %w", err)}
	}

	if err := p.rdb.RPush(ctx, p.queue, payload).Err(); err != nil {
		return &snapshot.StoreError{Backend: "redis", Kind: snap.Kind, Err: fmt.Errorf("push to %s: %w", p.queue, err)}
	}
	return nil
}

// NewEvent builds the envelope for snap with a fresh event id
func NewEvent(snap models.Snapshot) SnapshotEvent {
	event := SnapshotEvent{
		EventID:      uuid.New().String(),
		Kind:         snap.Kind.String(),
		CapturedAtMs: snap.CapturedAt.UnixMilli(),
		Routes:       []string{},
	}
	if snap.Message != nil {
		s := snap.Message.Summarize()
		event.HeaderTimestamp = s.HeaderTimestamp
		event.EntityCount = s.EntityCount
		event.AlertCount = s.AlertCount
		event.VehiclesWithTrip = s.WithTrip
		event.Routes = s.Routes
	}
	return event
}
