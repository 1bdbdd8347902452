package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"github.com/Aste21/Lodz-Hack/internal/config"
	"github.com/Aste21/Lodz-Hack/internal/database"
	"github.com/Aste21/Lodz-Hack/internal/feed"
	"github.com/Aste21/Lodz-Hack/internal/models"
	"github.com/Aste21/Lodz-Hack/internal/queue"
	"github.com/Aste21/Lodz-Hack/internal/snapshot"
	"github.com/Aste21/Lodz-Hack/internal/store"
)

// backoffCeiling bounds the exponential retry policy
const backoffCeiling = 5 * time.Minute

// LocalClient implements the Client interface for an in-process monitor.
// Owns the latest cache, the storage backends and one feed manager per kind.
type LocalClient struct {
	store    *store.Store
	managers []*feed.Manager
	files    *snapshot.FileStore
	db       *database.DB
	repo     *database.SnapshotRepository
	rdb      *redis.Client
	logger   *slog.Logger
}

// NewLocal wires the monitor from configuration. Storage that cannot be
// opened is reported here so the process can fail before polling starts.
func NewLocal(ctx context.Context, cfg *config.Cfg, logger *slog.Logger) (*LocalClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &LocalClient{
		store:  store.NewStore(),
		logger: logger,
	}

	dirs := make(map[models.FeedKind]string, len(cfg.Feeds))
	for _, f := range cfg.Feeds {
		dirs[f.Kind] = f.Dir
	}
	files, err := snapshot.NewFileStore(dirs)
	if err != nil {
		return nil, err
	}
	c.files = files
	backends := snapshot.Multi{files}

	if cfg.DBPath != "" {
		db, err := database.Open(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		c.db = db
		c.repo = database.NewSnapshotRepository(db)
		backends = append(backends, c.repo)
		logger.Info("Snapshot database ready", "path", cfg.DBPath)
	}

	if cfg.RedisURL != "" {
		rdb, err := queue.Connect(ctx, cfg.RedisURL)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.rdb = rdb
		backends = append(backends, queue.NewPublisher(rdb, cfg.RedisQueue, files))
		logger.Info("Snapshot events enabled", "queue", cfg.RedisQueue)
	}

	for _, f := range cfg.Feeds {
		spec := feed.FeedSpec{Kind: f.Kind, URL: f.URL, Interval: f.Interval}
		fetcher := feed.NewClient(f.Timeout, cfg.UserAgent)
		m := feed.NewManager(spec, fetcher, c.store, backends, logger)
		if cfg.RetryPolicy == config.RetryExponential {
			m.WithRetryPolicy(feed.NewExponentialPolicy(f.Interval, backoffCeiling))
		}
		c.managers = append(c.managers, m)
	}

	return c, nil
}

// Run polls every feed until ctx is cancelled
func (c *LocalClient) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range c.managers {
		g.Go(func() error {
			return m.Run(gctx)
		})
	}
	return g.Wait()
}

// Close releases the storage backends. Call after Run has returned.
func (c *LocalClient) Close() {
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close database", "error", err)
		}
	}
	if c.rdb != nil {
		if err := c.rdb.Close(); err != nil {
			c.logger.Error("Failed to close redis client", "error", err)
		}
	}
}

func (c *LocalClient) GetLatest(kind models.FeedKind) (*models.Latest, bool) {
	return c.store.GetLatest(kind)
}

func (c *LocalClient) GetVehiclesByLocation(lat, lon float64, limit int) ([]models.VehiclePosition, bool) {
	return c.store.GetVehiclesByLocation(lat, lon, limit)
}

func (c *LocalClient) GetRecent(ctx context.Context, kind models.FeedKind, limit int) ([]models.StoredRow, error) {
	if c.repo == nil {
		return nil, ErrDatabaseDisabled
	}
	rows, err := c.repo.Recent(ctx, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("recent %s snapshots: %w", kind, err)
	}
	return rows, nil
}

func (c *LocalClient) GetStatus() []models.FeedStatus {
	result := make([]models.FeedStatus, 0, len(c.managers))
	for _, m := range c.managers {
		result = append(result, m.Status())
	}
	return result
}

func (c *LocalClient) GetLastUpdate() time.Time {
	return c.store.GetLastUpdate()
}
