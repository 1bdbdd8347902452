package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/Aste21/Lodz-Hack/internal/models"
)

// ErrDatabaseDisabled is returned by history queries when no database is configured
var ErrDatabaseDisabled = errors.New("snapshot database disabled")

// Client defines the read side of the feed monitor.
// Abstracts the running monitor from the HTTP layer so handlers can be tested with fakes.
type Client interface {
	GetLatest(kind models.FeedKind) (*models.Latest, bool)
	GetVehiclesByLocation(lat, lon float64, limit int) ([]models.VehiclePosition, bool)

	GetRecent(ctx context.Context, kind models.FeedKind, limit int) ([]models.StoredRow, error)

	GetStatus() []models.FeedStatus
	GetLastUpdate() time.Time
}
