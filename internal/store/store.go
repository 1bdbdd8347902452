package store

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Aste21/Lodz-Hack/internal/models"
)

// Store holds the latest decoded message per feed kind.
// Entries are immutable; updates swap the pointer.
type Store struct {
	mu         sync.RWMutex
	latest     map[models.FeedKind]*models.Latest
	lastUpdate time.Time
}

// NewStore creates a new store instance
func NewStore() *Store {
	return &Store{
		latest: make(map[models.FeedKind]*models.Latest),
	}
}

// SetLatest replaces the cached entry for latest.Kind
func (s *Store) SetLatest(latest *models.Latest) {
	if latest == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest[latest.Kind] = latest
	s.lastUpdate = latest.FetchedAt
}

// GetLatest returns the cached entry for kind, or false before the first successful poll.
// Callers must not modify the returned value.
func (s *Store) GetLatest(kind models.FeedKind) (*models.Latest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.latest[kind]
	return l, ok
}

// GetVehiclesByLocation returns the vehicles of the latest poll nearest to a point,
// or false before the first successful vehicle poll
func (s *Store) GetVehiclesByLocation(lat, lon float64, limit int) ([]models.VehiclePosition, bool) {
	latest, ok := s.GetLatest(models.KindVehiclePositions)
	if !ok {
		return nil, false
	}

	type vehicleDist struct {
		vehicle  models.VehiclePosition
		distance float64
	}

	vehicles := latest.Message.Vehicles()
	dists := make([]vehicleDist, 0, len(vehicles))
	for _, v := range vehicles {
		dists = append(dists, vehicleDist{v, distance(lat, lon, v.Location.Lat, v.Location.Lon)})
	}

	sort.SliceStable(dists, func(i, j int) bool {
		return dists[i].distance < dists[j].distance
	})

	result := make([]models.VehiclePosition, 0, limit)
	for i := 0; i < limit && i < len(dists); i++ {
		result = append(result, dists[i].vehicle)
	}

	return result, true
}

// GetLastUpdate returns the fetch time of the most recent update of any kind
func (s *Store) GetLastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// distance calculates the distance between two points in kilometers using the Haversine formula
func distance(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return R * c
}
