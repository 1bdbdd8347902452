package models

import (
	"fmt"
	"sort"
	"time"
)

// FeedKind identifies one of the monitored GTFS-RT feeds
type FeedKind string

const (
	KindAlerts           FeedKind = "alerts"
	KindVehiclePositions FeedKind = "vehicle_positions"
)

// Kinds lists every monitored feed kind in a stable order
var Kinds = []FeedKind{KindAlerts, KindVehiclePositions}

// ParseFeedKind converts a path segment or config value into a FeedKind
func ParseFeedKind(s string) (FeedKind, error) {
	switch FeedKind(s) {
	case KindAlerts:
		return KindAlerts, nil
	case KindVehiclePositions:
		return KindVehiclePositions, nil
	}
	return "", fmt.Errorf("unknown feed kind %q", s)
}

func (k FeedKind) String() string { return string(k) }

// Location represents a geographic coordinate
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Entity is one decoded record of a feed message.
// Implemented only by *Alert and *VehiclePosition.
type Entity interface {
	EntityID() string
	isEntity()
}

// TimePeriod represents an alert active window, bounds in epoch seconds
type TimePeriod struct {
	Start *uint64 `json:"start,omitempty"`
	End   *uint64 `json:"end,omitempty"`
}

// InformedEntity references the part of the network an alert applies to
type InformedEntity struct {
	AgencyID string `json:"agency_id,omitempty"`
	RouteID  string `json:"route_id,omitempty"`
	StopID   string `json:"stop_id,omitempty"`
	TripID   string `json:"trip_id,omitempty"`
}

// Alert represents a service alert entity
type Alert struct {
	ID               string           `json:"id"`
	Header           string           `json:"header"`
	Description      string           `json:"description"`
	URL              string           `json:"url,omitempty"`
	Cause            string           `json:"cause"`
	Effect           string           `json:"effect"`
	Severity         string           `json:"severity"`
	ActivePeriods    []TimePeriod     `json:"active_periods"`
	InformedEntities []InformedEntity `json:"informed_entities"`
}

func (a *Alert) EntityID() string { return a.ID }
func (a *Alert) isEntity()        {}

// VehiclePosition represents a vehicle position entity
type VehiclePosition struct {
	ID                  string   `json:"id"`
	VehicleID           string   `json:"vehicle_id,omitempty"`
	Label               string   `json:"label,omitempty"`
	TripID              string   `json:"trip_id,omitempty"`
	RouteID             string   `json:"route_id,omitempty"`
	DirectionID         *uint32  `json:"direction_id,omitempty"`
	StartDate           string   `json:"start_date,omitempty"`
	Location            Location `json:"location"`
	Bearing             *float32 `json:"bearing,omitempty"`
	Speed               *float32 `json:"speed,omitempty"`
	StopID              string   `json:"stop_id,omitempty"`
	CurrentStopSequence *uint32  `json:"current_stop_sequence,omitempty"`
	CurrentStatus       string   `json:"current_status,omitempty"`
	Occupancy           string   `json:"occupancy_status,omitempty"`
	Timestamp           uint64   `json:"timestamp,omitempty"`
}

func (v *VehiclePosition) EntityID() string { return v.ID }
func (v *VehiclePosition) isEntity()        {}

// HasTripAssociation reports whether the vehicle is serving a trip
func (v *VehiclePosition) HasTripAssociation() bool { return v.TripID != "" }

// FeedMessage is one decoded poll result. Treat as read-only once built.
type FeedMessage struct {
	Kind            FeedKind
	Version         string
	HeaderTimestamp uint64
	Entities        []Entity
}

// Alerts returns the alert entities in feed order
func (m *FeedMessage) Alerts() []Alert {
	out := make([]Alert, 0, len(m.Entities))
	for _, e := range m.Entities {
		if a, ok := e.(*Alert); ok {
			out = append(out, *a)
		}
	}
	return out
}

// Vehicles returns the vehicle position entities in feed order
func (m *FeedMessage) Vehicles() []VehiclePosition {
	out := make([]VehiclePosition, 0, len(m.Entities))
	for _, e := range m.Entities {
		if v, ok := e.(*VehiclePosition); ok {
			out = append(out, *v)
		}
	}
	return out
}

// Summary holds the denormalized fields stored next to a raw payload
type Summary struct {
	HeaderTimestamp uint64   `json:"header_timestamp"`
	EntityCount     int      `json:"entity_count"`
	AlertCount      int      `json:"alert_count"`
	VehicleCount    int      `json:"vehicle_count"`
	WithTrip        int      `json:"vehicles_with_trip"`
	Routes          []string `json:"routes"`
}

// Summarize computes the listing summary of a message
func (m *FeedMessage) Summarize() Summary {
	s := Summary{
		HeaderTimestamp: m.HeaderTimestamp,
		EntityCount:     len(m.Entities),
		Routes:          []string{},
	}
	routes := make(map[string]bool)
	for _, e := range m.Entities {
		switch ent := e.(type) {
		case *Alert:
			s.AlertCount++
			for _, ie := range ent.InformedEntities {
				if ie.RouteID != "" {
					routes[ie.RouteID] = true
				}
			}
		case *VehiclePosition:
			s.VehicleCount++
			if ent.HasTripAssociation() {
				s.WithTrip++
			}
			if ent.RouteID != "" {
				routes[ent.RouteID] = true
			}
		}
	}
	for r := range routes {
		s.Routes = append(s.Routes, r)
	}
	sort.Strings(s.Routes)
	return s
}

// Latest is the cached result of the most recent successful decode for a feed kind
type Latest struct {
	Kind      FeedKind
	Message   *FeedMessage
	Raw       []byte
	FetchedAt time.Time
}

// Snapshot is one persisted capture of a qualifying poll
type Snapshot struct {
	Kind       FeedKind
	CapturedAt time.Time
	Payload    []byte
	Message    *FeedMessage
}

// StoredRow is a snapshot as recorded by the relational backend
type StoredRow struct {
	ID            int64     `json:"id"`
	Kind          FeedKind  `json:"feed_kind"`
	CapturedAt    time.Time `json:"captured_at"`
	RawPayload    []byte    `json:"raw_payload"`
	ParsedSummary Summary   `json:"parsed_summary"`
}

// FeedStatus holds the scheduler counters of one feed
type FeedStatus struct {
	Kind                FeedKind   `json:"feed"`
	URL                 string     `json:"url"`
	Interval            string     `json:"interval"`
	Cycles              int        `json:"cycles"`
	Failures            int        `json:"failures"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Snapshots           int        `json:"snapshots"`
	StoreFailures       int        `json:"store_failures"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}
