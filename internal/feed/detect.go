package feed

import (
	"github.com/Aste21/Lodz-Hack/internal/models"
)

// Detector decides whether a decoded message is worth persisting
type Detector func(msg *models.FeedMessage) bool

// DetectorFor returns the persistence policy of a feed kind
func DetectorFor(kind models.FeedKind) Detector {
	switch kind {
	case models.KindAlerts:
		return HasAlerts
	case models.KindVehiclePositions:
		return HasTripAssociation
	}
	return func(*models.FeedMessage) bool { return false }
}

// HasAlerts is true when the message carries at least one alert
func HasAlerts(msg *models.FeedMessage) bool {
	if msg == nil {
		return false
	}
	for _, e := range msg.Entities {
		switch e.(type) {
		case *models.Alert:
			return true
		case *models.VehiclePosition:
		}
	}
	return false
}

// HasTripAssociation is true when at least one vehicle is serving a trip
func HasTripAssociation(msg *models.FeedMessage) bool {
	if msg == nil {
		return false
	}
	for _, e := range msg.Entities {
		switch ent := e.(type) {
		case *models.VehiclePosition:
			if ent.HasTripAssociation() {
				return true
			}
		case *models.Alert:
		}
	}
	return false
}
