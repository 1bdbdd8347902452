package feed

import (
	"fmt"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/Aste21/Lodz-Hack/internal/models"
)

// Decode parses a GTFS-RT payload into a FeedMessage of the given kind.
// Entities whose variant does not belong to kind are dropped.
func Decode(data []byte, kind models.FeedKind) (*models.FeedMessage, error) {
	msg, _, err := decode(data, kind)
	return msg, err
}

// decode also reports how many entities were dropped
func decode(data []byte, kind models.FeedKind) (*models.FeedMessage, int, error) {
	if kind != models.KindAlerts && kind != models.KindVehiclePositions {
		return nil, 0, fmt.Errorf("unsupported feed kind %q", kind)
	}

	var fm gtfsrtpb.FeedMessage
	// Required fields are checked, so truncated payloads fail here
	if err := proto.Unmarshal(data, &fm); err != nil {
		return nil, 0, &DecodeError{Size: len(data), Err: err}
	}

	msg := &models.FeedMessage{
		Kind:            kind,
		Version:         fm.GetHeader().GetGtfsRealtimeVersion(),
		HeaderTimestamp: fm.GetHeader().GetTimestamp(),
		Entities:        make([]models.Entity, 0, len(fm.GetEntity())),
	}

	seen := make(map[string]bool, len(fm.GetEntity()))
	dropped := 0
	for _, e := range fm.GetEntity() {
		id := e.GetId()
		// Entity ids are unique within a message; later repeats are dropped
		if seen[id] {
			dropped++
			continue
		}
		seen[id] = true

		var entity models.Entity
		switch kind {
		case models.KindAlerts:
			if e.GetAlert() != nil {
				entity = convertAlert(id, e.GetAlert())
			}
		case models.KindVehiclePositions:
			if e.GetVehicle() != nil {
				entity = convertVehicle(id, e.GetVehicle())
			}
		}
		if entity == nil {
			dropped++
			continue
		}
		msg.Entities = append(msg.Entities, entity)
	}

	return msg, dropped, nil
}

func convertAlert(id string, a *gtfsrtpb.Alert) *models.Alert {
	alert := &models.Alert{
		ID:               id,
		Header:           translatedText(a.GetHeaderText()),
		Description:      translatedText(a.GetDescriptionText()),
		URL:              translatedText(a.GetUrl()),
		Cause:            a.GetCause().String(),
		Effect:           a.GetEffect().String(),
		Severity:         a.GetSeverityLevel().String(),
		ActivePeriods:    make([]models.TimePeriod, 0, len(a.GetActivePeriod())),
		InformedEntities: make([]models.InformedEntity, 0, len(a.GetInformedEntity())),
	}

	for _, ap := range a.GetActivePeriod() {
		alert.ActivePeriods = append(alert.ActivePeriods, models.TimePeriod{
			Start: ap.Start,
			End:   ap.End,
		})
	}

	for _, ie := range a.GetInformedEntity() {
		alert.InformedEntities = append(alert.InformedEntities, models.InformedEntity{
			AgencyID: ie.GetAgencyId(),
			RouteID:  ie.GetRouteId(),
			StopID:   ie.GetStopId(),
			TripID:   ie.GetTrip().GetTripId(),
		})
	}

	return alert
}

func convertVehicle(id string, v *gtfsrtpb.VehiclePosition) *models.VehiclePosition {
	vp := &models.VehiclePosition{
		ID:        id,
		VehicleID: v.GetVehicle().GetId(),
		Label:     v.GetVehicle().GetLabel(),
		TripID:    v.GetTrip().GetTripId(),
		RouteID:   v.GetTrip().GetRouteId(),
		StartDate: v.GetTrip().GetStartDate(),
		StopID:    v.GetStopId(),
		Timestamp: v.GetTimestamp(),
	}

	if trip := v.GetTrip(); trip != nil && trip.DirectionId != nil {
		dir := trip.GetDirectionId()
		vp.DirectionID = &dir
	}

	if pos := v.GetPosition(); pos != nil {
		vp.Location = models.Location{
			Lat: float64(pos.GetLatitude()),
			Lon: float64(pos.GetLongitude()),
		}
		vp.Bearing = pos.Bearing
		vp.Speed = pos.Speed
	}

	vp.CurrentStopSequence = v.CurrentStopSequence
	if v.CurrentStatus != nil {
		vp.CurrentStatus = v.GetCurrentStatus().String()
	}
	if v.OccupancyStatus != nil {
		vp.Occupancy = v.GetOccupancyStatus().String()
	}

	return vp
}

// translatedText picks the first translation, which is what Łódź publishes
func translatedText(ts *gtfsrtpb.TranslatedString) string {
	for _, tr := range ts.GetTranslation() {
		if text := tr.GetText(); text != "" {
			return text
		}
	}
	return ""
}
