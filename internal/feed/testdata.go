package feed

import (
	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// VehicleFixture describes one vehicle of a generated vehicle positions feed
type VehicleFixture struct {
	ID        string
	VehicleID string
	TripID    string
	RouteID   string
	Lat       float32
	Lon       float32
}

// AlertFixture describes one alert of a generated alerts feed
type AlertFixture struct {
	ID      string
	Header  string
	RouteID string
	Start   uint64
	End     uint64
}

// MockVehicles returns three vehicles around Piotrkowska, one serving a trip
func MockVehicles() []VehicleFixture {
	return []VehicleFixture{
		{ID: "1", VehicleID: "1401", Lat: 51.7592, Lon: 19.4560},
		{ID: "2", VehicleID: "1402", TripID: "T_86_0712", RouteID: "86", Lat: 51.7687, Lon: 19.4570},
		{ID: "3", VehicleID: "3310", Lat: 51.7496, Lon: 19.4617},
	}
}

// VehiclePositionsFeed encodes a vehicle positions FeedMessage for tests and local runs
func VehiclePositionsFeed(timestamp uint64, vehicles ...VehicleFixture) []byte {
	fm := newFeedMessage(timestamp)
	for _, v := range vehicles {
		vp := &gtfsrtpb.VehiclePosition{
			Vehicle: &gtfsrtpb.VehicleDescriptor{Id: proto.String(v.VehicleID)},
			Position: &gtfsrtpb.Position{
				Latitude:  proto.Float32(v.Lat),
				Longitude: proto.Float32(v.Lon),
			},
			Timestamp: proto.Uint64(timestamp),
		}
		if v.TripID != "" || v.RouteID != "" {
			vp.Trip = &gtfsrtpb.TripDescriptor{}
			if v.TripID != "" {
				vp.Trip.TripId = proto.String(v.TripID)
			}
			if v.RouteID != "" {
				vp.Trip.RouteId = proto.String(v.RouteID)
			}
		}
		fm.Entity = append(fm.Entity, &gtfsrtpb.FeedEntity{
			Id:      proto.String(v.ID),
			Vehicle: vp,
		})
	}
	return mustMarshal(fm)
}

// AlertsFeed encodes a service alerts FeedMessage for tests and local runs
func AlertsFeed(timestamp uint64, alerts ...AlertFixture) []byte {
	fm := newFeedMessage(timestamp)
	for _, a := range alerts {
		alert := &gtfsrtpb.Alert{
			HeaderText: &gtfsrtpb.TranslatedString{
				Translation: []*gtfsrtpb.TranslatedString_Translation{
					{Text: proto.String(a.Header), Language: proto.String("pl")},
				},
			},
			Cause:  gtfsrtpb.Alert_CONSTRUCTION.Enum(),
			Effect: gtfsrtpb.Alert_DETOUR.Enum(),
		}
		if a.Start != 0 || a.End != 0 {
			tr := &gtfsrtpb.TimeRange{}
			if a.Start != 0 {
				tr.Start = proto.Uint64(a.Start)
			}
			if a.End != 0 {
				tr.End = proto.Uint64(a.End)
			}
			alert.ActivePeriod = []*gtfsrtpb.TimeRange{tr}
		}
		if a.RouteID != "" {
			alert.InformedEntity = []*gtfsrtpb.EntitySelector{{RouteId: proto.String(a.RouteID)}}
		}
		fm.Entity = append(fm.Entity, &gtfsrtpb.FeedEntity{
			Id:    proto.String(a.ID),
			Alert: alert,
		})
	}
	return mustMarshal(fm)
}

func newFeedMessage(timestamp uint64) *gtfsrtpb.FeedMessage {
	return &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfsrtpb.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(timestamp),
		},
	}
}

func mustMarshal(fm *gtfsrtpb.FeedMessage) []byte {
	data, err := proto.Marshal(fm)
	if err != nil {
		panic(err)
	}
	return data
}
