package monitor

import (
	"testing"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/matryer/is"
	"google.golang.org/protobuf/proto"
)

var testNow = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

func Test_flattenVehiclePositions(t *testing.T) {
	is := is.New(t)

	feed := gtfs.FeedMessage{
		Entity: []*gtfs.FeedEntity{
			{
				Id: proto.String("1"),
				Vehicle: &gtfs.VehiclePosition{
					Vehicle: &gtfs.VehicleDescriptor{Id: proto.String("V100")},
					Trip: &gtfs.TripDescriptor{
						TripId:  proto.String("T1"),
						RouteId: proto.String("55"),
					},
					Position: &gtfs.Position{
						Latitude:  proto.Float32(59.33),
						Longitude: proto.Float32(18.07),
					},
					StopId:    proto.String("S100"),
					Timestamp: proto.Uint64(uint64(testNow.Add(-30 * time.Second).Unix())),
				},
			},
			// no vehicle id, nothing to key on
			{
				Id:      proto.String("2"),
				Vehicle: &gtfs.VehiclePosition{},
			},
			// trip update entity, not a vehicle
			{
				Id:         proto.String("3"),
				TripUpdate: &gtfs.TripUpdate{},
			},
		},
	}

	arrivals := flattenVehiclePositions(&feed, testNow)
	is.Equal(len(arrivals), 1)
	is.Equal(arrivals[0].VehicleID, "V100")
	is.Equal(arrivals[0].TripID, "T1")
	is.Equal(arrivals[0].RouteID, "55")
	is.Equal(arrivals[0].StopID, "S100")
	is.Equal(arrivals[0].Timestamp, testNow.Add(-30*time.Second))
	is.Equal(arrivals[0].CreatedAt, testNow)
}

// A feed timestamp is optional; the poll time stands in when it is absent.
func Test_flattenVehiclePositions_missingTimestamp(t *testing.T) {
	is := is.New(t)

	feed := gtfs.FeedMessage{
		Entity: []*gtfs.FeedEntity{
			{
				Id: proto.String("1"),
				Vehicle: &gtfs.VehiclePosition{
					Vehicle: &gtfs.VehicleDescriptor{Id: proto.String("V100")},
				},
			},
		},
	}

	arrivals := flattenVehiclePositions(&feed, testNow)
	is.Equal(len(arrivals), 1)
	is.Equal(arrivals[0].Timestamp, testNow)
}

func Test_flattenTripUpdates_explodesPerStopTime(t *testing.T) {
	is := is.New(t)

	departure := testNow.Add(5 * time.Minute).Unix()
	feed := gtfs.FeedMessage{
		Entity: []*gtfs.FeedEntity{
			{
				Id: proto.String("1"),
				TripUpdate: &gtfs.TripUpdate{
					Trip: &gtfs.TripDescriptor{TripId: proto.String("T1")},
					StopTimeUpdate: []*gtfs.TripUpdate_StopTimeUpdate{
						{
							StopId: proto.String("S100"),
							Arrival: &gtfs.TripUpdate_StopTimeEvent{
								Time:  proto.Int64(testNow.Add(4 * time.Minute).Unix()),
								Delay: proto.Int32(600),
							},
							Departure: &gtfs.TripUpdate_StopTimeEvent{
								Time: proto.Int64(departure),
							},
						},
						{
							StopId: proto.String("S101"),
						},
					},
				},
			},
		},
	}

	updates := flattenTripUpdates(&feed, testNow)
	is.Equal(len(updates), 2)

	first := updates[0]
	is.Equal(first.TripID, "T1")
	is.Equal(first.StopID, "S100")
	is.Equal(*first.DelaySeconds, 600)
	is.Equal(first.DepartureTime.Unix(), departure)
	is.Equal(first.Status, "SCHEDULED")

	second := updates[1]
	is.Equal(second.StopID, "S101")
	is.True(second.ArrivalTime == nil)
	is.True(second.DelaySeconds == nil)
}

func Test_flattenServiceAlerts(t *testing.T) {
	is := is.New(t)

	start := uint64(testNow.Add(-time.Hour).Unix())
	feed := gtfs.FeedMessage{
		Entity: []*gtfs.FeedEntity{
			{
				Id: proto.String("1"),
				Alert: &gtfs.Alert{
					Cause:  gtfs.Alert_CONSTRUCTION.Enum(),
					Effect: gtfs.Alert_DETOUR.Enum(),
					HeaderText: &gtfs.TranslatedString{
						Translation: []*gtfs.TranslatedString_Translation{
							{Text: proto.String("Roadworks on line 55")},
						},
					},
					ActivePeriod: []*gtfs.TimeRange{
						{Start: proto.Uint64(start)},
					},
					InformedEntity: []*gtfs.EntitySelector{
						{RouteId: proto.String("55")},
						{StopId: proto.String("S100")},
					},
				},
			},
		},
	}

	alerts := flattenServiceAlerts(&feed, testNow)
	is.Equal(len(alerts), 2)
	is.Equal(alerts[0].Cause, "CONSTRUCTION")
	is.Equal(alerts[0].Effect, "DETOUR")
	is.Equal(alerts[0].HeaderText, "Roadworks on line 55")
	is.Equal(alerts[0].AffectedEntity, "55")
	is.Equal(alerts[1].AffectedEntity, "S100")
	is.Equal(alerts[0].StartTime.Unix(), int64(start))
	is.True(alerts[0].EndTime == nil)

	// different informed entities get different ids
	is.True(alerts[0].AlertID != alerts[1].AlertID)

	// refetching the unchanged feed reproduces the same ids so the unique
	// constraint absorbs the replay
	again := flattenServiceAlerts(&feed, testNow.Add(time.Minute))
	is.Equal(again[0].AlertID, alerts[0].AlertID)
}

func Test_affectedEntity_fallsBackToUnknown(t *testing.T) {
	is := is.New(t)
	is.Equal(affectedEntity(&gtfs.EntitySelector{}), "unknown")
	is.Equal(affectedEntity(&gtfs.EntitySelector{
		Trip: &gtfs.TripDescriptor{TripId: proto.String("T1")},
	}), "T1")
}
