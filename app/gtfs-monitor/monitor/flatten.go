package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/UrbanOSLabs/mobilitycast/business/data/livetransit"
)

// flattenVehiclePositions reads every vehicle entity into an arrival row.
// Entities without a vehicle id carry nothing to key on and are dropped.
func flattenVehiclePositions(feed *gtfs.FeedMessage, now time.Time) []*livetransit.VehicleArrival {
	arrivals := make([]*livetransit.VehicleArrival, 0, len(feed.GetEntity()))
	for _, entity := range feed.GetEntity() {
		vehicle := entity.GetVehicle()
		if vehicle == nil || vehicle.GetVehicle().GetId() == "" {
			continue
		}

		arrival := livetransit.VehicleArrival{
			VehicleID:   vehicle.GetVehicle().GetId(),
			TripID:      vehicle.GetTrip().GetTripId(),
			RouteID:     vehicle.GetTrip().GetRouteId(),
			PositionLat: float64(vehicle.GetPosition().GetLatitude()),
			PositionLon: float64(vehicle.GetPosition().GetLongitude()),
			StopID:      vehicle.GetStopId(),
			Timestamp:   now,
			CreatedAt:   now,
		}
		if vehicle.Timestamp != nil {
			arrival.Timestamp = time.Unix(int64(vehicle.GetTimestamp()), 0).UTC()
		}
		arrivals = append(arrivals, &arrival)
	}
	return arrivals
}

// flattenTripUpdates explodes every trip update into one row per
// stop_time_update, carrying the arrival delay when the feed reports one.
func flattenTripUpdates(feed *gtfs.FeedMessage, now time.Time) []*livetransit.TripUpdate {
	updates := make([]*livetransit.TripUpdate, 0, len(feed.GetEntity()))
	for _, entity := range feed.GetEntity() {
		tripUpdate := entity.GetTripUpdate()
		if tripUpdate == nil {
			continue
		}
		tripID := tripUpdate.GetTrip().GetTripId()

		for _, stu := range tripUpdate.GetStopTimeUpdate() {
			update := livetransit.TripUpdate{
				TripID:    tripID,
				StopID:    stu.GetStopId(),
				Status:    stu.GetScheduleRelationship().String(),
				CreatedAt: now,
			}
			if arrival := stu.GetArrival(); arrival != nil {
				if arrival.Time != nil {
					t := time.Unix(arrival.GetTime(), 0).UTC()
					update.ArrivalTime = &t
				}
				if arrival.Delay != nil {
					delay := int(arrival.GetDelay())
					update.DelaySeconds = &delay
				}
			}
			if departure := stu.GetDeparture(); departure != nil && departure.Time != nil {
				t := time.Unix(departure.GetTime(), 0).UTC()
				update.DepartureTime = &t
			}
			updates = append(updates, &update)
		}
	}
	return updates
}

// flattenServiceAlerts emits one row per informed entity of every alert. The
// alert id hashes the alert content so refetching an unchanged feed inserts
// nothing new.
func flattenServiceAlerts(feed *gtfs.FeedMessage, now time.Time) []*livetransit.ServiceAlert {
	alerts := make([]*livetransit.ServiceAlert, 0, len(feed.GetEntity()))
	for _, entity := range feed.GetEntity() {
		alert := entity.GetAlert()
		if alert == nil {
			continue
		}

		header := firstTranslation(alert.GetHeaderText())
		description := firstTranslation(alert.GetDescriptionText())

		var startTime, endTime *time.Time
		if periods := alert.GetActivePeriod(); len(periods) > 0 {
			if periods[0].Start != nil {
				t := time.Unix(int64(periods[0].GetStart()), 0).UTC()
				startTime = &t
			}
			if periods[0].End != nil {
				t := time.Unix(int64(periods[0].GetEnd()), 0).UTC()
				endTime = &t
			}
		}

		for _, informed := range alert.GetInformedEntity() {
			affected := affectedEntity(informed)
			alerts = append(alerts, &livetransit.ServiceAlert{
				AlertID:         alertID(header, description, affected, startTime),
				Cause:           alert.GetCause().String(),
				Effect:          alert.GetEffect().String(),
				HeaderText:      header,
				DescriptionText: description,
				AffectedEntity:  affected,
				StartTime:       startTime,
				EndTime:         endTime,
				CreatedAt:       now,
			})
		}
	}
	return alerts
}

func firstTranslation(text *gtfs.TranslatedString) string {
	translations := text.GetTranslation()
	if len(translations) == 0 {
		return ""
	}
	return translations[0].GetText()
}

func affectedEntity(informed *gtfs.EntitySelector) string {
	if id := informed.GetRouteId(); id != "" {
		return id
	}
	if id := informed.GetStopId(); id != "" {
		return id
	}
	if id := informed.GetTrip().GetTripId(); id != "" {
		return id
	}
	return "unknown"
}

// alertID hashes the content identifying one alert row. The start time is
// part of the key so a recurring alert with a new window is a new row.
func alertID(header string, description string, affected string, startTime *time.Time) string {
	start := int64(0)
	if startTime != nil {
		start = startTime.Unix()
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%s-%d", header, description, affected, start)))
	return hex.EncodeToString(sum[:])
}
