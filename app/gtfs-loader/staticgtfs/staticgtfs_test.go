package staticgtfs

import (
	"io"
	logger "log"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matryer/is"
)

// Feeds commonly carry a UTF-8 BOM before the header row; parsing must see
// through it.
func Test_parseStops_stripsBOM(t *testing.T) {
	is := is.New(t)

	csv := "\uFEFFstop_id,stop_name,stop_lat,stop_lon,location_type,parent_station\n" +
		"S100,Central Station,59.3300,18.0590,0,ST1\n" +
		"ST1,Central,59.3301,18.0591,1,\n"

	stops, err := parseStops(strings.NewReader(csv))
	is.NoErr(err)
	is.Equal(len(stops), 2)
	is.Equal(stops[0].StopID, "S100")
	is.Equal(stops[0].Latitude, 59.33)
	is.Equal(stops[0].ParentStation, "ST1")
	is.Equal(stops[1].LocationType, 1)
}

func Test_parseStopTimes(t *testing.T) {
	is := is.New(t)

	csv := "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
		"T1,08:00:00,08:00:30,S100,1\n" +
		"T1,25:35:00,25:36:00,S101,2\n"

	stopTimes, err := parseStopTimes(strings.NewReader(csv))
	is.NoErr(err)
	is.Equal(len(stopTimes), 2)
	is.Equal(stopTimes[0].TripID, "T1")
	is.Equal(stopTimes[0].StopSequence, 1)
	// times past midnight stay in GTFS notation
	is.Equal(stopTimes[1].DepartureTime, "25:36:00")
}

func Test_parseCalendarDates(t *testing.T) {
	is := is.New(t)

	csv := "service_id,date,exception_type\n" +
		"WKD,20260825,2\n"

	dates, err := parseCalendarDates(strings.NewReader(csv))
	is.NoErr(err)
	is.Equal(len(dates), 1)
	is.Equal(dates[0].ServiceID, "WKD")
	is.Equal(dates[0].Date, "20260825")
	is.Equal(dates[0].ExceptionType, 2)
}

// A malformed numeric column fails the whole file so the table keeps its
// previous contents.
func Test_parseStops_malformedRowFailsFile(t *testing.T) {
	csv := "stop_id,stop_name,stop_lat,stop_lon,location_type,parent_station\n" +
		"S100,Central Station,not-a-number,18.0590,0,\n"

	if _, err := parseStops(strings.NewReader(csv)); err == nil {
		t.Error("parseStops() accepted a malformed latitude, want error")
	}
}

func Test_lastModifiedState(t *testing.T) {
	is := is.New(t)
	statePath := filepath.Join(t.TempDir(), "last_modified.txt")
	log := logger.New(io.Discard, "", 0)

	// no state yet means an unconditional fetch
	is.Equal(readLastModified(statePath), "")

	writeLastModified(log, statePath, "Tue, 25 Aug 2026 06:00:00 GMT")
	is.Equal(readLastModified(statePath), "Tue, 25 Aug 2026 06:00:00 GMT")

	// an empty header must not clobber the remembered state
	writeLastModified(log, statePath, "")
	is.Equal(readLastModified(statePath), "Tue, 25 Aug 2026 06:00:00 GMT")
}
