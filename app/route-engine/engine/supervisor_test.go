package engine

import (
	"bytes"
	"errors"
	logger "log"
	"strings"
	"testing"

	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
)

// A worker must contain panics and errors; neither may escape to the cycle.
func Test_planOneClient_isolatesFailures(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf, "", 0)

	planOneClient(log, "c1", func(string) error {
		panic("boom")
	})
	if !strings.Contains(buf.String(), "panicked") {
		t.Errorf("panic was not reported: %q", buf.String())
	}

	buf.Reset()
	planOneClient(log, "c2", func(string) error {
		return errors.New("db down")
	})
	if !strings.Contains(buf.String(), "routing failed") {
		t.Errorf("error was not reported: %q", buf.String())
	}

	// data absence is a skip, not a failure
	buf.Reset()
	planOneClient(log, "c3", func(string) error {
		return fault.New(fault.DataMissing, "no combined poi")
	})
	if !strings.Contains(buf.String(), "skipping client c3") {
		t.Errorf("missing data was not logged as a skip: %q", buf.String())
	}
	if strings.Contains(buf.String(), "routing failed") {
		t.Errorf("missing data was logged as a failure: %q", buf.String())
	}
}
