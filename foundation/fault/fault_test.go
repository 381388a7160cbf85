package fault

import (
	"errors"
	"fmt"
	"testing"
)

func Test_KindOf(t *testing.T) {
	wrapped := Wrap(DataMissing, errors.New("no rows"), "loading pois")
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			name: "classified error reports its kind",
			err:  New(Malformed, "bad linestring %q", "LINESTRING()"),
			want: Malformed,
		},
		{
			name: "wrapped error keeps its kind",
			err:  wrapped,
			want: DataMissing,
		},
		{
			name: "kind survives another fmt.Errorf layer",
			err:  fmt.Errorf("planner tick: %w", wrapped),
			want: DataMissing,
		},
		{
			name: "unclassified errors default to transient",
			err:  errors.New("connection reset"),
			want: Transient,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_Wrap(t *testing.T) {
	if Wrap(Transient, nil, "nothing") != nil {
		t.Errorf("Wrap() of nil error should be nil")
	}
	base := errors.New("dial tcp: refused")
	err := Wrap(Transient, base, "connecting to broker")
	if !errors.Is(err, base) {
		t.Errorf("Wrap() should preserve the underlying error for errors.Is")
	}
	want := "connecting to broker: dial tcp: refused"
	if err.Error() != want {
		t.Errorf("Wrap() message = %q, want %q", err.Error(), want)
	}
}

func Test_IsMissing(t *testing.T) {
	if IsMissing(nil) {
		t.Errorf("IsMissing(nil) should be false")
	}
	if !IsMissing(New(DataMissing, "no active clients")) {
		t.Errorf("IsMissing() should report DataMissing errors")
	}
	if IsMissing(New(Fatal, "bad config")) {
		t.Errorf("IsMissing() should reject other kinds")
	}
}
