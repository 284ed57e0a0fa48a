package eventbus_test

import (
	"testing"

	"github.com/e7canasta/sensorpod/modules/eventbus"
)

func TestPublicAPI_New(t *testing.T) {
	bus := eventbus.New()
	if bus == nil {
		t.Fatal("New() should return non-nil Bus")
	}
	var _ eventbus.Publisher = bus
}

func TestDropRate(t *testing.T) {
	if rate := eventbus.DropRate(eventbus.BusStats{}); rate != 0 {
		t.Errorf("Empty stats should have 0 drop rate, got %f", rate)
	}

	rate := eventbus.DropRate(eventbus.BusStats{TotalSent: 3, TotalDropped: 1})
	if rate != 0.25 {
		t.Errorf("Expected 0.25, got %f", rate)
	}
}

func TestKindString(t *testing.T) {
	cases := map[eventbus.Kind]string{
		eventbus.KindLaunched:   "launched",
		eventbus.KindPlaying:    "playing",
		eventbus.KindLooped:     "looped",
		eventbus.KindError:      "error",
		eventbus.KindTerminated: "terminated",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(kind), got, want)
		}
	}
}
