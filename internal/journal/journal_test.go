package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/e7canasta/sensorpod/modules/eventbus"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func lifecycle(id string, base time.Time, kinds ...eventbus.Kind) []eventbus.Event {
	evs := make([]eventbus.Event, 0, len(kinds))
	for i, k := range kinds {
		ev := eventbus.Event{Kind: k, RuntimeID: id, Pipeline: "sensorpod", At: base.Add(time.Duration(i) * time.Second)}
		if k == eventbus.KindLaunched {
			ev.Meta = map[string]string{"description": "videotestsrc ! fakesink", "loop": "true"}
		}
		evs = append(evs, ev)
	}
	return evs
}

func TestOpenMemory(t *testing.T) {
	j, err := Open(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer j.Close()

	var name string
	err = j.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='runs'").Scan(&name)
	if err != nil {
		t.Fatalf("runs table not created: %v", err)
	}
}

func TestRecordLifecycle(t *testing.T) {
	j := openTemp(t)
	base := time.Unix(1_700_000_000, 0)

	for _, ev := range lifecycle("run-1", base,
		eventbus.KindLaunched, eventbus.KindPlaying, eventbus.KindLooped, eventbus.KindLooped, eventbus.KindTerminated) {
		if err := j.Record(ev); err != nil {
			t.Fatalf("Record(%s) failed: %v", ev.Kind, err)
		}
	}

	runs, err := j.Runs(10)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	r := runs[0]
	if r.Name != "sensorpod" || r.Description != "videotestsrc ! fakesink" || !r.Loop {
		t.Errorf("unexpected run header: %+v", r)
	}
	if r.Loops != 2 {
		t.Errorf("expected 2 loops, got %d", r.Loops)
	}
	if r.FinalState != "terminated" {
		t.Errorf("expected final state terminated, got %q", r.FinalState)
	}
	if r.StartedAt == nil || !r.StartedAt.Equal(base.Add(time.Second)) {
		t.Errorf("unexpected started_at %v", r.StartedAt)
	}
	if r.EndedAt == nil || !r.EndedAt.Equal(base.Add(4*time.Second)) {
		t.Errorf("unexpected ended_at %v", r.EndedAt)
	}
	if r.Error != "" {
		t.Errorf("expected no error, got %q", r.Error)
	}

	entries, err := j.Events("run-1")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	want := []string{"launched", "playing", "looped", "looped", "terminated"}
	if len(entries) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(entries))
	}
	for i, e := range entries {
		if e.Kind != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], e.Kind)
		}
	}
}

func TestRecordErrorKeepsFirstCause(t *testing.T) {
	j := openTemp(t)
	base := time.Now()

	evs := lifecycle("run-err", base, eventbus.KindLaunched, eventbus.KindPlaying)
	evs = append(evs,
		eventbus.Event{Kind: eventbus.KindError, RuntimeID: "run-err", Source: "model_hailonet",
			Message: "Failed to open HEF file", Category: "accelerator", At: base.Add(3 * time.Second)},
		eventbus.Event{Kind: eventbus.KindTerminated, RuntimeID: "run-err", Source: "model_hailonet",
			Message: "later message", Category: "unknown", At: base.Add(4 * time.Second)},
	)
	for _, ev := range evs {
		if err := j.Record(ev); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	runs, err := j.Runs(1)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if runs[0].Error != "Failed to open HEF file" || runs[0].Category != "accelerator" {
		t.Errorf("expected first error to stick, got %q (%s)", runs[0].Error, runs[0].Category)
	}
}

func TestRecordUnknownRunAndMissingID(t *testing.T) {
	j := openTemp(t)

	if err := j.Record(eventbus.Event{Kind: eventbus.KindPlaying}); err == nil {
		t.Error("expected error for event without runtime id")
	}

	// first seen mid-life
	if err := j.Record(eventbus.Event{Kind: eventbus.KindTerminated, RuntimeID: "late", Pipeline: "pod"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	runs, err := j.Runs(5)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "late" || runs[0].FinalState != "terminated" {
		t.Errorf("unexpected runs %+v", runs)
	}
}

func TestRunsNewestFirstWithLimit(t *testing.T) {
	j := openTemp(t)
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		ev := lifecycle(id, base.Add(time.Duration(i)*time.Minute), eventbus.KindLaunched)[0]
		if err := j.Record(ev); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	runs, err := j.Runs(2)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("expected [c b], got %+v", runs)
	}
}

func TestFollow(t *testing.T) {
	j := openTemp(t)
	bus := eventbus.New()
	defer bus.Close()

	ch := make(chan eventbus.Event, 8)
	if err := bus.Subscribe("journal", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Follow(ctx, ch)
		close(done)
	}()

	for _, ev := range lifecycle("run-f", time.Now(), eventbus.KindLaunched, eventbus.KindPlaying) {
		bus.Publish(ev)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		entries, err := j.Events("run-f")
		if err != nil {
			t.Fatalf("Events failed: %v", err)
		}
		if len(entries) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 events, got %d", len(entries))
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Follow did not return after cancel")
	}
}
