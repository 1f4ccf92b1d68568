package correlate_test

import (
	"testing"

	"github.com/evidentia-labs/custodian/internal/correlate"
	"github.com/evidentia-labs/custodian/pkg/record"
)

func rec(id string, tsNS int64, x, y float64) record.StandardRecord {
	r := record.StandardRecord{
		TimestampNS: tsNS,
		AgentID:     id,
		Position:    record.Position{X: x, Y: y},
	}
	if err := r.Finalize(); err != nil {
		panic(err)
	}
	return r
}

func TestCorrelate_spatialGating(t *testing.T) {
	streams := map[string][]record.StandardRecord{
		"veh-1":   {rec("veh-1", 0, 0, 0)},
		"veh-2":   {rec("veh-2", 0, 0, 0)},
		"drone-1": {rec("drone-1", 0, 1000, 1000)},
	}

	events, err := correlate.Correlate(streams, 50, 2.0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	ev := events[0]
	if len(ev.Participants) != 2 || ev.Participants[0] != "veh-1" || ev.Participants[1] != "veh-2" {
		t.Errorf("participants: got %v, want [veh-1 veh-2]", ev.Participants)
	}
	for _, p := range ev.Participants {
		if p == "drone-1" {
			t.Error("distant agent must be excluded from every event")
		}
	}
	if ev.TStartNS != 0 || ev.TEndNS != 0 {
		t.Errorf("window bounds: got [%d, %d], want [0, 0]", ev.TStartNS, ev.TEndNS)
	}
	if ev.Hash == "" {
		t.Error("correlation hash not computed")
	}
}

func TestCorrelate_emptyStreams(t *testing.T) {
	events, err := correlate.Correlate(map[string][]record.StandardRecord{}, 50, 2.0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("empty streams must yield an empty result, got %d events", len(events))
	}
}

func TestCorrelate_windowBound(t *testing.T) {
	streams := map[string][]record.StandardRecord{
		"veh-1": {rec("veh-1", 0, 0, 0)},
		"veh-2": {rec("veh-2", 51_000_000, 0, 0)}, // 51ms later, outside 50ms window
	}

	events, err := correlate.Correlate(streams, 50, 2.0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("records outside the window must not correlate, got %d events", len(events))
	}
}

func TestCorrelate_slidingAnchorReusesRecords(t *testing.T) {
	// Three co-located records 10ms apart: anchors at index 0 and 1 both
	// produce events, so middle/last records appear in more than one event.
	streams := map[string][]record.StandardRecord{
		"veh-1": {rec("veh-1", 0, 0, 0), rec("veh-1", 20_000_000, 0, 0)},
		"veh-2": {rec("veh-2", 10_000_000, 0, 0)},
	}

	events, err := correlate.Correlate(streams, 50, 2.0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("anchor advances by one record: expected 2 events, got %d", len(events))
	}
	if len(events[0].Records) != 3 {
		t.Errorf("first bucket: got %d records, want 3", len(events[0].Records))
	}
	if len(events[1].Records) != 2 {
		t.Errorf("second bucket: got %d records, want 2", len(events[1].Records))
	}
}

func TestCorrelate_hashDeterministic(t *testing.T) {
	build := func() map[string][]record.StandardRecord {
		return map[string][]record.StandardRecord{
			"veh-2": {rec("veh-2", 5, 0, 0)},
			"veh-1": {rec("veh-1", 0, 0, 0)},
		}
	}

	a, err := correlate.Correlate(build(), 50, 2.0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := correlate.Correlate(build(), 50, 2.0)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) || len(a) == 0 {
		t.Fatalf("runs disagree on event count: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Hash != b[i].Hash {
			t.Errorf("event %d hash differs across identical runs", i)
		}
	}
}

func TestCorrelate_missingFieldsDefaultToZero(t *testing.T) {
	// A record with no timestamp or position correlates at t=0, (0,0).
	blank := record.StandardRecord{AgentID: "veh-2"}
	if err := blank.Finalize(); err != nil {
		t.Fatal(err)
	}
	streams := map[string][]record.StandardRecord{
		"veh-1": {rec("veh-1", 0, 0, 0)},
		"veh-2": {blank},
	}

	events, err := correlate.Correlate(streams, 50, 2.0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("zero-defaulted record must correlate, got %d events", len(events))
	}
}
