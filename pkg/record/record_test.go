package record_test

import (
	"encoding/json"
	"testing"

	"github.com/evidentia-labs/custodian/pkg/record"
)

func sample() record.StandardRecord {
	return record.StandardRecord{
		TimestampNS:  1_000_000_000,
		AgentID:      "veh-1",
		Domain:       "sim",
		SourceFormat: "carla",
		Position:     record.Position{X: 1, Y: 2, Z: 0},
		Velocity:     record.Velocity{VX: 3, VY: 4},
		Sensor:       "fusion",
	}
}

func TestFinalize_deterministic(t *testing.T) {
	a := sample()
	b := sample()
	if err := a.Finalize(); err != nil {
		t.Fatal(err)
	}
	if err := b.Finalize(); err != nil {
		t.Fatal(err)
	}
	if a.RecordHash == "" {
		t.Fatal("Finalize left RecordHash empty")
	}
	if a.RecordHash != b.RecordHash {
		t.Errorf("equal records finalized to different hashes: %q vs %q", a.RecordHash, b.RecordHash)
	}
}

func TestFinalize_contentSensitive(t *testing.T) {
	a := sample()
	b := sample()
	b.Position.X = 999
	_ = a.Finalize()
	_ = b.Finalize()
	if a.RecordHash == b.RecordHash {
		t.Error("different records finalized to the same hash")
	}
}

func TestSpeedAndHeading(t *testing.T) {
	r := sample()
	if got := r.Speed(); got != 5 {
		t.Errorf("Speed(): got %v, want 5", got)
	}

	r.Velocity = record.Velocity{}
	if got := r.Heading(); got != 0 {
		t.Errorf("zero velocity heading: got %v, want 0", got)
	}
}

func TestDecode_missingFieldsDefaultToZero(t *testing.T) {
	var r record.StandardRecord
	if err := json.Unmarshal([]byte(`{"agent_id":"drone-7"}`), &r); err != nil {
		t.Fatal(err)
	}
	if r.AgentID != "drone-7" {
		t.Errorf("agent_id: got %q", r.AgentID)
	}
	if r.TimestampNS != 0 || r.Position.X != 0 || r.Velocity.VX != 0 {
		t.Error("absent fields must default to zero, not error")
	}
}
