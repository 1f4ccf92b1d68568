// Package record defines the standardized telemetry record exchanged at the
// boundary between producers (simulators, device standardizers) and the
// custody core. The core treats RecordHash as an externally supplied
// fingerprint and never recomputes it after Finalize.
package record

import (
	"math"

	"github.com/evidentia-labs/custodian/internal/canon"
)

// Anomaly flag values, stored verbatim from the external classifier.
const (
	AnomalyFlagAnomalous = -1
	AnomalyFlagNormal    = 1
)

// Position is a cartesian position in meters.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Velocity is a cartesian velocity in meters per second.
type Velocity struct {
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
	VZ float64 `json:"vz"`
}

// Acceleration is a cartesian acceleration in meters per second squared.
type Acceleration struct {
	AX float64 `json:"ax"`
	AY float64 `json:"ay"`
	AZ float64 `json:"az"`
}

// Orientation holds attitude angles in radians.
type Orientation struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// StandardRecord is the unified telemetry schema. Absent JSON fields decode
// to their zero values, which is the documented defaulting behavior for
// heterogeneous producers rather than an error.
type StandardRecord struct {
	TimestampNS  int64          `json:"timestamp_ns"`
	AgentID      string         `json:"agent_id"`
	Domain       string         `json:"domain"`        // "drone" | "vehicle" | "sim"
	SourceFormat string         `json:"source_format"` // e.g. "json", "autosar", "carla"
	Position     Position       `json:"position"`
	Velocity     Velocity       `json:"velocity"`
	Acceleration Acceleration   `json:"acceleration"`
	Orientation  Orientation    `json:"orientation"`
	Sensor       string         `json:"sensor"`
	Extras       map[string]any `json:"extras,omitempty"`
	Anomaly      int            `json:"anomaly,omitempty"` // -1 anomalous, 1 normal, 0 unclassified
	RecordHash   string         `json:"record_hash,omitempty"`
}

// Speed returns the magnitude of the planar velocity.
func (r *StandardRecord) Speed() float64 {
	return math.Hypot(r.Velocity.VX, r.Velocity.VY)
}

// Heading returns the planar heading angle in radians. A zero velocity
// vector yields heading 0; that is a defined convention, not an error.
func (r *StandardRecord) Heading() float64 {
	return math.Atan2(r.Velocity.VY, r.Velocity.VX)
}

// Finalize computes and stores the record fingerprint: the SHA3-256 of the
// canonical record with RecordHash cleared. Call it exactly once, after all
// other fields (including live tracker events in Extras) are in place.
func (r *StandardRecord) Finalize() error {
	shadow := *r
	shadow.RecordHash = ""
	raw, err := canon.Marshal(shadow)
	if err != nil {
		return err
	}
	r.RecordHash = canon.SHA3256Hex(raw)
	return nil
}

// Canonical returns the deterministic serialized form of the record,
// suitable for ledger payloads and tamper-log entries.
func (r *StandardRecord) Canonical() ([]byte, error) {
	return canon.Marshal(r)
}
