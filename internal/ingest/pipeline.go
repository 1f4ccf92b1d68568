// Package ingest wires one recording session together: raw telemetry is
// time-aligned, standardized, classified, folded into the agent tracker,
// and finally committed to both the custody chain and the tamper log.
//
// Per record the call order is fixed: tracker update, then ledger append,
// then tamper-log append. The component locks serialize concurrent
// producers; interleaving those calls for the same record would break the
// linkage invariants.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evidentia-labs/custodian/internal/custody"
	"github.com/evidentia-labs/custodian/internal/tamperlog"
	"github.com/evidentia-labs/custodian/internal/timesync"
	"github.com/evidentia-labs/custodian/internal/tracker"
	"github.com/evidentia-labs/custodian/pkg/record"
)

// Pipeline is the per-session ingestion engine.
type Pipeline struct {
	SessionID string

	aligner    *timesync.Aligner
	tracker    *tracker.Tracker
	ledger     custody.Ledger
	log        *tamperlog.Log
	classifier Classifier
	logger     *zap.Logger

	mu       sync.Mutex
	streams  map[string][]record.StandardRecord
	platoons int
	anomal   int
}

// Summary describes a finished (or in-progress) session.
type Summary struct {
	SessionID     string `json:"session_id"`
	Records       int    `json:"records"`
	ChainLength   int    `json:"chain_length"`
	ChainValid    bool   `json:"chain_valid"`
	LogEntries    int    `json:"log_entries"`
	LogFailures   []int  `json:"log_failures,omitempty"`
	PlatoonEvents int    `json:"platoon_events"`
	Anomalies     int    `json:"anomalies"`
	Agents        int    `json:"agents"`
}

// NewPipeline assembles a session. A nil classifier defaults to
// NoopClassifier; a nil logger to a no-op logger.
func NewPipeline(aligner *timesync.Aligner, trk *tracker.Tracker, ledger custody.Ledger, log *tamperlog.Log, classifier Classifier, logger *zap.Logger) *Pipeline {
	if classifier == nil {
		classifier = NoopClassifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		SessionID:  uuid.NewString(),
		aligner:    aligner,
		tracker:    trk,
		ledger:     ledger,
		log:        log,
		classifier: classifier,
		logger:     logger,
		streams:    make(map[string][]record.StandardRecord),
	}
}

// IngestSample standardizes a raw sample, stamps it with unaligned capture
// time, and runs it through IngestRecord. The stamp stays raw here because
// IngestRecord aligns every record exactly once; aligning twice would apply
// the configured NTP offset twice.
func (p *Pipeline) IngestSample(ctx context.Context, raw Sample) (record.StandardRecord, []tracker.Event, error) {
	rec := record.StandardRecord{
		TimestampNS:  time.Now().UnixNano(),
		AgentID:      raw.AgentID,
		Domain:       "sim",
		SourceFormat: "carla",
		Position:     record.Position{X: raw.PosX, Y: raw.PosY, Z: raw.Alt},
		Velocity:     record.Velocity{VX: raw.VelX, VY: raw.VelY},
		Acceleration: record.Acceleration{AX: raw.AccX},
		Orientation:  record.Orientation{Yaw: raw.Yaw},
		Sensor:       "fusion",
	}
	return p.IngestRecord(ctx, rec)
}

// IngestRecord runs one standardized record through classification, the
// tracker, and both custody stores. The record's timestamp is re-aligned
// under the configured discipline before anything hashes it. Any failure
// aborts this record only; previously committed blocks and entries stay
// intact.
func (p *Pipeline) IngestRecord(ctx context.Context, rec record.StandardRecord) (record.StandardRecord, []tracker.Event, error) {
	// Integer nanoseconds end to end: epoch values are above 2^53 ns, so a
	// float64-seconds round trip would move them off by hundreds of ns.
	rec.TimestampNS = p.aligner.AlignNS(rec.TimestampNS)
	rec.Anomaly = p.classifier.Classify(&rec)

	events := p.tracker.Update(rec)
	if len(events) > 0 {
		if rec.Extras == nil {
			rec.Extras = make(map[string]any)
		}
		rec.Extras["events"] = events
		platoonEventsTotal.Add(float64(len(events)))
	}

	if err := rec.Finalize(); err != nil {
		ingestFailuresTotal.WithLabelValues("finalize").Inc()
		return record.StandardRecord{}, nil, fmt.Errorf("finalize record: %w", err)
	}

	payload, err := rec.Canonical()
	if err != nil {
		ingestFailuresTotal.WithLabelValues("serialize").Inc()
		return record.StandardRecord{}, nil, fmt.Errorf("serialize record: %w", err)
	}

	if _, err := p.ledger.Append(ctx, string(payload)); err != nil {
		ingestFailuresTotal.WithLabelValues("ledger").Inc()
		return record.StandardRecord{}, nil, fmt.Errorf("custody append: %w", err)
	}
	blocksAppendedTotal.Inc()

	if p.log != nil {
		if _, err := p.log.Append(rec); err != nil {
			ingestFailuresTotal.WithLabelValues("tamperlog").Inc()
			return record.StandardRecord{}, nil, fmt.Errorf("tamper log append: %w", err)
		}
	}

	p.mu.Lock()
	p.streams[rec.AgentID] = append(p.streams[rec.AgentID], rec)
	p.platoons += len(events)
	if rec.Anomaly == record.AnomalyFlagAnomalous {
		p.anomal++
	}
	p.mu.Unlock()

	recordsIngestedTotal.WithLabelValues(rec.AgentID).Inc()
	if rec.Anomaly == record.AnomalyFlagAnomalous {
		anomaliesTotal.Inc()
	}

	p.logger.Debug("record committed",
		zap.String("agent_id", rec.AgentID),
		zap.Int64("timestamp_ns", rec.TimestampNS),
		zap.Int("anomaly", rec.Anomaly),
		zap.Int("events", len(events)),
	)
	return rec, events, nil
}

// Run pulls n samples from src through the pipeline and returns the session
// summary.
func (p *Pipeline) Run(ctx context.Context, src Source, n int) (*Summary, error) {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := src.Next()
		if err != nil {
			return nil, fmt.Errorf("acquire sample %d: %w", i, err)
		}
		if _, _, err := p.IngestSample(ctx, raw); err != nil {
			return nil, err
		}
	}
	return p.Summary(ctx)
}

// Streams returns a snapshot of the per-agent finalized record sequences,
// the input shape the correlation engine expects.
func (p *Pipeline) Streams() map[string][]record.StandardRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string][]record.StandardRecord, len(p.streams))
	for id, recs := range p.streams {
		cp := make([]record.StandardRecord, len(recs))
		copy(cp, recs)
		out[id] = cp
	}
	return out
}

// Summary re-validates both stores and reports session counters.
func (p *Pipeline) Summary(ctx context.Context) (*Summary, error) {
	valid, err := p.ledger.Verify(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify chain: %w", err)
	}
	length, err := p.ledger.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain length: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, recs := range p.streams {
		total += len(recs)
	}
	s := &Summary{
		SessionID:     p.SessionID,
		Records:       total,
		ChainLength:   length,
		ChainValid:    valid,
		PlatoonEvents: p.platoons,
		Anomalies:     p.anomal,
		Agents:        p.tracker.Agents(),
	}
	if p.log != nil {
		s.LogEntries = p.log.Len()
		s.LogFailures = p.log.Verify()
	}
	return s, nil
}
