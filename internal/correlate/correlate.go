// Package correlate performs the offline windowed join across finalized
// per-agent record streams. It is a pure batch function over immutable
// snapshots: it may run concurrently with live ingestion as long as the
// caller hands it streams cut at a known point.
package correlate

import (
	"fmt"
	"math"
	"sort"

	"github.com/evidentia-labs/custodian/internal/canon"
	"github.com/evidentia-labs/custodian/pkg/record"
)

// Event is a group of records from possibly-different agents falling within
// a shared time window and spatial radius. Immutable once emitted.
type Event struct {
	TStartNS     int64                   `json:"t_start_ns"`
	TEndNS       int64                   `json:"t_end_ns"`
	Participants []string                `json:"participants"` // sorted, de-duplicated
	Records      []record.StandardRecord `json:"records"`      // encounter order
	Hash         string                  `json:"correlation_hash"`
}

type tagged struct {
	agentID string
	rec     record.StandardRecord
}

// Correlate joins records across agents: records within windowMS of an
// anchor record and within maxXYDist of its position form a bucket, and
// every bucket with more than one member becomes an Event.
//
// The window anchor always advances by one record, so a record can
// contribute to several events. That favors recall over exclusivity and is
// deliberate; no downstream deduplication exists.
//
// Records missing timestamp or position fields carry zero values from
// decoding and are correlated as such rather than rejected. Empty streams
// yield an empty result.
func Correlate(streams map[string][]record.StandardRecord, windowMS int64, maxXYDist float64) ([]Event, error) {
	// Flatten in sorted agent order, then stable-sort by time: equal
	// timestamps keep a reproducible relative order independent of map
	// iteration.
	agentIDs := make([]string, 0, len(streams))
	for id := range streams {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)

	var all []tagged
	for _, id := range agentIDs {
		for _, r := range streams[id] {
			all = append(all, tagged{agentID: id, rec: r})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].rec.TimestampNS < all[j].rec.TimestampNS
	})

	windowNS := windowMS * 1_000_000
	var events []Event
	for i := range all {
		anchor := all[i]
		bucket := []tagged{anchor}
		for j := i + 1; j < len(all); j++ {
			if all[j].rec.TimestampNS-anchor.rec.TimestampNS > windowNS {
				break
			}
			if distanceXY(&anchor.rec, &all[j].rec) <= maxXYDist {
				bucket = append(bucket, all[j])
			}
		}
		if len(bucket) < 2 {
			continue
		}
		ev, err := newEvent(bucket)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func newEvent(bucket []tagged) (Event, error) {
	tStart := bucket[0].rec.TimestampNS
	tEnd := tStart
	seen := make(map[string]bool)
	var participants []string
	records := make([]record.StandardRecord, 0, len(bucket))
	hashes := make([]string, 0, len(bucket))

	for _, tg := range bucket {
		ts := tg.rec.TimestampNS
		if ts < tStart {
			tStart = ts
		}
		if ts > tEnd {
			tEnd = ts
		}
		if !seen[tg.agentID] {
			seen[tg.agentID] = true
			participants = append(participants, tg.agentID)
		}
		records = append(records, tg.rec)
		hashes = append(hashes, tg.rec.RecordHash)
	}
	sort.Strings(participants)

	// The aggregate hash covers each record's own fingerprint, not its full
	// content; the producer's record_hash is reused as-is.
	raw, err := canon.Marshal(map[string]any{
		"t_start_ns":     tStart,
		"t_end_ns":       tEnd,
		"participants":   participants,
		"records_hashes": hashes,
	})
	if err != nil {
		return Event{}, fmt.Errorf("correlation hash: %w", err)
	}

	return Event{
		TStartNS:     tStart,
		TEndNS:       tEnd,
		Participants: participants,
		Records:      records,
		Hash:         canon.SHA3256Hex(raw),
	}, nil
}

func distanceXY(a, b *record.StandardRecord) float64 {
	return math.Hypot(a.Position.X-b.Position.X, a.Position.Y-b.Position.Y)
}
