// Package tracker maintains live per-agent kinematic state and detects
// platoon formation: agents within a proximity threshold whose headings
// agree within a tolerance.
package tracker

import (
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/evidentia-labs/custodian/pkg/record"
)

// Role classifies an agent's position within a detected group. Roles are
// recomputed fresh on every update, never a one-way transition.
type Role string

const (
	RoleIndependent Role = "independent"
	RoleLeader      Role = "leader"
	RoleFollower    Role = "follower"
)

// EventPlatoonDetected is the type of the grouping event emitted by Update.
const EventPlatoonDetected = "platoon_detected"

// Event is a live grouping event. Participants are sorted and de-duplicated
// and always include the updating agent.
type Event struct {
	Type         string   `json:"type"`
	Participants []string `json:"participants"`
	TimestampNS  int64    `json:"timestamp_ns"`
}

// AgentState is the tracked kinematic state for one agent. Created lazily on
// first update, mutated in place on every later update, never evicted for
// the tracker's lifetime: a tracker is expected to live for one recording
// session.
type AgentState struct {
	AgentID string
	Role    Role
	X, Y    float64
	Heading float64 // radians; 0 when velocity is exactly (0,0)
	Speed   float64 // last known planar speed, tracked for leader election
}

// Tracker is the multi-agent manager. All methods are safe for concurrent
// use; Update holds the tracker lock for its whole read-then-write pass so
// proximity is never evaluated against a partially updated neighbor.
type Tracker struct {
	mu            sync.Mutex
	proxThreshold float64
	headingTol    float64
	logger        *zap.Logger
	agents        map[string]*AgentState
}

// New creates a Tracker. proxThreshold is in meters, headingTol in radians.
func New(proxThreshold, headingTol float64, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		proxThreshold: proxThreshold,
		headingTol:    headingTol,
		logger:        logger,
		agents:        make(map[string]*AgentState),
	}
}

// angularDelta returns the wrap-aware absolute difference between two
// angles, always in [0, π]. A plain |a-b| is spuriously large near the ±π
// boundary and would miss platoons during heading reversals.
func angularDelta(a, b float64) float64 {
	d := math.Abs(a - b)
	d = math.Mod(d, 2*math.Pi)
	if d > math.Pi {
		d = 2*math.Pi - d
	}
	return d
}

// Update folds one standardized record into the tracker and re-evaluates
// proximity and heading alignment against every other tracked agent. It
// returns a platoon_detected event when at least one close agent exists,
// and an empty slice otherwise.
func (t *Tracker) Update(rec record.StandardRecord) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.agents[rec.AgentID]
	if !ok {
		s = &AgentState{AgentID: rec.AgentID, Role: RoleIndependent}
		t.agents[rec.AgentID] = s
	}
	s.X, s.Y = rec.Position.X, rec.Position.Y
	s.Heading = rec.Heading()
	s.Speed = rec.Speed()

	var near []string
	for id, other := range t.agents {
		if id == rec.AgentID {
			continue
		}
		if math.Hypot(s.X-other.X, s.Y-other.Y) <= t.proxThreshold &&
			angularDelta(s.Heading, other.Heading) <= t.headingTol {
			near = append(near, id)
		}
	}

	if len(near) == 0 {
		s.Role = RoleIndependent
		return nil
	}

	// Within each pair the faster agent leads. Ties go to the updating
	// agent, which is deterministic for any feed order.
	for _, id := range near {
		other := t.agents[id]
		if s.Speed >= other.Speed {
			s.Role = RoleLeader
			other.Role = RoleFollower
		} else {
			s.Role = RoleFollower
			other.Role = RoleLeader
		}
	}

	participants := append(near, rec.AgentID)
	sort.Strings(participants)
	participants = dedup(participants)

	t.logger.Debug("platoon detected",
		zap.Strings("participants", participants),
		zap.Int64("timestamp_ns", rec.TimestampNS),
	)

	return []Event{{
		Type:         EventPlatoonDetected,
		Participants: participants,
		TimestampNS:  rec.TimestampNS,
	}}
}

// State returns a snapshot of one agent's tracked state.
func (t *Tracker) State(agentID string) (AgentState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.agents[agentID]
	if !ok {
		return AgentState{}, false
	}
	return *s, true
}

// Agents returns the number of distinct agents ever seen.
func (t *Tracker) Agents() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.agents)
}

func dedup(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
