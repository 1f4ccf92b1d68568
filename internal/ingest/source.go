package ingest

import (
	"fmt"
	"math"
	"math/rand"
)

// Sample is one raw telemetry reading as produced by the acquisition
// boundary, before standardization and time alignment.
type Sample struct {
	AgentID string
	PosX    float64
	PosY    float64
	Alt     float64
	VelX    float64
	VelY    float64
	AccX    float64
	Yaw     float64
}

// Source produces raw telemetry samples. The simulator/dataset acquisition
// layer lives behind this interface.
type Source interface {
	Next() (Sample, error)
}

// SyntheticSource generates a deterministic random-walk convoy of agents.
// No external simulator required; a fixed seed makes recordings repeatable.
type SyntheticSource struct {
	rng    *rand.Rand
	agents []syntheticAgent
	turn   int
}

type syntheticAgent struct {
	id     string
	x, y   float64
	vx, vy float64
}

// NewSyntheticSource creates a source with n agents starting in a loose
// line, all heading roughly east.
func NewSyntheticSource(n int, seed int64) *SyntheticSource {
	if n < 1 {
		n = 1
	}
	s := &SyntheticSource{rng: rand.New(rand.NewSource(seed))}
	for i := 0; i < n; i++ {
		s.agents = append(s.agents, syntheticAgent{
			id: agentName(i),
			x:  float64(i) * 3.0,
			y:  0,
			vx: 8.0,
			vy: 0,
		})
	}
	return s
}

func agentName(i int) string {
	return fmt.Sprintf("veh-%d", i+1)
}

// Next implements Source, advancing one agent per call round-robin.
func (s *SyntheticSource) Next() (Sample, error) {
	a := &s.agents[s.turn%len(s.agents)]
	s.turn++

	// Small correlated jitter keeps the convoy plausible without drifting
	// apart immediately.
	a.vx += s.rng.NormFloat64() * 0.2
	a.vy += s.rng.NormFloat64() * 0.1
	a.x += a.vx * 0.02
	a.y += a.vy * 0.02

	return Sample{
		AgentID: a.id,
		PosX:    a.x,
		PosY:    a.y,
		Alt:     0,
		VelX:    a.vx,
		VelY:    a.vy,
		AccX:    s.rng.NormFloat64() * 0.5,
		Yaw:     math.Atan2(a.vy, a.vx),
	}, nil
}
