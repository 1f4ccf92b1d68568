// Package timesync normalizes raw capture timestamps before they enter
// custody. It simulates two disciplines: NTP-style offset correction and
// TSN-style quantization to a microsecond grid. It is a simulation layer;
// true PTP/TSN belongs to system and hardware stacks.
package timesync

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Mode selects the alignment discipline.
type Mode string

const (
	ModeNTP Mode = "NTP"
	ModeTSN Mode = "TSN"
)

// ErrInvalidMode is returned by New when the configured mode is neither
// NTP nor TSN. An invalid mode is a fatal configuration error and is never
// silently defaulted.
var ErrInvalidMode = errors.New("timesync: mode must be NTP or TSN")

// Config holds the alignment parameters. Immutable after construction.
type Config struct {
	Mode           Mode
	NTPOffsetMS    float64 // simulated offset, may be negative
	TSNPrecisionUS int     // microsecond grid size, clamped to >= 1
}

// Aligner applies the configured discipline to raw epoch timestamps.
// It holds no mutable state; a single instance is safe to share.
type Aligner struct {
	cfg Config
}

// New validates cfg and returns an Aligner. The mode is case-insensitive
// and defaults to NTP when empty, matching producer conventions.
func New(cfg Config) (*Aligner, error) {
	mode := Mode(strings.ToUpper(string(cfg.Mode)))
	if mode == "" {
		mode = ModeNTP
	}
	if mode != ModeNTP && mode != ModeTSN {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidMode, cfg.Mode)
	}
	if cfg.TSNPrecisionUS < 1 {
		cfg.TSNPrecisionUS = 1
	}
	cfg.Mode = mode
	return &Aligner{cfg: cfg}, nil
}

// Align transforms a raw epoch time in seconds into its aligned value.
//
// NTP mode applies the configured offset. The offset is unbounded: a
// pathological value moves the aligned time into the past or future without
// error, which is how uncorrected clock skew scenarios are simulated.
//
// TSN mode rounds to whole microseconds, then floors to the nearest lower
// multiple of the grid size.
func (a *Aligner) Align(rawSeconds float64) float64 {
	if a.cfg.Mode == ModeNTP {
		return rawSeconds + a.cfg.NTPOffsetMS/1000.0
	}
	us := int64(math.Round(rawSeconds * 1e6))
	grid := int64(a.cfg.TSNPrecisionUS)
	q := us / grid
	if us%grid != 0 && us < 0 {
		q-- // integer division truncates toward zero; flooring needs the lower multiple
	}
	return float64(q*grid) / 1e6
}

// AlignNS applies the configured discipline to a raw epoch time in integer
// nanoseconds, with the same semantics as Align. Nanosecond-typed timestamps
// must take this path: epoch values exceed 2^53 ns, so a round trip through
// float64 seconds would perturb them by a few hundred nanoseconds.
func (a *Aligner) AlignNS(ns int64) int64 {
	if a.cfg.Mode == ModeNTP {
		return ns + int64(math.Round(a.cfg.NTPOffsetMS*1e6))
	}
	us := ns / 1_000
	switch rem := ns % 1_000; {
	case rem >= 500:
		us++
	case rem <= -500:
		us--
	}
	grid := int64(a.cfg.TSNPrecisionUS)
	q := us / grid
	if us%grid != 0 && us < 0 {
		q--
	}
	return q * grid * 1_000
}

// Config returns a copy of the aligner's configuration.
func (a *Aligner) Config() Config {
	return a.cfg
}
