// Package tamperlog implements the independent append-only tamper-evident
// log. Each entry carries its own SHA3-512 digest and references no other
// entry, so a single-entry edit is detectable without any chain context.
//
// The flip side of entry independence is an explicit limitation: deletion or
// reordering of entries is NOT detectable by this log alone. The custody
// chain covers those cases through previous_hash linkage.
package tamperlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/evidentia-labs/custodian/internal/canon"
)

// Entry is one logged event: its canonical serialization and the SHA3-512
// digest over those exact bytes. Entries are never rewritten.
type Entry struct {
	Data string `json:"data"`
	SHA3 string `json:"sha3"`
}

// Log is a file-backed append-only log, one JSON entry per line. Opening an
// existing file replays all entries so Verify can run after restart with no
// other input.
type Log struct {
	mu      sync.Mutex
	path    string
	logger  *zap.Logger
	entries []Entry
}

// Open opens or creates a tamper log at path and replays existing entries.
func Open(path string, logger *zap.Logger) (*Log, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Log{path: path, logger: logger}

	file, err := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 5*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("decode log entry: %w", err)
		}
		l.entries = append(l.entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	l.logger.Debug("tamper log opened",
		zap.String("path", path),
		zap.Int("entries", len(l.entries)),
	)
	return l, nil
}

// Append serializes event canonically, digests it, and persists the entry.
// A serialization or write failure aborts this append only; entries already
// persisted are unaffected.
func (l *Log) Append(event any) (Entry, error) {
	raw, err := canon.Marshal(event)
	if err != nil {
		return Entry{}, fmt.Errorf("serialize event: %w", err)
	}
	e := Entry{
		Data: string(raw),
		SHA3: canon.SHA3512Hex(raw),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return Entry{}, err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return Entry{}, fmt.Errorf("persist log entry: %w", err)
	}
	l.entries = append(l.entries, e)
	return e, nil
}

// Entries returns a copy of all entries in arrival order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Verify re-digests every entry of this log and returns the 1-based indices
// whose stored digest no longer matches. An empty result means full
// integrity. Mismatches are reported, not raised: detecting tampering is an
// expected validation outcome.
func (l *Log) Verify() []int {
	return VerifyEntries(l.Entries())
}

// VerifyEntries is Verify over an externally replayed entry sequence.
func VerifyEntries(entries []Entry) []int {
	var failing []int
	for i, e := range entries {
		if canon.SHA3512Hex([]byte(e.Data)) != e.SHA3 {
			failing = append(failing, i+1)
		}
	}
	return failing
}
