package custody

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// FileLedger persists the chain as one JSON block per line and keeps the
// full chain in memory for Get/Verify. Opening an existing file replays
// every line, so a chain can be re-validated after process restart.
type FileLedger struct {
	mu     sync.RWMutex
	path   string
	now    func() float64
	logger *zap.Logger
	blocks []Block
}

// OpenFile opens or creates a file-backed ledger at path. A fresh file is
// seeded with the genesis block; an existing file is replayed as-is, without
// validation — call Verify for the integrity verdict.
func OpenFile(path string, logger *zap.Logger) (*FileLedger, error) {
	return OpenFileWithClock(path, wallSeconds, logger)
}

// OpenFileWithClock is OpenFile with an injected clock.
func OpenFileWithClock(path string, now func() float64, logger *zap.Logger) (*FileLedger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &FileLedger{path: path, now: now, logger: logger}
	if err := l.replay(); err != nil {
		return nil, err
	}
	if len(l.blocks) == 0 {
		genesis, err := newBlock(0, now(), GenesisPayload, GenesisPrevHash)
		if err != nil {
			return nil, fmt.Errorf("create genesis block: %w", err)
		}
		if err := l.writeLine(genesis); err != nil {
			return nil, err
		}
		l.blocks = append(l.blocks, genesis)
	}
	l.logger.Debug("custody ledger opened",
		zap.String("path", path),
		zap.Int("blocks", len(l.blocks)),
	)
	return l, nil
}

func (l *FileLedger) replay() error {
	file, err := os.OpenFile(l.path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 5*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var b Block
		if err := json.Unmarshal(line, &b); err != nil {
			return fmt.Errorf("decode block: %w", err)
		}
		l.blocks = append(l.blocks, b)
	}
	return scanner.Err()
}

func (l *FileLedger) writeLine(b Block) error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetEscapeHTML(false)
	return enc.Encode(b)
}

// Append implements Ledger. The block is written to the file before it
// becomes visible in memory; a failed write leaves the persisted chain at
// its previous, still-valid tail.
func (l *FileLedger) Append(_ context.Context, payload string) (Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tail := l.blocks[len(l.blocks)-1]
	b, err := newBlock(len(l.blocks), l.now(), payload, tail.Hash)
	if err != nil {
		return Block{}, fmt.Errorf("append block: %w", err)
	}
	if err := l.writeLine(b); err != nil {
		return Block{}, fmt.Errorf("persist block: %w", err)
	}
	l.blocks = append(l.blocks, b)
	return b, nil
}

// Get implements Ledger.
func (l *FileLedger) Get(_ context.Context, index int) (Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.blocks) {
		return Block{}, fmt.Errorf("block index %d out of range", index)
	}
	return l.blocks[index], nil
}

// Len implements Ledger.
func (l *FileLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.blocks), nil
}

// Verify implements Ledger.
func (l *FileLedger) Verify(_ context.Context) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifyChain(l.blocks), nil
}

// Root implements Ledger.
func (l *FileLedger) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.blocks[len(l.blocks)-1].Hash, nil
}
