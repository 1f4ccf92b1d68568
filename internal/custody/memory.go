package custody

import (
	"context"
	"fmt"
	"sync"
	"time"
)

func wallSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// MemoryLedger is an in-memory, thread-safe Ledger. It is the backend for
// tests and for single-session recordings that do not outlive the process.
type MemoryLedger struct {
	mu     sync.RWMutex
	now    func() float64
	blocks []Block
}

// New creates a MemoryLedger seeded with the genesis block.
func New() (*MemoryLedger, error) {
	return NewWithClock(wallSeconds)
}

// NewWithClock is New with an injected clock, used by tests and by callers
// that stamp blocks with aligned time instead of raw wall time.
func NewWithClock(now func() float64) (*MemoryLedger, error) {
	genesis, err := newBlock(0, now(), GenesisPayload, GenesisPrevHash)
	if err != nil {
		return nil, fmt.Errorf("create genesis block: %w", err)
	}
	return &MemoryLedger{now: now, blocks: []Block{genesis}}, nil
}

// Append implements Ledger. Appends are serialized by the ledger mutex:
// building a block is a read-modify-write on the chain tail, and a lost
// update would break linkage.
func (l *MemoryLedger) Append(_ context.Context, payload string) (Block, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tail := l.blocks[len(l.blocks)-1]
	b, err := newBlock(len(l.blocks), l.now(), payload, tail.Hash)
	if err != nil {
		return Block{}, fmt.Errorf("append block: %w", err)
	}
	l.blocks = append(l.blocks, b)
	return b, nil
}

// Get implements Ledger.
func (l *MemoryLedger) Get(_ context.Context, index int) (Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.blocks) {
		return Block{}, fmt.Errorf("block index %d out of range", index)
	}
	return l.blocks[index], nil
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.blocks), nil
}

// Verify implements Ledger.
func (l *MemoryLedger) Verify(_ context.Context) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifyChain(l.blocks), nil
}

// Root implements Ledger.
func (l *MemoryLedger) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.blocks[len(l.blocks)-1].Hash, nil
}
