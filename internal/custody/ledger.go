// Package custody implements the append-only hash-linked custody chain.
// Every appended block wraps one serialized record; linkage through
// previous_hash makes in-place edits and reordering detectable by Verify.
//
// Three backends implement the Ledger interface: MemoryLedger for tests and
// single-session runs, FileLedger for durable JSONL persistence with
// replay-on-open, and PostgresLedger for shared deployments.
package custody

import "context"

// Ledger is the append-only custody chain.
type Ledger interface {
	// Append creates the next block over payload, chained to the current
	// tail, and returns it. The chain grows by exactly one; no existing
	// block is mutated.
	Append(ctx context.Context, payload string) (Block, error)

	// Get returns the block at the given zero-based index.
	Get(ctx context.Context, index int) (Block, error)

	// Len returns the number of blocks including genesis.
	Len(ctx context.Context) (int, error)

	// Verify recomputes every block hash and checks linkage. The boolean is
	// the integrity verdict; the error is reserved for storage failures.
	Verify(ctx context.Context) (bool, error)

	// Root returns the hash of the chain tail.
	Root(ctx context.Context) (string, error)
}
