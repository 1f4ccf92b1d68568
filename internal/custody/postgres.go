package custody

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serializes concurrent Append calls across all processes
// sharing the database. The value is arbitrary but must stay consistent.
const advisoryLockKey = int64(7_415_320_991)

// PostgresLedger persists the custody chain to PostgreSQL. It implements
// the Ledger interface for deployments where multiple collectors share one
// chain.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLedger creates a PostgresLedger backed by the given pool.
func NewPostgresLedger(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresLedger{pool: pool, logger: logger}
}

// Init creates the custody table if needed and seeds the genesis block on an
// empty chain.
func (l *PostgresLedger) Init(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS custody_chain (
			idx       INTEGER PRIMARY KEY,
			ts        DOUBLE PRECISION NOT NULL,
			payload   TEXT NOT NULL,
			prev_hash TEXT NOT NULL,
			hash      TEXT NOT NULL
		)`,
	); err != nil {
		return fmt.Errorf("create custody table: %w", err)
	}

	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM custody_chain").Scan(&n); err != nil {
		return fmt.Errorf("count custody blocks: %w", err)
	}
	if n > 0 {
		return nil
	}

	genesis, err := newBlock(0, wallSeconds(), GenesisPayload, GenesisPrevHash)
	if err != nil {
		return fmt.Errorf("create genesis block: %w", err)
	}
	if _, err := l.pool.Exec(ctx,
		`INSERT INTO custody_chain (idx, ts, payload, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5)`,
		genesis.Index, genesis.Timestamp, genesis.Payload, genesis.PrevHash, genesis.Hash,
	); err != nil {
		return fmt.Errorf("insert genesis block: %w", err)
	}
	l.logger.Info("custody chain initialised", zap.String("root", genesis.Hash))
	return nil
}

// Append implements Ledger. It acquires a transaction-scoped advisory lock,
// reads the chain tail, computes the new block hash, and inserts — all in
// one transaction, so concurrent writers cannot race on the tail.
func (l *PostgresLedger) Append(ctx context.Context, payload string) (Block, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return Block{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return Block{}, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var prevIdx int
	var prevHash string
	if err := tx.QueryRow(ctx,
		"SELECT idx, hash FROM custody_chain ORDER BY idx DESC LIMIT 1",
	).Scan(&prevIdx, &prevHash); err != nil {
		return Block{}, fmt.Errorf("read chain tail: %w", err)
	}

	b, err := newBlock(prevIdx+1, wallSeconds(), payload, prevHash)
	if err != nil {
		return Block{}, fmt.Errorf("append block: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO custody_chain (idx, ts, payload, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5)`,
		b.Index, b.Timestamp, b.Payload, b.PrevHash, b.Hash,
	); err != nil {
		return Block{}, fmt.Errorf("insert custody block: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Block{}, fmt.Errorf("commit custody tx: %w", err)
	}

	l.logger.Debug("custody block appended", zap.Int("idx", b.Index))
	return b, nil
}

// Get implements Ledger.
func (l *PostgresLedger) Get(ctx context.Context, index int) (Block, error) {
	var b Block
	if err := l.pool.QueryRow(ctx,
		"SELECT idx, ts, payload, prev_hash, hash FROM custody_chain WHERE idx = $1", index,
	).Scan(&b.Index, &b.Timestamp, &b.Payload, &b.PrevHash, &b.Hash); err != nil {
		return Block{}, fmt.Errorf("get custody block %d: %w", index, err)
	}
	return b, nil
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM custody_chain").Scan(&n); err != nil {
		return 0, fmt.Errorf("count custody blocks: %w", err)
	}
	return n, nil
}

// Verify implements Ledger. It streams all rows ordered by idx and validates
// hash self-consistency and linkage. O(n) in chain length.
func (l *PostgresLedger) Verify(ctx context.Context) (bool, error) {
	rows, err := l.pool.Query(ctx,
		"SELECT idx, ts, payload, prev_hash, hash FROM custody_chain ORDER BY idx ASC",
	)
	if err != nil {
		return false, fmt.Errorf("query custody chain: %w", err)
	}
	defer rows.Close()

	var blocks []Block
	for rows.Next() {
		var b Block
		if err := rows.Scan(&b.Index, &b.Timestamp, &b.Payload, &b.PrevHash, &b.Hash); err != nil {
			return false, fmt.Errorf("scan custody row: %w", err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	return verifyChain(blocks), nil
}

// Root implements Ledger.
func (l *PostgresLedger) Root(ctx context.Context) (string, error) {
	var hash string
	err := l.pool.QueryRow(ctx,
		"SELECT hash FROM custody_chain ORDER BY idx DESC LIMIT 1",
	).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get chain root: %w", err)
	}
	return hash, nil
}
