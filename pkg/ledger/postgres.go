package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls across processes. The value is arbitrary but must
// be consistent for all writers of the same database.
const advisoryLockKey = int64(2_471_906_358)

// PostgresStore persists the audit ledger to a PostgreSQL table. It
// implements Store with the same append-only discipline as FileStore; rows
// are never updated or deleted. Cross-process writers are serialised with a
// transaction-scoped advisory lock and a tail check, so two writers that
// raced to read the same last hash cannot both commit.
type PostgresStore struct {
	pool     *pgxpool.Pool
	readOnly bool
	logger   *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, readOnly bool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, readOnly: readOnly, logger: logger}
}

// EnsureSchema creates the ledger table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s.readOnly {
		return fmt.Errorf("%w: ensure schema", ErrReadOnly)
	}
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS audit_ledger (
			seq        BIGSERIAL PRIMARY KEY,
			entry_id   TEXT NOT NULL UNIQUE,
			entry_hash TEXT NOT NULL,
			record     TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("%w: create audit_ledger table: %v", ErrStorageIO, err)
	}
	return nil
}

// Append implements Store. The entry's prev_entry_hash must still match the
// chain tail at commit time; a moved tail means a concurrent writer won the
// race and the append is rejected rather than forking the chain.
func (s *PostgresStore) Append(ctx context.Context, e *Entry) error {
	if s.readOnly {
		return fmt.Errorf("%w: append entry %s", ErrReadOnly, e.EntryID)
	}

	record, err := e.MarshalLine()
	if err != nil {
		return fmt.Errorf("%w: serialize entry: %v", ErrStorageIO, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrStorageIO, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("%w: acquire advisory lock: %v", ErrStorageIO, err)
	}

	var tail string
	err = tx.QueryRow(ctx, "SELECT entry_hash FROM audit_ledger ORDER BY seq DESC LIMIT 1").Scan(&tail)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: read ledger tail: %v", ErrStorageIO, err)
	}
	if e.PrevEntryHash != tail {
		return fmt.Errorf("%w: entry chains from %q but tail is %q", ErrChainBroken, e.PrevEntryHash, tail)
	}

	if _, err := tx.Exec(ctx,
		"INSERT INTO audit_ledger (entry_id, entry_hash, record) VALUES ($1, $2, $3)",
		e.EntryID, e.EntryHash, string(record),
	); err != nil {
		return fmt.Errorf("%w: insert entry: %v", ErrStorageIO, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit entry: %v", ErrStorageIO, err)
	}

	s.logger.Debug("ledger entry appended",
		zap.String("entry_id", e.EntryID),
		zap.String("component", e.Component),
		zap.String("action_type", e.ActionType),
	)
	return nil
}

// Entries implements Store.
func (s *PostgresStore) Entries(ctx context.Context) (Iterator, error) {
	rows, err := s.pool.Query(ctx, "SELECT seq, record FROM audit_ledger ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("%w: query ledger: %v", ErrStorageIO, err)
	}
	return &pgIterator{rows: rows}, nil
}

// LastEntry implements Store.
func (s *PostgresStore) LastEntry(ctx context.Context) (*Entry, error) {
	var record string
	err := s.pool.QueryRow(ctx, "SELECT record FROM audit_ledger ORDER BY seq DESC LIMIT 1").Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read ledger tail: %v", ErrStorageIO, err)
	}
	e, err := UnmarshalLine([]byte(record))
	if err != nil {
		return nil, fmt.Errorf("%w: tail row: %v", ErrMalformedRecord, err)
	}
	return e, nil
}

// Exists implements Store. The ledger exists once its table does.
func (s *PostgresStore) Exists(ctx context.Context) (bool, error) {
	var ok bool
	if err := s.pool.QueryRow(ctx, "SELECT to_regclass('audit_ledger') IS NOT NULL").Scan(&ok); err != nil {
		return false, fmt.Errorf("%w: check ledger table: %v", ErrStorageIO, err)
	}
	return ok, nil
}

type pgIterator struct {
	rows pgx.Rows
	cur  *Entry
	err  error
}

func (it *pgIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		if it.err == nil {
			if err := it.rows.Err(); err != nil {
				it.err = fmt.Errorf("%w: scan ledger rows: %v", ErrStorageIO, err)
			}
		}
		return false
	}
	var seq int64
	var record string
	if err := it.rows.Scan(&seq, &record); err != nil {
		it.err = fmt.Errorf("%w: scan ledger row: %v", ErrStorageIO, err)
		return false
	}
	e, err := UnmarshalLine([]byte(record))
	if err != nil {
		it.err = fmt.Errorf("%w: row %d: %v", ErrMalformedRecord, seq, err)
		return false
	}
	it.cur = e
	return true
}

func (it *pgIterator) Entry() *Entry { return it.cur }

func (it *pgIterator) Err() error { return it.err }

func (it *pgIterator) Close() error {
	it.rows.Close()
	return nil
}
