package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store persists the transaction log in SQLite. The ledger's persistence
// is a sink: the in-memory state stays authoritative during a session,
// and the store exists so a cart can be audited or rebuilt afterwards.
type Store struct {
	db *sql.DB
}

// OpenStore creates or opens a SQLite database at the given path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// Safe to call on an existing database; the schema is idempotent.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect ledger database: %w", err)
	}

	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY churn from the commit path.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Write appends a transaction row. ON CONFLICT(id) DO NOTHING makes the
// write idempotent, so replaying a session against an existing database
// cannot duplicate rows.
func (s *Store) Write(ctx context.Context, txn Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, seq, product_id, direction, expected_weight, observed_delta, quality, at_unix_nano)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		txn.ID,
		txn.Seq,
		txn.ProductID,
		string(txn.Direction),
		txn.ExpectedWeight,
		txn.ObservedDelta,
		string(txn.Quality),
		txn.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("write transaction: %w", err)
	}
	return nil
}

// ReadAll returns every persisted transaction in deterministic order:
// ORDER BY seq ASC, id ASC so rebuilds replay in commit order.
func (s *Store) ReadAll(ctx context.Context) ([]Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, product_id, direction, expected_weight, observed_delta, quality, at_unix_nano
		FROM transactions
		ORDER BY seq ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txns []Transaction
	for rows.Next() {
		var (
			txn       Transaction
			direction string
			quality   string
			atNano    int64
		)
		if err := rows.Scan(
			&txn.ID, &txn.Seq, &txn.ProductID, &direction,
			&txn.ExpectedWeight, &txn.ObservedDelta, &quality, &atNano,
		); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txn.Direction = Direction(direction)
		txn.Quality = MatchQuality(quality)
		txn.At = time.Unix(0, atNano).UTC()
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	if txns == nil {
		txns = []Transaction{}
	}
	return txns, nil
}

// MaxSeq returns the highest persisted commit sequence, or 0 for an empty
// log. Used to resume the commit clock past existing rows.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM transactions`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query max seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
