// Package catalog is the persistent record of transfers and the models
// that group them. It is backed by database/sql over modernc.org/sqlite
// (a cgo-free driver), the same driver the rest of the corpus already
// links for reading browser cookie databases.
//
// All operations acquire a single process-wide exclusive lock before
// touching the database. The source this system was distilled from used
// non-WAL SQLite from two connections sharing one lock; correctness here
// must not depend on WAL, so the lock stays even though the DSN below
// also turns WAL on as a (non-load-bearing) throughput improvement.
package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store is the embedded-SQLite-backed catalog. The zero value is not
// usable; construct with Open.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if necessary) the catalog database at path and
// applies the schema. WAL mode is requested for throughput; the
// process-wide mutex below is what correctness actually relies on.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ListNewWaiting returns every waiting Transfer with transfer_id >
// sinceID, ordered by transfer_id. The model table is not joined: each
// row carries only the model name stored on the transfer itself.
// Returned rows are snapshots — later catalog writes do not
// retroactively mutate them.
func (s *Store) ListNewWaiting(ctx context.Context, sinceID int64) ([]Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.transfer_id, t.tracking_id, t.model, t.datanode, t.location,
		       t.checksum, t.checksum_type, t.local_image, t.status,
		       COALESCE(t.error_msg, ''), COALESCE(t.size, 0), COALESCE(t.variable, '')
		FROM transfer t
		WHERE t.status = ? AND t.transfer_id > ?
		ORDER BY t.transfer_id`, StatusWaiting, sinceID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list new waiting: %w", err)
	}
	defer rows.Close()

	var out []Transfer
	for rows.Next() {
		var t Transfer
		var status string
		if err := rows.Scan(&t.TransferID, &t.TrackingID, &t.Model, &t.Datanode,
			&t.Location, &t.Checksum, &t.ChecksumType, &t.LocalImage, &status,
			&t.ErrorMsg, &t.Size, &t.Variable); err != nil {
			return nil, fmt.Errorf("catalog: scan transfer: %w", err)
		}
		t.Status = Status(status)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: iterate transfers: %w", err)
	}
	return out, nil
}

// Update atomically applies a sparse set of column updates to one
// transfer row. Fails with a wrapped ErrWrite if the driver rejects the
// write — that error is fatal to the engine.
func (s *Store) Update(ctx context.Context, transferID int64, f UpdateFields) error {
	set, args := buildSet(f)
	if len(set) == 0 {
		return nil
	}
	args = append(args, transferID)

	s.mu.Lock()
	defer s.mu.Unlock()

	query := "UPDATE transfer SET " + joinSet(set) + " WHERE transfer_id = ?"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapWriteErr("update transfer", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapWriteErr("update transfer rows affected", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkWaiting resets a transfer's status to waiting without touching
// timing fields — the convenience used during shutdown.
func (s *Store) MarkWaiting(ctx context.Context, transferID int64) error {
	waiting := StatusWaiting
	return s.Update(ctx, transferID, UpdateFields{Status: &waiting})
}

// InsertModel inserts a Model row if one with the same name does not
// already exist. Exposed for the out-of-scope catalog-population
// collaborator that populates the catalog ahead of a run.
func (s *Store) InsertModel(ctx context.Context, m Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO model(name, datanode, institute) VALUES (?, ?, ?)`,
		m.Name, m.Datanode, m.Institute)
	if err != nil {
		return wrapWriteErr("insert model", err)
	}
	return nil
}

// InsertTransfer inserts a new waiting Transfer row. Exposed for the
// out-of-scope catalog-population collaborator.
func (s *Store) InsertTransfer(ctx context.Context, t Transfer) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transfer(tracking_id, model, datanode, location, checksum,
		                      checksum_type, local_image, status, size, variable)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TrackingID, t.Model, t.Datanode, t.Location, t.Checksum,
		t.ChecksumType, t.LocalImage, StatusWaiting, t.Size, t.Variable)
	if err != nil {
		return 0, wrapWriteErr("insert transfer", err)
	}
	return res.LastInsertId()
}

// GetTransfer returns a single transfer row by id, including its timing
// columns, primarily for tests.
func (s *Store) GetTransfer(ctx context.Context, transferID int64) (Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t Transfer
	var status string
	var startDate, endDate sql.NullTime
	var duration, rate sql.NullFloat64
	row := s.db.QueryRowContext(ctx, `
		SELECT transfer_id, tracking_id, model, datanode, location, checksum,
		       checksum_type, local_image, status, COALESCE(error_msg, ''),
		       start_date, end_date, duration_seconds, rate_kbps,
		       COALESCE(size, 0), COALESCE(variable, '')
		FROM transfer WHERE transfer_id = ?`, transferID)
	if err := row.Scan(&t.TransferID, &t.TrackingID, &t.Model, &t.Datanode,
		&t.Location, &t.Checksum, &t.ChecksumType, &t.LocalImage, &status,
		&t.ErrorMsg, &startDate, &endDate, &duration, &rate, &t.Size, &t.Variable); err != nil {
		if err == sql.ErrNoRows {
			return Transfer{}, ErrNotFound
		}
		return Transfer{}, fmt.Errorf("catalog: get transfer: %w", err)
	}
	t.Status = Status(status)
	if startDate.Valid {
		t.StartDate = startDate.Time
	}
	if endDate.Valid {
		t.EndDate = endDate.Time
	}
	if duration.Valid {
		t.Duration = time.Duration(duration.Float64 * float64(time.Second))
	}
	if rate.Valid {
		t.RateKBps = rate.Float64
	}
	return t, nil
}

// ListByStatus returns every transfer in the given status, ordered by
// transfer_id. Used by the CLI's list/requeue commands.
func (s *Store) ListByStatus(ctx context.Context, status Status) ([]Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT transfer_id, tracking_id, model, datanode, location, local_image,
		       COALESCE(error_msg, '')
		FROM transfer WHERE status = ? ORDER BY transfer_id`, status)
	if err != nil {
		return nil, fmt.Errorf("catalog: list by status: %w", err)
	}
	defer rows.Close()

	var out []Transfer
	for rows.Next() {
		var t Transfer
		if err := rows.Scan(&t.TransferID, &t.TrackingID, &t.Model, &t.Datanode,
			&t.Location, &t.LocalImage, &t.ErrorMsg); err != nil {
			return nil, fmt.Errorf("catalog: scan transfer: %w", err)
		}
		t.Status = status
		out = append(out, t)
	}
	return out, rows.Err()
}

func buildSet(f UpdateFields) ([]string, []any) {
	var set []string
	var args []any
	if f.Status != nil {
		set = append(set, "status = ?")
		args = append(args, string(*f.Status))
	}
	if f.ErrorMsg != nil {
		set = append(set, "error_msg = ?")
		args = append(args, *f.ErrorMsg)
	}
	if f.StartDate != nil {
		set = append(set, "start_date = ?")
		args = append(args, *f.StartDate)
	}
	if f.EndDate != nil {
		set = append(set, "end_date = ?")
		args = append(args, *f.EndDate)
	}
	if f.Duration != nil {
		set = append(set, "duration_seconds = ?")
		args = append(args, f.Duration.Seconds())
	}
	if f.RateKBps != nil {
		set = append(set, "rate_kbps = ?")
		args = append(args, *f.RateKBps)
	}
	if f.Size != nil {
		set = append(set, "size = ?")
		args = append(args, *f.Size)
	}
	return set, args
}

func joinSet(set []string) string {
	out := set[0]
	for _, s := range set[1:] {
		out += ", " + s
	}
	return out
}
