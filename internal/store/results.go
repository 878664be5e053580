package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Result is the recorded outcome of one attempt against a url.
type Result struct {
	ID               int64
	URL              string
	Source           string
	Status           Status
	FieldsFilled     *string
	ErrorMessage     *string
	ErrorCategory    *string
	Details          *string
	ScreenshotPath   *string
	ConfirmationData *string
	NetworkData      *string
	ProcessedAt      time.Time
}

type ResultStats struct {
	Total      int64 `json:"total"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
	Skipped    int64 `json:"skipped"`
}

const resultColumns = `id, url, source, status, fields_filled, error_message, error_category,
	details, screenshot_path, confirmation_data, network_data, processed_at`

// RecordResult inserts an outcome. A url already present in the ledger is
// rejected with ErrAlreadyRecorded until it is retried.
func (s *Store) RecordResult(ctx context.Context, r Result) (int64, error) {
	url := strings.TrimSpace(r.URL)
	if url == "" {
		return 0, ErrEmptyURL
	}
	if !r.Status.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, r.Status)
	}
	source := r.Source
	if source == "" {
		source = "unknown"
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_urls (url, source, status, fields_filled, error_message, error_category,
			details, screenshot_path, confirmation_data, network_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		url, source, string(r.Status), r.FieldsFilled, r.ErrorMessage, r.ErrorCategory,
		r.Details, r.ScreenshotPath, r.ConfirmationData, r.NetworkData,
	)
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyRecorded, url)
	}
	if err != nil {
		return 0, storeErr("executing sql insert failed", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr("executing sql insert failed", err)
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE")
}

// ListResults returns up to limit outcomes, newest first.
func (s *Store) ListResults(ctx context.Context, limit int) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM processed_urls ORDER BY processed_at DESC, id DESC LIMIT ?`,
		limitOr(limit, DefaultListLimit),
	)
	if err != nil {
		return nil, storeErr("executing sql query failed", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var results []Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, storeErr("scanning row failed", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating rows failed", err)
	}
	return results, nil
}

func scanResult(row scanner) (Result, error) {
	var (
		r      Result
		source sql.NullString
		status string
		opt    [7]sql.NullString
	)
	err := row.Scan(
		&r.ID,
		&r.URL,
		&source,
		&status,
		&opt[0], &opt[1], &opt[2], &opt[3], &opt[4], &opt[5], &opt[6],
		timestamp{&r.ProcessedAt},
	)
	if err != nil {
		return Result{}, err
	}
	r.Source = source.String
	r.Status = Status(status)
	r.FieldsFilled = ptr(opt[0])
	r.ErrorMessage = ptr(opt[1])
	r.ErrorCategory = ptr(opt[2])
	r.Details = ptr(opt[3])
	r.ScreenshotPath = ptr(opt[4])
	r.ConfirmationData = ptr(opt[5])
	r.NetworkData = ptr(opt[6])
	return r, nil
}

// ResultStats counts rows by status on every call.
func (s *Store) ResultStats(ctx context.Context) (ResultStats, error) {
	var st ResultStats
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'skipped' THEN 1 ELSE 0 END), 0)
		FROM processed_urls`,
	).Scan(&st.Total, &st.Successful, &st.Failed, &st.Skipped)
	if err != nil {
		return ResultStats{}, storeErr("executing sql query failed", err)
	}
	return st, nil
}

// IsProcessed reports whether the ledger holds an outcome for url.
func (s *Store) IsProcessed(ctx context.Context, url string) (bool, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_urls WHERE url = ?`, url).Scan(&n)
	if err != nil {
		return false, storeErr("executing sql query failed", err)
	}
	return n > 0, nil
}

// DeleteResult removes one outcome, ErrNotFound if no such id exists.
func (s *Store) DeleteResult(ctx context.Context, id int64) error {
	return s.execOne(ctx, `DELETE FROM processed_urls WHERE id = ?`, id)
}

// ClearResults deletes every outcome and returns the number removed.
func (s *Store) ClearResults(ctx context.Context) (int64, error) {
	return s.execAll(ctx, `DELETE FROM processed_urls`)
}

// RetryFailed forgets every failed attempt, so their urls can be recorded
// again. It returns the number of rows removed.
func (s *Store) RetryFailed(ctx context.Context) (int64, error) {
	return s.execAll(ctx, `DELETE FROM processed_urls WHERE status = 'failed'`)
}

// RetryResult forgets a single attempt by id.
func (s *Store) RetryResult(ctx context.Context, id int64) error {
	return s.DeleteResult(ctx, id)
}

func (s *Store) FailedCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_urls WHERE status = 'failed'`).Scan(&n)
	if err != nil {
		return 0, storeErr("executing sql query failed", err)
	}
	return n, nil
}
