package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// WorkItem is a discovered url waiting for an automation attempt.
type WorkItem struct {
	ID           int64
	URL          string
	AdID         *string
	Advertiser   *string
	DiscoveredAt time.Time
	Processed    bool
}

// Candidate is the input of Enqueue, empty optional fields are stored as NULL.
type Candidate struct {
	URL        string
	AdID       string
	Advertiser string
}

type QueueStats struct {
	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
	Pending   int64 `json:"pending"`
}

const queueColumns = `id, url, ad_id, advertiser, scraped_at, processed`

// Enqueue adds a candidate unless its url is already queued. It returns the
// row id and whether a new row was inserted.
func (s *Store) Enqueue(ctx context.Context, c Candidate) (int64, bool, error) {
	url := strings.TrimSpace(c.URL)
	if url == "" {
		return 0, false, ErrEmptyURL
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO scraped_urls (url, ad_id, advertiser) VALUES (?, ?, ?)`,
		url, nullString(c.AdID), nullString(c.Advertiser),
	)
	if err != nil {
		return 0, false, storeErr("executing sql insert failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, storeErr("executing sql insert failed", err)
	}
	if n == 1 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, storeErr("executing sql insert failed", err)
		}
		return id, true, nil
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM scraped_urls WHERE url = ?`, url).Scan(&id)
	if err != nil {
		return 0, false, storeErr("executing sql query failed", err)
	}
	return id, false, nil
}

// EnqueueBatch enqueues candidates in one transaction and returns how many
// were new. Empty and duplicate urls are skipped.
func (s *Store) EnqueueBatch(ctx context.Context, candidates []Candidate) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr("beginning transaction failed", err)
	}
	defer rollback(ctx, tx, "enqueue batch")

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO scraped_urls (url, ad_id, advertiser) VALUES (?, ?, ?)`,
	)
	if err != nil {
		return 0, storeErr("preparing sql insert failed", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	added := 0
	for _, c := range candidates {
		url := strings.TrimSpace(c.URL)
		if url == "" {
			continue
		}
		res, err := stmt.ExecContext(ctx, url, nullString(c.AdID), nullString(c.Advertiser))
		if err != nil {
			return 0, storeErr("executing sql insert failed", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, storeErr("executing sql insert failed", err)
		}
		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, storeErr("committing transaction failed", err)
	}
	return added, nil
}

// ListQueue returns up to limit items, newest first.
func (s *Store) ListQueue(ctx context.Context, limit int) ([]WorkItem, error) {
	return s.queryQueue(ctx,
		`SELECT `+queueColumns+` FROM scraped_urls ORDER BY scraped_at DESC, id DESC LIMIT ?`,
		limitOr(limit, DefaultListLimit),
	)
}

// ListPending returns up to limit unprocessed items, oldest first.
func (s *Store) ListPending(ctx context.Context, limit int) ([]WorkItem, error) {
	return s.queryQueue(ctx,
		`SELECT `+queueColumns+` FROM scraped_urls WHERE processed = 0 ORDER BY scraped_at ASC, id ASC LIMIT ?`,
		limitOr(limit, DefaultListLimit),
	)
}

func (s *Store) queryQueue(ctx context.Context, query string, args ...any) ([]WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("executing sql query failed", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var items []WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, storeErr("scanning row failed", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating rows failed", err)
	}
	return items, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row scanner) (WorkItem, error) {
	var (
		item       WorkItem
		adID       sql.NullString
		advertiser sql.NullString
		processed  sql.NullInt64
	)
	err := row.Scan(
		&item.ID,
		&item.URL,
		&adID,
		&advertiser,
		timestamp{&item.DiscoveredAt},
		&processed,
	)
	if err != nil {
		return WorkItem{}, err
	}
	item.AdID = ptr(adID)
	item.Advertiser = ptr(advertiser)
	item.Processed = processed.Int64 != 0
	return item, nil
}

// QueueStats counts rows on every call.
func (s *Store) QueueStats(ctx context.Context) (QueueStats, error) {
	var st QueueStats
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN processed = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN processed = 0 THEN 1 ELSE 0 END), 0)
		FROM scraped_urls`,
	).Scan(&st.Total, &st.Processed, &st.Pending)
	if err != nil {
		return QueueStats{}, storeErr("executing sql query failed", err)
	}
	return st, nil
}

// DeleteQueued removes one item, ErrNotFound if no such id exists.
func (s *Store) DeleteQueued(ctx context.Context, id int64) error {
	return s.execOne(ctx, `DELETE FROM scraped_urls WHERE id = ?`, id)
}

// SetProcessed sets the processed flag of one item.
func (s *Store) SetProcessed(ctx context.Context, id int64, processed bool) error {
	return s.execOne(ctx, `UPDATE scraped_urls SET processed = ? WHERE id = ?`, boolInt(processed), id)
}

// ToggleProcessed flips the processed flag and returns the new value.
func (s *Store) ToggleProcessed(ctx context.Context, id int64) (bool, error) {
	var processed int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE scraped_urls SET processed = CASE WHEN processed = 1 THEN 0 ELSE 1 END
		WHERE id = ? RETURNING processed`, id,
	).Scan(&processed)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, ErrNotFound
	case err != nil:
		return false, storeErr("executing sql update failed", err)
	}
	return processed == 1, nil
}

// MarkProcessedByURL flags the queued url as processed. Unknown urls are
// ignored, the worker may process urls that never were queued.
func (s *Store) MarkProcessedByURL(ctx context.Context, url string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scraped_urls SET processed = 1 WHERE url = ?`, url)
	if err != nil {
		return storeErr("executing sql update failed", err)
	}
	return nil
}

// ClearQueue deletes every item and returns the number removed.
func (s *Store) ClearQueue(ctx context.Context) (int64, error) {
	return s.execAll(ctx, `DELETE FROM scraped_urls`)
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr("executing sql statement failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("executing sql statement failed", err)
	}
	if n != 1 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) execAll(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storeErr("executing sql statement failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("executing sql statement failed", err)
	}
	return n, nil
}
