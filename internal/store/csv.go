package store

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"
)

const (
	queueCSVHeader   = "id,url,ad_id,advertiser,scraped_at,processed"
	resultsCSVHeader = "id,url,source,status,processed_at"
)

// ExportQueueCSV writes the whole queue, newest first, and returns the
// number of data rows written. The url and advertiser fields are always
// quoted.
func (s *Store) ExportQueueCSV(ctx context.Context, w io.Writer) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+queueColumns+` FROM scraped_urls ORDER BY scraped_at DESC, id DESC`,
	)
	if err != nil {
		return 0, storeErr("executing sql query failed", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	bw := bufio.NewWriter(w)
	writeLine(bw, queueCSVHeader)
	n := 0
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return n, storeErr("scanning row failed", err)
		}
		processed := "0"
		if item.Processed {
			processed = "1"
		}
		writeLine(bw,
			strconv.FormatInt(item.ID, 10),
			quote(item.URL),
			field(deref(item.AdID)),
			quote(deref(item.Advertiser)),
			field(formatTime(item.DiscoveredAt)),
			processed,
		)
		n++
	}
	if err := rows.Err(); err != nil {
		return n, storeErr("iterating rows failed", err)
	}
	return n, bw.Flush()
}

// ExportResultsCSV writes the whole ledger, newest first, and returns the
// number of data rows written. The url field is always quoted.
func (s *Store) ExportResultsCSV(ctx context.Context, w io.Writer) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+resultColumns+` FROM processed_urls ORDER BY processed_at DESC, id DESC`,
	)
	if err != nil {
		return 0, storeErr("executing sql query failed", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	bw := bufio.NewWriter(w)
	writeLine(bw, resultsCSVHeader)
	n := 0
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return n, storeErr("scanning row failed", err)
		}
		writeLine(bw,
			strconv.FormatInt(r.ID, 10),
			quote(r.URL),
			field(r.Source),
			field(string(r.Status)),
			field(formatTime(r.ProcessedAt)),
		)
		n++
	}
	if err := rows.Err(); err != nil {
		return n, storeErr("iterating rows failed", err)
	}
	return n, bw.Flush()
}

func writeLine(w *bufio.Writer, fields ...string) {
	_, _ = w.WriteString(strings.Join(fields, ","))
	_ = w.WriteByte('\n')
}

// quote wraps s in double quotes, doubling embedded ones.
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// field quotes s only when it would otherwise break the record.
func field(s string) string {
	if strings.ContainsAny(s, ",\"\r\n") {
		return quote(s)
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
