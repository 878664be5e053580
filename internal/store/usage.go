package store

import (
	"context"
	"database/sql"
	"math"
	"strconv"
	"time"
)

// UsageSession is one append-only record of API consumption for a model.
type UsageSession struct {
	ID           int64
	SessionStart time.Time
	Model        string
	InputTokens  int64
	OutputTokens int64
	Cost         float64
	APICalls     int64
}

// ModelUsage is the input of InsertUsageBatch and the per-model part of
// CostSummary.
type ModelUsage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	APICalls     int64   `json:"api_calls"`
	Cost         float64 `json:"cost"`
}

type CostSummary struct {
	ByModel      map[string]ModelUsage `json:"by_model"`
	TotalCost    float64               `json:"total_cost"`
	TotalCalls   int64                 `json:"total_calls"`
	TotalTokens  int64                 `json:"total_tokens"`
	SessionCount int64                 `json:"session_count"`
}

// InsertUsage appends one session row. A zero SessionStart means now.
func (s *Store) InsertUsage(ctx context.Context, u UsageSession) (int64, error) {
	start := u.SessionStart
	if start.IsZero() {
		start = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO api_sessions (session_start, model, input_tokens, output_tokens, cost, api_calls)
		VALUES (?, ?, ?, ?, ?, ?)`,
		formatMicro(start), u.Model, u.InputTokens, u.OutputTokens, formatCost(u.Cost), u.APICalls,
	)
	if err != nil {
		return 0, storeErr("executing sql insert failed", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr("executing sql insert failed", err)
	}
	return id, nil
}

// InsertUsageBatch records one row per model, all sharing sessionStart, so
// they are counted as a single session.
func (s *Store) InsertUsageBatch(ctx context.Context, sessionStart time.Time, byModel map[string]ModelUsage) error {
	if sessionStart.IsZero() {
		sessionStart = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("beginning transaction failed", err)
	}
	defer rollback(ctx, tx, "insert usage batch")

	for model, u := range byModel {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO api_sessions (session_start, model, input_tokens, output_tokens, cost, api_calls)
			VALUES (?, ?, ?, ?, ?, ?)`,
			formatMicro(sessionStart), model, u.InputTokens, u.OutputTokens, formatCost(u.Cost), u.APICalls,
		)
		if err != nil {
			return storeErr("executing sql insert failed", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("committing transaction failed", err)
	}
	return nil
}

// ListUsage returns up to limit sessions, newest first.
func (s *Store) ListUsage(ctx context.Context, limit int) ([]UsageSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_start, model, input_tokens, output_tokens, cost, api_calls
		FROM api_sessions ORDER BY session_start DESC, id DESC LIMIT ?`,
		limitOr(limit, DefaultUsageLimit),
	)
	if err != nil {
		return nil, storeErr("executing sql query failed", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var sessions []UsageSession
	for rows.Next() {
		var (
			u    UsageSession
			in   sql.NullInt64
			out  sql.NullInt64
			cost sql.NullString
			n    sql.NullInt64
		)
		err := rows.Scan(&u.ID, timestamp{&u.SessionStart}, &u.Model, &in, &out, &cost, &n)
		if err != nil {
			return nil, storeErr("scanning row failed", err)
		}
		u.InputTokens = in.Int64
		u.OutputTokens = out.Int64
		u.APICalls = n.Int64
		u.Cost, _ = strconv.ParseFloat(cost.String, 64)
		sessions = append(sessions, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating rows failed", err)
	}
	return sessions, nil
}

// CostSummary aggregates the usage ledger per model. Costs are rounded to
// four decimal places, the total is rounded from the unrounded sums.
func (s *Store) CostSummary(ctx context.Context) (CostSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model,
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(api_calls), 0),
			COALESCE(SUM(CAST(cost AS REAL)), 0.0)
		FROM api_sessions
		GROUP BY model`,
	)
	if err != nil {
		return CostSummary{}, storeErr("executing sql query failed", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	summary := CostSummary{ByModel: make(map[string]ModelUsage)}
	var totalCost float64
	for rows.Next() {
		var (
			model string
			u     ModelUsage
			cost  float64
		)
		if err := rows.Scan(&model, &u.InputTokens, &u.OutputTokens, &u.APICalls, &cost); err != nil {
			return CostSummary{}, storeErr("scanning row failed", err)
		}
		u.TotalTokens = u.InputTokens + u.OutputTokens
		u.Cost = round4(cost)
		summary.ByModel[model] = u

		totalCost += cost
		summary.TotalCalls += u.APICalls
		summary.TotalTokens += u.TotalTokens
	}
	if err := rows.Err(); err != nil {
		return CostSummary{}, storeErr("iterating rows failed", err)
	}
	summary.TotalCost = round4(totalCost)

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT session_start) FROM api_sessions`,
	).Scan(&summary.SessionCount)
	if err != nil {
		return CostSummary{}, storeErr("executing sql query failed", err)
	}
	return summary, nil
}

// ClearUsage deletes every session and returns the number removed.
func (s *Store) ClearUsage(ctx context.Context) (int64, error) {
	return s.execAll(ctx, `DELETE FROM api_sessions`)
}

func formatCost(c float64) string {
	return strconv.FormatFloat(c, 'f', -1, 64)
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}
