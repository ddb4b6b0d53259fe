package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatewatch/gatewatch/internal/scan"
)

// Repository computes rollups over the registry and the ledger.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a Repository over the shared pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Overview computes the global counters in a single round trip.
func (r *Repository) Overview(ctx context.Context) (Overview, error) {
	query := `
SELECT
  (SELECT COUNT(*) FROM scans),
  (SELECT COUNT(*) FROM scans WHERE status IN ('new', 'valid')),
  (SELECT COUNT(*) FROM scans WHERE status = 'fraud'),
  (SELECT COUNT(*) FROM qrcodes),
  (SELECT COUNT(*) FROM qrcodes WHERE is_fraud),
  (SELECT COUNT(*) FROM scans WHERE date_scan >= date_trunc('day', now())),
  (SELECT COUNT(*) FROM scans WHERE date_scan >= date_trunc('week', now())),
  (SELECT COUNT(*) FROM scans WHERE date_scan >= date_trunc('month', now()))`

	var o Overview
	err := r.pool.QueryRow(ctx, query).Scan(
		&o.TotalScans,
		&o.ValidScans,
		&o.FraudAttempts,
		&o.UniqueCodes,
		&o.FraudCodes,
		&o.ScansToday,
		&o.ScansThisWeek,
		&o.ScansThisMonth,
	)
	if err != nil {
		return Overview{}, fmt.Errorf("stats: overview: %w", err)
	}
	return o, nil
}

// AgentScansToday counts today's ledger entries for one agent.
func (r *Repository) AgentScansToday(ctx context.Context, agentID int64) (int, error) {
	query := `SELECT COUNT(*) FROM scans WHERE agent_id = $1 AND date_scan >= date_trunc('day', now())`
	var count int
	if err := r.pool.QueryRow(ctx, query, agentID).Scan(&count); err != nil {
		return 0, fmt.Errorf("stats: agent today: %w", err)
	}
	return count, nil
}

// FilteredCounts computes totals over the same filter the history view uses.
func (r *Repository) FilteredCounts(ctx context.Context, filter scan.HistoryFilter) (total, valid, fraud int, err error) {
	where, args := buildFilterWhere(filter)
	query := `
SELECT
  COUNT(*),
  COUNT(*) FILTER (WHERE s.status IN ('new', 'valid')),
  COUNT(*) FILTER (WHERE s.status = 'fraud')
FROM scans s` + where

	if err := r.pool.QueryRow(ctx, query, args...).Scan(&total, &valid, &fraud); err != nil {
		return 0, 0, 0, fmt.Errorf("stats: filtered counts: %w", err)
	}
	return total, valid, fraud, nil
}

// FlaggedCodes lists codes currently marked fraudulent, worst offenders first.
func (r *Repository) FlaggedCodes(ctx context.Context, limit int) ([]FlaggedCode, error) {
	query := `
SELECT code, scan_count, last_scanned_at
FROM qrcodes
WHERE is_fraud
ORDER BY scan_count DESC, last_scanned_at DESC
LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("stats: flagged codes: %w", err)
	}
	defer rows.Close()

	var codes []FlaggedCode
	for rows.Next() {
		var c FlaggedCode
		if err := rows.Scan(&c.Code, &c.ScanCount, &c.LastScannedAt); err != nil {
			return nil, fmt.Errorf("stats: flagged codes: %w", err)
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// AgentActivity breaks down scan volume per agent since the given time.
func (r *Repository) AgentActivity(ctx context.Context, since time.Time, limit int) ([]AgentActivity, error) {
	query := `
SELECT s.agent_id, COALESCE(u.name, ''), COUNT(*), COUNT(*) FILTER (WHERE s.status = 'fraud')
FROM scans s
LEFT JOIN users u ON u.id = s.agent_id
WHERE s.agent_id IS NOT NULL AND s.date_scan >= $1
GROUP BY s.agent_id, u.name
ORDER BY COUNT(*) DESC
LIMIT $2`

	rows, err := r.pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("stats: agent activity: %w", err)
	}
	defer rows.Close()

	var activity []AgentActivity
	for rows.Next() {
		var a AgentActivity
		if err := rows.Scan(&a.AgentID, &a.AgentName, &a.Scans, &a.Frauds); err != nil {
			return nil, fmt.Errorf("stats: agent activity: %w", err)
		}
		activity = append(activity, a)
	}
	return activity, rows.Err()
}

// DailyCounts aggregates scan volume per day over the trailing window.
func (r *Repository) DailyCounts(ctx context.Context, days int) ([]DailyCount, error) {
	query := `
SELECT date_trunc('day', date_scan) AS day, COUNT(*), COUNT(*) FILTER (WHERE status = 'fraud')
FROM scans
WHERE date_scan >= date_trunc('day', now()) - make_interval(days => $1)
GROUP BY day
ORDER BY day`

	rows, err := r.pool.Query(ctx, query, days)
	if err != nil {
		return nil, fmt.Errorf("stats: daily counts: %w", err)
	}
	defer rows.Close()

	var daily []DailyCount
	for rows.Next() {
		var d DailyCount
		if err := rows.Scan(&d.Day, &d.Scans, &d.Frauds); err != nil {
			return nil, fmt.Errorf("stats: daily counts: %w", err)
		}
		daily = append(daily, d)
	}
	return daily, rows.Err()
}

func buildFilterWhere(filter scan.HistoryFilter) (string, []any) {
	var clauses []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Status != "" {
		clauses = append(clauses, "s.status = "+arg(string(filter.Status)))
	}
	if !filter.DateFrom.IsZero() {
		clauses = append(clauses, "s.date_scan >= "+arg(filter.DateFrom))
	}
	if !filter.DateTo.IsZero() {
		clauses = append(clauses, "s.date_scan <= "+arg(filter.DateTo))
	}
	if filter.CodeLike != "" {
		clauses = append(clauses, "s.code ILIKE "+arg("%"+filter.CodeLike+"%"))
	}
	if filter.Product != "" {
		clauses = append(clauses, "s.produit ILIKE "+arg("%"+filter.Product+"%"))
	}
	if filter.AgentID != 0 {
		clauses = append(clauses, "s.agent_id = "+arg(filter.AgentID))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "\nWHERE " + strings.Join(clauses, " AND "), args
}
