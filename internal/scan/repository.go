package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatewatch/gatewatch/internal/platform/db"
)

// Repository persists the code registry and the scan ledger in PostgreSQL.
// Column names follow the historical gate schema (sortie, date_sortie,
// produit, chauffeur).
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn inside a transaction. The FOR UPDATE row lock taken by
// FindCodeForUpdate serialises the read-modify-write per code; codes that
// differ never contend.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const codeColumns = `id, code, scan_count, is_fraud, last_scanned_at, sortie, date_sortie, created_at, updated_at`

func (r *txRepo) FindCodeForUpdate(ctx context.Context, code string) (CodeRecord, error) {
	query := `SELECT ` + codeColumns + ` FROM qrcodes WHERE code = $1 FOR UPDATE`
	record, err := scanCodeRow(r.tx.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CodeRecord{}, ErrCodeNotFound
		}
		return CodeRecord{}, err
	}
	return record, nil
}

func (r *txRepo) CreateCode(ctx context.Context, record CodeRecord) (CodeRecord, error) {
	const query = `
INSERT INTO qrcodes (code, scan_count, is_fraud, last_scanned_at, sortie, date_sortie, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
RETURNING ` + codeColumns
	created, err := scanCodeRow(r.tx.QueryRow(ctx, query,
		record.Code,
		record.ScanCount,
		record.IsFraud,
		nullableTime(record.LastScannedAt),
		record.Exited,
		record.ExitedAt,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return CodeRecord{}, ErrDuplicateCode
		}
		return CodeRecord{}, err
	}
	return created, nil
}

func (r *txRepo) UpdateCode(ctx context.Context, record CodeRecord) (CodeRecord, error) {
	const query = `
UPDATE qrcodes
SET scan_count = $2, is_fraud = $3, last_scanned_at = $4, sortie = $5, date_sortie = $6, updated_at = NOW()
WHERE id = $1
RETURNING ` + codeColumns
	updated, err := scanCodeRow(r.tx.QueryRow(ctx, query,
		record.ID,
		record.ScanCount,
		record.IsFraud,
		nullableTime(record.LastScannedAt),
		record.Exited,
		record.ExitedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CodeRecord{}, ErrCodeNotFound
		}
		return CodeRecord{}, err
	}
	return updated, nil
}

// AppendEvent inserts one ledger row. The (qrcode_id, seq) uniqueness makes
// replays idempotent: a row that already landed is left untouched.
func (r *Repository) AppendEvent(ctx context.Context, event ScanEvent) (string, error) {
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	const query = `
INSERT INTO scans (id, qrcode_id, code, produit, quantite, chauffeur, status, seq, date_scan, agent_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (qrcode_id, seq) DO NOTHING`
	_, err := r.pool.Exec(ctx, query,
		id,
		event.CodeID,
		event.Code,
		event.Product,
		event.Quantity,
		event.Driver,
		string(event.Status),
		event.Seq,
		event.ScannedAt,
		nullableID(event.AgentID),
	)
	if err != nil {
		return "", fmt.Errorf("scan: append event: %w", err)
	}
	return id, nil
}

// ListEvents returns ledger entries matching the filter, newest first, plus
// the unpaginated total for pagination.
func (r *Repository) ListEvents(ctx context.Context, filter HistoryFilter) ([]ScanEvent, int, error) {
	where, args := buildHistoryWhere(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM scans s` + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("scan: count events: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query := `
SELECT s.id, s.qrcode_id, s.code, s.produit, s.quantite, s.chauffeur, s.status, s.seq, s.date_scan, s.agent_id, COALESCE(u.name, '')
FROM scans s
LEFT JOIN users u ON u.id = s.agent_id` + where + fmt.Sprintf(`
ORDER BY s.date_scan DESC
LIMIT %d OFFSET %d`, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("scan: list events: %w", err)
	}
	defer rows.Close()

	var events []ScanEvent
	for rows.Next() {
		event, err := scanEventRow(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}
	return events, total, rows.Err()
}

// RecentEvents returns the latest ledger entries regardless of filters.
func (r *Repository) RecentEvents(ctx context.Context, limit int) ([]ScanEvent, error) {
	events, _, err := r.ListEvents(ctx, HistoryFilter{Limit: limit})
	return events, err
}

func buildHistoryWhere(filter HistoryFilter) (string, []any) {
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCodeRow(row rowScanner) (CodeRecord, error) {
	var (
		record      CodeRecord
		lastScanned pgtype.Timestamptz
		exitedAt    pgtype.Timestamptz
	)
	if err := row.Scan(
		&record.ID,
		&record.Code,
		&record.ScanCount,
		&record.IsFraud,
		&lastScanned,
		&record.Exited,
		&exitedAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return CodeRecord{}, err
	}
	if lastScanned.Valid {
		record.LastScannedAt = lastScanned.Time
	}
	if exitedAt.Valid {
		t := exitedAt.Time
		record.ExitedAt = &t
	}
	return record, nil
}

func scanEventRow(row rowScanner) (ScanEvent, error) {
	var (
		event   ScanEvent
		status  string
		agentID pgtype.Int8
	)
	if err := row.Scan(
		&event.ID,
		&event.CodeID,
		&event.Code,
		&event.Product,
		&event.Quantity,
		&event.Driver,
		&status,
		&event.Seq,
		&event.ScannedAt,
		&agentID,
		&event.AgentName,
	); err != nil {
		return ScanEvent{}, err
	}
	event.Status = Status(status)
	if agentID.Valid {
		event.AgentID = agentID.Int64
	}
	return event, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

var _ RepositoryPort = (*Repository)(nil)
var _ TxRepository = (*txRepo)(nil)
