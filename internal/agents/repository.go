package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatewatch/gatewatch/internal/shared"
)

// RepositoryPort defines persistence for agent management.
type RepositoryPort interface {
	List(ctx context.Context) ([]Agent, error)
	FindByID(ctx context.Context, id int64) (Agent, error)
	Create(ctx context.Context, agent Agent, passwordHash string) (Agent, error)
	UpdateRole(ctx context.Context, id int64, role string) error
	Delete(ctx context.Context, id int64) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const agentColumns = `id, name, email, role, is_active, created_at, updated_at`

// List returns all agents ordered by id.
func (r *Repository) List(ctx context.Context) ([]Agent, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+agentColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("agents: list: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Email, &a.Role, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("agents: list: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// FindByID fetches one agent.
func (r *Repository) FindByID(ctx context.Context, id int64) (Agent, error) {
	var a Agent
	err := r.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM users WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &a.Email, &a.Role, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agent{}, shared.ErrNotFound
		}
		return Agent{}, fmt.Errorf("agents: find: %w", err)
	}
	return a, nil
}

// Create inserts a new agent account.
func (r *Repository) Create(ctx context.Context, agent Agent, passwordHash string) (Agent, error) {
	query := `
INSERT INTO users (name, email, password_hash, role, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW())
RETURNING ` + agentColumns

	var created Agent
	err := r.pool.QueryRow(ctx, query, agent.Name, agent.Email, passwordHash, agent.Role).
		Scan(&created.ID, &created.Name, &created.Email, &created.Role, &created.IsActive, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Agent{}, ErrEmailTaken
		}
		return Agent{}, fmt.Errorf("agents: create: %w", err)
	}
	return created, nil
}

// UpdateRole changes the role of an agent.
func (r *Repository) UpdateRole(ctx context.Context, id int64, role string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`, id, role)
	if err != nil {
		return fmt.Errorf("agents: update role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Delete removes an agent account. Ledger rows survive the deletion through
// the ON DELETE SET NULL constraint on scans.agent_id.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("agents: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var _ RepositoryPort = (*Repository)(nil)
