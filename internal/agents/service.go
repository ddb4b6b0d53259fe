package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatewatch/gatewatch/internal/rbac"
	"github.com/gatewatch/gatewatch/internal/shared"
)

// Service enforces the agent management rules: role assignments are audited
// and an admin can neither demote nor delete themself.
type Service struct {
	repo     RepositoryPort
	audit    *shared.AuditLogger
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService constructs the agents service.
func NewService(repo RepositoryPort, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, validate: validator.New()}
}

// List returns all agent accounts.
func (s *Service) List(ctx context.Context) ([]Agent, error) {
	return s.repo.List(ctx)
}

// Create registers a new agent account with a hashed password.
func (s *Service) Create(ctx context.Context, actorID int64, input CreateInput) (Agent, error) {
	if err := s.validate.Struct(input); err != nil {
		return Agent{}, err
	}
	if !rbac.IsValidRole(input.Role) {
		return Agent{}, ErrUnknownRole
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return Agent{}, fmt.Errorf("agents: hash password: %w", err)
	}

	created, err := s.repo.Create(ctx, Agent{Name: input.Name, Email: input.Email, Role: input.Role}, string(hash))
	if err != nil {
		return Agent{}, err
	}

	s.recordAudit(ctx, actorID, "agent.create", created.ID, map[string]any{"email": created.Email, "role": created.Role})
	s.logger.Info("agent créé",
		slog.Int64("agent_id", created.ID),
		slog.String("role", created.Role),
		slog.Int64("actor_id", actorID))
	return created, nil
}

// ChangeRole assigns a new role to an agent. Admins cannot change their own.
func (s *Service) ChangeRole(ctx context.Context, actorID, agentID int64, role string) error {
	if actorID == agentID {
		return ErrOwnRole
	}
	if !rbac.IsValidRole(role) {
		return ErrUnknownRole
	}
	previous, err := s.repo.FindByID(ctx, agentID)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateRole(ctx, agentID, role); err != nil {
		return err
	}

	s.recordAudit(ctx, actorID, "agent.role_change", agentID, map[string]any{"from": previous.Role, "to": role})
	s.logger.Info("rôle modifié",
		slog.Int64("agent_id", agentID),
		slog.String("from", previous.Role),
		slog.String("to", role),
		slog.Int64("actor_id", actorID))
	return nil
}

// Delete removes an agent account. Admins cannot delete themself.
func (s *Service) Delete(ctx context.Context, actorID, agentID int64) error {
	if actorID == agentID {
		return ErrSelfDelete
	}
	target, err := s.repo.FindByID(ctx, agentID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, agentID); err != nil {
		return err
	}

	s.recordAudit(ctx, actorID, "agent.delete", agentID, map[string]any{"email": target.Email, "role": target.Role})
	s.logger.Info("agent supprimé",
		slog.Int64("agent_id", agentID),
		slog.Int64("actor_id", actorID))
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, agentID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "agent",
		EntityID: strconv.FormatInt(agentID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record", slog.Any("error", err))
	}
}
