package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatewatch/gatewatch/internal/shared"
)

type memoryRepo struct {
	agents map[int64]Agent
	hashes map[int64]string
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{agents: make(map[int64]Agent), hashes: make(map[int64]string)}
}

func (r *memoryRepo) List(ctx context.Context) ([]Agent, error) {
	var all []Agent
	for _, a := range r.agents {
		all = append(all, a)
	}
	return all, nil
}

func (r *memoryRepo) FindByID(ctx context.Context, id int64) (Agent, error) {
	if a, ok := r.agents[id]; ok {
		return a, nil
	}
	return Agent{}, shared.ErrNotFound
}

func (r *memoryRepo) Create(ctx context.Context, agent Agent, passwordHash string) (Agent, error) {
	for _, existing := range r.agents {
		if existing.Email == agent.Email {
			return Agent{}, ErrEmailTaken
		}
	}
	r.nextID++
	agent.ID = r.nextID
	agent.IsActive = true
	r.agents[agent.ID] = agent
	r.hashes[agent.ID] = passwordHash
	return agent, nil
}

func (r *memoryRepo) UpdateRole(ctx context.Context, id int64, role string) error {
	a, ok := r.agents[id]
	if !ok {
		return shared.ErrNotFound
	}
	a.Role = role
	r.agents[id] = a
	return nil
}

func (r *memoryRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.agents[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.agents, id)
	return nil
}

func TestCreateAgentHashesPassword(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)

	created, err := svc.Create(context.Background(), 1, CreateInput{Name: "Moussa", Email: "moussa@test.local", Password: "motdepasse", Role: "entry"})
	require.NoError(t, err)
	require.Equal(t, "entry", created.Role)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.hashes[created.ID]), []byte("motdepasse")))

	_, err = svc.Create(context.Background(), 1, CreateInput{Name: "Autre", Email: "moussa@test.local", Password: "motdepasse", Role: "exit"})
	require.ErrorIs(t, err, ErrEmailTaken)

	_, err = svc.Create(context.Background(), 1, CreateInput{Name: "X", Email: "x@test.local", Password: "motdepasse", Role: "superviseur"})
	require.ErrorIs(t, err, ErrUnknownRole)
}

func TestChangeRoleSelfProtection(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	admin, err := svc.Create(context.Background(), 0, CreateInput{Name: "Admin", Email: "admin@test.local", Password: "motdepasse", Role: "admin"})
	require.NoError(t, err)
	agent, err := svc.Create(context.Background(), admin.ID, CreateInput{Name: "Agent", Email: "agent@test.local", Password: "motdepasse", Role: "entry"})
	require.NoError(t, err)

	require.ErrorIs(t, svc.ChangeRole(context.Background(), admin.ID, admin.ID, "user"), ErrOwnRole)
	require.ErrorIs(t, svc.ChangeRole(context.Background(), admin.ID, agent.ID, "patron"), ErrUnknownRole)

	require.NoError(t, svc.ChangeRole(context.Background(), admin.ID, agent.ID, "exit"))
	updated, err := repo.FindByID(context.Background(), agent.ID)
	require.NoError(t, err)
	require.Equal(t, "exit", updated.Role)
}

func TestDeleteSelfProtection(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	admin, err := svc.Create(context.Background(), 0, CreateInput{Name: "Admin", Email: "admin@test.local", Password: "motdepasse", Role: "admin"})
	require.NoError(t, err)
	agent, err := svc.Create(context.Background(), admin.ID, CreateInput{Name: "Agent", Email: "agent@test.local", Password: "motdepasse", Role: "exit"})
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(context.Background(), admin.ID, admin.ID), ErrSelfDelete)
	require.NoError(t, svc.Delete(context.Background(), admin.ID, agent.ID))
	_, err = repo.FindByID(context.Background(), agent.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
