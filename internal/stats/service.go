package stats

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gatewatch/gatewatch/internal/scan"
)

// RepositoryPort is the rollup surface the service depends on.
type RepositoryPort interface {
	Overview(ctx context.Context) (Overview, error)
	AgentScansToday(ctx context.Context, agentID int64) (int, error)
	FilteredCounts(ctx context.Context, filter scan.HistoryFilter) (total, valid, fraud int, err error)
	FlaggedCodes(ctx context.Context, limit int) ([]FlaggedCode, error)
	AgentActivity(ctx context.Context, since time.Time, limit int) ([]AgentActivity, error)
	DailyCounts(ctx context.Context, days int) ([]DailyCount, error)
}

// Service serves dashboard rollups through the cache layer. Concurrent cache
// misses for the same key collapse into one database pass.
type Service struct {
	repo   RepositoryPort
	cache  *Cache
	logger *slog.Logger
	group  singleflight.Group
}

// NewService wires a RepositoryPort with a Cache helper.
func NewService(repo RepositoryPort, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// Overview returns the global counters as the wire payload map.
func (s *Service) Overview(ctx context.Context) (map[string]int, error) {
	overview, err := s.overview(ctx)
	if err != nil {
		return nil, err
	}
	return overviewMap(overview), nil
}

// Today returns the global counters plus the agent's own daily volume.
func (s *Service) Today(ctx context.Context, agentID int64) (map[string]int, error) {
	overview, err := s.overview(ctx)
	if err != nil {
		return nil, err
	}
	result := overviewMap(overview)
	if agentID != 0 {
		mine, err := s.repo.AgentScansToday(ctx, agentID)
		if err != nil {
			return nil, err
		}
		result["mon_activite"] = mine
	}
	return result, nil
}

// Filtered computes totals for the history view; filters vary per request so
// these bypass the cache.
func (s *Service) Filtered(ctx context.Context, filter scan.HistoryFilter) (map[string]int, error) {
	total, valid, fraud, err := s.repo.FilteredCounts(ctx, filter)
	if err != nil {
		return nil, err
	}
	return map[string]int{
		"total_scans":       total,
		"scans_valides":     valid,
		"tentatives_fraude": fraud,
	}, nil
}

// Dashboard assembles the full admin dashboard payload.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	key, err := s.cache.BuildKey(ctx, "stats", "dashboard")
	if err != nil {
		return Dashboard{}, err
	}
	value, err, _ := s.group.Do(key, func() (interface{}, error) {
		var dashboard Dashboard
		err := s.cache.FetchJSON(ctx, key, &dashboard, func(ctx context.Context) (interface{}, error) {
			return s.buildDashboard(ctx)
		})
		return dashboard, err
	})
	if err != nil {
		return Dashboard{}, err
	}
	return value.(Dashboard), nil
}

// Warmup recomputes the cached rollups, invalidating stale versions first.
func (s *Service) Warmup(ctx context.Context) error {
	if err := s.cache.Bump(ctx); err != nil {
		return err
	}
	if _, err := s.Overview(ctx); err != nil {
		return err
	}
	_, err := s.Dashboard(ctx)
	return err
}

func (s *Service) overview(ctx context.Context) (Overview, error) {
	key, err := s.cache.BuildKey(ctx, "stats", "overview")
	if err != nil {
		return Overview{}, err
	}
	value, err, _ := s.group.Do(key, func() (interface{}, error) {
		var overview Overview
		err := s.cache.FetchJSON(ctx, key, &overview, func(ctx context.Context) (interface{}, error) {
			return s.repo.Overview(ctx)
		})
		return overview, err
	})
	if err != nil {
		return Overview{}, err
	}
	return value.(Overview), nil
}

func (s *Service) buildDashboard(ctx context.Context) (Dashboard, error) {
	overview, err := s.repo.Overview(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	flagged, err := s.repo.FlaggedCodes(ctx, 10)
	if err != nil {
		return Dashboard{}, err
	}
	weekAgo := time.Now().AddDate(0, 0, -7)
	activity, err := s.repo.AgentActivity(ctx, weekAgo, 10)
	if err != nil {
		return Dashboard{}, err
	}
	daily, err := s.repo.DailyCounts(ctx, 14)
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{Overview: overview, FlaggedCodes: flagged, Activity: activity, Daily: daily}, nil
}

func overviewMap(o Overview) map[string]int {
	return map[string]int{
		"total_scans":         o.TotalScans,
		"scans_valides":       o.ValidScans,
		"tentatives_fraude":   o.FraudAttempts,
		"codes_uniques":       o.UniqueCodes,
		"codes_frauduleux":    o.FraudCodes,
		"scans_aujourd_hui":   o.ScansToday,
		"scans_cette_semaine": o.ScansThisWeek,
		"scans_ce_mois":       o.ScansThisMonth,
	}
}
