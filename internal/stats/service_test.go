package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gatewatch/gatewatch/internal/scan"
)

type memoryRepo struct {
	overview      Overview
	agentToday    map[int64]int
	overviewCalls int
}

func (r *memoryRepo) Overview(ctx context.Context) (Overview, error) {
	r.overviewCalls++
	return r.overview, nil
}

func (r *memoryRepo) AgentScansToday(ctx context.Context, agentID int64) (int, error) {
	return r.agentToday[agentID], nil
}

func (r *memoryRepo) FilteredCounts(ctx context.Context, filter scan.HistoryFilter) (int, int, int, error) {
	if filter.Status == scan.StatusFraud {
		return 3, 0, 3, nil
	}
	return 10, 7, 3, nil
}

func (r *memoryRepo) FlaggedCodes(ctx context.Context, limit int) ([]FlaggedCode, error) {
	return []FlaggedCode{{Code: "BAD-1", ScanCount: 4, LastScannedAt: time.Now()}}, nil
}

func (r *memoryRepo) AgentActivity(ctx context.Context, since time.Time, limit int) ([]AgentActivity, error) {
	return []AgentActivity{{AgentID: 1, AgentName: "Awa", Scans: 12, Frauds: 1}}, nil
}

func (r *memoryRepo) DailyCounts(ctx context.Context, days int) ([]DailyCount, error) {
	return []DailyCount{{Day: time.Now(), Scans: 5, Frauds: 1}}, nil
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, NewCache(nil, time.Minute), nil)
}

func TestOverviewPayload(t *testing.T) {
	repo := &memoryRepo{overview: Overview{
		TotalScans:    42,
		ValidScans:    30,
		FraudAttempts: 12,
		UniqueCodes:   28,
		FraudCodes:    5,
		ScansToday:    7,
	}}
	svc := newTestService(repo)

	stats, err := svc.Overview(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, stats["total_scans"])
	require.Equal(t, 30, stats["scans_valides"])
	require.Equal(t, 12, stats["tentatives_fraude"])
	require.Equal(t, 28, stats["codes_uniques"])
	require.Equal(t, 5, stats["codes_frauduleux"])
	require.Equal(t, 7, stats["scans_aujourd_hui"])
}

func TestTodayIncludesAgentActivity(t *testing.T) {
	repo := &memoryRepo{agentToday: map[int64]int{9: 4}}
	svc := newTestService(repo)

	stats, err := svc.Today(context.Background(), 9)
	require.NoError(t, err)
	require.Equal(t, 4, stats["mon_activite"])

	anonymous, err := svc.Today(context.Background(), 0)
	require.NoError(t, err)
	require.NotContains(t, anonymous, "mon_activite")
}

func TestFilteredCounts(t *testing.T) {
	svc := newTestService(&memoryRepo{})

	stats, err := svc.Filtered(context.Background(), scan.HistoryFilter{Status: scan.StatusFraud})
	require.NoError(t, err)
	require.Equal(t, 3, stats["total_scans"])
	require.Equal(t, 3, stats["tentatives_fraude"])
	require.Equal(t, 0, stats["scans_valides"])
}

func TestDashboardAssembly(t *testing.T) {
	repo := &memoryRepo{overview: Overview{TotalScans: 5}}
	svc := newTestService(repo)

	dashboard, err := svc.Dashboard(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, dashboard.Overview.TotalScans)
	require.Len(t, dashboard.FlaggedCodes, 1)
	require.Equal(t, "BAD-1", dashboard.FlaggedCodes[0].Code)
	require.Len(t, dashboard.Activity, 1)
	require.Len(t, dashboard.Daily, 1)
}
