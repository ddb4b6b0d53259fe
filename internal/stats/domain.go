package stats

import "time"

// Overview holds the global rollups shown on dashboards and /api/stats.
type Overview struct {
	TotalScans     int `json:"total_scans"`
	ValidScans     int `json:"scans_valides"`
	FraudAttempts  int `json:"tentatives_fraude"`
	UniqueCodes    int `json:"codes_uniques"`
	FraudCodes     int `json:"codes_frauduleux"`
	ScansToday     int `json:"scans_aujourd_hui"`
	ScansThisWeek  int `json:"scans_cette_semaine"`
	ScansThisMonth int `json:"scans_ce_mois"`
}

// AgentActivity is one row of the per-agent scan breakdown.
type AgentActivity struct {
	AgentID   int64  `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Scans     int    `json:"scans"`
	Frauds    int    `json:"fraudes"`
}

// FlaggedCode is a code currently marked fraudulent.
type FlaggedCode struct {
	Code          string    `json:"code"`
	ScanCount     int       `json:"scan_count"`
	LastScannedAt time.Time `json:"last_scanned_at"`
}

// DailyCount is one day of scan volume for the dashboard chart.
type DailyCount struct {
	Day    time.Time `json:"day"`
	Scans  int       `json:"scans"`
	Frauds int       `json:"fraudes"`
}

// Dashboard aggregates everything the admin dashboard renders.
type Dashboard struct {
	Overview     Overview        `json:"overview"`
	FlaggedCodes []FlaggedCode   `json:"codes_frauduleux"`
	Activity     []AgentActivity `json:"activite_agents"`
	Daily        []DailyCount    `json:"volume_quotidien"`
}
