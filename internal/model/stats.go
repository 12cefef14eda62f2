package model

// PeriodStats is the aggregate over one time window (today or the last
// seven days).
type PeriodStats struct {
	TotalSessions     int                 `json:"totalSessions"`
	CompletedSessions int                 `json:"completedSessions"`
	TotalSeconds      int                 `json:"totalSeconds"`
	TotalMinutes      int                 `json:"totalMinutes"`
	TotalHours        int                 `json:"totalHours"`
	BlockedAttempts   int                 `json:"blockedAttempts"`
	ByDay             map[string]DayStats `json:"byDay,omitempty"`
}

// DayStats is one calendar day inside a PeriodStats.ByDay map keyed by
// YYYY-MM-DD in the caller's location.
type DayStats struct {
	Sessions int `json:"sessions"`
	Seconds  int `json:"seconds"`
}

// DomainCount pairs a blocked domain with how often it was attempted.
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

// HistoryStats summarises every closed session of an account.
type HistoryStats struct {
	TotalSessions  int `json:"totalSessions"`
	TotalMinutes   int `json:"totalMinutes"`
	AverageMinutes int `json:"averageMinutes"`
}

// Stats bundles every analytics projection.
type Stats struct {
	Today      PeriodStats   `json:"today"`
	Week       PeriodStats   `json:"week"`
	Streak     int           `json:"streak"`
	TopBlocked []DomainCount `json:"topBlocked"`
}
