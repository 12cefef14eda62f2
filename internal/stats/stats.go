// Package stats holds the read-side projections over Session and Blocked
// Attempt rows.  Every function is pure: callers fetch the rows for an
// account and a time window and pass them in together with "now".
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/iliyamo/brick-focus/internal/model"
)

// WeekDays is the look-back window of the weekly projection.
const WeekDays = 7

// DefaultTopBlocked is how many domains TopBlocked returns by default.
const DefaultTopBlocked = 5

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DayKey formats the calendar day of t in its own location.
func DayKey(t time.Time) string { return t.Format("2006-01-02") }

// TodayStart and WeekStart give the lower bounds callers use when querying
// rows for the two windows.
func TodayStart(now time.Time) time.Time { return StartOfDay(now) }

func WeekStart(now time.Time) time.Time {
	s := StartOfDay(now)
	return time.Date(s.Year(), s.Month(), s.Day()-WeekDays, 0, 0, 0, 0, s.Location())
}

// Today aggregates the sessions and attempts whose start falls inside the
// local calendar day of now.
func Today(now time.Time, sessions []model.Session, attempts []model.BlockedAttempt) model.PeriodStats {
	from := TodayStart(now)
	to := from.AddDate(0, 0, 1)
	return period(from, to, now.Location(), sessions, attempts, false)
}

// Week aggregates the last WeekDays calendar days plus today, grouped by day.
func Week(now time.Time, sessions []model.Session, attempts []model.BlockedAttempt) model.PeriodStats {
	from := WeekStart(now)
	to := TodayStart(now).AddDate(0, 0, 1)
	return period(from, to, now.Location(), sessions, attempts, true)
}

func period(from, to time.Time, loc *time.Location, sessions []model.Session, attempts []model.BlockedAttempt, byDay bool) model.PeriodStats {
	var out model.PeriodStats
	if byDay {
		out.ByDay = map[string]model.DayStats{}
	}
	for _, s := range sessions {
		if s.StartedAt.Before(from) || !s.StartedAt.Before(to) {
			continue
		}
		out.TotalSessions++
		if s.Completed {
			out.CompletedSessions++
		}
		secs := 0
		if s.DurationSeconds != nil {
			secs = *s.DurationSeconds
		}
		out.TotalSeconds += secs
		if byDay {
			k := DayKey(s.StartedAt.In(loc))
			d := out.ByDay[k]
			d.Sessions++
			d.Seconds += secs
			out.ByDay[k] = d
		}
	}
	for _, a := range attempts {
		if a.AttemptedAt.Before(from) || !a.AttemptedAt.Before(to) {
			continue
		}
		out.BlockedAttempts++
	}
	out.TotalMinutes = out.TotalSeconds / 60
	out.TotalHours = out.TotalSeconds / 3600
	return out
}

// Streak counts consecutive calendar days, walking backward from the day
// of now, that contain at least one session start.  A today without a
// session does not break the streak; the walk then starts at yesterday.
func Streak(now time.Time, sessions []model.Session) int {
	if len(sessions) == 0 {
		return 0
	}
	loc := now.Location()
	days := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		days[DayKey(s.StartedAt.In(loc))] = true
	}
	day := StartOfDay(now)
	if !days[DayKey(day)] {
		day = day.AddDate(0, 0, -1)
	}
	streak := 0
	for days[DayKey(day)] {
		streak++
		day = day.AddDate(0, 0, -1)
	}
	return streak
}

// TopBlocked counts attempts per domain and returns the limit most
// frequent, ties broken alphabetically.
func TopBlocked(attempts []model.BlockedAttempt, limit int) []model.DomainCount {
	if limit <= 0 {
		limit = DefaultTopBlocked
	}
	counts := map[string]int{}
	for _, a := range attempts {
		counts[a.Domain]++
	}
	out := make([]model.DomainCount, 0, len(counts))
	for d, n := range counts {
		out = append(out, model.DomainCount{Domain: d, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Domain < out[j].Domain
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// History summarises closed sessions: count, total and average minutes.
func History(sessions []model.Session) model.HistoryStats {
	var out model.HistoryStats
	var minutes float64
	for _, s := range sessions {
		if s.Open() {
			continue
		}
		out.TotalSessions++
		minutes += s.EndedAt.Sub(s.StartedAt).Minutes()
	}
	out.TotalMinutes = int(math.Round(minutes))
	if out.TotalSessions > 0 {
		out.AverageMinutes = int(math.Round(minutes / float64(out.TotalSessions)))
	}
	return out
}

// All builds every projection from one pair of row sets.  Today and Week
// pick their own windows out of the rows; TopBlocked counts every attempt
// given, so pass all of them for the all-time list.  The streak only sees
// the sessions it is given.
func All(now time.Time, sessions []model.Session, attempts []model.BlockedAttempt) model.Stats {
	top := TopBlocked(attempts, DefaultTopBlocked)
	return model.Stats{
		Today:      Today(now, sessions, attempts),
		Week:       Week(now, sessions, attempts),
		Streak:     Streak(now, sessions),
		TopBlocked: top,
	}
}

// Empty is the zeroed result returned when rows cannot be read.
func Empty() model.Stats {
	return model.Stats{
		Week:       model.PeriodStats{ByDay: map[string]model.DayStats{}},
		TopBlocked: []model.DomainCount{},
	}
}
