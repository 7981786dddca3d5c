// Package segments classifies customers for the admin dashboard.
package segments

import (
	"math"
	"sort"
	"time"

	"salonbook/internal/model"
)

const (
	// VIPShare is the top fraction of paying customers treated as VIP.
	VIPShare = 0.2
	// AtRiskDays is the number of days without a visit after which a customer is at risk.
	AtRiskDays = 45
	// ReturnSoonDays is how far ahead a predicted next visit still counts as "soon".
	ReturnSoonDays = 3
)

const (
	SegmentVIP        = "vip"
	SegmentAtRisk     = "at_risk"
	SegmentReturnSoon = "return_soon"
)

// Profile is a customer with derived segment fields. Nothing here is persisted.
// NextVisit and DaysUntilNext are floored to whole days; IsReturnSoon uses the exact
// fractional offset.
type Profile struct {
	model.Customer
	IsVIP              bool       `json:"is_vip"`
	IsAtRisk           bool       `json:"is_at_risk"`
	IsReturnSoon       bool       `json:"is_return_soon"`
	DaysSinceLastVisit *int       `json:"days_since_last_visit,omitempty"`
	AvgCycleDays       *float64   `json:"avg_cycle_days,omitempty"`
	NextVisit          *time.Time `json:"next_visit,omitempty"`
	DaysUntilNext      *int       `json:"days_until_next,omitempty"`
}

// Segments returns the names of the segments the profile belongs to.
func (p Profile) Segments() []string {
	var out []string
	if p.IsVIP {
		out = append(out, SegmentVIP)
	}
	if p.IsAtRisk {
		out = append(out, SegmentAtRisk)
	}
	if p.IsReturnSoon {
		out = append(out, SegmentReturnSoon)
	}
	return out
}

// Summary counts customers per segment.
type Summary struct {
	Total      int   `json:"total"`
	VIP        int   `json:"vip"`
	AtRisk     int   `json:"at_risk"`
	ReturnSoon int   `json:"return_soon"`
	VIPCutoff  int64 `json:"vip_cutoff"`
}

// VIPCutoff returns the ceil(n*VIPShare)-th highest positive revenue, or 0 when no
// customer has revenue.
func VIPCutoff(customers []model.Customer) int64 {
	revenues := make([]int64, 0, len(customers))
	for _, c := range customers {
		if c.TotalRevenue > 0 {
			revenues = append(revenues, c.TotalRevenue)
		}
	}
	if len(revenues) == 0 {
		return 0
	}

	sort.Slice(revenues, func(i, j int) bool { return revenues[i] > revenues[j] })
	rank := int(math.Ceil(float64(len(revenues)) * VIPShare))
	if rank < 1 {
		rank = 1
	}
	return revenues[rank-1]
}

// Classify derives segment flags for every customer relative to now. Day differences are
// calendar days in now's location.
func Classify(customers []model.Customer, now time.Time) []Profile {
	cutoff := VIPCutoff(customers)
	today := calendarDay(now, now.Location())

	profiles := make([]Profile, 0, len(customers))
	for _, c := range customers {
		p := Profile{Customer: c}
		p.IsVIP = cutoff > 0 && c.TotalRevenue >= cutoff

		if c.LastVisit != nil {
			last := calendarDay(*c.LastVisit, now.Location())
			since := daysBetween(last, today)
			p.DaysSinceLastVisit = &since
			p.IsAtRisk = since >= AtRiskDays

			if c.VisitCount >= 2 && c.FirstVisitDate != nil {
				first := calendarDay(*c.FirstVisitDate, now.Location())
				avg := float64(daysBetween(first, last)) / float64(c.VisitCount-1)
				p.AvgCycleDays = &avg

				if avg > 0 {
					exact := avg - float64(since)
					until := int(math.Floor(exact))
					next := today.AddDate(0, 0, until)
					p.NextVisit = &next
					p.DaysUntilNext = &until
					p.IsReturnSoon = exact >= 0 && exact <= ReturnSoonDays
				}
			}
		}
		profiles = append(profiles, p)
	}
	return profiles
}

// Filter keeps profiles in the named segment. An empty name keeps everything.
func Filter(profiles []Profile, segment string) []Profile {
	if segment == "" {
		return profiles
	}
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		if (segment == SegmentVIP && p.IsVIP) ||
			(segment == SegmentAtRisk && p.IsAtRisk) ||
			(segment == SegmentReturnSoon && p.IsReturnSoon) {
			out = append(out, p)
		}
	}
	return out
}

// ValidSegment reports whether name is a known segment or empty.
func ValidSegment(name string) bool {
	switch name {
	case "", SegmentVIP, SegmentAtRisk, SegmentReturnSoon:
		return true
	}
	return false
}

// Summarize counts profiles per segment.
func Summarize(profiles []Profile, cutoff int64) Summary {
	s := Summary{Total: len(profiles), VIPCutoff: cutoff}
	for _, p := range profiles {
		if p.IsVIP {
			s.VIP++
		}
		if p.IsAtRisk {
			s.AtRisk++
		}
		if p.IsReturnSoon {
			s.ReturnSoon++
		}
	}
	return s
}

func calendarDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// daysBetween counts whole calendar days from a to b; both must be midnights in one location.
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
