package slots

import (
	"fmt"
	"sort"
	"time"

	"salonbook/internal/model"
)

const (
	// Granularity is the fixed spacing between candidate start times, in minutes.
	Granularity = 30
	// DefaultDurationMinutes is used when the caller leaves the duration unset.
	DefaultDurationMinutes = 60
	// ClosedSentinelTime is the time reported by the single entry of a closed day.
	ClosedSentinelTime = "00:00"
)

const (
	ReasonTemporaryClosure = "temporary closure"
	ReasonWeeklyDayOff     = "weekly day off"
	ReasonBlocked          = "manually blocked"
	ReasonBooked           = "already booked"
	ReasonPast             = "past"
)

// Slot is one candidate start time and its verdict.
type Slot struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
	Closed    bool   `json:"closed,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// BookedInterval is an existing booking occupying [Time, Time+DurationMinutes).
type BookedInterval struct {
	Time            string `json:"time"`
	DurationMinutes int    `json:"duration_minutes"`
}

// Request carries everything needed to resolve a date. Nil Schedule, ClosedDates and
// Overrides fall back to 09:00-18:00 daily and no closures or overrides.
type Request struct {
	Date            string
	DurationMinutes int
	Schedule        model.WeeklySchedule
	ClosedDates     []string
	Overrides       *model.SlotOverrides
	Bookings        []BookedInterval
	// NotBefore, when set, marks starts earlier than this "HH:MM" as past.
	NotBefore string
}

// ValidationError reports input that cannot be resolved.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type interval struct {
	start, end int
}

// Resolve computes the slot grid for req.Date. A closed date yields a single sentinel entry.
func Resolve(req Request) ([]Slot, error) {
	day, err := time.Parse(model.DateLayout, req.Date)
	if err != nil {
		return nil, invalid("date", "%q is not a YYYY-MM-DD date", req.Date)
	}

	duration := req.DurationMinutes
	switch {
	case duration == 0:
		duration = DefaultDurationMinutes
	case duration < 0:
		return nil, invalid("duration", "must be positive, got %d", duration)
	}

	schedule := req.Schedule
	if schedule == nil {
		schedule = model.DefaultWeeklySchedule()
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if err := schedule.Day(wd).Validate(); err != nil {
			return nil, invalid("schedule", "%s: %v", wd, err)
		}
	}

	blocked, err := clockSet("blocked", req.Overrides.BlockedOn(req.Date))
	if err != nil {
		return nil, err
	}
	forceOpen, err := clockSet("force_open", req.Overrides.ForceOpenOn(req.Date))
	if err != nil {
		return nil, err
	}

	booked := make([]interval, 0, len(req.Bookings))
	for _, b := range req.Bookings {
		start, err := model.ParseClock(b.Time)
		if err != nil {
			return nil, invalid("booking", "%v", err)
		}
		if b.DurationMinutes <= 0 {
			return nil, invalid("booking", "duration must be positive at %s", b.Time)
		}
		booked = append(booked, interval{start: start, end: start + b.DurationMinutes})
	}

	notBefore := -1
	if req.NotBefore != "" {
		if notBefore, err = model.ParseClock(req.NotBefore); err != nil {
			return nil, invalid("not_before", "%v", err)
		}
	}

	for _, d := range req.ClosedDates {
		if d == req.Date {
			return []Slot{closedSentinel(ReasonTemporaryClosure)}, nil
		}
	}

	daySchedule := schedule.Day(day.Weekday())
	if daySchedule.IsClosed {
		if len(forceOpen) == 0 {
			return []Slot{closedSentinel(ReasonWeeklyDayOff)}, nil
		}
		return forceOpenedDayOff(forceOpen, blocked, notBefore), nil
	}

	// Validated above.
	open, _ := model.ParseClock(daySchedule.OpenTime)
	closeAt, _ := model.ParseClock(daySchedule.CloseTime)

	result := make([]Slot, 0, (closeAt-open)/Granularity+1)
	for start := open; start+duration <= closeAt; start += Granularity {
		result = append(result, verdict(start, duration, blocked, forceOpen, booked, notBefore))
	}
	return result, nil
}

func verdict(start, duration int, blocked, forceOpen map[int]bool, booked []interval, notBefore int) Slot {
	slot := Slot{Time: model.FormatClock(start)}
	switch {
	case blocked[start]:
		slot.Reason = ReasonBlocked
	case notBefore >= 0 && start < notBefore:
		slot.Reason = ReasonPast
	case forceOpen[start]:
		slot.Available = true
	case overlapsAny(interval{start: start, end: start + duration}, booked):
		slot.Reason = ReasonBooked
	default:
		slot.Available = true
	}
	return slot
}

// forceOpenedDayOff lists only the force-opened starts of a weekly day off, in order.
func forceOpenedDayOff(forceOpen, blocked map[int]bool, notBefore int) []Slot {
	starts := make([]int, 0, len(forceOpen))
	for start := range forceOpen {
		starts = append(starts, start)
	}
	sort.Ints(starts)

	result := make([]Slot, 0, len(starts))
	for _, start := range starts {
		slot := Slot{Time: model.FormatClock(start), Available: true}
		switch {
		case blocked[start]:
			slot.Available = false
			slot.Reason = ReasonBlocked
		case notBefore >= 0 && start < notBefore:
			slot.Available = false
			slot.Reason = ReasonPast
		}
		result = append(result, slot)
	}
	return result
}

func closedSentinel(reason string) Slot {
	return Slot{Time: ClosedSentinelTime, Available: false, Closed: true, Reason: reason}
}

// overlapsAny uses half-open intervals so back-to-back bookings do not conflict.
func overlapsAny(slot interval, booked []interval) bool {
	for _, b := range booked {
		if slot.start < b.end && b.start < slot.end {
			return true
		}
	}
	return false
}

func clockSet(field string, values []string) (map[int]bool, error) {
	set := make(map[int]bool, len(values))
	for _, v := range values {
		m, err := model.ParseClock(v)
		if err != nil {
			return nil, invalid(field, "%v", err)
		}
		set[m] = true
	}
	return set, nil
}

// AvailableOnly filters the grid down to bookable starts.
func AvailableOnly(slots []Slot) []Slot {
	var available []Slot
	for _, s := range slots {
		if s.Available {
			available = append(available, s)
		}
	}
	return available
}

// IsAvailable reports whether start is an available entry in slots.
func IsAvailable(slots []Slot, start string) bool {
	for _, s := range slots {
		if s.Time == start {
			return s.Available
		}
	}
	return false
}

// FormatDuration formats minutes the way notifications show them, e.g. "1시간 30분".
func FormatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d분", minutes)
	}
	hours := minutes / 60
	mins := minutes % 60
	if mins == 0 {
		return fmt.Sprintf("%d시간", hours)
	}
	return fmt.Sprintf("%d시간 %d분", hours, mins)
}
