package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout      = "2006-01-02"
	DefaultTimezone = "Asia/Seoul"
)

type Shop struct {
	ID                   int64     `json:"id"`
	Slug                 string    `json:"slug"`
	Name                 string    `json:"name"`
	Timezone             string    `json:"timezone"`
	OwnerChatID          int64     `json:"-"`
	DepositAmount        int64     `json:"deposit_amount"`
	DepositDeadlineHours int       `json:"deposit_deadline_hours"`
	IsActive             bool      `json:"is_active"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Location returns the shop's wall-clock timezone, falling back to DefaultTimezone.
func (s *Shop) Location() *time.Location {
	name := s.Timezone
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DaySchedule holds opening hours for one weekday. Times are "HH:MM" in shop local time.
type DaySchedule struct {
	OpenTime  string `json:"open_time"`
	CloseTime string `json:"close_time"`
	IsClosed  bool   `json:"is_closed"`
}

// DefaultDaySchedule is used for any weekday without explicit hours.
var DefaultDaySchedule = DaySchedule{OpenTime: "09:00", CloseTime: "18:00"}

// Validate checks that an open day has well-formed hours with open < close.
func (d DaySchedule) Validate() error {
	if d.IsClosed {
		return nil
	}
	open, err := ParseClock(d.OpenTime)
	if err != nil {
		return fmt.Errorf("open_time: %w", err)
	}
	closeAt, err := ParseClock(d.CloseTime)
	if err != nil {
		return fmt.Errorf("close_time: %w", err)
	}
	if open >= closeAt {
		return fmt.Errorf("open_time %s must be before close_time %s", d.OpenTime, d.CloseTime)
	}
	return nil
}

// WeeklySchedule maps each weekday to its hours.
type WeeklySchedule map[time.Weekday]DaySchedule

// DefaultWeeklySchedule returns 09:00-18:00 on every day.
func DefaultWeeklySchedule() WeeklySchedule {
	w := make(WeeklySchedule, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		w[d] = DefaultDaySchedule
	}
	return w
}

// Day returns hours for the weekday, or DefaultDaySchedule when unset.
func (w WeeklySchedule) Day(d time.Weekday) DaySchedule {
	if day, ok := w[d]; ok {
		return day
	}
	return DefaultDaySchedule
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekday accepts short or long English names ("mon", "Monday") and 0-6 (0=Sunday).
func ParseWeekday(s string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if d, ok := weekdayNames[key]; ok {
		return d, nil
	}
	if n, err := strconv.Atoi(key); err == nil && n >= 0 && n <= 6 {
		return time.Weekday(n), nil
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// ParseClock converts "HH:MM" to minutes since midnight. "24:00" is accepted as end of day.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid time format %q, expected HH:MM", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if hour < 0 || hour > 24 || minute < 0 || minute > 59 || (hour == 24 && minute != 0) {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return hour*60 + minute, nil
}

// FormatClock converts minutes since midnight back to "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ClosedDate is a one-off closure such as a holiday or vacation day.
type ClosedDate struct {
	Date   string `json:"date"`
	Reason string `json:"reason,omitempty"`
	Source string `json:"source,omitempty"` // "config" or "manual"
}

// SlotOverrides holds per-date manual adjustments keyed by ISO date.
type SlotOverrides struct {
	Blocked   map[string][]string `json:"blocked"`
	ForceOpen map[string][]string `json:"force_open"`
}

// NewSlotOverrides returns empty overrides.
func NewSlotOverrides() *SlotOverrides {
	return &SlotOverrides{
		Blocked:   make(map[string][]string),
		ForceOpen: make(map[string][]string),
	}
}

// BlockedOn returns blocked slot starts for a date.
func (o *SlotOverrides) BlockedOn(date string) []string {
	if o == nil {
		return nil
	}
	return o.Blocked[date]
}

// ForceOpenOn returns force-opened slot starts for a date.
func (o *SlotOverrides) ForceOpenOn(date string) []string {
	if o == nil {
		return nil
	}
	return o.ForceOpen[date]
}
