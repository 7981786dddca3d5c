package model

import (
	"encoding/json"
	"strings"
)

// legacyDay is the camelCase shape used by the old JSON columns.
type legacyDay struct {
	OpenTime  string `json:"openTime"`
	CloseTime string `json:"closeTime"`
	IsClosed  bool   `json:"isClosed"`
}

// ParseLegacyBusinessDays decodes a JSON object keyed by weekday name. Empty input,
// malformed JSON, or an invalid day yields the default weekly schedule and ok=false.
func ParseLegacyBusinessDays(raw string) (WeeklySchedule, bool) {
	if strings.TrimSpace(raw) == "" {
		return DefaultWeeklySchedule(), false
	}

	var days map[string]legacyDay
	if err := json.Unmarshal([]byte(raw), &days); err != nil {
		return DefaultWeeklySchedule(), false
	}

	schedule := DefaultWeeklySchedule()
	for name, d := range days {
		wd, err := ParseWeekday(name)
		if err != nil {
			return DefaultWeeklySchedule(), false
		}
		day := DaySchedule{OpenTime: d.OpenTime, CloseTime: d.CloseTime, IsClosed: d.IsClosed}
		if err := day.Validate(); err != nil {
			return DefaultWeeklySchedule(), false
		}
		schedule[wd] = day
	}
	return schedule, true
}

// ParseLegacyClosedDates decodes a JSON array of ISO dates, falling back to none.
func ParseLegacyClosedDates(raw string) ([]string, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, false
	}
	var dates []string
	if err := json.Unmarshal([]byte(raw), &dates); err != nil {
		return nil, false
	}
	return dates, true
}

// ParseLegacySlotMap decodes a JSON object of date -> ["HH:MM", ...], falling back to empty.
func ParseLegacySlotMap(raw string) (map[string][]string, bool) {
	out := make(map[string][]string)
	if strings.TrimSpace(raw) == "" {
		return out, false
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return make(map[string][]string), false
	}
	return out, true
}
