package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"salonbook/internal/model"
)

// HoursConfig is one weekday's opening hours.
type HoursConfig struct {
	OpenTime  string `yaml:"open_time"`  // "09:00"
	CloseTime string `yaml:"close_time"` // "18:00"
	Closed    bool   `yaml:"closed"`
}

// ClosedDateConfig is a one-off closure.
type ClosedDateConfig struct {
	Date   string `yaml:"date"` // "2026-01-01"
	Reason string `yaml:"reason"`
}

// HolidayConfig is a closure that applies to every shop.
type HolidayConfig struct {
	Date string `yaml:"date"`
	Name string `yaml:"name"`
}

type ServiceConfig struct {
	Name            string `yaml:"name"`
	DurationMinutes int    `yaml:"duration_minutes"`
	Price           int64  `yaml:"price"`
	IsActive        *bool  `yaml:"is_active,omitempty"`
}

type DepositConfig struct {
	Amount        int64 `yaml:"amount"`
	DeadlineHours int   `yaml:"deadline_hours"`
}

// LegacyConfig carries JSON blobs exported from the old storage format. Each blob that fails
// to parse is ignored and the documented default is used instead.
type LegacyConfig struct {
	BusinessDaysJSON   string `yaml:"business_days_json"`
	ClosedDatesJSON    string `yaml:"closed_dates_json"`
	BlockedSlotsJSON   string `yaml:"blocked_slots_json"`
	ForceOpenSlotsJSON string `yaml:"force_open_slots_json"`
}

// ShopConfig represents a single shop.
type ShopConfig struct {
	Slug        string                 `yaml:"slug"`
	Name        string                 `yaml:"name"`
	Timezone    string                 `yaml:"timezone"`
	OwnerChatID int64                  `yaml:"owner_chat_id"`
	AdminToken  string                 `yaml:"admin_token"`
	Active      *bool                  `yaml:"is_active,omitempty"`
	Hours       map[string]HoursConfig `yaml:"hours"` // keyed by weekday: mon..sun
	ClosedDates []ClosedDateConfig     `yaml:"closed_dates"`
	Services    []ServiceConfig        `yaml:"services"`
	Deposit     *DepositConfig         `yaml:"deposit,omitempty"`
	Legacy      *LegacyConfig          `yaml:"legacy,omitempty"`
}

// IsActive defaults to true when unset.
func (s *ShopConfig) IsActive() bool {
	return s.Active == nil || *s.Active
}

// DefaultsConfig represents global default settings.
type DefaultsConfig struct {
	Timezone string         `yaml:"timezone"`
	Hours    *HoursConfig   `yaml:"hours"`
	DaysOff  []string       `yaml:"days_off"` // weekday names
	Deposit  *DepositConfig `yaml:"deposit"`
}

// ShopsConfig is the root configuration for shops.yaml.
type ShopsConfig struct {
	Shops    []ShopConfig    `yaml:"shops"`
	Defaults DefaultsConfig  `yaml:"defaults"`
	Holidays []HolidayConfig `yaml:"holidays"`
}

// LoadShopsConfig loads and validates the shop catalogue. ${ENV} placeholders are expanded
// so admin tokens can stay out of the file.
func LoadShopsConfig(path string) (*ShopsConfig, error) {
	if path == "" {
		path = "configs/shops.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read shops config: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	var cfg ShopsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse shops config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate shops config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *ShopsConfig) Validate() error {
	if len(c.Shops) == 0 {
		return fmt.Errorf("no shops defined")
	}

	slugs := make(map[string]bool)
	tokens := make(map[string]bool)

	for i, shop := range c.Shops {
		if shop.Slug == "" {
			return fmt.Errorf("shop[%d]: slug is required", i)
		}
		if slugs[shop.Slug] {
			return fmt.Errorf("shop[%d]: duplicate slug '%s'", i, shop.Slug)
		}
		slugs[shop.Slug] = true

		if shop.Name == "" {
			return fmt.Errorf("shop[%d]: name is required", i)
		}
		if shop.AdminToken != "" {
			if tokens[shop.AdminToken] {
				return fmt.Errorf("shop[%d]: admin_token is shared with another shop", i)
			}
			tokens[shop.AdminToken] = true
		}
		if shop.Timezone != "" {
			if _, err := time.LoadLocation(shop.Timezone); err != nil {
				return fmt.Errorf("shop[%d]: unknown timezone '%s'", i, shop.Timezone)
			}
		}

		for day, h := range shop.Hours {
			if _, err := model.ParseWeekday(day); err != nil {
				return fmt.Errorf("shop[%d].hours: %w", i, err)
			}
			if err := validateHours(h, fmt.Sprintf("shop[%d].hours.%s", i, day)); err != nil {
				return err
			}
		}

		for j, d := range shop.ClosedDates {
			if _, err := time.Parse(model.DateLayout, d.Date); err != nil {
				return fmt.Errorf("shop[%d].closed_dates[%d]: invalid date format '%s', expected YYYY-MM-DD", i, j, d.Date)
			}
		}

		for j, svc := range shop.Services {
			if svc.Name == "" {
				return fmt.Errorf("shop[%d].services[%d]: name is required", i, j)
			}
			if svc.DurationMinutes <= 0 {
				return fmt.Errorf("shop[%d].services[%d]: duration_minutes must be positive", i, j)
			}
			if svc.Price < 0 {
				return fmt.Errorf("shop[%d].services[%d]: price cannot be negative", i, j)
			}
		}

		if shop.Deposit != nil {
			if err := validateDeposit(shop.Deposit, fmt.Sprintf("shop[%d].deposit", i)); err != nil {
				return err
			}
		}
	}

	if c.Defaults.Hours != nil {
		if err := validateHours(*c.Defaults.Hours, "defaults.hours"); err != nil {
			return err
		}
	}
	if c.Defaults.Timezone != "" {
		if _, err := time.LoadLocation(c.Defaults.Timezone); err != nil {
			return fmt.Errorf("defaults.timezone: unknown timezone '%s'", c.Defaults.Timezone)
		}
	}
	if c.Defaults.Deposit != nil {
		if err := validateDeposit(c.Defaults.Deposit, "defaults.deposit"); err != nil {
			return err
		}
	}

	for i, h := range c.Holidays {
		if h.Date == "" {
			return fmt.Errorf("holiday[%d]: date is required", i)
		}
		if _, err := time.Parse(model.DateLayout, h.Date); err != nil {
			return fmt.Errorf("holiday[%d]: invalid date format '%s', expected YYYY-MM-DD", i, h.Date)
		}
	}

	for i, d := range c.Defaults.DaysOff {
		if _, err := model.ParseWeekday(d); err != nil {
			return fmt.Errorf("defaults.days_off[%d]: %w", i, err)
		}
	}

	return nil
}

func validateHours(h HoursConfig, prefix string) error {
	if h.Closed {
		return nil
	}
	if h.OpenTime == "" {
		return fmt.Errorf("%s.open_time is required", prefix)
	}
	if h.CloseTime == "" {
		return fmt.Errorf("%s.close_time is required", prefix)
	}
	if err := (model.DaySchedule{OpenTime: h.OpenTime, CloseTime: h.CloseTime}).Validate(); err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	return nil
}

func validateDeposit(d *DepositConfig, prefix string) error {
	if d.Amount < 0 {
		return fmt.Errorf("%s.amount cannot be negative", prefix)
	}
	if d.Amount > 0 && d.DeadlineHours <= 0 {
		return fmt.Errorf("%s.deadline_hours must be positive when amount is set", prefix)
	}
	return nil
}

// applyDefaults fills shop fields left empty from the defaults block.
func (c *ShopsConfig) applyDefaults() {
	for i := range c.Shops {
		if c.Shops[i].Timezone == "" {
			c.Shops[i].Timezone = c.Defaults.Timezone
		}
		if c.Shops[i].Timezone == "" {
			c.Shops[i].Timezone = model.DefaultTimezone
		}
		if c.Shops[i].Deposit == nil && c.Defaults.Deposit != nil {
			d := *c.Defaults.Deposit
			c.Shops[i].Deposit = &d
		}
	}
}

// GetShopBySlug returns shop config by slug.
func (c *ShopsConfig) GetShopBySlug(slug string) *ShopConfig {
	for i := range c.Shops {
		if c.Shops[i].Slug == slug {
			return &c.Shops[i]
		}
	}
	return nil
}

// GetActiveShops returns only active shops.
func (c *ShopsConfig) GetActiveShops() []ShopConfig {
	result := make([]ShopConfig, 0)
	for _, shop := range c.Shops {
		if shop.IsActive() {
			result = append(result, shop)
		}
	}
	return result
}

// Schedule resolves the weekly hours of a shop. Precedence, lowest first: built-in default,
// defaults.hours, legacy business_days_json, defaults.days_off, the shop's own hours.
func (c *ShopsConfig) Schedule(shop *ShopConfig) model.WeeklySchedule {
	schedule := model.DefaultWeeklySchedule()
	if h := c.Defaults.Hours; h != nil {
		for wd := range schedule {
			schedule[wd] = toDaySchedule(*h)
		}
	}

	if shop.Legacy != nil && shop.Legacy.BusinessDaysJSON != "" {
		if legacy, ok := model.ParseLegacyBusinessDays(shop.Legacy.BusinessDaysJSON); ok {
			schedule = legacy
		}
	}

	for _, name := range c.Defaults.DaysOff {
		if wd, err := model.ParseWeekday(name); err == nil {
			schedule[wd] = model.DaySchedule{IsClosed: true}
		}
	}

	for name, h := range shop.Hours {
		if wd, err := model.ParseWeekday(name); err == nil {
			schedule[wd] = toDaySchedule(h)
		}
	}
	return schedule
}

// ClosedDates merges global holidays, the shop's closed dates and legacy closed dates,
// sorted and de-duplicated.
func (c *ShopsConfig) ClosedDates(shop *ShopConfig) []model.ClosedDate {
	seen := make(map[string]bool)
	var out []model.ClosedDate
	add := func(date, reason string) {
		if seen[date] {
			return
		}
		seen[date] = true
		out = append(out, model.ClosedDate{Date: date, Reason: reason, Source: "config"})
	}

	for _, h := range c.Holidays {
		add(h.Date, h.Name)
	}
	for _, d := range shop.ClosedDates {
		add(d.Date, d.Reason)
	}
	if shop.Legacy != nil {
		if dates, ok := model.ParseLegacyClosedDates(shop.Legacy.ClosedDatesJSON); ok {
			for _, d := range dates {
				if _, err := time.Parse(model.DateLayout, d); err == nil {
					add(d, "")
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// Overrides returns slot overrides imported from legacy JSON; empty when none.
func (c *ShopsConfig) Overrides(shop *ShopConfig) *model.SlotOverrides {
	o := model.NewSlotOverrides()
	if shop.Legacy == nil {
		return o
	}
	if blocked, ok := model.ParseLegacySlotMap(shop.Legacy.BlockedSlotsJSON); ok {
		o.Blocked = blocked
	}
	if forceOpen, ok := model.ParseLegacySlotMap(shop.Legacy.ForceOpenSlotsJSON); ok {
		o.ForceOpen = forceOpen
	}
	return o
}

// IsHoliday checks if a date is a global holiday.
func (c *ShopsConfig) IsHoliday(date time.Time) (bool, string) {
	dateStr := date.Format(model.DateLayout)
	for _, h := range c.Holidays {
		if h.Date == dateStr {
			return true, h.Name
		}
	}
	return false, ""
}

// String returns a summary of the configuration.
func (c *ShopsConfig) String() string {
	return fmt.Sprintf("ShopsConfig: %d shops (%d active), %d holidays",
		len(c.Shops), len(c.GetActiveShops()), len(c.Holidays))
}

func toDaySchedule(h HoursConfig) model.DaySchedule {
	if h.Closed {
		return model.DaySchedule{IsClosed: true}
	}
	return model.DaySchedule{OpenTime: h.OpenTime, CloseTime: h.CloseTime}
}
