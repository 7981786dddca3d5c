package model

import (
	"fmt"
	"time"
)

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusRejected  = "rejected"
)

const (
	DepositNone      = "none"
	DepositRequested = "requested"
	DepositPaid      = "paid"
	// DepositExpired is never stored; it is derived from a requested deposit past its deadline.
	DepositExpired = "expired"
)

// Booking is one reservation. DurationMinutes and Price are copied from the service at
// creation time so later service edits do not move existing bookings.
type Booking struct {
	ID              int64      `json:"id"`
	Ref             string     `json:"ref"`
	ShopID          int64      `json:"shop_id"`
	ServiceID       int64      `json:"service_id"`
	ServiceName     string     `json:"service_name,omitempty"`
	CustomerID      int64      `json:"customer_id,omitempty"`
	CustomerName    string     `json:"customer_name"`
	CustomerPhone   string     `json:"customer_phone"`
	Date            string     `json:"date"` // YYYY-MM-DD
	Time            string     `json:"time"` // HH:MM
	DurationMinutes int        `json:"duration_minutes"`
	Price           int64      `json:"price"`
	Status          string     `json:"status"`
	DepositStatus   string     `json:"deposit_status"`
	DepositAmount   int64      `json:"deposit_amount,omitempty"`
	DepositDeadline *time.Time `json:"deposit_deadline,omitempty"`
	Comment         string     `json:"comment,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsActive reports whether the booking still occupies its slot.
func (b *Booking) IsActive() bool {
	return b.Status == StatusPending || b.Status == StatusConfirmed
}

// EffectiveDepositStatus returns DepositExpired for a requested deposit whose deadline has passed.
func (b *Booking) EffectiveDepositStatus(now time.Time) string {
	if b.DepositStatus == DepositRequested && b.DepositDeadline != nil && now.After(*b.DepositDeadline) {
		return DepositExpired
	}
	if b.DepositStatus == "" {
		return DepositNone
	}
	return b.DepositStatus
}

// StartAt returns the booking start in loc.
func (b *Booking) StartAt(loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, b.Date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse booking date: %w", err)
	}
	minutes, err := ParseClock(b.Time)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse booking time: %w", err)
	}
	return day.Add(time.Duration(minutes) * time.Minute), nil
}

// EndClock returns the "HH:MM" end of the booking on its own day.
func (b *Booking) EndClock() string {
	start, err := ParseClock(b.Time)
	if err != nil {
		return ""
	}
	return FormatClock(start + b.DurationMinutes)
}
