package model

import "time"

// Customer is materialized from bookings; one row per (shop, normalized phone).
type Customer struct {
	ID             int64      `json:"id"`
	ShopID         int64      `json:"shop_id"`
	Name           string     `json:"name"`
	Phone          string     `json:"phone"`
	TotalRevenue   int64      `json:"total_revenue"`
	VisitCount     int        `json:"visit_count"`
	FirstVisitDate *time.Time `json:"first_visit_date,omitempty"`
	LastVisit      *time.Time `json:"last_visit,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// BlockedPhone is a normalized phone number a shop no longer accepts bookings from.
type BlockedPhone struct {
	Phone     string    `json:"phone"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
