package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"salonbook/internal/model"
)

// FindCustomerByPhone looks up a customer by normalized phone.
func (db *DB) FindCustomerByPhone(ctx context.Context, shopID int64, phone string) (*model.Customer, error) {
	var c model.Customer
	err := db.QueryRowContext(ctx, `
		SELECT id, shop_id, name, phone, created_at, updated_at
		FROM customers WHERE shop_id = ? AND phone = ?`, shopID, phone,
	).Scan(&c.ID, &c.ShopID, &c.Name, &c.Phone, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find customer: %w", err)
	}
	return &c, nil
}

// CreateCustomer inserts a customer and records its first name. A concurrent insert of the
// same phone returns the existing row.
func (db *DB) CreateCustomer(ctx context.Context, c *model.Customer) error {
	now := time.Now()
	id, err := upsertCustomer(ctx, db, c.ShopID, c.Name, c.Phone, now)
	if err != nil {
		return err
	}
	c.ID = id
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

// upsertCustomer returns the id of the (shop, phone) customer, creating it on first sight.
// The stored name never changes; every name is added to customer_names.
func upsertCustomer(ctx context.Context, q querier, shopID int64, name, phone string, now time.Time) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO customers (shop_id, name, phone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(shop_id, phone) DO UPDATE SET updated_at = customers.updated_at
		RETURNING id`,
		shopID, name, phone, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create customer: %w", err)
	}
	if err := recordCustomerName(ctx, q, id, name, now); err != nil {
		return 0, err
	}
	return id, nil
}

// RecordCustomerName remembers a name a customer booked under.
func (db *DB) RecordCustomerName(ctx context.Context, customerID int64, name string) error {
	return recordCustomerName(ctx, db, customerID, name, time.Now())
}

func recordCustomerName(ctx context.Context, q querier, customerID int64, name string, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO customer_names (customer_id, name, first_seen) VALUES (?, ?, ?)
		ON CONFLICT(customer_id, name) DO NOTHING`, customerID, name, now)
	if err != nil {
		return fmt.Errorf("record customer name: %w", err)
	}
	return nil
}

// CustomerNames returns every name recorded for the customer, oldest first.
func (db *DB) CustomerNames(ctx context.Context, customerID int64) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM customer_names WHERE customer_id = ? ORDER BY first_seen, name`, customerID)
	if err != nil {
		return nil, fmt.Errorf("customer names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// ListCustomers returns the shop's customers with visit aggregates. A visit is a confirmed
// booking dated on or before today; revenue is the sum of those bookings' prices. Visit
// dates are interpreted in loc.
func (db *DB) ListCustomers(ctx context.Context, shopID int64, today string, loc *time.Location) ([]model.Customer, error) {
	if loc == nil {
		loc = time.UTC
	}
	rows, err := db.QueryContext(ctx, `
		SELECT c.id, c.shop_id, c.name, c.phone, c.created_at, c.updated_at,
		       COALESCE(SUM(b.price), 0), COUNT(b.id), MIN(b.date), MAX(b.date)
		FROM customers c
		LEFT JOIN bookings b ON b.customer_id = c.id AND b.status = 'confirmed' AND b.date <= ?
		WHERE c.shop_id = ?
		GROUP BY c.id
		ORDER BY c.name, c.id`, today, shopID)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	var out []model.Customer
	for rows.Next() {
		var c model.Customer
		var first, last sql.NullString
		if err := rows.Scan(&c.ID, &c.ShopID, &c.Name, &c.Phone, &c.CreatedAt, &c.UpdatedAt,
			&c.TotalRevenue, &c.VisitCount, &first, &last); err != nil {
			return nil, err
		}
		c.FirstVisitDate = parseDate(first, loc)
		c.LastVisit = parseDate(last, loc)
		out = append(out, c)
	}
	return out, rows.Err()
}

func parseDate(s sql.NullString, loc *time.Location) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.ParseInLocation(model.DateLayout, s.String, loc)
	if err != nil {
		return nil
	}
	return &t
}
