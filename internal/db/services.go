package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"salonbook/internal/model"
)

// ListServices returns a shop's services ordered by name.
func (db *DB) ListServices(ctx context.Context, shopID int64, activeOnly bool) ([]model.Service, error) {
	return listServices(ctx, db, shopID, activeOnly)
}

func listServices(ctx context.Context, q querier, shopID int64, activeOnly bool) ([]model.Service, error) {
	query := `SELECT id, shop_id, name, duration_minutes, price, is_active, created_at, updated_at
		FROM services WHERE shop_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY name`

	rows, err := q.QueryContext(ctx, query, shopID)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var services []model.Service
	for rows.Next() {
		var s model.Service
		if err := rows.Scan(&s.ID, &s.ShopID, &s.Name, &s.DurationMinutes, &s.Price, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		services = append(services, s)
	}
	return services, rows.Err()
}

// GetService returns a service of the given shop.
func (db *DB) GetService(ctx context.Context, shopID, id int64) (*model.Service, error) {
	var s model.Service
	err := db.QueryRowContext(ctx, `
		SELECT id, shop_id, name, duration_minutes, price, is_active, created_at, updated_at
		FROM services WHERE id = ? AND shop_id = ?`, id, shopID,
	).Scan(&s.ID, &s.ShopID, &s.Name, &s.DurationMinutes, &s.Price, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get service %d: %w", id, err)
	}
	return &s, nil
}

// UpsertService inserts or updates a service by (shop, name). Existing bookings keep the
// duration and price they were created with.
func (db *DB) UpsertService(ctx context.Context, s *model.Service) (int64, error) {
	return upsertService(ctx, db, s)
}

func upsertService(ctx context.Context, q querier, s *model.Service) (int64, error) {
	now := time.Now()
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO services (shop_id, name, duration_minutes, price, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(shop_id, name) DO UPDATE SET
			duration_minutes = excluded.duration_minutes,
			price = excluded.price,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
		RETURNING id`,
		s.ShopID, s.Name, s.DurationMinutes, s.Price, s.IsActive, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert service %s: %w", s.Name, err)
	}
	s.ID = id
	return id, nil
}
