package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"salonbook/internal/model"
)

// BlockPhone stops a normalized phone from booking at the shop. Blocking again updates the reason.
func (db *DB) BlockPhone(ctx context.Context, shopID int64, phone, reason string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO customer_blocklist (shop_id, phone, reason, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(shop_id, phone) DO UPDATE SET reason = excluded.reason`,
		shopID, phone, reason, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("block phone: %w", err)
	}
	return nil
}

// UnblockPhone lifts a block. ErrNotFound when the phone was not blocked.
func (db *DB) UnblockPhone(ctx context.Context, shopID int64, phone string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM customer_blocklist WHERE shop_id = ? AND phone = ?`, shopID, phone)
	if err != nil {
		return fmt.Errorf("unblock phone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetBlockedPhone returns the block for a phone, or ErrNotFound.
func (db *DB) GetBlockedPhone(ctx context.Context, shopID int64, phone string) (*model.BlockedPhone, error) {
	var b model.BlockedPhone
	err := db.QueryRowContext(ctx, `
		SELECT phone, reason, created_at FROM customer_blocklist
		WHERE shop_id = ? AND phone = ?`, shopID, phone).Scan(&b.Phone, &b.Reason, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blocked phone: %w", err)
	}
	return &b, nil
}

// ListBlockedPhones returns the shop's blocklist, newest first.
func (db *DB) ListBlockedPhones(ctx context.Context, shopID int64) ([]model.BlockedPhone, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT phone, reason, created_at FROM customer_blocklist
		WHERE shop_id = ?
		ORDER BY created_at DESC, phone`, shopID)
	if err != nil {
		return nil, fmt.Errorf("list blocked phones: %w", err)
	}
	defer rows.Close()

	out := []model.BlockedPhone{}
	for rows.Next() {
		var b model.BlockedPhone
		if err := rows.Scan(&b.Phone, &b.Reason, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
