package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"salonbook/internal/model"
)

const shopColumns = `id, slug, name, timezone, owner_chat_id, deposit_amount, deposit_deadline_hours,
	is_active, created_at, updated_at`

// HashToken returns the stored form of an admin token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func scanShop(row interface{ Scan(...any) error }) (*model.Shop, error) {
	var s model.Shop
	err := row.Scan(&s.ID, &s.Slug, &s.Name, &s.Timezone, &s.OwnerChatID, &s.DepositAmount,
		&s.DepositDeadlineHours, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetShopBySlug returns an active shop.
func (db *DB) GetShopBySlug(ctx context.Context, slug string) (*model.Shop, error) {
	row := db.QueryRowContext(ctx, `SELECT `+shopColumns+` FROM shops WHERE slug = ? AND is_active = 1`, slug)
	s, err := scanShop(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get shop %s: %w", slug, err)
	}
	return s, nil
}

func (db *DB) GetShopByID(ctx context.Context, id int64) (*model.Shop, error) {
	row := db.QueryRowContext(ctx, `SELECT `+shopColumns+` FROM shops WHERE id = ?`, id)
	s, err := scanShop(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get shop %d: %w", id, err)
	}
	return s, nil
}

// GetShopByAdminToken finds the active shop whose admin token matches.
func (db *DB) GetShopByAdminToken(ctx context.Context, token string) (*model.Shop, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	row := db.QueryRowContext(ctx,
		`SELECT `+shopColumns+` FROM shops WHERE admin_token_hash = ? AND is_active = 1`, HashToken(token))
	s, err := scanShop(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get shop by token: %w", err)
	}
	return s, nil
}

// ListShops returns all shops ordered by slug.
func (db *DB) ListShops(ctx context.Context, activeOnly bool) ([]model.Shop, error) {
	return listShops(ctx, db, activeOnly)
}

func listShops(ctx context.Context, q querier, activeOnly bool) ([]model.Shop, error) {
	query := `SELECT ` + shopColumns + ` FROM shops`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY slug`

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list shops: %w", err)
	}
	defer rows.Close()

	var shops []model.Shop
	for rows.Next() {
		s, err := scanShop(rows)
		if err != nil {
			return nil, err
		}
		shops = append(shops, *s)
	}
	return shops, rows.Err()
}

// UpsertShop inserts or updates a shop by slug and returns its id. An empty adminToken
// keeps the stored token.
func (db *DB) UpsertShop(ctx context.Context, s *model.Shop, adminToken string) (int64, error) {
	return upsertShop(ctx, db, s, adminToken)
}

func upsertShop(ctx context.Context, q querier, s *model.Shop, adminToken string) (int64, error) {
	now := time.Now()
	var tokenHash sql.NullString
	if adminToken != "" {
		tokenHash = sql.NullString{String: HashToken(adminToken), Valid: true}
	}

	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO shops (slug, name, timezone, owner_chat_id, admin_token_hash,
			deposit_amount, deposit_deadline_hours, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			name = excluded.name,
			timezone = excluded.timezone,
			owner_chat_id = excluded.owner_chat_id,
			admin_token_hash = COALESCE(excluded.admin_token_hash, shops.admin_token_hash),
			deposit_amount = excluded.deposit_amount,
			deposit_deadline_hours = excluded.deposit_deadline_hours,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
		RETURNING id`,
		s.Slug, s.Name, s.Timezone, s.OwnerChatID, tokenHash,
		s.DepositAmount, s.DepositDeadlineHours, s.IsActive, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert shop %s: %w", s.Slug, err)
	}
	s.ID = id
	return id, nil
}
