package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"salonbook/internal/config"
	"salonbook/internal/model"
)

// SyncShopsFromConfig applies shops.yaml to the database in one transaction. It upserts
// shops, hours and services, replaces config-sourced closed dates, imports legacy overrides
// without touching ones edited since, and marks shops and services missing from the file
// inactive.
func (db *DB) SyncShopsFromConfig(ctx context.Context, cfg *config.ShopsConfig) error {
	if cfg == nil {
		return fmt.Errorf("shops config is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := db.syncShops(ctx, tx, cfg); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit shops sync: %w", err)
	}
	return nil
}

func (db *DB) syncShops(ctx context.Context, tx *sql.Tx, cfg *config.ShopsConfig) error {
	seen := make(map[int64]struct{})
	for i := range cfg.Shops {
		sc := &cfg.Shops[i]
		shop := &model.Shop{
			Slug:        sc.Slug,
			Name:        sc.Name,
			Timezone:    sc.Timezone,
			OwnerChatID: sc.OwnerChatID,
			IsActive:    sc.IsActive(),
		}
		if sc.Deposit != nil {
			shop.DepositAmount = sc.Deposit.Amount
			shop.DepositDeadlineHours = sc.Deposit.DeadlineHours
		}

		id, err := upsertShop(ctx, tx, shop, sc.AdminToken)
		if err != nil {
			return err
		}
		seen[id] = struct{}{}

		for day, hours := range cfg.Schedule(sc) {
			if err := setDayHours(ctx, tx, id, day, hours); err != nil {
				return fmt.Errorf("sync shop %s hours: %w", sc.Slug, err)
			}
		}

		if err := syncClosedDates(ctx, tx, id, cfg.ClosedDates(sc)); err != nil {
			return fmt.Errorf("sync shop %s closed dates: %w", sc.Slug, err)
		}

		if err := importOverrides(ctx, tx, id, cfg.Overrides(sc)); err != nil {
			return fmt.Errorf("sync shop %s overrides: %w", sc.Slug, err)
		}

		if err := syncServices(ctx, tx, id, sc.Services); err != nil {
			return fmt.Errorf("sync shop %s services: %w", sc.Slug, err)
		}
	}

	// Deactivate shops that disappeared from config.
	shops, err := listShops(ctx, tx, false)
	if err != nil {
		return err
	}
	for _, s := range shops {
		if _, ok := seen[s.ID]; ok || !s.IsActive {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE shops SET is_active = 0, updated_at = ? WHERE id = ?`, time.Now(), s.ID); err != nil {
			return fmt.Errorf("deactivate shop %s: %w", s.Slug, err)
		}
		db.logger.Info().Str("shop", s.Slug).Msg("Shop removed from config, deactivated")
	}

	return nil
}

// syncClosedDates replaces config-sourced closed dates. Dates added by the owner stay.
func syncClosedDates(ctx context.Context, q querier, shopID int64, dates []model.ClosedDate) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM shop_closed_dates WHERE shop_id = ? AND source = ?`, shopID, ClosedSourceConfig); err != nil {
		return err
	}
	for _, d := range dates {
		var existing string
		err := q.QueryRowContext(ctx,
			`SELECT source FROM shop_closed_dates WHERE shop_id = ? AND date = ?`, shopID, d.Date,
		).Scan(&existing)
		if err == nil {
			continue // owner already closed the date by hand
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		d.Source = ClosedSourceConfig
		if err := addClosedDate(ctx, q, shopID, d); err != nil {
			return err
		}
	}
	return nil
}

func importOverrides(ctx context.Context, q querier, shopID int64, o *model.SlotOverrides) error {
	insert := func(byDate map[string][]string, kind string) error {
		for date, times := range byDate {
			for _, t := range times {
				if _, err := q.ExecContext(ctx, `
					INSERT INTO shop_slot_overrides (shop_id, date, time, kind, updated_at)
					VALUES (?, ?, ?, ?, ?)
					ON CONFLICT(shop_id, date, time) DO NOTHING`,
					shopID, date, t, kind, time.Now(),
				); err != nil {
					return err
				}
			}
		}
		return nil
	}
	// Blocked first so it wins a slot listed in both.
	if err := insert(o.Blocked, OverrideBlocked); err != nil {
		return err
	}
	return insert(o.ForceOpen, OverrideForceOpen)
}

func syncServices(ctx context.Context, q querier, shopID int64, services []config.ServiceConfig) error {
	keep := make(map[int64]struct{}, len(services))
	for _, sc := range services {
		svc := &model.Service{
			ShopID:          shopID,
			Name:            sc.Name,
			DurationMinutes: sc.DurationMinutes,
			Price:           sc.Price,
			IsActive:        sc.IsActive == nil || *sc.IsActive,
		}
		id, err := upsertService(ctx, q, svc)
		if err != nil {
			return err
		}
		keep[id] = struct{}{}
	}

	existing, err := listServices(ctx, q, shopID, true)
	if err != nil {
		return err
	}
	for _, s := range existing {
		if _, ok := keep[s.ID]; ok {
			continue
		}
		if _, err := q.ExecContext(ctx, `UPDATE services SET is_active = 0, updated_at = ? WHERE id = ?`, time.Now(), s.ID); err != nil {
			return err
		}
	}
	return nil
}
