package db

import (
	"context"
	"fmt"
	"time"

	"salonbook/internal/model"
)

const (
	OverrideBlocked   = "blocked"
	OverrideForceOpen = "force_open"
)

const (
	ClosedSourceConfig = "config"
	ClosedSourceManual = "manual"
)

// GetWeeklySchedule returns the stored hours. Weekdays without a row are left out so the
// caller's default applies.
func (db *DB) GetWeeklySchedule(ctx context.Context, shopID int64) (model.WeeklySchedule, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT day_of_week, open_time, close_time, is_closed
		FROM shop_hours WHERE shop_id = ?`, shopID)
	if err != nil {
		return nil, fmt.Errorf("get weekly schedule: %w", err)
	}
	defer rows.Close()

	schedule := make(model.WeeklySchedule, 7)
	for rows.Next() {
		var day int
		var d model.DaySchedule
		if err := rows.Scan(&day, &d.OpenTime, &d.CloseTime, &d.IsClosed); err != nil {
			return nil, err
		}
		schedule[time.Weekday(day)] = d
	}
	return schedule, rows.Err()
}

// SetDayHours upserts one weekday's hours.
func (db *DB) SetDayHours(ctx context.Context, shopID int64, day time.Weekday, d model.DaySchedule) error {
	return setDayHours(ctx, db, shopID, day, d)
}

func setDayHours(ctx context.Context, q querier, shopID int64, day time.Weekday, d model.DaySchedule) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO shop_hours (shop_id, day_of_week, open_time, close_time, is_closed, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(shop_id, day_of_week) DO UPDATE SET
			open_time = excluded.open_time,
			close_time = excluded.close_time,
			is_closed = excluded.is_closed,
			updated_at = excluded.updated_at`,
		shopID, int(day), d.OpenTime, d.CloseTime, d.IsClosed, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("set hours shop %d day %d: %w", shopID, day, err)
	}
	return nil
}

// AddClosedDate marks a date closed. Re-adding a date updates its reason and source.
func (db *DB) AddClosedDate(ctx context.Context, shopID int64, d model.ClosedDate) error {
	return addClosedDate(ctx, db, shopID, d)
}

func addClosedDate(ctx context.Context, q querier, shopID int64, d model.ClosedDate) error {
	source := d.Source
	if source == "" {
		source = ClosedSourceManual
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO shop_closed_dates (shop_id, date, reason, source, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(shop_id, date) DO UPDATE SET
			reason = excluded.reason,
			source = excluded.source`,
		shopID, d.Date, d.Reason, source, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("add closed date %s: %w", d.Date, err)
	}
	return nil
}

// RemoveClosedDate reopens a date. ErrNotFound when it was not closed.
func (db *DB) RemoveClosedDate(ctx context.Context, shopID int64, date string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM shop_closed_dates WHERE shop_id = ? AND date = ?`, shopID, date)
	if err != nil {
		return fmt.Errorf("remove closed date %s: %w", date, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListClosedDates returns closed dates from `from` (inclusive, YYYY-MM-DD) onward; an empty
// from returns all of them.
func (db *DB) ListClosedDates(ctx context.Context, shopID int64, from string) ([]model.ClosedDate, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT date, reason, source FROM shop_closed_dates
		WHERE shop_id = ? AND date >= ?
		ORDER BY date`, shopID, from)
	if err != nil {
		return nil, fmt.Errorf("list closed dates: %w", err)
	}
	defer rows.Close()

	var out []model.ClosedDate
	for rows.Next() {
		var d model.ClosedDate
		if err := rows.Scan(&d.Date, &d.Reason, &d.Source); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// IsClosedDate reports whether the date is a one-off closure.
func (db *DB) IsClosedDate(ctx context.Context, shopID int64, date string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM shop_closed_dates WHERE shop_id = ? AND date = ?`, shopID, date,
	).Scan(&count)
	return count > 0, err
}

// GetSlotOverrides returns the overrides stored for one date.
func (db *DB) GetSlotOverrides(ctx context.Context, shopID int64, date string) (*model.SlotOverrides, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT time, kind FROM shop_slot_overrides
		WHERE shop_id = ? AND date = ?
		ORDER BY time`, shopID, date)
	if err != nil {
		return nil, fmt.Errorf("get slot overrides: %w", err)
	}
	defer rows.Close()

	o := model.NewSlotOverrides()
	for rows.Next() {
		var t, kind string
		if err := rows.Scan(&t, &kind); err != nil {
			return nil, err
		}
		switch kind {
		case OverrideBlocked:
			o.Blocked[date] = append(o.Blocked[date], t)
		case OverrideForceOpen:
			o.ForceOpen[date] = append(o.ForceOpen[date], t)
		}
	}
	return o, rows.Err()
}

// SetSlotOverride records one override; a later call for the same slot replaces the kind.
func (db *DB) SetSlotOverride(ctx context.Context, shopID int64, date, t, kind string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO shop_slot_overrides (shop_id, date, time, kind, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(shop_id, date, time) DO UPDATE SET
			kind = excluded.kind,
			updated_at = excluded.updated_at`,
		shopID, date, t, kind, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("set slot override %s %s: %w", date, t, err)
	}
	return nil
}

// ReplaceSlotOverrides swaps all overrides of a date in one transaction. Callers must not
// pass the same time in both lists; if they do, blocked is written last and wins.
func (db *DB) ReplaceSlotOverrides(ctx context.Context, shopID int64, date string, blocked, forceOpen []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM shop_slot_overrides WHERE shop_id = ? AND date = ?`, shopID, date); err != nil {
		return fmt.Errorf("clear slot overrides: %w", err)
	}

	now := time.Now()
	write := func(times []string, kind string) error {
		for _, t := range times {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO shop_slot_overrides (shop_id, date, time, kind, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(shop_id, date, time) DO UPDATE SET kind = excluded.kind`,
				shopID, date, t, kind, now,
			); err != nil {
				return fmt.Errorf("insert slot override %s: %w", t, err)
			}
		}
		return nil
	}
	if err := write(forceOpen, OverrideForceOpen); err != nil {
		return err
	}
	if err := write(blocked, OverrideBlocked); err != nil {
		return err
	}

	return tx.Commit()
}
