package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"salonbook/internal/model"
)

const bookingColumns = `b.id, b.ref, b.shop_id, b.service_id, COALESCE(s.name, ''), b.customer_id,
	b.customer_name, b.customer_phone, b.date, b.time, b.duration_minutes, b.price, b.status,
	b.deposit_status, b.deposit_amount, b.deposit_deadline, b.comment, b.created_at, b.updated_at`

const bookingFrom = ` FROM bookings b LEFT JOIN services s ON s.id = b.service_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*model.Booking, error) {
	var b model.Booking
	var customerID sql.NullInt64
	var deadline sql.NullTime
	err := row.Scan(&b.ID, &b.Ref, &b.ShopID, &b.ServiceID, &b.ServiceName, &customerID,
		&b.CustomerName, &b.CustomerPhone, &b.Date, &b.Time, &b.DurationMinutes, &b.Price, &b.Status,
		&b.DepositStatus, &b.DepositAmount, &deadline, &b.Comment, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if customerID.Valid {
		b.CustomerID = customerID.Int64
	}
	if deadline.Valid {
		t := deadline.Time
		b.DepositDeadline = &t
	}
	return &b, nil
}

func queryBookings(ctx context.Context, q querier, query string, args ...any) ([]model.Booking, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// CreateBooking inserts b after guard approves the active bookings already on that date.
// The read and the insert run in one write transaction, so two requests for the same slot
// are serialized. guard may be nil. Without a CustomerID the customer is looked up or created
// by phone in the same transaction.
func (db *DB) CreateBooking(ctx context.Context, b *model.Booking, guard func(active []model.Booking) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if guard != nil {
		active, err := queryBookings(ctx, tx, `SELECT `+bookingColumns+bookingFrom+`
			WHERE b.shop_id = ? AND b.date = ? AND b.status IN ('pending', 'confirmed')
			ORDER BY b.time, b.id`, b.ShopID, b.Date)
		if err != nil {
			return fmt.Errorf("list active bookings: %w", err)
		}
		if err := guard(active); err != nil {
			return err
		}
	}

	now := time.Now()
	if b.Status == "" {
		b.Status = model.StatusPending
	}
	if b.DepositStatus == "" {
		b.DepositStatus = model.DepositNone
	}
	// The customer exists only once the guard has let the booking through.
	custID := b.CustomerID
	if custID == 0 && b.CustomerPhone != "" {
		custID, err = upsertCustomer(ctx, tx, b.ShopID, b.CustomerName, b.CustomerPhone, now)
		if err != nil {
			return err
		}
	}
	var customerID sql.NullInt64
	if custID > 0 {
		customerID = sql.NullInt64{Int64: custID, Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO bookings (ref, shop_id, service_id, customer_id, customer_name, customer_phone,
			date, time, duration_minutes, price, status, deposit_status, deposit_amount, comment,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Ref, b.ShopID, b.ServiceID, customerID, b.CustomerName, b.CustomerPhone,
		b.Date, b.Time, b.DurationMinutes, b.Price, b.Status, b.DepositStatus, b.DepositAmount, b.Comment,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit booking: %w", err)
	}

	b.ID = id
	b.CustomerID = custID
	b.CreatedAt = now
	b.UpdatedAt = now
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*model.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+bookingFrom+` WHERE b.id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %d: %w", id, err)
	}
	return b, nil
}

func (db *DB) GetBookingByRef(ctx context.Context, ref string) (*model.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+bookingFrom+` WHERE b.ref = ?`, ref)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %s: %w", ref, err)
	}
	return b, nil
}

// ListBookingsByDate returns every booking of the date regardless of status.
func (db *DB) ListBookingsByDate(ctx context.Context, shopID int64, date string) ([]model.Booking, error) {
	out, err := queryBookings(ctx, db, `SELECT `+bookingColumns+bookingFrom+`
		WHERE b.shop_id = ? AND b.date = ?
		ORDER BY b.time, b.id`, shopID, date)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return out, nil
}

// ListActiveBookings returns pending and confirmed bookings that occupy the date.
func (db *DB) ListActiveBookings(ctx context.Context, shopID int64, date string) ([]model.Booking, error) {
	out, err := queryBookings(ctx, db, `SELECT `+bookingColumns+bookingFrom+`
		WHERE b.shop_id = ? AND b.date = ? AND b.status IN ('pending', 'confirmed')
		ORDER BY b.time, b.id`, shopID, date)
	if err != nil {
		return nil, fmt.Errorf("list active bookings: %w", err)
	}
	return out, nil
}

// UpdateBookingStatus moves a booking from one status to another. ErrConflict when the
// booking is no longer in `from`.
func (db *DB) UpdateBookingStatus(ctx context.Context, id int64, from, to string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`, to, time.Now(), id, from)
	if err != nil {
		return fmt.Errorf("update booking %d status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// RequestDeposit moves the deposit from none to requested. deadline is stored in UTC.
func (db *DB) RequestDeposit(ctx context.Context, id, amount int64, deadline time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings SET deposit_status = 'requested', deposit_amount = ?, deposit_deadline = ?, updated_at = ?
		WHERE id = ? AND deposit_status = 'none' AND status IN ('pending', 'confirmed')`,
		amount, deadline.UTC().Truncate(time.Second), time.Now(), id)
	if err != nil {
		return fmt.Errorf("request deposit %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// MarkDepositPaid moves the deposit from requested to paid.
func (db *DB) MarkDepositPaid(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings SET deposit_status = 'paid', updated_at = ?
		WHERE id = ? AND deposit_status = 'requested'`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("mark deposit paid %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// ListExpiredDeposits returns pending bookings whose requested deposit passed its deadline.
func (db *DB) ListExpiredDeposits(ctx context.Context, now time.Time) ([]model.Booking, error) {
	out, err := queryBookings(ctx, db, `SELECT `+bookingColumns+bookingFrom+`
		WHERE b.status = 'pending' AND b.deposit_status = 'requested'
		  AND b.deposit_deadline IS NOT NULL AND b.deposit_deadline < ?
		ORDER BY b.deposit_deadline, b.id`, now.UTC().Truncate(time.Second))
	if err != nil {
		return nil, fmt.Errorf("list expired deposits: %w", err)
	}
	return out, nil
}
