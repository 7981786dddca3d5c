// Package booking owns the booking and deposit lifecycle on top of the slot resolver.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"salonbook/internal/availability"
	"salonbook/internal/db"
	"salonbook/internal/events"
	"salonbook/internal/metrics"
	"salonbook/internal/model"
	"salonbook/internal/slots"
)

// DefaultDepositDeadline applies when a shop asks for a deposit without a deadline.
const DefaultDepositDeadline = 24 * time.Hour

var (
	ErrNotFound          = db.ErrNotFound
	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDepositExpired    = errors.New("deposit deadline passed")
	ErrCustomerBlocked   = errors.New("customer blocked")
)

// Store provides booking persistence.
type Store interface {
	GetShopBySlug(ctx context.Context, slug string) (*model.Shop, error)
	GetShopByID(ctx context.Context, id int64) (*model.Shop, error)
	GetService(ctx context.Context, shopID, id int64) (*model.Service, error)

	CreateBooking(ctx context.Context, b *model.Booking, guard func(active []model.Booking) error) error
	GetBooking(ctx context.Context, id int64) (*model.Booking, error)
	UpdateBookingStatus(ctx context.Context, id int64, from, to string) error
	RequestDeposit(ctx context.Context, id, amount int64, deadline time.Time) error
	MarkDepositPaid(ctx context.Context, id int64) error
	ListExpiredDeposits(ctx context.Context, now time.Time) ([]model.Booking, error)

	FindCustomerByPhone(ctx context.Context, shopID int64, phone string) (*model.Customer, error)
	GetBlockedPhone(ctx context.Context, shopID int64, phone string) (*model.BlockedPhone, error)
}

// Availability loads resolver snapshots and drops cached slot lists.
type Availability interface {
	Snapshot(ctx context.Context, shop *model.Shop, date string) (*availability.Snapshot, error)
	Invalidate(ctx context.Context, shopID int64, date string)
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	PublishJSON(eventType string, shopID int64, payload any) error
}

// Service provides booking operations.
type Service struct {
	store  Store
	slots  Availability
	events EventPublisher
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a new booking service. events may be nil.
func NewService(store Store, avail Availability, publisher EventPublisher, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{
		store:  store,
		slots:  avail,
		events: publisher,
		logger: logger.With().Str("component", "booking").Logger(),
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CreateRequest is a customer's booking request.
type CreateRequest struct {
	ShopSlug      string `json:"-"`
	ServiceID     int64  `json:"service_id"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	Comment       string `json:"comment,omitempty"`
}

func invalid(field, format string, args ...any) error {
	return &slots.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Create books a service at an available start time. The start is re-checked against the
// resolver inside the insert transaction.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Booking, error) {
	name := strings.TrimSpace(req.CustomerName)
	if name == "" {
		return nil, invalid("customer_name", "is required")
	}
	phone := NormalizePhone(req.CustomerPhone)
	if phone == "" {
		return nil, invalid("customer_phone", "%q is not a phone number", req.CustomerPhone)
	}
	start, err := model.ParseClock(req.Time)
	if err != nil {
		return nil, invalid("time", "%v", err)
	}
	startTime := model.FormatClock(start)

	shop, err := s.store.GetShopBySlug(ctx, req.ShopSlug)
	if err != nil {
		return nil, fmt.Errorf("get shop: %w", err)
	}
	svc, err := s.store.GetService(ctx, shop.ID, req.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("get service: %w", err)
	}
	if !svc.IsActive {
		return nil, invalid("service_id", "service %d is not offered", svc.ID)
	}

	blocked, err := s.store.GetBlockedPhone(ctx, shop.ID, phone)
	switch {
	case err == nil:
		s.logger.Info().Str("shop", shop.Slug).Str("phone", phone).Str("reason", blocked.Reason).Msg("Booking from blocked phone refused")
		return nil, fmt.Errorf("%w: %s", ErrCustomerBlocked, phone)
	case !errors.Is(err, db.ErrNotFound):
		return nil, fmt.Errorf("check blocklist: %w", err)
	}

	snap, err := s.slots.Snapshot(ctx, shop, req.Date)
	if err != nil {
		return nil, err
	}

	known, err := s.store.FindCustomerByPhone(ctx, shop.ID, phone)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("find customer: %w", err)
	}

	b := &model.Booking{
		Ref:             newRef(),
		ShopID:          shop.ID,
		ServiceID:       svc.ID,
		ServiceName:     svc.Name,
		CustomerName:    name,
		CustomerPhone:   phone,
		Date:            req.Date,
		Time:            startTime,
		DurationMinutes: svc.DurationMinutes,
		Price:           svc.Price,
		Status:          model.StatusPending,
		DepositStatus:   model.DepositNone,
		Comment:         strings.TrimSpace(req.Comment),
	}

	guard := func(active []model.Booking) error {
		resolved, err := snap.Resolve(svc.DurationMinutes, active)
		if err != nil {
			return err
		}
		if !slots.IsAvailable(resolved, startTime) {
			return fmt.Errorf("%w: %s %s", ErrSlotUnavailable, req.Date, startTime)
		}
		return nil
	}
	if err := s.store.CreateBooking(ctx, b, guard); err != nil {
		return nil, err
	}

	s.noteAlternateName(known, name)
	s.slots.Invalidate(ctx, shop.ID, b.Date)
	metrics.IncBooking(b.Status)
	s.logger.Info().
		Str("shop", shop.Slug).
		Str("ref", b.Ref).
		Str("date", b.Date).
		Str("time", b.Time).
		Msg("Booking created")
	s.publish(events.BookingCreated, shop, b, "")
	return b, nil
}

// noteAlternateName reports a booking made under a name other than the stored one. The
// store keeps the original identity and records the new name next to it.
func (s *Service) noteAlternateName(known *model.Customer, name string) {
	if known == nil || known.Name == name {
		return
	}
	metrics.IncIdentityConflict()
	s.logger.Warn().
		Int64("customer_id", known.ID).
		Str("stored_name", known.Name).
		Str("booked_name", name).
		Msg("Customer booked under a different name")
}

// Confirm accepts a pending booking.
func (s *Service) Confirm(ctx context.Context, shopID, id int64) (*model.Booking, error) {
	return s.transition(ctx, shopID, id, model.StatusConfirmed, events.BookingConfirmed, "")
}

// Reject declines a pending booking.
func (s *Service) Reject(ctx context.Context, shopID, id int64, reason string) (*model.Booking, error) {
	return s.transition(ctx, shopID, id, model.StatusRejected, events.BookingRejected, reason)
}

// Cancel cancels a pending or confirmed booking.
func (s *Service) Cancel(ctx context.Context, shopID, id int64, reason string) (*model.Booking, error) {
	return s.transition(ctx, shopID, id, model.StatusCancelled, events.BookingCancelled, reason)
}

func (s *Service) transition(ctx context.Context, shopID, id int64, to, eventType, reason string) (*model.Booking, error) {
	b, shop, err := s.load(ctx, shopID, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(b.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, to)
	}
	if to == model.StatusConfirmed && b.EffectiveDepositStatus(s.now()) == model.DepositExpired {
		return nil, ErrDepositExpired
	}

	if err := s.store.UpdateBookingStatus(ctx, b.ID, b.Status, to); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, fmt.Errorf("%w: booking %d changed concurrently", ErrInvalidTransition, id)
		}
		return nil, err
	}
	from := b.Status
	b.Status = to

	if !b.IsActive() {
		s.slots.Invalidate(ctx, shop.ID, b.Date)
	}
	metrics.IncBooking(to)
	s.logger.Info().
		Str("shop", shop.Slug).
		Str("ref", b.Ref).
		Str("from", from).
		Str("to", to).
		Msg("Booking status changed")
	s.publish(eventType, shop, b, reason)
	return b, nil
}

// RequestDeposit asks the customer for the shop's deposit, due within the shop's deadline.
func (s *Service) RequestDeposit(ctx context.Context, shopID, id int64) (*model.Booking, error) {
	b, shop, err := s.load(ctx, shopID, id)
	if err != nil {
		return nil, err
	}
	if shop.DepositAmount <= 0 {
		return nil, invalid("deposit", "shop %s has no deposit policy", shop.Slug)
	}
	if !b.IsActive() || !CanTransitionDeposit(b.EffectiveDepositStatus(s.now()), model.DepositRequested) {
		return nil, fmt.Errorf("%w: deposit %s on %s booking", ErrInvalidTransition, b.DepositStatus, b.Status)
	}

	window := time.Duration(shop.DepositDeadlineHours) * time.Hour
	if window <= 0 {
		window = DefaultDepositDeadline
	}
	deadline := s.now().Add(window).UTC().Truncate(time.Second)

	if err := s.store.RequestDeposit(ctx, b.ID, shop.DepositAmount, deadline); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, fmt.Errorf("%w: booking %d changed concurrently", ErrInvalidTransition, id)
		}
		return nil, err
	}
	b.DepositStatus = model.DepositRequested
	b.DepositAmount = shop.DepositAmount
	b.DepositDeadline = &deadline

	s.publish(events.DepositRequested, shop, b, "")
	return b, nil
}

// MarkDepositPaid records payment of a requested deposit that has not expired.
func (s *Service) MarkDepositPaid(ctx context.Context, shopID, id int64) (*model.Booking, error) {
	b, shop, err := s.load(ctx, shopID, id)
	if err != nil {
		return nil, err
	}
	switch status := b.EffectiveDepositStatus(s.now()); {
	case status == model.DepositExpired:
		return nil, ErrDepositExpired
	case !CanTransitionDeposit(status, model.DepositPaid):
		return nil, fmt.Errorf("%w: deposit is %s", ErrInvalidTransition, status)
	}

	if err := s.store.MarkDepositPaid(ctx, b.ID); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, fmt.Errorf("%w: booking %d changed concurrently", ErrInvalidTransition, id)
		}
		return nil, err
	}
	b.DepositStatus = model.DepositPaid

	s.publish(events.DepositPaid, shop, b, "")
	return b, nil
}

// ExpireDeposits handles pending bookings whose deposit deadline has passed. With autoCancel
// they are cancelled and their slots freed; otherwise only a deposit.expired event is
// published. It returns how many bookings were found.
func (s *Service) ExpireDeposits(ctx context.Context, autoCancel bool) (int, error) {
	expired, err := s.store.ListExpiredDeposits(ctx, s.now())
	if err != nil {
		return 0, err
	}
	metrics.AddDepositsExpired(len(expired))

	shops := make(map[int64]*model.Shop)
	for i := range expired {
		b := &expired[i]
		shop, ok := shops[b.ShopID]
		if !ok {
			if shop, err = s.store.GetShopByID(ctx, b.ShopID); err != nil {
				return i, fmt.Errorf("get shop %d: %w", b.ShopID, err)
			}
			shops[b.ShopID] = shop
		}

		if !autoCancel {
			s.publish(events.DepositExpired, shop, b, "")
			continue
		}

		if err := s.store.UpdateBookingStatus(ctx, b.ID, model.StatusPending, model.StatusCancelled); err != nil {
			if errors.Is(err, db.ErrConflict) {
				continue // confirmed or cancelled in the meantime
			}
			return i, err
		}
		b.Status = model.StatusCancelled
		s.slots.Invalidate(ctx, shop.ID, b.Date)
		metrics.IncBooking(model.StatusCancelled)
		s.logger.Info().Str("shop", shop.Slug).Str("ref", b.Ref).Msg("Booking cancelled, deposit expired")
		s.publish(events.BookingCancelled, shop, b, "deposit expired")
	}
	return len(expired), nil
}

// RunDepositSweep calls ExpireDeposits on every tick until ctx is done.
func (s *Service) RunDepositSweep(ctx context.Context, interval time.Duration, autoCancel bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ExpireDeposits(ctx, autoCancel)
			if err != nil {
				s.logger.Error().Err(err).Msg("Deposit sweep failed")
				continue
			}
			if n > 0 {
				s.logger.Info().Int("bookings", n).Bool("auto_cancel", autoCancel).Msg("Expired deposits handled")
			}
		}
	}
}

// load returns the booking and its shop. Bookings of other shops are reported as not found.
func (s *Service) load(ctx context.Context, shopID, id int64) (*model.Booking, *model.Shop, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get booking: %w", err)
	}
	if shopID != 0 && b.ShopID != shopID {
		return nil, nil, fmt.Errorf("get booking: %w", ErrNotFound)
	}
	shop, err := s.store.GetShopByID(ctx, b.ShopID)
	if err != nil {
		return nil, nil, fmt.Errorf("get shop: %w", err)
	}
	return b, shop, nil
}

func (s *Service) publish(eventType string, shop *model.Shop, b *model.Booking, reason string) {
	if s.events == nil {
		return
	}
	payload := events.BookingPayload{
		Booking:     *b,
		ShopSlug:    shop.Slug,
		ShopName:    shop.Name,
		OwnerChatID: shop.OwnerChatID,
		Reason:      reason,
	}
	if err := s.events.PublishJSON(eventType, shop.ID, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Str("ref", b.Ref).Msg("Event handler failed")
	}
}

func newRef() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}
