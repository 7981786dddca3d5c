// Package api serves the public booking endpoints and the shop admin endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"salonbook/internal/booking"
	"salonbook/internal/model"
	"salonbook/internal/slots"
)

// Store is the persistence the handlers read and edit directly.
type Store interface {
	GetShopBySlug(ctx context.Context, slug string) (*model.Shop, error)
	GetShopByAdminToken(ctx context.Context, token string) (*model.Shop, error)
	ListServices(ctx context.Context, shopID int64, activeOnly bool) ([]model.Service, error)
	GetBookingByRef(ctx context.Context, ref string) (*model.Booking, error)
	ListBookingsByDate(ctx context.Context, shopID int64, date string) ([]model.Booking, error)
	ListCustomers(ctx context.Context, shopID int64, today string, loc *time.Location) ([]model.Customer, error)

	GetSlotOverrides(ctx context.Context, shopID int64, date string) (*model.SlotOverrides, error)
	ReplaceSlotOverrides(ctx context.Context, shopID int64, date string, blocked, forceOpen []string) error
	ListClosedDates(ctx context.Context, shopID int64, from string) ([]model.ClosedDate, error)
	AddClosedDate(ctx context.Context, shopID int64, d model.ClosedDate) error
	RemoveClosedDate(ctx context.Context, shopID int64, date string) error

	BlockPhone(ctx context.Context, shopID int64, phone, reason string) error
	UnblockPhone(ctx context.Context, shopID int64, phone string) error
	ListBlockedPhones(ctx context.Context, shopID int64) ([]model.BlockedPhone, error)

	GetTableNames(ctx context.Context) ([]string, error)
	GetTableData(ctx context.Context, tableName string, shopID int64) ([]map[string]interface{}, []string, error)
}

// SlotService resolves available start times.
type SlotService interface {
	AvailableTimes(ctx context.Context, slug, date string, duration int) ([]slots.Slot, error)
	Invalidate(ctx context.Context, shopID int64, date string)
}

// BookingService runs the booking lifecycle.
type BookingService interface {
	Create(ctx context.Context, req booking.CreateRequest) (*model.Booking, error)
	Confirm(ctx context.Context, shopID, id int64) (*model.Booking, error)
	Reject(ctx context.Context, shopID, id int64, reason string) (*model.Booking, error)
	Cancel(ctx context.Context, shopID, id int64, reason string) (*model.Booking, error)
	RequestDeposit(ctx context.Context, shopID, id int64) (*model.Booking, error)
	MarkDepositPaid(ctx context.Context, shopID, id int64) (*model.Booking, error)
}

// Options configures the HTTP server.
type Options struct {
	Port            int
	RateLimitPerSec float64
	RateLimitBurst  int
}

// HTTPServer exposes the booking API.
type HTTPServer struct {
	store    Store
	slots    SlotService
	bookings BookingService
	limiter  *clientLimiter
	logger   zerolog.Logger
	now      func() time.Time
	server   *http.Server
}

// NewHTTPServer wires handlers and middleware.
func NewHTTPServer(opts Options, store Store, slotService SlotService, bookings BookingService, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	s := &HTTPServer{
		store:    store,
		slots:    slotService,
		bookings: bookings,
		limiter:  newClientLimiter(opts.RateLimitPerSec, opts.RateLimitBurst),
		logger:   logger.With().Str("component", "api").Logger(),
		now:      time.Now,
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.withRequestID(s.withRateLimit(s.routes())),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// SetClock replaces the time source used for "today" and deposit deadlines.
func (s *HTTPServer) SetClock(now func() time.Time) {
	s.now = now
}

func (s *HTTPServer) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /shops/{slug}/available-times/{date}", s.handleAvailableTimes)
	mux.HandleFunc("GET /shops/{slug}/services", s.handleServices)
	mux.HandleFunc("POST /shops/{slug}/bookings", s.handleCreateBooking)
	mux.HandleFunc("GET /shops/{slug}/bookings/{ref}", s.handleBookingStatus)

	mux.HandleFunc("GET /admin/shops/{slug}/bookings", s.requireShopAdmin(s.handleAdminBookings))
	mux.HandleFunc("POST /admin/bookings/{id}/{action}", s.requireAdmin(s.handleBookingAction))
	mux.HandleFunc("GET /admin/shops/{slug}/customers", s.requireShopAdmin(s.handleCustomers))
	mux.HandleFunc("GET /admin/shops/{slug}/customers.xlsx", s.requireShopAdmin(s.handleCustomersExport))
	mux.HandleFunc("GET /admin/shops/{slug}/export.xlsx", s.requireShopAdmin(s.handleShopDataExport))
	mux.HandleFunc("GET /admin/shops/{slug}/overrides/{date}", s.requireShopAdmin(s.handleGetOverrides))
	mux.HandleFunc("PUT /admin/shops/{slug}/overrides/{date}", s.requireShopAdmin(s.handlePutOverrides))
	mux.HandleFunc("GET /admin/shops/{slug}/closed-dates", s.requireShopAdmin(s.handleListClosedDates))
	mux.HandleFunc("POST /admin/shops/{slug}/closed-dates/{date}", s.requireShopAdmin(s.handleAddClosedDate))
	mux.HandleFunc("DELETE /admin/shops/{slug}/closed-dates/{date}", s.requireShopAdmin(s.handleRemoveClosedDate))
	mux.HandleFunc("GET /admin/shops/{slug}/blocklist", s.requireShopAdmin(s.handleListBlocked))
	mux.HandleFunc("PUT /admin/shops/{slug}/blocklist/{phone}", s.requireShopAdmin(s.handleBlockPhone))
	mux.HandleFunc("DELETE /admin/shops/{slug}/blocklist/{phone}", s.requireShopAdmin(s.handleUnblockPhone))

	return mux
}

// Handler returns the root handler, middleware included.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *HTTPServer) Start(ctx context.Context) error {
	go s.limiter.cleanupLoop(ctx, 10*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps domain errors to status codes. Unknown errors are logged and
// reported as 500 without detail.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *slots.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, booking.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot is not available")
	case errors.Is(err, booking.ErrCustomerBlocked):
		writeError(w, http.StatusForbidden, "bookings from this phone number are not accepted")
	case errors.Is(err, booking.ErrDepositExpired):
		writeError(w, http.StatusConflict, "deposit deadline has passed")
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		loggerFrom(r, &s.logger).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
