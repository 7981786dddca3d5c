package api

import (
	"net/http"
	"strconv"

	"salonbook/internal/booking"
	"salonbook/internal/metrics"
	"salonbook/internal/model"
)

// handleAvailableTimes returns the resolved slot list for a date.
// GET /shops/{slug}/available-times/{date}?duration=60
func (s *HTTPServer) handleAvailableTimes(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("available_times")

	duration := 0
	if raw := r.URL.Query().Get("duration"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid duration: must be a number of minutes", Field: "duration"})
			return
		}
		duration = d
	}

	result, err := s.slots.AvailableTimes(r.Context(), r.PathValue("slug"), r.PathValue("date"), duration)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ServiceResponse is a bookable service.
type ServiceResponse struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	Price           int64  `json:"price"`
}

// handleServices lists the shop's active services.
// GET /shops/{slug}/services
func (s *HTTPServer) handleServices(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("services")

	shop, err := s.store.GetShopBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	services, err := s.store.ListServices(r.Context(), shop.ID, true)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	out := make([]ServiceResponse, 0, len(services))
	for _, svc := range services {
		out = append(out, ServiceResponse{
			ID:              svc.ID,
			Name:            svc.Name,
			DurationMinutes: svc.DurationMinutes,
			Price:           svc.Price,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": out})
}

// BookingStatusResponse is what a customer sees about their booking.
type BookingStatusResponse struct {
	Ref             string `json:"ref"`
	Status          string `json:"status"`
	Service         string `json:"service,omitempty"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	DurationMinutes int    `json:"duration_minutes"`
	DepositStatus   string `json:"deposit_status"`
	DepositAmount   int64  `json:"deposit_amount,omitempty"`
	DepositDeadline string `json:"deposit_deadline,omitempty"`
}

func (s *HTTPServer) statusResponse(b *model.Booking) BookingStatusResponse {
	resp := BookingStatusResponse{
		Ref:             b.Ref,
		Status:          b.Status,
		Service:         b.ServiceName,
		Date:            b.Date,
		Time:            b.Time,
		DurationMinutes: b.DurationMinutes,
		DepositStatus:   b.EffectiveDepositStatus(s.now()),
		DepositAmount:   b.DepositAmount,
	}
	if b.DepositDeadline != nil {
		resp.DepositDeadline = b.DepositDeadline.UTC().Format("2006-01-02T15:04:05Z")
	}
	return resp
}

// handleCreateBooking books a slot for a customer.
// POST /shops/{slug}/bookings
func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create_booking")

	var req booking.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.ShopSlug = r.PathValue("slug")

	b, err := s.bookings.Create(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.statusResponse(b))
}

// handleBookingStatus looks up a booking by its reference.
// GET /shops/{slug}/bookings/{ref}
func (s *HTTPServer) handleBookingStatus(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("booking_status")

	shop, err := s.store.GetShopBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	b, err := s.store.GetBookingByRef(r.Context(), r.PathValue("ref"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if b.ShopID != shop.ID {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, s.statusResponse(b))
}
