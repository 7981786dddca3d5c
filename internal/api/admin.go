package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"salonbook/internal/booking"
	"salonbook/internal/db"
	"salonbook/internal/export"
	"salonbook/internal/metrics"
	"salonbook/internal/model"
	"salonbook/internal/segments"
	"salonbook/internal/slots"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// AdminBooking is a booking row of the admin day view.
type AdminBooking struct {
	model.Booking
	EndTime string `json:"end_time"`
}

// handleAdminBookings lists one day's bookings for the shop.
// GET /admin/shops/{slug}/bookings?date=2026-03-02
func (s *HTTPServer) handleAdminBookings(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("admin_bookings")
	sess, _ := SessionFrom(r.Context())

	date := r.URL.Query().Get("date")
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid date: expected YYYY-MM-DD", Field: "date"})
		return
	}

	bookings, err := s.store.ListBookingsByDate(r.Context(), sess.Shop.ID, date)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	now := s.now()
	out := make([]AdminBooking, 0, len(bookings))
	for _, b := range bookings {
		b.DepositStatus = b.EffectiveDepositStatus(now)
		out = append(out, AdminBooking{Booking: b, EndTime: b.EndClock()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "bookings": out})
}

type actionRequest struct {
	Reason string `json:"reason"`
}

// handleBookingAction moves a booking through its lifecycle.
// POST /admin/bookings/{id}/{action}
func (s *HTTPServer) handleBookingAction(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("booking_action")
	sess, _ := SessionFrom(r.Context())

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var req actionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	ctx := r.Context()
	shopID := sess.Shop.ID
	var b *model.Booking
	switch r.PathValue("action") {
	case "confirm":
		b, err = s.bookings.Confirm(ctx, shopID, id)
	case "reject":
		b, err = s.bookings.Reject(ctx, shopID, id, req.Reason)
	case "cancel":
		b, err = s.bookings.Cancel(ctx, shopID, id, req.Reason)
	case "deposit-request":
		b, err = s.bookings.RequestDeposit(ctx, shopID, id)
	case "deposit-paid":
		b, err = s.bookings.MarkDepositPaid(ctx, shopID, id)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	b.DepositStatus = b.EffectiveDepositStatus(s.now())
	writeJSON(w, http.StatusOK, AdminBooking{Booking: *b, EndTime: b.EndClock()})
}

// customerProfiles loads and classifies the shop's customers as of now in the shop timezone.
func (s *HTTPServer) customerProfiles(r *http.Request, shop *model.Shop, segment string) ([]segments.Profile, segments.Summary, error) {
	loc := shop.Location()
	now := s.now().In(loc)

	customers, err := s.store.ListCustomers(r.Context(), shop.ID, now.Format(model.DateLayout), loc)
	if err != nil {
		return nil, segments.Summary{}, err
	}
	profiles := segments.Classify(customers, now)
	summary := segments.Summarize(profiles, segments.VIPCutoff(customers))
	return segments.Filter(profiles, segment), summary, nil
}

// handleCustomers returns the segmented customer list.
// GET /admin/shops/{slug}/customers?segment=vip
func (s *HTTPServer) handleCustomers(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("customers")
	sess, _ := SessionFrom(r.Context())

	segment := r.URL.Query().Get("segment")
	if !segments.ValidSegment(segment) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unknown segment %q", segment), Field: "segment"})
		return
	}

	profiles, summary, err := s.customerProfiles(r, sess.Shop, segment)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary, "customers": profiles})
}

// handleCustomersExport downloads the segmented customer list as a workbook.
// GET /admin/shops/{slug}/customers.xlsx
func (s *HTTPServer) handleCustomersExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("customers_export")
	sess, _ := SessionFrom(r.Context())

	profiles, summary, err := s.customerProfiles(r, sess.Shop, "")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	data, err := export.CustomersWorkbook(profiles, summary)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeFile(w, export.CustomersFilename(sess.Shop.Slug, s.now()), data)
}

// handleShopDataExport downloads every table of the shop, one sheet per table.
// GET /admin/shops/{slug}/export.xlsx
func (s *HTTPServer) handleShopDataExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("shop_export")
	sess, _ := SessionFrom(r.Context())

	data, err := export.ShopDataWorkbook(r.Context(), s.store, sess.Shop.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	loggerFrom(r, &s.logger).Info().Str("shop", sess.Shop.Slug).Int("bytes", len(data)).Msg("Shop data exported")
	writeFile(w, export.ShopDataFilename(sess.Shop.Slug, s.now()), data)
}

func writeFile(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// OverridesBody is the editable per-date override set.
type OverridesBody struct {
	Blocked   []string `json:"blocked"`
	ForceOpen []string `json:"force_open"`
}

// handleGetOverrides returns the manual adjustments for one date.
// GET /admin/shops/{slug}/overrides/{date}
func (s *HTTPServer) handleGetOverrides(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("get_overrides")
	sess, _ := SessionFrom(r.Context())

	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	o, err := s.store.GetSlotOverrides(r.Context(), sess.Shop.ID, date)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OverridesBody{
		Blocked:   nonNil(o.BlockedOn(date)),
		ForceOpen: nonNil(o.ForceOpenOn(date)),
	})
}

// handlePutOverrides replaces the manual adjustments for one date.
// PUT /admin/shops/{slug}/overrides/{date}
func (s *HTTPServer) handlePutOverrides(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("put_overrides")
	sess, _ := SessionFrom(r.Context())

	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	var body OverridesBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	blocked, err := normalizeClocks("blocked", body.Blocked)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	forceOpen, err := normalizeClocks("force_open", body.ForceOpen)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	inBlocked := make(map[string]bool, len(blocked))
	for _, t := range blocked {
		inBlocked[t] = true
	}
	for _, t := range forceOpen {
		if inBlocked[t] {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("%s is both blocked and force-opened", t), Field: "force_open"})
			return
		}
	}

	if err := s.store.ReplaceSlotOverrides(r.Context(), sess.Shop.ID, date, blocked, forceOpen); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.slots.Invalidate(r.Context(), sess.Shop.ID, date)

	loggerFrom(r, &s.logger).Info().
		Str("shop", sess.Shop.Slug).
		Str("date", date).
		Int("blocked", len(blocked)).
		Int("force_open", len(forceOpen)).
		Msg("Slot overrides replaced")
	writeJSON(w, http.StatusOK, OverridesBody{Blocked: blocked, ForceOpen: forceOpen})
}

// handleListClosedDates lists closures from today onward.
// GET /admin/shops/{slug}/closed-dates
func (s *HTTPServer) handleListClosedDates(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("list_closed_dates")
	sess, _ := SessionFrom(r.Context())

	today := s.now().In(sess.Shop.Location()).Format(model.DateLayout)
	dates, err := s.store.ListClosedDates(r.Context(), sess.Shop.ID, today)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if dates == nil {
		dates = []model.ClosedDate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"closed_dates": dates})
}

// handleAddClosedDate closes the shop for a date.
// POST /admin/shops/{slug}/closed-dates/{date}
func (s *HTTPServer) handleAddClosedDate(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("add_closed_date")
	sess, _ := SessionFrom(r.Context())

	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	var req actionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	cd := model.ClosedDate{Date: date, Reason: req.Reason, Source: db.ClosedSourceManual}
	if err := s.store.AddClosedDate(r.Context(), sess.Shop.ID, cd); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.slots.Invalidate(r.Context(), sess.Shop.ID, date)
	writeJSON(w, http.StatusCreated, cd)
}

// handleRemoveClosedDate reopens a closed date.
// DELETE /admin/shops/{slug}/closed-dates/{date}
func (s *HTTPServer) handleRemoveClosedDate(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("remove_closed_date")
	sess, _ := SessionFrom(r.Context())

	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	if err := s.store.RemoveClosedDate(r.Context(), sess.Shop.ID, date); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.slots.Invalidate(r.Context(), sess.Shop.ID, date)
	w.WriteHeader(http.StatusNoContent)
}

func pathDate(w http.ResponseWriter, r *http.Request) (string, bool) {
	date := r.PathValue("date")
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid date: expected YYYY-MM-DD", Field: "date"})
		return "", false
	}
	return date, true
}

// normalizeClocks validates "HH:MM" entries and rewrites them zero-padded, dropping duplicates.
func normalizeClocks(field string, values []string) ([]string, error) {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		m, err := model.ParseClock(v)
		if err != nil || m >= 24*60 {
			return nil, &slots.ValidationError{Field: field, Message: fmt.Sprintf("invalid time %q", v)}
		}
		t := model.FormatClock(m)
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// handleListBlocked lists phones the shop refuses bookings from.
// GET /admin/shops/{slug}/blocklist
func (s *HTTPServer) handleListBlocked(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("list_blocked")
	sess, _ := SessionFrom(r.Context())

	blocked, err := s.store.ListBlockedPhones(r.Context(), sess.Shop.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocked": blocked})
}

// handleBlockPhone adds a phone to the blocklist.
// PUT /admin/shops/{slug}/blocklist/{phone}
func (s *HTTPServer) handleBlockPhone(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("block_phone")
	sess, _ := SessionFrom(r.Context())

	phone, ok := pathPhone(w, r)
	if !ok {
		return
	}
	var req actionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	if err := s.store.BlockPhone(r.Context(), sess.Shop.ID, phone, req.Reason); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	loggerFrom(r, &s.logger).Info().Str("shop", sess.Shop.Slug).Str("phone", phone).Msg("Phone blocked")
	writeJSON(w, http.StatusOK, model.BlockedPhone{Phone: phone, Reason: req.Reason, CreatedAt: s.now()})
}

// handleUnblockPhone removes a phone from the blocklist.
// DELETE /admin/shops/{slug}/blocklist/{phone}
func (s *HTTPServer) handleUnblockPhone(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("unblock_phone")
	sess, _ := SessionFrom(r.Context())

	phone, ok := pathPhone(w, r)
	if !ok {
		return
	}
	if err := s.store.UnblockPhone(r.Context(), sess.Shop.ID, phone); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathPhone(w http.ResponseWriter, r *http.Request) (string, bool) {
	phone := booking.NormalizePhone(r.PathValue("phone"))
	if phone == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid phone number", Field: "phone"})
		return "", false
	}
	return phone, true
}
