package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"salonbook/internal/availability"
	"salonbook/internal/booking"
	"salonbook/internal/config"
	"salonbook/internal/db"
	"salonbook/internal/events"
	"salonbook/internal/model"
	"salonbook/internal/slots"
)

const (
	happyToken = "tok-happy"
	otherToken = "tok-other"
)

type testEnv struct {
	db      *db.DB
	server  *HTTPServer
	handler http.Handler
	shop    *model.Shop
	bath    model.Service
	now     time.Time
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	ctx := context.Background()

	database, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	cfg := &config.ShopsConfig{
		Defaults: config.DefaultsConfig{DaysOff: []string{"sun"}},
		Shops: []config.ShopConfig{{
			Slug:       "happy-paws",
			Name:       "Happy Paws",
			Timezone:   "Asia/Seoul",
			AdminToken: happyToken,
			Services: []config.ServiceConfig{
				{Name: "Bath", DurationMinutes: 60, Price: 30000},
			},
			Deposit: &config.DepositConfig{Amount: 10000, DeadlineHours: 12},
			Legacy:  &config.LegacyConfig{BlockedSlotsJSON: `{"2026-03-02":["11:00"]}`},
		}, {
			Slug:       "other-shop",
			Name:       "Other Shop",
			Timezone:   "Asia/Seoul",
			AdminToken: otherToken,
			Services:   []config.ServiceConfig{{Name: "Trim", DurationMinutes: 30, Price: 15000}},
		}},
	}
	require.NoError(t, database.SyncShopsFromConfig(ctx, cfg))

	e := &testEnv{db: database, now: time.Date(2026, 2, 23, 10, 10, 0, 0, time.UTC)}
	clock := func() time.Time { return e.now }

	e.shop, err = database.GetShopBySlug(ctx, "happy-paws")
	require.NoError(t, err)
	services, err := database.ListServices(ctx, e.shop.ID, true)
	require.NoError(t, err)
	require.Len(t, services, 1)
	e.bath = services[0]

	avail := availability.NewService(database, &logger)
	avail.SetClock(clock)
	bookings := booking.NewService(database, avail, events.NewEventBus(), &logger)
	bookings.SetClock(clock)

	e.server = NewHTTPServer(opts, database, avail, bookings, &logger)
	e.server.SetClock(clock)
	e.handler = e.server.Handler()
	return e
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func findSlot(list []slots.Slot, at string) (slots.Slot, bool) {
	for _, s := range list {
		if s.Time == at {
			return s, true
		}
	}
	return slots.Slot{}, false
}

func (e *testEnv) createBooking(t *testing.T, at string) BookingStatusResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/shops/happy-paws/bookings", "", map[string]any{
		"service_id":     e.bath.ID,
		"date":           "2026-03-02",
		"time":           at,
		"customer_name":  "Kim",
		"customer_phone": "010-1234-5678",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[BookingStatusResponse](t, rec)
}

func (e *testEnv) bookingID(t *testing.T, ref string) int64 {
	t.Helper()
	b, err := e.db.GetBookingByRef(context.Background(), ref)
	require.NoError(t, err)
	return b.ID
}

func TestAvailableTimes(t *testing.T) {
	e := newTestEnv(t, Options{})

	rec := e.do(t, http.MethodGet, "/shops/happy-paws/available-times/2026-03-02", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]slots.Slot](t, rec)
	require.NotEmpty(t, list)

	first, ok := findSlot(list, "09:00")
	require.True(t, ok)
	assert.True(t, first.Available)
	blocked, ok := findSlot(list, "11:00")
	require.True(t, ok)
	assert.False(t, blocked.Available)
	assert.Equal(t, slots.ReasonBlocked, blocked.Reason)

	tests := []struct {
		name   string
		path   string
		status int
		field  string
	}{
		{"bad duration", "/shops/happy-paws/available-times/2026-03-02?duration=abc", http.StatusBadRequest, "duration"},
		{"negative duration", "/shops/happy-paws/available-times/2026-03-02?duration=-30", http.StatusBadRequest, "duration"},
		{"bad date", "/shops/happy-paws/available-times/2026-3-2", http.StatusBadRequest, "date"},
		{"unknown shop", "/shops/nope/available-times/2026-03-02", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodGet, tt.path, "", nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.field, decode[errorResponse](t, rec).Field)
		})
	}
}

func TestServices(t *testing.T) {
	e := newTestEnv(t, Options{})

	rec := e.do(t, http.MethodGet, "/shops/happy-paws/services", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Services []ServiceResponse `json:"services"`
	}](t, rec)
	require.Len(t, body.Services, 1)
	assert.Equal(t, "Bath", body.Services[0].Name)
	assert.Equal(t, 60, body.Services[0].DurationMinutes)
	assert.Equal(t, int64(30000), body.Services[0].Price)
}

func TestCreateBookingAndStatus(t *testing.T) {
	e := newTestEnv(t, Options{})

	created := e.createBooking(t, "10:00")
	assert.Len(t, created.Ref, 10)
	assert.Equal(t, model.StatusPending, created.Status)
	assert.Equal(t, model.DepositNone, created.DepositStatus)

	rec := e.do(t, http.MethodGet, "/shops/happy-paws/bookings/"+created.Ref, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[BookingStatusResponse](t, rec)
	assert.Equal(t, "Bath", status.Service)
	assert.Equal(t, "10:00", status.Time)

	rec = e.do(t, http.MethodGet, "/shops/other-shop/bookings/"+created.Ref, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/shops/happy-paws/available-times/2026-03-02", "", nil)
	taken, ok := findSlot(decode[[]slots.Slot](t, rec), "10:00")
	require.True(t, ok)
	assert.False(t, taken.Available)
	assert.Equal(t, slots.ReasonBooked, taken.Reason)

	rec = e.do(t, http.MethodPost, "/shops/happy-paws/bookings", "", map[string]any{
		"service_id": e.bath.ID, "date": "2026-03-02", "time": "10:30",
		"customer_name": "Lee", "customer_phone": "01099990000",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPost, "/shops/happy-paws/bookings", "", map[string]any{
		"service_id": e.bath.ID, "date": "2026-03-02", "time": "13:00",
		"customer_name": "Lee", "customer_phone": "12",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "customer_phone", decode[errorResponse](t, rec).Field)

	rec = e.do(t, http.MethodPost, "/shops/happy-paws/bookings", "", `{"service_id":1,"unknown":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/shops/happy-paws/bookings", "", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminAuth(t *testing.T) {
	e := newTestEnv(t, Options{})

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"unknown token", "nope", http.StatusUnauthorized},
		{"other shop's token", otherToken, http.StatusForbidden},
		{"own token", happyToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodGet, "/admin/shops/happy-paws/bookings?date=2026-03-02", tt.token, nil)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	rec := e.do(t, http.MethodGet, "/admin/shops/happy-paws/bookings", happyToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookingActions(t *testing.T) {
	e := newTestEnv(t, Options{})
	created := e.createBooking(t, "10:00")
	id := e.bookingID(t, created.Ref)
	path := func(action string) string {
		return "/admin/bookings/" + itoa(id) + "/" + action
	}

	rec := e.do(t, http.MethodPost, path("confirm"), otherToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "bookings of another shop are invisible")

	rec = e.do(t, http.MethodPost, path("deposit-request"), happyToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	b := decode[AdminBooking](t, rec)
	assert.Equal(t, model.DepositRequested, b.DepositStatus)
	assert.Equal(t, int64(10000), b.DepositAmount)
	require.NotNil(t, b.DepositDeadline)
	assert.True(t, e.now.Add(12*time.Hour).Equal(*b.DepositDeadline), b.DepositDeadline.String())

	rec = e.do(t, http.MethodPost, path("deposit-paid"), happyToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.DepositPaid, decode[AdminBooking](t, rec).DepositStatus)

	rec = e.do(t, http.MethodPost, path("confirm"), happyToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	b = decode[AdminBooking](t, rec)
	assert.Equal(t, model.StatusConfirmed, b.Status)
	assert.Equal(t, "11:00", b.EndTime)

	rec = e.do(t, http.MethodPost, path("confirm"), happyToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPost, path("frobnicate"), happyToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/admin/bookings/abc/confirm", happyToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, path("cancel"), happyToken, map[string]string{"reason": "owner sick"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.StatusCancelled, decode[AdminBooking](t, rec).Status)

	rec = e.do(t, http.MethodGet, "/admin/shops/happy-paws/bookings?date=2026-03-02", happyToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	day := decode[struct {
		Bookings []AdminBooking `json:"bookings"`
	}](t, rec)
	require.Len(t, day.Bookings, 1)
	assert.Equal(t, model.StatusCancelled, day.Bookings[0].Status)

	rec = e.do(t, http.MethodGet, "/shops/happy-paws/available-times/2026-03-02", "", nil)
	freed, ok := findSlot(decode[[]slots.Slot](t, rec), "10:00")
	require.True(t, ok)
	assert.True(t, freed.Available)
}

func TestOverrides(t *testing.T) {
	e := newTestEnv(t, Options{})
	path := "/admin/shops/happy-paws/overrides/2026-03-02"

	rec := e.do(t, http.MethodGet, path, happyToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[OverridesBody](t, rec)
	assert.Equal(t, []string{"11:00"}, got.Blocked)
	assert.Empty(t, got.ForceOpen)

	rec = e.do(t, http.MethodPut, path, happyToken, OverridesBody{Blocked: []string{"9:00", "09:00"}, ForceOpen: []string{"12:00"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got = decode[OverridesBody](t, rec)
	assert.Equal(t, []string{"09:00"}, got.Blocked)
	assert.Equal(t, []string{"12:00"}, got.ForceOpen)

	rec = e.do(t, http.MethodGet, "/shops/happy-paws/available-times/2026-03-02", "", nil)
	list := decode[[]slots.Slot](t, rec)
	nine, _ := findSlot(list, "09:00")
	assert.False(t, nine.Available)
	eleven, _ := findSlot(list, "11:00")
	assert.True(t, eleven.Available, "replaced overrides drop the old block")
	noon, ok := findSlot(list, "12:00")
	require.True(t, ok)
	assert.True(t, noon.Available)

	rec = e.do(t, http.MethodPut, path, happyToken, OverridesBody{Blocked: []string{"10:00"}, ForceOpen: []string{"10:00"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPut, path, happyToken, OverridesBody{Blocked: []string{"25:00"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "blocked", decode[errorResponse](t, rec).Field)

	rec = e.do(t, http.MethodPut, "/admin/shops/happy-paws/overrides/tomorrow", happyToken, OverridesBody{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClosedDates(t *testing.T) {
	e := newTestEnv(t, Options{})
	path := "/admin/shops/happy-paws/closed-dates/2026-03-03"

	rec := e.do(t, http.MethodPost, path, happyToken, map[string]string{"reason": "vacation"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/admin/shops/happy-paws/closed-dates", happyToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		ClosedDates []model.ClosedDate `json:"closed_dates"`
	}](t, rec)
	require.Len(t, list.ClosedDates, 1)
	assert.Equal(t, "2026-03-03", list.ClosedDates[0].Date)
	assert.Equal(t, "vacation", list.ClosedDates[0].Reason)
	assert.Equal(t, db.ClosedSourceManual, list.ClosedDates[0].Source)

	rec = e.do(t, http.MethodGet, "/shops/happy-paws/available-times/2026-03-03", "", nil)
	closed := decode[[]slots.Slot](t, rec)
	require.Len(t, closed, 1)
	assert.True(t, closed[0].Closed)
	assert.Equal(t, slots.ReasonTemporaryClosure, closed[0].Reason)

	rec = e.do(t, http.MethodDelete, path, happyToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(t, http.MethodDelete, path, happyToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/shops/happy-paws/available-times/2026-03-03", "", nil)
	assert.Greater(t, len(decode[[]slots.Slot](t, rec)), 1)
}

func TestBlocklist(t *testing.T) {
	e := newTestEnv(t, Options{})

	rec := e.do(t, http.MethodPut, "/admin/shops/happy-paws/blocklist/010-1234-5678", happyToken, map[string]string{"reason": "no-show"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "01012345678", decode[model.BlockedPhone](t, rec).Phone)

	rec = e.do(t, http.MethodPut, "/admin/shops/happy-paws/blocklist/12", happyToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "phone", decode[errorResponse](t, rec).Field)

	rec = e.do(t, http.MethodGet, "/admin/shops/happy-paws/blocklist", happyToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Blocked []model.BlockedPhone `json:"blocked"`
	}](t, rec)
	require.Len(t, list.Blocked, 1)
	assert.Equal(t, "no-show", list.Blocked[0].Reason)

	rec = e.do(t, http.MethodPost, "/shops/happy-paws/bookings", "", map[string]any{
		"service_id":     e.bath.ID,
		"date":           "2026-03-02",
		"time":           "10:00",
		"customer_name":  "Kim",
		"customer_phone": "01012345678",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodGet, "/admin/shops/other-shop/blocklist", happyToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodDelete, "/admin/shops/happy-paws/blocklist/01012345678", happyToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(t, http.MethodDelete, "/admin/shops/happy-paws/blocklist/01012345678", happyToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	e.createBooking(t, "10:00")
}

func TestCustomers(t *testing.T) {
	e := newTestEnv(t, Options{})
	created := e.createBooking(t, "10:00")
	id := e.bookingID(t, created.Ref)
	rec := e.do(t, http.MethodPost, "/admin/bookings/"+itoa(id)+"/confirm", happyToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	e.now = time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

	rec = e.do(t, http.MethodGet, "/admin/shops/happy-paws/customers", happyToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[struct {
		Summary struct {
			Total int `json:"total"`
			VIP   int `json:"vip"`
		} `json:"summary"`
		Customers []struct {
			Name         string `json:"name"`
			Phone        string `json:"phone"`
			VisitCount   int    `json:"visit_count"`
			TotalRevenue int64  `json:"total_revenue"`
			IsVIP        bool   `json:"is_vip"`
		} `json:"customers"`
	}](t, rec)
	assert.Equal(t, 1, body.Summary.Total)
	assert.Equal(t, 1, body.Summary.VIP)
	require.Len(t, body.Customers, 1)
	assert.Equal(t, "01012345678", body.Customers[0].Phone)
	assert.Equal(t, 1, body.Customers[0].VisitCount)
	assert.Equal(t, int64(30000), body.Customers[0].TotalRevenue)
	assert.True(t, body.Customers[0].IsVIP)

	rec = e.do(t, http.MethodGet, "/admin/shops/happy-paws/customers?segment=at_risk", happyToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[map[string][]json.RawMessage](t, rec)["customers"])

	rec = e.do(t, http.MethodGet, "/admin/shops/happy-paws/customers?segment=whales", happyToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "segment", decode[errorResponse](t, rec).Field)
}

func TestExports(t *testing.T) {
	e := newTestEnv(t, Options{})
	e.createBooking(t, "10:00")

	rec := e.do(t, http.MethodGet, "/admin/shops/happy-paws/customers.xlsx", happyToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "happy-paws_customers_20260223.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	name, err := f.GetCellValue("Customers", "B2")
	require.NoError(t, err)
	assert.Equal(t, "01012345678", name)

	rec = e.do(t, http.MethodGet, "/admin/shops/happy-paws/export.xlsx", happyToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "happy-paws_data_20260223.xlsx")
	dump, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer dump.Close()
	assert.Contains(t, dump.GetSheetList(), "bookings")
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t, Options{RateLimitPerSec: 0.001, RateLimitBurst: 2})

	for i := 0; i < 2; i++ {
		rec := e.do(t, http.MethodGet, "/shops/happy-paws/services", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := e.do(t, http.MethodGet, "/shops/happy-paws/services", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	req := httptest.NewRequest(http.MethodGet, "/shops/happy-paws/services", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "other clients have their own bucket")
}

func TestClientLimiterCleanup(t *testing.T) {
	l := newClientLimiter(10, 1)
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.Equal(t, 0, l.cleanup(time.Hour))
	assert.Equal(t, 1, l.cleanup(-time.Second))
	assert.True(t, l.allow("a"))
}

func TestRequestID(t *testing.T) {
	e := newTestEnv(t, Options{})

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/shops/happy-paws/services", nil)
	req.Header.Set("X-Request-ID", id)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, id, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/shops/happy-paws/services", nil)
	req.Header.Set("X-Request-ID", "not-a-uuid")
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	assert.NoError(t, err)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
