package notify

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"salonbook/internal/model"
)

type mockDigestSource struct {
	mock.Mock
}

func (m *mockDigestSource) ListShops(ctx context.Context, activeOnly bool) ([]model.Shop, error) {
	args := m.Called(ctx, activeOnly)
	return args.Get(0).([]model.Shop), args.Error(1)
}

func (m *mockDigestSource) ListActiveBookings(ctx context.Context, shopID int64, date string) ([]model.Booking, error) {
	args := m.Called(ctx, shopID, date)
	return args.Get(0).([]model.Booking), args.Error(1)
}

type recordingDeliverer struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (r *recordingDeliverer) Deliver(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func digestBookings() []model.Booking {
	return []model.Booking{
		{Ref: "A", ServiceName: "Bath", CustomerName: "Kim", CustomerPhone: "01012345678", Date: "2026-02-24", Time: "10:00", DurationMinutes: 60, Status: model.StatusConfirmed, DepositStatus: model.DepositPaid},
		{Ref: "B", ServiceName: "Full grooming", CustomerName: "Lee", CustomerPhone: "01099990000", Date: "2026-02-24", Time: "13:00", DurationMinutes: 90, Status: model.StatusPending},
	}
}

func newTestDigest(source DigestSource, deliverer MessageDeliverer, now *time.Time) *Digest {
	logger := zerolog.New(io.Discard)
	d := NewDigest(DigestConfig{DailyHour: 20, DailyMinute: 0}, source, deliverer, &logger)
	d.SetClock(func() time.Time { return *now })
	return d
}

func TestDigest_RunDue(t *testing.T) {
	seoul := model.Shop{ID: 1, Slug: "happy-paws", Name: "Happy Paws", Timezone: "Asia/Seoul", OwnerChatID: 42}
	noOwner := model.Shop{ID: 2, Slug: "quiet", Name: "Quiet", Timezone: "Asia/Seoul"}

	source := &mockDigestSource{}
	source.On("ListShops", mock.Anything, true).Return([]model.Shop{seoul, noOwner}, nil)
	source.On("ListActiveBookings", mock.Anything, int64(1), "2026-02-24").Return(digestBookings(), nil).Once()

	deliverer := &recordingDeliverer{}
	// 19:30 in Seoul: not yet due.
	now := time.Date(2026, 2, 23, 10, 30, 0, 0, time.UTC)
	d := newTestDigest(source, deliverer, &now)

	assert.Equal(t, 0, d.RunDue(context.Background()))

	// 20:05 in Seoul.
	now = time.Date(2026, 2, 23, 11, 5, 0, 0, time.UTC)
	assert.Equal(t, 1, d.RunDue(context.Background()))
	assert.Equal(t, 0, d.RunDue(context.Background()), "one digest per shop per day")

	require.Len(t, deliverer.msgs, 1)
	assert.Equal(t, int64(42), deliverer.msgs[0].ChatID)
	assert.Contains(t, deliverer.msgs[0].Text, "내일 예약 2건 (2026-02-24)")

	source.AssertNotCalled(t, "ListActiveBookings", mock.Anything, int64(2), mock.Anything)
	source.AssertExpectations(t)
}

func TestDigest_EmptyDayAndErrors(t *testing.T) {
	shop := model.Shop{ID: 1, Slug: "happy-paws", Name: "Happy Paws", Timezone: "UTC", OwnerChatID: 42}
	now := time.Date(2026, 2, 23, 21, 0, 0, 0, time.UTC)

	source := &mockDigestSource{}
	source.On("ListShops", mock.Anything, true).Return([]model.Shop{shop}, nil)
	source.On("ListActiveBookings", mock.Anything, int64(1), "2026-02-24").Return([]model.Booking(nil), nil)
	deliverer := &recordingDeliverer{}
	assert.Equal(t, 0, newTestDigest(source, deliverer, &now).RunDue(context.Background()))
	assert.Empty(t, deliverer.msgs)

	failing := &mockDigestSource{}
	failing.On("ListShops", mock.Anything, true).Return([]model.Shop(nil), errors.New("db closed"))
	assert.Equal(t, 0, newTestDigest(failing, deliverer, &now).RunDue(context.Background()))

	busy := &mockDigestSource{}
	busy.On("ListShops", mock.Anything, true).Return([]model.Shop{shop}, nil)
	busy.On("ListActiveBookings", mock.Anything, int64(1), "2026-02-24").Return(digestBookings(), nil)
	assert.Equal(t, 0, newTestDigest(busy, &recordingDeliverer{err: errors.New("blocked")}, &now).RunDue(context.Background()))
}

func TestFormatDigest(t *testing.T) {
	shop := &model.Shop{Name: "Happy Paws"}
	text := FormatDigest(shop, "2026-02-24", digestBookings())

	assert.Contains(t, text, "🏠 Happy Paws")
	assert.Contains(t, text, "10:00–11:00 Bath · Kim (01012345678) [확정] 💰")
	assert.Contains(t, text, "13:00–14:30 Full grooming · Lee (01099990000) [확인 대기]")
	assert.Contains(t, text, "총 2시간 30분")
}
