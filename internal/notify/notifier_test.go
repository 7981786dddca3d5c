package notify

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonbook/internal/events"
	"salonbook/internal/model"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []tgbotapi.MessageConfig
	docs  []tgbotapi.DocumentConfig
	errs  []error
	calls int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	switch v := c.(type) {
	case tgbotapi.MessageConfig:
		f.sent = append(f.sent, v)
	case tgbotapi.DocumentConfig:
		f.docs = append(f.docs, v)
	}
	return tgbotapi.Message{MessageID: f.calls}, nil
}

func (f *fakeSender) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

func testConfig() Config {
	return Config{
		QueueSize:   4,
		RatePerSec:  1000,
		MaxRetries:  2,
		RetryDelays: []time.Duration{time.Millisecond, time.Millisecond},
	}
}

func newTestNotifier(sender TelegramSender, cfg Config) *Notifier {
	logger := zerolog.New(io.Discard)
	return NewNotifier(sender, cfg, &logger)
}

func testPayload() events.BookingPayload {
	return events.BookingPayload{
		Booking: model.Booking{
			Ref:             "AB12CD34EF",
			ServiceName:     "Full grooming",
			CustomerName:    "Kim",
			CustomerPhone:   "01012345678",
			Date:            "2026-03-02",
			Time:            "10:00",
			DurationMinutes: 90,
			Price:           60000,
			DepositAmount:   10000,
		},
		ShopSlug:    "happy-paws",
		ShopName:    "Happy Paws",
		OwnerChatID: 42,
	}
}

func TestFormatMessage(t *testing.T) {
	p := testPayload()

	created := FormatMessage(events.BookingCreated, p)
	assert.Contains(t, created, "새 예약 요청")
	assert.Contains(t, created, "Happy Paws")
	assert.Contains(t, created, "2026-03-02 10:00–11:30 (1시간 30분)")
	assert.Contains(t, created, "Full grooming · 60,000원")
	assert.Contains(t, created, "Kim (01012345678)")
	assert.Contains(t, created, "예약번호: AB12CD34EF")

	p.Reason = "deposit expired"
	cancelled := FormatMessage(events.BookingCancelled, p)
	assert.Contains(t, cancelled, "예약 취소")
	assert.Contains(t, cancelled, "사유: deposit expired")

	assert.Contains(t, FormatMessage(events.DepositPaid, p), "예약금 10,000원")
	assert.Empty(t, FormatMessage(events.BookingConfirmed, p))
}

func TestFormatWon(t *testing.T) {
	assert.Equal(t, "0원", FormatWon(0))
	assert.Equal(t, "500원", FormatWon(500))
	assert.Equal(t, "1,000원", FormatWon(1000))
	assert.Equal(t, "1,234,567원", FormatWon(1234567))
	assert.Equal(t, "-30,000원", FormatWon(-30000))
}

func TestHandleEvent_QueuesAndRunDelivers(t *testing.T) {
	sender := &fakeSender{}
	n := newTestNotifier(sender, testConfig())
	bus := events.NewEventBus()
	n.Subscribe(bus)

	require.NoError(t, bus.PublishJSON(events.BookingCreated, 1, testPayload()))
	require.NoError(t, bus.PublishJSON(events.BookingConfirmed, 1, testPayload()))

	noOwner := testPayload()
	noOwner.OwnerChatID = 0
	require.NoError(t, bus.PublishJSON(events.BookingCancelled, 1, noOwner))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	assert.Eventually(t, func() bool { return len(sender.messages()) == 1 }, time.Second, 10*time.Millisecond)
	msg := sender.messages()[0]
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Contains(t, msg.Text, "AB12CD34EF")
}

func TestHandleEvent_QueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	n := newTestNotifier(&fakeSender{}, cfg)

	payload := testPayload()
	bus := events.NewEventBus()
	n.Subscribe(bus)
	require.NoError(t, bus.PublishJSON(events.BookingCreated, 1, payload))
	assert.Error(t, bus.PublishJSON(events.BookingCreated, 1, payload))
}

func TestDeliver_Retries(t *testing.T) {
	sender := &fakeSender{errs: []error{
		&tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{}},
		errors.New("connection reset"),
	}}
	n := newTestNotifier(sender, testConfig())

	require.NoError(t, n.Deliver(context.Background(), Message{ChatID: 42, Text: "hi"}))
	assert.Equal(t, 3, sender.calls)
	assert.Len(t, sender.messages(), 1)
}

func TestDeliver_FinalErrors(t *testing.T) {
	sender := &fakeSender{errs: []error{&tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}}}
	n := newTestNotifier(sender, testConfig())

	err := n.Deliver(context.Background(), Message{ChatID: 42, Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, 1, sender.calls)

	failing := &fakeSender{errs: []error{errors.New("a"), errors.New("b"), errors.New("c"), errors.New("d")}}
	n = newTestNotifier(failing, testConfig())
	err = n.Deliver(context.Background(), Message{ChatID: 42, Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, 3, failing.calls)
}

func TestSendDocument(t *testing.T) {
	sender := &fakeSender{errs: []error{errors.New("timeout")}}
	n := newTestNotifier(sender, testConfig())

	err := n.SendDocument(context.Background(), 42, "report.xlsx", []byte("PK"), "monthly")
	require.NoError(t, err)
	require.Len(t, sender.docs, 1)
	assert.Equal(t, 2, sender.calls)

	doc := sender.docs[0]
	assert.Equal(t, int64(42), doc.ChatID)
	assert.Equal(t, "monthly", doc.Caption)
	file, ok := doc.File.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.Equal(t, "report.xlsx", file.Name)
	assert.Equal(t, []byte("PK"), file.Bytes)
}
