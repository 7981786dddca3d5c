package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"salonbook/internal/model"
	"salonbook/internal/slots"
)

// DigestSource loads shops and their bookings for a day.
type DigestSource interface {
	ListShops(ctx context.Context, activeOnly bool) ([]model.Shop, error)
	ListActiveBookings(ctx context.Context, shopID int64, date string) ([]model.Booking, error)
}

// MessageDeliverer sends one message to a chat.
type MessageDeliverer interface {
	Deliver(ctx context.Context, msg Message) error
}

// DigestConfig holds the daily digest schedule in each shop's local time.
type DigestConfig struct {
	DailyHour     int
	DailyMinute   int
	CheckInterval time.Duration
}

// DefaultDigestConfig sends at 20:00 shop time.
func DefaultDigestConfig() DigestConfig {
	return DigestConfig{
		DailyHour:     20,
		DailyMinute:   0,
		CheckInterval: 1 * time.Minute,
	}
}

// Digest sends each shop owner the next day's bookings once a day.
type Digest struct {
	cfg       DigestConfig
	source    DigestSource
	deliverer MessageDeliverer
	logger    zerolog.Logger
	now       func() time.Time

	mu      sync.Mutex
	lastRun map[int64]string // shop id -> local YYYY-MM-DD of last run
}

// NewDigest creates a digest scheduler. Call Start to run it.
func NewDigest(cfg DigestConfig, source DigestSource, deliverer MessageDeliverer, logger *zerolog.Logger) *Digest {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultDigestConfig().CheckInterval
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Digest{
		cfg:       cfg,
		source:    source,
		deliverer: deliverer,
		logger:    logger.With().Str("component", "digest").Logger(),
		now:       time.Now,
		lastRun:   make(map[int64]string),
	}
}

// SetClock replaces the time source.
func (d *Digest) SetClock(now func() time.Time) {
	d.now = now
}

// Start checks every CheckInterval whether a shop's digest is due.
func (d *Digest) Start(ctx context.Context) {
	d.logger.Info().
		Str("daily_time", model.FormatClock(d.cfg.DailyHour*60+d.cfg.DailyMinute)).
		Msg("Daily digest scheduler started")

	ticker := time.NewTicker(d.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunDue(ctx)
		}
	}
}

// RunDue sends the digest to every shop whose local send time has passed today and that
// has not had one yet. Days without bookings are marked done without a message.
func (d *Digest) RunDue(ctx context.Context) int {
	shops, err := d.source.ListShops(ctx, true)
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to list shops for digest")
		return 0
	}

	sent := 0
	for i := range shops {
		shop := &shops[i]
		if shop.OwnerChatID == 0 {
			continue
		}
		local := d.now().In(shop.Location())
		today := local.Format(model.DateLayout)
		if local.Hour()*60+local.Minute() < d.cfg.DailyHour*60+d.cfg.DailyMinute {
			continue
		}

		d.mu.Lock()
		done := d.lastRun[shop.ID] == today
		if !done {
			d.lastRun[shop.ID] = today
		}
		d.mu.Unlock()
		if done {
			continue
		}

		tomorrow := local.AddDate(0, 0, 1).Format(model.DateLayout)
		bookings, err := d.source.ListActiveBookings(ctx, shop.ID, tomorrow)
		if err != nil {
			d.logger.Error().Err(err).Str("shop", shop.Slug).Msg("Failed to load bookings for digest")
			continue
		}
		if len(bookings) == 0 {
			continue
		}

		msg := Message{ChatID: shop.OwnerChatID, Text: FormatDigest(shop, tomorrow, bookings)}
		if err := d.deliverer.Deliver(ctx, msg); err != nil {
			d.logger.Error().Err(err).Str("shop", shop.Slug).Msg("Failed to send digest")
			continue
		}
		sent++
		d.logger.Info().Str("shop", shop.Slug).Str("date", tomorrow).Int("bookings", len(bookings)).Msg("Digest sent")
	}
	return sent
}

var statusLabels = map[string]string{
	model.StatusPending:   "확인 대기",
	model.StatusConfirmed: "확정",
}

// FormatDigest renders the next-day schedule, one line per booking in start order.
func FormatDigest(shop *model.Shop, date string, bookings []model.Booking) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🗓 내일 예약 %d건 (%s)\n🏠 %s\n", len(bookings), date, shop.Name)
	total := 0
	for _, b := range bookings {
		fmt.Fprintf(&sb, "\n%s–%s %s · %s (%s)", b.Time, b.EndClock(), b.ServiceName, b.CustomerName, b.CustomerPhone)
		if label, ok := statusLabels[b.Status]; ok {
			fmt.Fprintf(&sb, " [%s]", label)
		}
		if b.DepositStatus == model.DepositPaid {
			sb.WriteString(" 💰")
		}
		total += b.DurationMinutes
	}
	fmt.Fprintf(&sb, "\n\n총 %s", slots.FormatDuration(total))
	return sb.String()
}
