// Package notify tells shop owners about booking activity over Telegram.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"salonbook/internal/events"
	"salonbook/internal/metrics"
	"salonbook/internal/slots"
)

// TelegramSender is the subset of the bot API used for sending.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Config holds delivery settings.
type Config struct {
	QueueSize   int
	RatePerSec  float64
	MaxRetries  int
	RetryDelays []time.Duration
}

// DefaultConfig stays under Telegram's per-bot limit of 30 messages per second.
func DefaultConfig() Config {
	return Config{
		QueueSize:  256,
		RatePerSec: 20,
		MaxRetries: 3,
		RetryDelays: []time.Duration{
			1 * time.Second,
			5 * time.Second,
			30 * time.Second,
		},
	}
}

// Message is one queued owner notification.
type Message struct {
	ChatID int64
	Text   string
	Ref    string
}

// Notifier queues owner messages from booking events and delivers them in the background.
type Notifier struct {
	sender  TelegramSender
	cfg     Config
	limiter *rate.Limiter
	queue   chan Message
	logger  zerolog.Logger
}

// NewNotifier creates a notifier. Call Run to start delivery.
func NewNotifier(sender TelegramSender, cfg Config, logger *zerolog.Logger) *Notifier {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = DefaultConfig().RatePerSec
	}
	return &Notifier{
		sender:  sender,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		queue:   make(chan Message, cfg.QueueSize),
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// Subscribe registers the notifier for the events owners care about.
func (n *Notifier) Subscribe(bus *events.EventBus) {
	bus.Subscribe(n.HandleEvent,
		events.BookingCreated,
		events.BookingCancelled,
		events.DepositPaid,
		events.DepositExpired,
	)
}

// HandleEvent formats a booking event and queues it for the shop owner. A full queue drops
// the message.
func (n *Notifier) HandleEvent(ev events.Event) error {
	var p events.BookingPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	if p.OwnerChatID == 0 {
		return nil
	}
	text := FormatMessage(ev.Type, p)
	if text == "" {
		return nil
	}

	select {
	case n.queue <- Message{ChatID: p.OwnerChatID, Text: text, Ref: p.Booking.Ref}:
		return nil
	default:
		metrics.IncNotification("dropped")
		return fmt.Errorf("notification queue full, dropped %s for %s", ev.Type, p.Booking.Ref)
	}
}

// Run delivers queued messages until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	n.logger.Info().Msg("Notifier started")
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.queue:
			if err := n.Deliver(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
				n.logger.Error().Err(err).Int64("chat_id", msg.ChatID).Str("ref", msg.Ref).Msg("Notification failed")
			}
		}
	}
}

// Deliver sends one message, waiting for the rate limiter and retrying transient failures.
// Telegram 429 responses are retried after the advertised delay; 400 and 403 are final.
func (n *Notifier) Deliver(ctx context.Context, msg Message) error {
	return n.send(ctx, tgbotapi.NewMessage(msg.ChatID, msg.Text))
}

// SendDocument uploads a file to a chat with the same rate limiting and retries as Deliver.
func (n *Notifier) SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: filename, Bytes: data})
	doc.Caption = caption
	return n.send(ctx, doc)
}

func (n *Notifier) send(ctx context.Context, c tgbotapi.Chattable) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.cfg.MaxRetries; attempt++ {
		_, err := n.sender.Send(c)
		if err == nil {
			metrics.IncNotification("sent")
			return nil
		}
		lastErr = err

		var wait time.Duration
		if attempt < len(n.cfg.RetryDelays) {
			wait = n.cfg.RetryDelays[attempt]
		}

		var tgErr *tgbotapi.Error
		if errors.As(err, &tgErr) {
			switch tgErr.Code {
			case 429:
				if tgErr.RetryAfter > 0 {
					wait = time.Duration(tgErr.RetryAfter) * time.Second
				}
				n.logger.Info().Dur("retry_after", wait).Int("attempt", attempt).Msg("Rate limited by Telegram, waiting")
			case 400, 403:
				metrics.IncNotification("failed")
				return fmt.Errorf("telegram rejected message: %w", err)
			}
		}

		if attempt == n.cfg.MaxRetries {
			break
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	metrics.IncNotification("failed")
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// FormatMessage renders the owner message for an event, or "" for events owners don't get.
func FormatMessage(eventType string, p events.BookingPayload) string {
	b := p.Booking
	var title string
	switch eventType {
	case events.BookingCreated:
		title = "📅 새 예약 요청"
	case events.BookingCancelled:
		title = "❌ 예약 취소"
	case events.DepositPaid:
		title = "💰 예약금 입금 확인"
	case events.DepositExpired:
		title = "⏰ 예약금 입금 기한 만료"
	default:
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n\n", title)
	fmt.Fprintf(&sb, "🏠 %s\n", p.ShopName)
	fmt.Fprintf(&sb, "🗓 %s %s–%s (%s)\n", b.Date, b.Time, b.EndClock(), slots.FormatDuration(b.DurationMinutes))
	if b.ServiceName != "" {
		fmt.Fprintf(&sb, "✂️ %s · %s\n", b.ServiceName, FormatWon(b.Price))
	}
	fmt.Fprintf(&sb, "👤 %s (%s)\n", b.CustomerName, b.CustomerPhone)
	if eventType == events.DepositPaid {
		fmt.Fprintf(&sb, "💳 예약금 %s\n", FormatWon(b.DepositAmount))
	}
	if p.Reason != "" {
		fmt.Fprintf(&sb, "💬 사유: %s\n", p.Reason)
	}
	if b.Comment != "" && eventType == events.BookingCreated {
		fmt.Fprintf(&sb, "📝 %s\n", b.Comment)
	}
	fmt.Fprintf(&sb, "\n예약번호: %s", b.Ref)
	return sb.String()
}

// FormatWon formats an amount as "30,000원".
func FormatWon(amount int64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)
	var sb strings.Builder
	if neg {
		sb.WriteByte('-')
	}
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			sb.WriteByte(',')
		}
		sb.WriteRune(r)
	}
	sb.WriteString("원")
	return sb.String()
}
