package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"salonbook/internal/model"
	"salonbook/internal/segments"
)

// ReportSource loads what a monthly customer report needs.
type ReportSource interface {
	ListShops(ctx context.Context, activeOnly bool) ([]model.Shop, error)
	ListCustomers(ctx context.Context, shopID int64, today string, loc *time.Location) ([]model.Customer, error)
}

// DocumentSender delivers a file to a Telegram chat.
type DocumentSender interface {
	SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error
}

// Reporter sends every shop owner a segmented customer workbook on the first of the month.
type Reporter struct {
	source ReportSource
	sender DocumentSender
	logger zerolog.Logger
	now    func() time.Time
}

// NewReporter creates a monthly reporter. Call Start to schedule it.
func NewReporter(source ReportSource, sender DocumentSender, logger *zerolog.Logger) *Reporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Reporter{
		source: source,
		sender: sender,
		logger: logger.With().Str("component", "monthly_report").Logger(),
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (r *Reporter) SetClock(now func() time.Time) {
	r.now = now
}

// Start runs RunOnce at 00:01 on the first of every month until ctx is done.
func (r *Reporter) Start(ctx context.Context) {
	next := NextFirstOfMonth(r.now())
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()
	r.logger.Info().Time("next_run", next).Msg("Monthly report scheduled")

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			sent, err := r.RunOnce(ctx)
			if err != nil {
				r.logger.Error().Err(err).Msg("Monthly report failed for some shops")
			}
			next = NextFirstOfMonth(r.now())
			timer.Reset(time.Until(next))
			r.logger.Info().Int("sent", sent).Time("next_run", next).Msg("Monthly report done")
		}
	}
}

// NextFirstOfMonth returns 00:01 on the first day of the month after now, in now's location.
func NextFirstOfMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month()+1, 1, 0, 1, 0, 0, now.Location())
}

// MonthlyReportFilename names the report covering the month before now.
func MonthlyReportFilename(shopSlug string, now time.Time) string {
	prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -1, 0)
	return fmt.Sprintf("%s_customers_%s.xlsx", shopSlug, prev.Format("2006-01"))
}

// RunOnce sends the report to every active shop with an owner chat. A failing shop does not
// stop the others; their errors are joined.
func (r *Reporter) RunOnce(ctx context.Context) (int, error) {
	shops, err := r.source.ListShops(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("list shops: %w", err)
	}

	sent := 0
	var errs []error
	for i := range shops {
		shop := &shops[i]
		if shop.OwnerChatID == 0 {
			continue
		}
		if err := r.sendShopReport(ctx, shop); err != nil {
			errs = append(errs, fmt.Errorf("shop %s: %w", shop.Slug, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func (r *Reporter) sendShopReport(ctx context.Context, shop *model.Shop) error {
	loc := shop.Location()
	now := r.now().In(loc)

	customers, err := r.source.ListCustomers(ctx, shop.ID, now.Format(model.DateLayout), loc)
	if err != nil {
		return err
	}
	profiles := segments.Classify(customers, now)
	summary := segments.Summarize(profiles, segments.VIPCutoff(customers))

	data, err := CustomersWorkbook(profiles, summary)
	if err != nil {
		return err
	}

	filename := MonthlyReportFilename(shop.Slug, now)
	if err := r.sender.SendDocument(ctx, shop.OwnerChatID, filename, data, reportCaption(shop, summary)); err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	r.logger.Info().Str("shop", shop.Slug).Str("filename", filename).Int("customers", summary.Total).Msg("Monthly report sent")
	return nil
}

func reportCaption(shop *model.Shop, s segments.Summary) string {
	return fmt.Sprintf("📊 %s 월간 고객 리포트\n고객 %d명 · VIP %d · 이탈 위험 %d · 재방문 임박 %d",
		shop.Name, s.Total, s.VIP, s.AtRisk, s.ReturnSoon)
}
