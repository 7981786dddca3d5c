package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"salonbook/internal/availability"
	"salonbook/internal/config"
	"salonbook/internal/db"
	"salonbook/internal/export"
	"salonbook/internal/model"
	"salonbook/internal/notify"
)

// applyShopsConfig syncs shops.yaml into the database and drops every cached slot list,
// since hours and closures may have changed for any date.
func applyShopsConfig(ctx context.Context, database *db.DB, avail *availability.Service, shops *config.ShopsConfig) error {
	if err := database.SyncShopsFromConfig(ctx, shops); err != nil {
		return err
	}
	synced, err := database.ListShops(ctx, false)
	if err != nil {
		return fmt.Errorf("list shops after sync: %w", err)
	}
	for _, shop := range synced {
		avail.InvalidateShop(ctx, shop.ID)
	}
	return nil
}

// startReports launches the owner report loops cfg enables. Both send through Telegram and
// are skipped with a warning when notifier is nil.
func startReports(ctx context.Context, cfg *config.Config, database *db.DB, notifier *notify.Notifier, logger *zerolog.Logger) error {
	if cfg.Reports.MonthlyEnabled {
		if notifier == nil {
			logger.Warn().Msg("reports.monthly_enabled needs telegram.bot_token, monthly reports disabled")
		} else {
			go export.NewReporter(database, notifier, logger).Start(ctx)
		}
	}

	if cfg.Reports.DailyDigestEnabled {
		at, err := model.ParseClock(cfg.Reports.DailyDigestTime)
		if err != nil || at >= 24*60 {
			return fmt.Errorf("invalid reports.daily_digest_time %q", cfg.Reports.DailyDigestTime)
		}
		if notifier == nil {
			logger.Warn().Msg("reports.daily_digest_enabled needs telegram.bot_token, daily digest disabled")
		} else {
			digestCfg := notify.DefaultDigestConfig()
			digestCfg.DailyHour, digestCfg.DailyMinute = at/60, at%60
			go notify.NewDigest(digestCfg, database, notifier, logger).Start(ctx)
		}
	}
	return nil
}
