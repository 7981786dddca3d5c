package main

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonbook/internal/availability"
	"salonbook/internal/config"
	"salonbook/internal/db"
)

func shopsConfig(mondayClose string) *config.ShopsConfig {
	return &config.ShopsConfig{
		Shops: []config.ShopConfig{{
			Slug:     "happy-paws",
			Name:     "Happy Paws",
			Timezone: "Asia/Seoul",
			Hours:    map[string]config.HoursConfig{"mon": {OpenTime: "09:00", CloseTime: mondayClose}},
			Services: []config.ServiceConfig{{Name: "Bath", DurationMinutes: 60, Price: 30000}},
		}},
	}
}

func TestApplyShopsConfig_DropsCachedSlots(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "server.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	avail := availability.NewService(database, &logger)
	avail.UseRedisCache(rdb, time.Hour)

	require.NoError(t, applyShopsConfig(ctx, database, avail, shopsConfig("18:00")))
	shop, err := database.GetShopBySlug(ctx, "happy-paws")
	require.NoError(t, err)

	key := fmt.Sprintf("slots:%d:2026-03-02:60", shop.ID)
	require.NoError(t, mr.Set(key, "[]"))

	require.NoError(t, applyShopsConfig(ctx, database, avail, shopsConfig("15:00")))
	assert.False(t, mr.Exists(key))

	week, err := database.GetWeeklySchedule(ctx, shop.ID)
	require.NoError(t, err)
	assert.Equal(t, "15:00", week[time.Monday].CloseTime)
}

func TestStartReports_WarnsWithoutNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	cfg := &config.Config{}
	cfg.Reports.MonthlyEnabled = true
	cfg.Reports.DailyDigestEnabled = true
	cfg.Reports.DailyDigestTime = "20:00"

	require.NoError(t, startReports(context.Background(), cfg, nil, nil, &logger))
	assert.Contains(t, buf.String(), "monthly reports disabled")
	assert.Contains(t, buf.String(), "daily digest disabled")
}

func TestStartReports_InvalidDigestTime(t *testing.T) {
	logger := zerolog.Nop()
	cfg := &config.Config{}
	cfg.Reports.DailyDigestEnabled = true
	cfg.Reports.DailyDigestTime = "25:00"

	assert.Error(t, startReports(context.Background(), cfg, nil, nil, &logger))
}
