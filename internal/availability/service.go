// Package availability loads a shop's schedule snapshot and resolves bookable start times,
// caching results in Redis.
package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"salonbook/internal/metrics"
	"salonbook/internal/model"
	"salonbook/internal/slots"
)

// endOfDay marks every start of a past date as gone by.
const endOfDay = "24:00"

// Store is the read side of persistence the resolver needs.
type Store interface {
	GetShopBySlug(ctx context.Context, slug string) (*model.Shop, error)
	GetWeeklySchedule(ctx context.Context, shopID int64) (model.WeeklySchedule, error)
	IsClosedDate(ctx context.Context, shopID int64, date string) (bool, error)
	GetSlotOverrides(ctx context.Context, shopID int64, date string) (*model.SlotOverrides, error)
	ListActiveBookings(ctx context.Context, shopID int64, date string) ([]model.Booking, error)
}

// Service answers "which start times are free" for a shop and date.
type Service struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time

	redis    *redis.Client
	cacheTTL time.Duration
}

// NewService constructs a Service without caching.
func NewService(store Store, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{
		store:  store,
		logger: logger.With().Str("component", "availability").Logger(),
		now:    time.Now,
	}
}

// UseRedisCache configures optional Redis caching of resolved slots.
func (s *Service) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	s.redis = redisClient
	s.cacheTTL = ttl
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Snapshot is everything about a shop's date except its bookings.
type Snapshot struct {
	Shop      *model.Shop
	Date      string
	Schedule  model.WeeklySchedule
	Closed    bool
	Overrides *model.SlotOverrides
	NotBefore string
	cacheable bool
}

// Resolve runs the slot resolver over the snapshot with the given active bookings.
func (snap *Snapshot) Resolve(duration int, bookings []model.Booking) ([]slots.Slot, error) {
	req := slots.Request{
		Date:            snap.Date,
		DurationMinutes: duration,
		Schedule:        snap.Schedule,
		Overrides:       snap.Overrides,
		Bookings:        BookedIntervals(bookings),
		NotBefore:       snap.NotBefore,
	}
	if snap.Closed {
		req.ClosedDates = []string{snap.Date}
	}
	return slots.Resolve(req)
}

// BookedIntervals converts active bookings into resolver intervals.
func BookedIntervals(bookings []model.Booking) []slots.BookedInterval {
	out := make([]slots.BookedInterval, 0, len(bookings))
	for _, b := range bookings {
		if !b.IsActive() {
			continue
		}
		d := b.DurationMinutes
		if d <= 0 {
			d = slots.DefaultDurationMinutes
		}
		out = append(out, slots.BookedInterval{Time: b.Time, DurationMinutes: d})
	}
	return out
}

// Snapshot loads schedule, closure and overrides for the shop's date. Dates before today
// in the shop timezone are entirely past; today is cut off at the current time.
func (s *Service) Snapshot(ctx context.Context, shop *model.Shop, date string) (*Snapshot, error) {
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return nil, &slots.ValidationError{Field: "date", Message: fmt.Sprintf("%q is not a YYYY-MM-DD date", date)}
	}

	schedule, err := s.store.GetWeeklySchedule(ctx, shop.ID)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	closed, err := s.store.IsClosedDate(ctx, shop.ID, date)
	if err != nil {
		return nil, fmt.Errorf("load closed dates: %w", err)
	}
	overrides, err := s.store.GetSlotOverrides(ctx, shop.ID, date)
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}

	snap := &Snapshot{
		Shop:      shop,
		Date:      date,
		Schedule:  schedule,
		Closed:    closed,
		Overrides: overrides,
	}

	snap.NotBefore, snap.cacheable = s.cutoff(shop, date)
	return snap, nil
}

// cutoff returns the NotBefore bound for date in the shop's timezone. Only dates after
// today have a grid that cannot change with the clock, so only they are cacheable.
func (s *Service) cutoff(shop *model.Shop, date string) (string, bool) {
	now := s.now().In(shop.Location())
	today := now.Format(model.DateLayout)
	switch {
	case date < today:
		return endOfDay, false
	case date == today:
		return now.Format("15:04"), false
	default:
		return "", true
	}
}

// AvailableTimes resolves the slot list for an active shop by slug. duration 0 means the
// default service length.
func (s *Service) AvailableTimes(ctx context.Context, slug, date string, duration int) ([]slots.Slot, error) {
	shop, err := s.store.GetShopBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.SlotsForShop(ctx, shop, date, duration)
}

// SlotsForShop resolves slots for a loaded shop, reading and filling the cache for future
// dates.
func (s *Service) SlotsForShop(ctx context.Context, shop *model.Shop, date string, duration int) ([]slots.Slot, error) {
	start := time.Now()
	defer func() { metrics.ObserveResolve(time.Since(start)) }()

	if duration == 0 {
		duration = slots.DefaultDurationMinutes
	}
	key := cacheKey(shop.ID, date, duration)

	// A grid cached while the date was still ahead goes stale once the date becomes today.
	if _, cacheable := s.cutoff(shop, date); cacheable {
		var cached []slots.Slot
		if s.readCache(ctx, key, &cached) {
			return cached, nil
		}
	}

	snap, err := s.Snapshot(ctx, shop, date)
	if err != nil {
		metrics.IncSlotResolution("error")
		return nil, err
	}
	bookings, err := s.store.ListActiveBookings(ctx, shop.ID, date)
	if err != nil {
		metrics.IncSlotResolution("error")
		return nil, fmt.Errorf("load bookings: %w", err)
	}

	result, err := snap.Resolve(duration, bookings)
	if err != nil {
		metrics.IncSlotResolution("invalid")
		return nil, err
	}
	if len(result) == 1 && result[0].Closed {
		metrics.IncSlotResolution("closed")
	} else {
		metrics.IncSlotResolution("open")
	}

	if snap.cacheable {
		s.writeCache(ctx, key, result)
	}
	return result, nil
}

// Invalidate drops every cached duration of the shop's date.
func (s *Service) Invalidate(ctx context.Context, shopID int64, date string) {
	s.deleteKeys(ctx, fmt.Sprintf("slots:%d:%s:*", shopID, date))
}

// InvalidateShop drops every cached slot list of the shop, for changes to hours or closures.
func (s *Service) InvalidateShop(ctx context.Context, shopID int64) {
	s.deleteKeys(ctx, fmt.Sprintf("slots:%d:*", shopID))
}

func (s *Service) deleteKeys(ctx context.Context, pattern string) {
	if s.redis == nil {
		return
	}
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			s.logger.Warn().Err(err).Str("pattern", pattern).Msg("Cache invalidation failed")
			return
		}
		if len(keys) > 0 {
			if err := s.redis.Del(ctx, keys...).Err(); err != nil {
				s.logger.Warn().Err(err).Strs("keys", keys).Msg("Cache delete failed")
			}
		}
		if next == 0 {
			return
		}
		cursor = next
	}
}

func cacheKey(shopID int64, date string, duration int) string {
	return fmt.Sprintf("slots:%d:%s:%d", shopID, date, duration)
}

func (s *Service) readCache(ctx context.Context, key string, out any) bool {
	if s.redis == nil || s.cacheTTL <= 0 {
		return false
	}
	val, err := s.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		metrics.IncCacheMiss()
		return false
	}
	if err != nil {
		metrics.IncCacheError()
		s.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		metrics.IncCacheError()
		return false
	}
	metrics.IncCacheHit()
	return true
}

func (s *Service) writeCache(ctx context.Context, key string, val any) {
	if s.redis == nil || s.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
		metrics.IncCacheError()
		s.logger.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}
