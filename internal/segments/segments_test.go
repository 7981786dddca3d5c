package segments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonbook/internal/model"
)

var now = time.Date(2026, 3, 15, 15, 0, 0, 0, time.UTC)

func day(offset int) *time.Time {
	d := time.Date(2026, 3, 15, 11, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
	return &d
}

func TestVIPCutoff(t *testing.T) {
	tests := []struct {
		name     string
		revenues []int64
		want     int64
	}{
		{"five customers", []int64{60, 100, 80, 90, 70}, 100},
		{"six customers takes second", []int64{10, 20, 30, 40, 50, 60}, 50},
		{"zero revenue ignored", []int64{0, 0, 0, 50}, 50},
		{"nobody paid", []int64{0, 0}, 0},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			customers := make([]model.Customer, 0, len(tt.revenues))
			for _, r := range tt.revenues {
				customers = append(customers, model.Customer{TotalRevenue: r})
			}
			assert.Equal(t, tt.want, VIPCutoff(customers))
		})
	}
}

func TestClassify_OnlyTopCustomerIsVIP(t *testing.T) {
	var customers []model.Customer
	for i, r := range []int64{100, 90, 80, 70, 60} {
		customers = append(customers, model.Customer{ID: int64(i + 1), TotalRevenue: r})
	}

	profiles := Classify(customers, now)
	require.Len(t, profiles, 5)
	assert.True(t, profiles[0].IsVIP)
	for _, p := range profiles[1:] {
		assert.False(t, p.IsVIP, p.ID)
	}
}

func TestClassify_NoRevenueNoVIP(t *testing.T) {
	profiles := Classify([]model.Customer{{}, {TotalRevenue: 0}}, now)
	for _, p := range profiles {
		assert.False(t, p.IsVIP)
	}
}

func TestClassify_AtRisk(t *testing.T) {
	profiles := Classify([]model.Customer{
		{ID: 1, LastVisit: day(-45), VisitCount: 1},
		{ID: 2, LastVisit: day(-44), VisitCount: 1},
		{ID: 3},
	}, now)

	assert.True(t, profiles[0].IsAtRisk)
	assert.Equal(t, 45, *profiles[0].DaysSinceLastVisit)
	assert.False(t, profiles[1].IsAtRisk)
	assert.False(t, profiles[2].IsAtRisk)
	assert.Nil(t, profiles[2].DaysSinceLastVisit)
}

func TestClassify_SingleVisitHasNoCycle(t *testing.T) {
	profiles := Classify([]model.Customer{
		{VisitCount: 1, FirstVisitDate: day(-30), LastVisit: day(-2)},
		{VisitCount: 1, FirstVisitDate: day(-3), LastVisit: day(-3)},
	}, now)
	for _, p := range profiles {
		assert.Nil(t, p.AvgCycleDays)
		assert.Nil(t, p.NextVisit)
		assert.False(t, p.IsReturnSoon)
	}
}

func TestClassify_ReturnSoon(t *testing.T) {
	tests := []struct {
		name      string
		customer  model.Customer
		wantAvg   float64
		wantUntil int
		wantSoon  bool
	}{
		{
			name:      "overdue by two weeks",
			customer:  model.Customer{VisitCount: 3, FirstVisitDate: day(-60), LastVisit: day(-30)},
			wantAvg:   15,
			wantUntil: -15,
			wantSoon:  false,
		},
		{
			name:      "overdue by a week",
			customer:  model.Customer{VisitCount: 2, FirstVisitDate: day(-47), LastVisit: day(-27)},
			wantAvg:   20,
			wantUntil: -7,
			wantSoon:  false,
		},
		{
			name:      "due in two days",
			customer:  model.Customer{VisitCount: 2, FirstVisitDate: day(-38), LastVisit: day(-18)},
			wantAvg:   20,
			wantUntil: 2,
			wantSoon:  true,
		},
		{
			name:      "due exactly today",
			customer:  model.Customer{VisitCount: 2, FirstVisitDate: day(-40), LastVisit: day(-20)},
			wantAvg:   20,
			wantUntil: 0,
			wantSoon:  true,
		},
		{
			name:      "due on boundary",
			customer:  model.Customer{VisitCount: 2, FirstVisitDate: day(-37), LastVisit: day(-17)},
			wantAvg:   20,
			wantUntil: 3,
			wantSoon:  true,
		},
		{
			name:      "fractional cycle already passed",
			customer:  model.Customer{VisitCount: 6, FirstVisitDate: day(-4), LastVisit: day(-1)},
			wantAvg:   0.6,
			wantUntil: -1,
			wantSoon:  false,
		},
		{
			name:      "fractional cycle past the window",
			customer:  model.Customer{VisitCount: 6, FirstVisitDate: day(-17), LastVisit: day(0)},
			wantAvg:   3.4,
			wantUntil: 3,
			wantSoon:  false,
		},
		{
			name:      "fractional cycle inside the window",
			customer:  model.Customer{VisitCount: 6, FirstVisitDate: day(-18), LastVisit: day(-1)},
			wantAvg:   3.4,
			wantUntil: 2,
			wantSoon:  true,
		},
		{
			name:      "too far ahead",
			customer:  model.Customer{VisitCount: 2, FirstVisitDate: day(-36), LastVisit: day(-16)},
			wantAvg:   20,
			wantUntil: 4,
			wantSoon:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Classify([]model.Customer{tt.customer}, now)[0]
			require.NotNil(t, p.AvgCycleDays)
			assert.InDelta(t, tt.wantAvg, *p.AvgCycleDays, 0.001)
			require.NotNil(t, p.DaysUntilNext)
			assert.Equal(t, tt.wantUntil, *p.DaysUntilNext)
			assert.Equal(t, tt.wantSoon, p.IsReturnSoon)
		})
	}
}

func TestClassify_SameDayVisitsNeverReturnSoon(t *testing.T) {
	p := Classify([]model.Customer{{VisitCount: 3, FirstVisitDate: day(0), LastVisit: day(0)}}, now)[0]
	require.NotNil(t, p.AvgCycleDays)
	assert.Zero(t, *p.AvgCycleDays)
	assert.False(t, p.IsReturnSoon)
}

func TestClassify_UsesCalendarDaysInLocation(t *testing.T) {
	seoul := time.FixedZone("KST", 9*3600)
	localNow := time.Date(2026, 3, 15, 0, 30, 0, 0, seoul)
	// 23:00 UTC on the 13th is 08:00 on the 14th in Seoul.
	last := time.Date(2026, 3, 13, 23, 0, 0, 0, time.UTC)

	p := Classify([]model.Customer{{VisitCount: 1, LastVisit: &last}}, localNow)[0]
	assert.Equal(t, 1, *p.DaysSinceLastVisit)
}

func TestFilterAndSummarize(t *testing.T) {
	customers := []model.Customer{
		{ID: 1, TotalRevenue: 500, VisitCount: 1, LastVisit: day(-50)},
		{ID: 2, TotalRevenue: 100, VisitCount: 2, FirstVisitDate: day(-40), LastVisit: day(-20)},
		{ID: 3, TotalRevenue: 50, VisitCount: 1, LastVisit: day(-1)},
	}
	cutoff := VIPCutoff(customers)
	profiles := Classify(customers, now)

	assert.Len(t, Filter(profiles, ""), 3)
	vip := Filter(profiles, SegmentVIP)
	require.Len(t, vip, 1)
	assert.Equal(t, int64(1), vip[0].ID)
	assert.Equal(t, []string{SegmentVIP, SegmentAtRisk}, vip[0].Segments())

	soon := Filter(profiles, SegmentReturnSoon)
	require.Len(t, soon, 1)
	assert.Equal(t, int64(2), soon[0].ID)

	assert.Equal(t, Summary{Total: 3, VIP: 1, AtRisk: 1, ReturnSoon: 1, VIPCutoff: 500}, Summarize(profiles, cutoff))

	assert.True(t, ValidSegment(SegmentAtRisk))
	assert.True(t, ValidSegment(""))
	assert.False(t, ValidSegment("whales"))
}
