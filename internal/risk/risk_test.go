package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvaluateOrderApprovesWithinExposureCap(t *testing.T) {
	c := New(Config{MaxExposurePerAsset: 0.1, DailyMaxDrawdown: 0.05}, nil)
	c.UpdateEquity(10000, time.Now())

	d := c.EvaluateOrder("BTCUSDT", 500, time.Now())
	require.True(t, d.Approved)
	require.Equal(t, ReasonApproved, d.Reason)
	require.InDelta(t, 500, d.ApprovedNotional, 1e-9)
}

func TestEvaluateOrderPartiallyApprovesOverCap(t *testing.T) {
	c := New(Config{MaxExposurePerAsset: 0.1, DailyMaxDrawdown: 0.05}, nil)
	c.UpdateEquity(10000, time.Now())
	c.UpdateExposure("BTCUSDT", 800)

	d := c.EvaluateOrder("BTCUSDT", 500, time.Now())
	require.True(t, d.Approved)
	require.Equal(t, ReasonPartialExposureCap, d.Reason)
	require.InDelta(t, 200, d.ApprovedNotional, 1e-9)
}

func TestEvaluateOrderDeniesWhenExposureExhausted(t *testing.T) {
	c := New(Config{MaxExposurePerAsset: 0.1, DailyMaxDrawdown: 0.05}, nil)
	c.UpdateEquity(10000, time.Now())
	c.UpdateExposure("BTCUSDT", 1000)

	d := c.EvaluateOrder("BTCUSDT", 100, time.Now())
	require.False(t, d.Approved)
	require.Equal(t, ReasonExposureLimitReached, d.Reason)
}

func TestEvaluateOrderDeniesOnKillSwitch(t *testing.T) {
	c := New(Config{MaxExposurePerAsset: 0.1, EnableKillSwitch: true}, nil)
	c.UpdateEquity(10000, time.Now())
	c.SetKillSwitch(true)

	d := c.EvaluateOrder("BTCUSDT", 1, time.Now())
	require.False(t, d.Approved)
	require.Equal(t, ReasonKillSwitchActive, d.Reason)
}

func TestEvaluateOrderDeniesOnDailyDrawdown(t *testing.T) {
	c := New(Config{MaxExposurePerAsset: 1.0, DailyMaxDrawdown: 0.05}, nil)
	now := time.Now()
	c.UpdateEquity(10000, now)
	c.UpdateEquity(9000, now) // 10% drawdown > 5% cap

	d := c.EvaluateOrder("BTCUSDT", 1, now)
	require.False(t, d.Approved)
	require.Equal(t, ReasonDailyDrawdownExceed, d.Reason)
}

func TestDayRolloverResetsPeakAndDrawdown(t *testing.T) {
	c := New(Config{MaxExposurePerAsset: 1.0, DailyMaxDrawdown: 0.05}, nil)
	day1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 1, 2, 1, 0, 0, 0, time.UTC)

	c.UpdateEquity(10000, day1)
	c.UpdateEquity(9000, day1)
	require.True(t, c.Status().DailyDrawdown > 0)

	c.UpdateEquity(9000, day2)
	require.InDelta(t, 0, c.Status().DailyDrawdown, 1e-9)
}

func TestEvaluateOrderRollsDayBucketEvenWithoutEquityUpdate(t *testing.T) {
	c := New(Config{MaxExposurePerAsset: 1.0, DailyMaxDrawdown: 0.05}, nil)
	day1 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 1, 2, 1, 0, 0, 0, time.UTC)
	c.UpdateEquity(10000, day1)
	c.UpdateEquity(9000, day1)

	d := c.EvaluateOrder("ETHUSDT", 1, day2)
	require.True(t, d.Approved)
}
