// Package risk implements RiskController (C14): kill-switch, intraday
// drawdown cap, and per-asset exposure cap, grounded on
// original_source/signals/risk_controller.py's RiskController.
package risk

import (
	"sync"
	"time"

	"github.com/adred-codev/mdingest/internal/telemetry"
)

// Reason is the outcome label evaluate_order() returns, matching the
// original's reason strings exactly (they are logged and exported as a
// metric label).
type Reason string

const (
	ReasonApproved             Reason = "APPROVED"
	ReasonPartialExposureCap   Reason = "PARTIALLY_APPROVED_EXPOSURE_CAPPED"
	ReasonKillSwitchActive     Reason = "KILL_SWITCH_ACTIVE"
	ReasonDailyDrawdownExceed  Reason = "DAILY_MAX_DRAWDOWN_EXCEEDED"
	ReasonExposureLimitReached Reason = "EXPOSURE_LIMIT_REACHED"
)

// Config configures a Controller.
type Config struct {
	MaxExposurePerAsset float64 // fraction of equity, e.g. 0.05
	DailyMaxDrawdown    float64 // fraction of peak equity, e.g. 0.05
	EnableKillSwitch    bool
}

// Controller is RiskController (C14). Safe for concurrent use.
type Controller struct {
	cfg     Config
	metrics *telemetry.Registry

	mu              sync.Mutex
	equity          float64
	exposureBySym   map[string]float64
	sessionDate     string // YYYY-MM-DD, UTC
	peakEquityToday float64
	havePeak        bool
	drawdownToday   float64
	killSwitch      bool
}

// New constructs a Controller. metrics may be nil.
func New(cfg Config, metrics *telemetry.Registry) *Controller {
	return &Controller{cfg: cfg, metrics: metrics, exposureBySym: map[string]float64{}}
}

// resetDayIfNeeded clears peak/drawdown on a UTC calendar-day change.
// Caller must hold c.mu.
func (c *Controller) resetDayIfNeeded(now time.Time) {
	d := now.UTC().Format("2006-01-02")
	if c.sessionDate == "" || d != c.sessionDate {
		c.sessionDate = d
		c.havePeak = false
		c.peakEquityToday = 0
		c.drawdownToday = 0
	}
}

// UpdateEquity records a new equity value, rolling the day bucket first
// and then monotonically updating today's peak and drawdown.
func (c *Controller) UpdateEquity(equity float64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetDayIfNeeded(now)
	c.equity = equity
	if !c.havePeak || equity > c.peakEquityToday {
		c.peakEquityToday = equity
		c.havePeak = true
	}
	if c.peakEquityToday > 0 {
		dd := (c.peakEquityToday - equity) / c.peakEquityToday
		if dd > c.drawdownToday {
			c.drawdownToday = dd
		}
	}
}

// SetKillSwitch toggles the kill switch.
func (c *Controller) SetKillSwitch(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.killSwitch = enabled
	if c.metrics != nil && c.metrics.RiskKillSwitchState != nil {
		v := 0.0
		if enabled {
			v = 1.0
		}
		c.metrics.RiskKillSwitchState.Set(v)
	}
}

// UpdateExposure records the current absolute notional exposure for symbol.
func (c *Controller) UpdateExposure(symbol string, notional float64) {
	if notional < 0 {
		notional = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exposureBySym[symbol] = notional
}

// allowedNotional returns the remaining notional headroom for symbol.
// Caller must hold c.mu.
func (c *Controller) allowedNotional(symbol string) float64 {
	equity := c.equity
	if equity < 0 {
		equity = 0
	}
	maxPerAsset := c.cfg.MaxExposurePerAsset * equity
	current := c.exposureBySym[symbol]
	allowed := maxPerAsset - current
	if allowed < 0 {
		allowed = 0
	}
	return allowed
}

// Decision is the outcome of EvaluateOrder.
type Decision struct {
	Approved         bool
	Reason           Reason
	ApprovedNotional float64
}

// EvaluateOrder ports evaluate_order(): kill-switch and daily-drawdown
// gates first, then a full/partial/deny decision against the per-asset
// exposure cap.
func (c *Controller) EvaluateOrder(symbol string, desiredNotional float64, now time.Time) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetDayIfNeeded(now)

	decide := func(d Decision) Decision {
		if c.metrics != nil && c.metrics.RiskRejectionsTotal != nil && !d.Approved {
			c.metrics.RiskRejectionsTotal.WithLabelValues(string(d.Reason)).Inc()
		}
		return d
	}

	if c.cfg.EnableKillSwitch && c.killSwitch {
		return decide(Decision{Approved: false, Reason: ReasonKillSwitchActive})
	}
	if c.drawdownToday >= c.cfg.DailyMaxDrawdown {
		return decide(Decision{Approved: false, Reason: ReasonDailyDrawdownExceed})
	}

	allowed := c.allowedNotional(symbol)
	const eps = 1e-9
	switch {
	case desiredNotional <= allowed+eps:
		return decide(Decision{Approved: true, Reason: ReasonApproved, ApprovedNotional: desiredNotional})
	case allowed > 0:
		return decide(Decision{Approved: true, Reason: ReasonPartialExposureCap, ApprovedNotional: allowed})
	default:
		return decide(Decision{Approved: false, Reason: ReasonExposureLimitReached})
	}
}

// Status summarizes the controller's current state (for a health/admin
// endpoint).
type Status struct {
	Equity              float64
	DailyDrawdown       float64
	MaxExposurePerAsset float64
	KillSwitch          bool
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Equity:              c.equity,
		DailyDrawdown:       c.drawdownToday,
		MaxExposurePerAsset: c.cfg.MaxExposurePerAsset,
		KillSwitch:          c.killSwitch,
	}
}
