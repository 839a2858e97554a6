// Package riskguard implements the ambient trading-pause controls
// SPEC_FULL §12 supplements from original_source/safety_limits.py: a
// daily drawdown circuit breaker and a max-consecutive-loss pause.
// Neither is part of the core exit-priority protocol (spec §4.6);
// the signal generator consults this package before allowing a new
// BUY. Structurally this is the teacher's internal/circuit breaker
// (state machine + mutex + trip/reset callback) trimmed to the two
// conditions the source actually enforces and stripped of the
// per-user WebSocket broadcast plumbing that had no home in this
// engine.
package riskguard

import (
	"fmt"
	"sync"
	"time"
)

// State is the guard's current posture.
type State string

const (
	StateClosed State = "closed" // trading allowed
	StateOpen   State = "open"   // trading paused
)

// Config holds the two thresholds safety_limits.py enforces.
type Config struct {
	Enabled bool
	// MaxDailyDrawdownPct is the fraction of starting-of-day equity
	// that may be lost before trading pauses for the rest of the day.
	MaxDailyDrawdownPct float64
	// MaxConsecutiveLosses pauses trading once this many losing
	// trades land back to back, regardless of daily P&L.
	MaxConsecutiveLosses int
}

// DefaultConfig mirrors safety_limits.py's defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		MaxDailyDrawdownPct:  0.05,
		MaxConsecutiveLosses: 5,
	}
}

// Guard is a per-process trading pause gate. Safe for concurrent use.
type Guard struct {
	config Config

	mu                sync.RWMutex
	state             State
	startOfDayEquity  float64
	dailyRealizedLoss float64
	consecutiveLosses int
	dayResetAt        time.Time
	tripReason        string
	trippedAt         time.Time
	manualPause       bool

	onTrip  func(reason string)
	onClear func()
}

// New creates a Guard seeded with the current equity as the
// start-of-day mark.
func New(config Config, startingEquity float64) *Guard {
	now := time.Now()
	return &Guard{
		config:           config,
		state:            StateClosed,
		startOfDayEquity: startingEquity,
		dayResetAt:       now.Truncate(24 * time.Hour).Add(24 * time.Hour),
	}
}

// OnTrip registers a callback fired when the guard pauses trading.
func (g *Guard) OnTrip(fn func(reason string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onTrip = fn
}

// OnClear registers a callback fired when the guard resumes trading.
func (g *Guard) OnClear(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onClear = fn
}

// AllowBuy reports whether a new BUY may proceed, and a reason string
// when it may not (used verbatim as the SignalDecision.block_reason).
func (g *Guard) AllowBuy() (bool, string) {
	if !g.config.Enabled {
		return true, ""
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfNewDay()

	if g.manualPause {
		return false, "trading_paused"
	}
	if g.state == StateOpen {
		return false, fmt.Sprintf("risk_guard_open: %s", g.tripReason)
	}
	return true, ""
}

// RecordTrade updates daily-loss and consecutive-loss counters from a
// closed trade's realized P&L, then checks whether the guard should
// trip. Called by the position manager after every closing trade.
func (g *Guard) RecordTrade(realizedPnL float64) {
	if !g.config.Enabled {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetIfNewDay()

	if realizedPnL < 0 {
		g.consecutiveLosses++
		g.dailyRealizedLoss += -realizedPnL
	} else {
		g.consecutiveLosses = 0
	}

	var reason string
	if g.startOfDayEquity > 0 && g.dailyRealizedLoss/g.startOfDayEquity >= g.config.MaxDailyDrawdownPct {
		reason = fmt.Sprintf("daily drawdown %.2f%% >= %.2f%%",
			100*g.dailyRealizedLoss/g.startOfDayEquity, 100*g.config.MaxDailyDrawdownPct)
	} else if g.consecutiveLosses >= g.config.MaxConsecutiveLosses {
		reason = fmt.Sprintf("consecutive losses: %d", g.consecutiveLosses)
	}

	if reason != "" && g.state != StateOpen {
		g.state = StateOpen
		g.tripReason = reason
		g.trippedAt = time.Now()
		if g.onTrip != nil {
			cb := g.onTrip
			go cb(reason)
		}
	}
}

// Pause manually pauses trading (the chat `pause` command) without
// touching the loss-driven trip state.
func (g *Guard) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.manualPause = true
}

// Resume clears a manual pause and any tripped loss-driven state (the
// chat `resume` command).
func (g *Guard) Resume() {
	g.mu.Lock()
	wasOpen := g.state == StateOpen
	g.manualPause = false
	g.state = StateClosed
	g.consecutiveLosses = 0
	g.tripReason = ""
	cb := g.onClear
	g.mu.Unlock()

	if wasOpen && cb != nil {
		cb()
	}
}

// resetIfNewDay rolls the daily counters and the start-of-day equity
// mark forward once the calendar day turns over. Callers must hold
// g.mu.
func (g *Guard) resetIfNewDay() {
	now := time.Now()
	if now.Before(g.dayResetAt) {
		return
	}
	g.dailyRealizedLoss = 0
	g.dayResetAt = now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	if g.state == StateOpen && g.tripReason != "" && !g.manualPause {
		g.state = StateClosed
		g.tripReason = ""
	}
}

// SetStartOfDayEquity lets the caller re-anchor the drawdown
// denominator, e.g. after a deposit/withdrawal is reflected in the
// ledger.
func (g *Guard) SetStartOfDayEquity(equity float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.startOfDayEquity = equity
}

// Status returns a snapshot for the chat `status` command.
type Status struct {
	State             State
	ConsecutiveLosses int
	DailyRealizedLoss float64
	TripReason        string
	ManualPause       bool
}

func (g *Guard) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Status{
		State:             g.state,
		ConsecutiveLosses: g.consecutiveLosses,
		DailyRealizedLoss: g.dailyRealizedLoss,
		TripReason:        g.tripReason,
		ManualPause:       g.manualPause,
	}
}
