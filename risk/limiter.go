// risk/limiter.go
package risk

import (
	"fmt"
	"sync"
	"time"

	"tradeguard/config"
	"tradeguard/logs"
	"tradeguard/utils"
)

// projectedLossFraction is the fixed assumed worst case loss for a trade
// that has not settled yet: 2% of the position size.
const projectedLossFraction = 0.02

// Limiter validates trade requests against the configured limits, mutates
// the daily risk state on settlement, and owns the auto-halt flag.
//
// Halt state machine: ACTIVE -> HALTED on a trade-count breach, a drawdown
// breach (pre- or post-trade), a daily loss breach (post-trade only) or the
// balance-protection threshold. HALTED -> ACTIVE only through ResetAutoHalt
// with the correct authorization code; there is no time-based recovery.
type Limiter struct {
	mu     sync.Mutex
	limits config.RiskLimitsConfig
	store  *Store

	resetCode   string
	guardActive bool
	state       *State

	now      func() time.Time
	onChange func(State)
}

// Option customizes a Limiter at construction time.
type Option func(*Limiter)

// WithClock injects a clock, letting tests drive date rollovers
// deterministically.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithOnChange registers a hook invoked with a state copy after every
// mutation. The supervisor uses it to push risk state into the recovery
// registry.
func WithOnChange(fn func(State)) Option {
	return func(l *Limiter) { l.onChange = fn }
}

// NewLimiter builds a limiter from explicit dependencies: limits, store,
// the halt-reset authorization code and the session start balance. Prior
// state is loaded from the store when it belongs to today's date, otherwise
// the counters start fresh.
func NewLimiter(limits config.RiskLimitsConfig, store *Store, resetCode string, startBalance float64, opts ...Option) *Limiter {
	l := &Limiter{
		limits:      limits,
		store:       store,
		resetCode:   resetCode,
		guardActive: true,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	today := l.now().Format("2006-01-02")
	l.state = &State{
		Date:                today,
		CurrentBalance:      startBalance,
		MaxBalanceToday:     startBalance,
		SessionStartBalance: startBalance,
		ActivePositions:     []ActivePosition{},
	}

	if store != nil {
		saved, err := store.Load()
		switch {
		case err != nil:
			logs.Errorf("Failed to load daily risk state, starting fresh: %v", err)
		case saved == nil:
			logs.Infof("No daily risk state found, starting fresh for %s", today)
		case saved.Date == today:
			if saved.ActivePositions == nil {
				saved.ActivePositions = []ActivePosition{}
			}
			l.state = saved
			logs.Infof("Loaded daily risk state - P&L: %.2f, Trades: %d", saved.DailyPNL, saved.DailyTrades)
		default:
			// Stale file from a previous day: keep the balance, reset the
			// daily counters.
			l.state.CurrentBalance = saved.CurrentBalance
			l.state.MaxBalanceToday = saved.CurrentBalance
			l.state.SessionStartBalance = saved.CurrentBalance
			logs.Infof("Daily risk state from %s is stale, counters reset for %s", saved.Date, today)
			l.persistLocked()
		}
	}

	logs.Infof("Risk limiter initialized - loss limit: %.2f, trades/day: %d", limits.DailyLossLimit, limits.MaxTradesPerDay)
	return l
}

// ValidateTrade checks a trade request against every limit, first failing
// check wins. It never panics; any internal failure becomes a rejection.
func (l *Limiter) ValidateTrade(req TradeRequest) (decision Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("Risk validation error: %v", r)
			decision = l.decisionLocked(false, fmt.Sprintf("Validation error: %v", r))
		}
	}()

	if !l.guardActive {
		return l.decisionLocked(false, "Risk guard is disabled")
	}
	if l.state.AutoHaltTriggered {
		return l.decisionLocked(false, "Auto-halt triggered - trading suspended")
	}

	if today := l.now().Format("2006-01-02"); today != l.state.Date {
		l.rollDailyCountersLocked(today)
	}

	if l.state.DailyTrades >= l.limits.MaxTradesPerDay {
		l.tripAutoHaltLocked(HaltTradeLimit)
		return l.decisionLocked(false, fmt.Sprintf("Daily trade limit reached (%d)", l.limits.MaxTradesPerDay))
	}

	if req.PositionSize > l.limits.MaxPositionSize {
		return l.decisionLocked(false, fmt.Sprintf("Position size %.2f exceeds limit %.2f", req.PositionSize, l.limits.MaxPositionSize))
	}

	if len(l.state.ActivePositions) >= l.limits.MaxConcurrentPositions {
		return l.decisionLocked(false, fmt.Sprintf("Max concurrent positions reached (%d)", l.limits.MaxConcurrentPositions))
	}

	potentialLoss := req.PositionSize * projectedLossFraction
	if l.state.DailyPNL-potentialLoss < -l.limits.DailyLossLimit {
		return l.decisionLocked(false, fmt.Sprintf("Potential loss would exceed daily limit (%.2f)", l.limits.DailyLossLimit))
	}

	if dd := l.state.Drawdown(); dd > l.limits.DrawdownThreshold {
		l.tripAutoHaltLocked(HaltDrawdown)
		return l.decisionLocked(false, fmt.Sprintf("Drawdown threshold exceeded (%.1f%%)", dd*100))
	}

	return l.decisionLocked(true, "Trade approved")
}

// RecordTradeResult applies a settled trade to the daily counters, runs the
// post-trade halt checks and persists the state. Callers must have passed
// the same trade through ValidateTrade first and must report results in
// settlement order.
func (l *Limiter) RecordTradeResult(res TradeResult) {
	l.mu.Lock()
	defer l.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("Error recording trade result: %v", r)
		}
	}()

	l.state.DailyTrades++

	netPNL := res.PNL - res.Fees
	l.state.DailyPNL += netPNL
	l.state.CurrentBalance += netPNL
	if l.state.CurrentBalance > l.state.MaxBalanceToday {
		l.state.MaxBalanceToday = l.state.CurrentBalance
	}

	l.checkPostTradeRisksLocked()

	switch res.Action {
	case ActionOpen:
		l.state.ActivePositions = append(l.state.ActivePositions, ActivePosition{
			ID:       res.TradeID,
			Symbol:   res.Symbol,
			Size:     res.PositionSize,
			OpenedAt: l.now(),
		})
	case ActionClose:
		l.removePositionLocked(res.TradeID)
	}

	l.persistLocked()
	l.notifyLocked()

	logs.Infof("Trade recorded - P&L: %.2f, Daily P&L: %.2f, Trades: %d", netPNL, l.state.DailyPNL, l.state.DailyTrades)
}

// checkPostTradeRisksLocked trips the halt on actual losses, unlike the
// pre-trade projection which only rejects.
func (l *Limiter) checkPostTradeRisksLocked() {
	if l.state.AutoHaltTriggered {
		return
	}

	// Reaching the limit exactly consumes it.
	if l.state.DailyPNL <= -l.limits.DailyLossLimit {
		l.tripAutoHaltLocked(HaltDailyLoss)
		return
	}

	if l.state.Drawdown() > l.limits.DrawdownThreshold {
		l.tripAutoHaltLocked(HaltDrawdown)
		return
	}

	if l.state.SessionStartBalance > 0 {
		lossPct := (l.state.SessionStartBalance - l.state.CurrentBalance) / l.state.SessionStartBalance
		if lossPct > 0.50 {
			l.tripAutoHaltLocked(HaltBalanceProtection)
		}
	}
}

// tripAutoHaltLocked transitions ACTIVE -> HALTED, logs the violation and
// persists immediately.
func (l *Limiter) tripAutoHaltLocked(reason string) {
	l.state.AutoHaltTriggered = true

	v := Violation{
		Timestamp:      l.now(),
		Reason:         reason,
		DailyPNL:       l.state.DailyPNL,
		DailyTrades:    l.state.DailyTrades,
		CurrentBalance: l.state.CurrentBalance,
		DrawdownPct:    l.state.Drawdown() * 100,
	}
	if l.store != nil {
		if err := l.store.AppendViolation(v); err != nil {
			logs.Errorf("Failed to append violation record: %v", err)
		}
	}

	logs.Criticalf("AUTO-HALT TRIGGERED: %s", reason)
	logs.Criticalf("Trading suspended due to risk violation, daily P&L: %.2f", l.state.DailyPNL)

	l.persistLocked()
	l.notifyLocked()
}

// ResetAutoHalt clears the halt flag when the caller presents the correct
// authorization code. A wrong code changes nothing and is logged at
// critical severity. Limits remain enforced after a successful reset.
func (l *Limiter) ResetAutoHalt(code string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.resetCode == "" || code != l.resetCode {
		logs.Criticalf("UNAUTHORIZED: invalid authorization code for risk reset")
		return false
	}

	l.state.AutoHaltTriggered = false
	logs.Warnf("AUTO-HALT RESET: trading can resume, risk limits remain in effect")

	l.persistLocked()
	l.notifyLocked()
	return true
}

// SetGuardActive toggles the whole guard. A disabled guard rejects every
// trade rather than waving them through; disabling is for maintenance, not
// a bypass.
func (l *Limiter) SetGuardActive(active bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.guardActive = active
	if !active {
		logs.Warnf("Risk guard disabled - all trade requests will be rejected")
	} else {
		logs.Infof("Risk guard enabled")
	}
}

// rollDailyCountersLocked starts a fresh trading day. Open positions carry
// over; only the daily counters and the halt flag reset.
func (l *Limiter) rollDailyCountersLocked(today string) {
	l.state.Date = today
	l.state.DailyPNL = 0
	l.state.DailyTrades = 0
	l.state.SessionStartBalance = l.state.CurrentBalance
	l.state.MaxBalanceToday = l.state.CurrentBalance
	l.state.AutoHaltTriggered = false

	logs.Infof("Daily counters reset for new trading day %s", today)
	l.persistLocked()
	l.notifyLocked()
}

func (l *Limiter) removePositionLocked(tradeID string) {
	kept := l.state.ActivePositions[:0]
	for _, pos := range l.state.ActivePositions {
		if pos.ID != tradeID {
			kept = append(kept, pos)
		}
	}
	l.state.ActivePositions = kept
}

// persistLocked writes the state file. A persistence failure is logged and
// swallowed; the in-memory state stays authoritative until the next
// successful write.
func (l *Limiter) persistLocked() {
	if l.store == nil {
		return
	}
	if err := l.store.Save(l.state); err != nil {
		logs.Errorf("Failed to persist daily risk state: %v", err)
	}
}

func (l *Limiter) notifyLocked() {
	if l.onChange != nil {
		l.onChange(l.state.clone())
	}
}

func (l *Limiter) decisionLocked(approved bool, reason string) Decision {
	return Decision{
		Approved:  approved,
		Reason:    reason,
		Timestamp: l.now(),
		Status:    l.statusLocked(),
	}
}

// GetRiskStatus returns the current status projection.
func (l *Limiter) GetRiskStatus() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusLocked()
}

func (l *Limiter) statusLocked() Status {
	return Status{
		GuardActive:            l.guardActive,
		AutoHaltTriggered:      l.state.AutoHaltTriggered,
		DailyPNL:               l.state.DailyPNL,
		DailyTrades:            l.state.DailyTrades,
		CurrentBalance:         l.state.CurrentBalance,
		DailyLossLimit:         l.limits.DailyLossLimit,
		MaxTradesPerDay:        l.limits.MaxTradesPerDay,
		TradesRemaining:        maxInt(0, l.limits.MaxTradesPerDay-l.state.DailyTrades),
		LossLimitRemaining:     maxFloat(0, l.limits.DailyLossLimit+l.state.DailyPNL),
		CurrentDrawdownPct:     utils.RoundToPrecision(l.state.Drawdown()*100, 4),
		DrawdownThresholdPct:   l.limits.DrawdownThreshold * 100,
		ActivePositions:        len(l.state.ActivePositions),
		MaxConcurrentPositions: l.limits.MaxConcurrentPositions,
		LastResetDate:          l.state.Date,
	}
}

// GetCurrentMetrics returns the compact monitoring projection.
func (l *Limiter) GetCurrentMetrics() Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Metrics{
		DailyLoss:              maxFloat(0, -l.state.DailyPNL),
		DailyTrades:            l.state.DailyTrades,
		CurrentBalance:         l.state.CurrentBalance,
		DailyLossLimit:         l.limits.DailyLossLimit,
		MaxTradesPerDay:        l.limits.MaxTradesPerDay,
		TradesRemaining:        maxInt(0, l.limits.MaxTradesPerDay-l.state.DailyTrades),
		LossLimitRemaining:     maxFloat(0, l.limits.DailyLossLimit+l.state.DailyPNL),
		GuardActive:            l.guardActive,
		AutoHaltTriggered:      l.state.AutoHaltTriggered,
		ActivePositions:        len(l.state.ActivePositions),
		MaxConcurrentPositions: l.limits.MaxConcurrentPositions,
	}
}

// GetDailyStatus returns the comprehensive daily report.
func (l *Limiter) GetDailyStatus() DailyStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	dd := l.state.Drawdown()
	lossPct := 0.0
	if l.state.SessionStartBalance > 0 {
		lossPct = (l.state.SessionStartBalance - l.state.CurrentBalance) / l.state.SessionStartBalance
	}

	return DailyStatus{
		Date: l.state.Date,
		DailySummary: DailySummary{
			DailyPNL:           l.state.DailyPNL,
			DailyTrades:        l.state.DailyTrades,
			TradesRemaining:    maxInt(0, l.limits.MaxTradesPerDay-l.state.DailyTrades),
			LossLimitRemaining: maxFloat(0, l.limits.DailyLossLimit+l.state.DailyPNL),
		},
		BalanceInfo: BalanceInfo{
			CurrentBalance:      l.state.CurrentBalance,
			SessionStartBalance: l.state.SessionStartBalance,
			MaxBalanceToday:     l.state.MaxBalanceToday,
			BalanceChange:       l.state.CurrentBalance - l.state.SessionStartBalance,
			BalanceLossPct:      utils.RoundToPrecision(lossPct*100, 4),
		},
		RiskMetrics: DrawdownMetrics{
			CurrentDrawdownPct:     utils.RoundToPrecision(dd*100, 4),
			DrawdownThresholdPct:   l.limits.DrawdownThreshold * 100,
			ActivePositions:        len(l.state.ActivePositions),
			MaxConcurrentPositions: l.limits.MaxConcurrentPositions,
		},
		Limits: AppliedLimits{
			DailyLossLimit:         l.limits.DailyLossLimit,
			MaxTradesPerDay:        l.limits.MaxTradesPerDay,
			MaxPositionSize:        l.limits.MaxPositionSize,
			DrawdownThreshold:      l.limits.DrawdownThreshold,
			MaxConcurrentPositions: l.limits.MaxConcurrentPositions,
		},
		StatusFlags: DailyStatusFlags{
			GuardActive:          l.guardActive,
			AutoHaltTriggered:    l.state.AutoHaltTriggered,
			WithinLossLimits:     l.state.DailyPNL > -l.limits.DailyLossLimit,
			WithinTradeLimits:    l.state.DailyTrades < l.limits.MaxTradesPerDay,
			WithinDrawdownLimits: dd <= l.limits.DrawdownThreshold,
		},
		Warnings:  l.warningsLocked(),
		Timestamp: l.now(),
	}
}

// GetRiskWarnings returns the current advisory warnings. Purely
// informational, no side effects.
func (l *Limiter) GetRiskWarnings() []Warning {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.warningsLocked()
}

func (l *Limiter) warningsLocked() []Warning {
	warnings := []Warning{}

	tradesRemaining := l.limits.MaxTradesPerDay - l.state.DailyTrades
	if tradesRemaining <= 10 {
		severity := SeverityMedium
		if tradesRemaining <= 5 {
			severity = SeverityHigh
		}
		warnings = append(warnings, Warning{
			Type:     "TRADE_LIMIT_WARNING",
			Message:  fmt.Sprintf("Only %d trades remaining today", tradesRemaining),
			Severity: severity,
		})
	}

	lossRemaining := l.limits.DailyLossLimit + l.state.DailyPNL
	if lossRemaining <= 50 {
		severity := SeverityMedium
		if lossRemaining <= 20 {
			severity = SeverityHigh
		}
		warnings = append(warnings, Warning{
			Type:     "LOSS_LIMIT_WARNING",
			Message:  fmt.Sprintf("Only %.2f loss buffer remaining", lossRemaining),
			Severity: severity,
		})
	}

	if dd := l.state.Drawdown(); dd > 0.05 {
		severity := SeverityMedium
		if dd > 0.08 {
			severity = SeverityHigh
		}
		warnings = append(warnings, Warning{
			Type:     "DRAWDOWN_WARNING",
			Message:  fmt.Sprintf("Current drawdown: %.1f%%", dd*100),
			Severity: severity,
		})
	}

	if len(l.state.ActivePositions) >= l.limits.MaxConcurrentPositions-1 {
		warnings = append(warnings, Warning{
			Type:     "POSITION_LIMIT_WARNING",
			Message:  fmt.Sprintf("Near max concurrent positions (%d/%d)", len(l.state.ActivePositions), l.limits.MaxConcurrentPositions),
			Severity: SeverityMedium,
		})
	}

	return warnings
}

// GetState returns a deep copy of the current daily state for persistence
// or snapshotting.
func (l *Limiter) GetState() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.clone()
}

// Restore hydrates the limiter from a previously captured state, used by
// crash recovery.
func (l *Limiter) Restore(st State) {
	l.mu.Lock()
	defer l.mu.Unlock()

	restored := st.clone()
	if restored.ActivePositions == nil {
		restored.ActivePositions = []ActivePosition{}
	}
	l.state = &restored
	l.persistLocked()
	l.notifyLocked()
	logs.Infof("Risk state restored - P&L: %.2f, Trades: %d, Halted: %v", st.DailyPNL, st.DailyTrades, st.AutoHaltTriggered)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
