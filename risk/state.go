// risk/state.go
package risk

import "time"

// Halt trigger reasons. Every transition into the halted state is tagged
// with one of these and appended to the violation log.
const (
	HaltTradeLimit        = "DAILY_TRADE_LIMIT_EXCEEDED"
	HaltDailyLoss         = "DAILY_LOSS_LIMIT_EXCEEDED"
	HaltDrawdown          = "DRAWDOWN_THRESHOLD_EXCEEDED"
	HaltBalanceProtection = "BALANCE_PROTECTION_TRIGGERED"
)

// ActivePosition is one currently open position tracked for the
// concurrent-position limit.
type ActivePosition struct {
	ID       string    `json:"id"`
	Symbol   string    `json:"symbol"`
	Size     float64   `json:"size"`
	OpenedAt time.Time `json:"opened_at"`
}

// State holds today's risk counters. One instance per process, mutated only
// by the Limiter, rolled over (never destroyed) at date change.
type State struct {
	Date                string           `json:"date"`
	DailyPNL            float64          `json:"daily_pnl"`
	DailyTrades         int              `json:"daily_trades"`
	CurrentBalance      float64          `json:"current_balance"`
	MaxBalanceToday     float64          `json:"max_balance_today"`
	SessionStartBalance float64          `json:"session_start_balance"`
	AutoHaltTriggered   bool             `json:"auto_halt_triggered"`
	ActivePositions     []ActivePosition `json:"active_positions"`
}

// Drawdown returns the fractional decline from today's balance peak,
// recomputed from the stored fields on every call. It is never cached.
func (s *State) Drawdown() float64 {
	if s.MaxBalanceToday <= 0 {
		return 0
	}
	return (s.MaxBalanceToday - s.CurrentBalance) / s.MaxBalanceToday
}

// clone returns a deep copy so callers can never mutate the live state.
func (s *State) clone() State {
	out := *s
	out.ActivePositions = make([]ActivePosition, len(s.ActivePositions))
	copy(out.ActivePositions, s.ActivePositions)
	return out
}

// Trade actions accepted by RecordTradeResult.
const (
	ActionOpen  = "open"
	ActionClose = "close"
)

// TradeRequest is what the trading engine submits to ValidateTrade before
// placing an order.
type TradeRequest struct {
	TradeID      string  `json:"trade_id"`
	Symbol       string  `json:"symbol"`
	PositionSize float64 `json:"position_size"`
}

// TradeResult is reported to RecordTradeResult after a trade settles.
// Results must arrive in settlement order; threshold evaluation depends on
// the running balance at call time.
type TradeResult struct {
	TradeID      string  `json:"trade_id"`
	Symbol       string  `json:"symbol"`
	Action       string  `json:"action"` // "open" or "close"
	PositionSize float64 `json:"position_size"`
	PNL          float64 `json:"pnl"`
	Fees         float64 `json:"fees"`
}

// Decision is the outcome of a ValidateTrade call. A rejection is a normal
// result, not an error.
type Decision struct {
	Approved  bool      `json:"approved"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"risk_status"`
}

// Status is the read-only projection of the limiter's state plus derived
// fields, consumed by the reporting engine and the CLI.
type Status struct {
	GuardActive            bool    `json:"risk_guard_active"`
	AutoHaltTriggered      bool    `json:"auto_halt_triggered"`
	DailyPNL               float64 `json:"daily_pnl"`
	DailyTrades            int     `json:"daily_trades"`
	CurrentBalance         float64 `json:"current_balance"`
	DailyLossLimit         float64 `json:"daily_loss_limit"`
	MaxTradesPerDay        int     `json:"max_trades_per_day"`
	TradesRemaining        int     `json:"trades_remaining"`
	LossLimitRemaining     float64 `json:"loss_limit_remaining"`
	CurrentDrawdownPct     float64 `json:"current_drawdown_pct"`
	DrawdownThresholdPct   float64 `json:"drawdown_threshold_pct"`
	ActivePositions        int     `json:"active_positions"`
	MaxConcurrentPositions int     `json:"max_concurrent_positions"`
	LastResetDate          string  `json:"last_reset_date"`
}

// Metrics is the compact projection used by monitoring displays. DailyLoss
// only ever shows losses, as a positive number.
type Metrics struct {
	DailyLoss              float64 `json:"daily_loss"`
	DailyTrades            int     `json:"daily_trades"`
	CurrentBalance         float64 `json:"current_balance"`
	DailyLossLimit         float64 `json:"daily_loss_limit"`
	MaxTradesPerDay        int     `json:"max_trades_per_day"`
	TradesRemaining        int     `json:"trades_remaining"`
	LossLimitRemaining     float64 `json:"loss_limit_remaining"`
	GuardActive            bool    `json:"risk_guard_active"`
	AutoHaltTriggered      bool    `json:"auto_halt_triggered"`
	ActivePositions        int     `json:"active_positions"`
	MaxConcurrentPositions int     `json:"max_concurrent_positions"`
}

// Warning severities.
const (
	SeverityHigh   = "HIGH"
	SeverityMedium = "MEDIUM"
)

// Warning is a soft, advisory notice. Warnings never block trades.
type Warning struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// DailyStatus is the comprehensive end-of-day style report.
type DailyStatus struct {
	Date         string           `json:"date"`
	DailySummary DailySummary     `json:"daily_summary"`
	BalanceInfo  BalanceInfo      `json:"balance_info"`
	RiskMetrics  DrawdownMetrics  `json:"risk_metrics"`
	Limits       AppliedLimits    `json:"limits"`
	StatusFlags  DailyStatusFlags `json:"status_flags"`
	Warnings     []Warning        `json:"warnings"`
	Timestamp    time.Time        `json:"timestamp"`
}

type DailySummary struct {
	DailyPNL           float64 `json:"daily_pnl"`
	DailyTrades        int     `json:"daily_trades"`
	TradesRemaining    int     `json:"trades_remaining"`
	LossLimitRemaining float64 `json:"loss_limit_remaining"`
}

type BalanceInfo struct {
	CurrentBalance      float64 `json:"current_balance"`
	SessionStartBalance float64 `json:"session_start_balance"`
	MaxBalanceToday     float64 `json:"max_balance_today"`
	BalanceChange       float64 `json:"balance_change"`
	BalanceLossPct      float64 `json:"balance_loss_pct"`
}

type DrawdownMetrics struct {
	CurrentDrawdownPct     float64 `json:"current_drawdown_pct"`
	DrawdownThresholdPct   float64 `json:"drawdown_threshold_pct"`
	ActivePositions        int     `json:"active_positions"`
	MaxConcurrentPositions int     `json:"max_concurrent_positions"`
}

type AppliedLimits struct {
	DailyLossLimit         float64 `json:"daily_loss_limit"`
	MaxTradesPerDay        int     `json:"max_trades_per_day"`
	MaxPositionSize        float64 `json:"max_position_size"`
	DrawdownThreshold      float64 `json:"drawdown_threshold"`
	MaxConcurrentPositions int     `json:"max_concurrent_positions"`
}

type DailyStatusFlags struct {
	GuardActive          bool `json:"risk_guard_active"`
	AutoHaltTriggered    bool `json:"auto_halt_triggered"`
	WithinLossLimits     bool `json:"within_loss_limits"`
	WithinTradeLimits    bool `json:"within_trade_limits"`
	WithinDrawdownLimits bool `json:"within_drawdown_limits"`
}

// Violation is one halt trigger event, appended to the violation log as a
// single JSON line.
type Violation struct {
	Timestamp      time.Time `json:"timestamp"`
	Reason         string    `json:"reason"`
	DailyPNL       float64   `json:"daily_pnl"`
	DailyTrades    int       `json:"daily_trades"`
	CurrentBalance float64   `json:"current_balance"`
	DrawdownPct    float64   `json:"drawdown_pct"`
}
