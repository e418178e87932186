// Package portfolio implements the portfolio orchestration layer (C7):
// capital-pool bookkeeping, admission control, risk checks, and
// coordinated multi-pair entry submission.
//
// Grounded in original_source/trading/portfolio_manager.py and
// portfolio_orchestrator.py, translated to Go's exported-struct-plus-
// methods idiom with decimal.Decimal replacing Python's Decimal.
package portfolio

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/chidi150c/tstopd/internal/position"
)

var (
	ErrMaxPositions    = errors.New("portfolio: max positions reached")
	ErrPairNotFound    = errors.New("portfolio: pair not registered")
	ErrPositionMissing = errors.New("portfolio: position not found")
)

// Config is portfolio-level configuration (spec.md §6 "portfolio" block).
type Config struct {
	TotalCapital                 decimal.Decimal
	MaxPositionSizePct           decimal.Decimal
	MaxPositions                 int
	MaxCorrelatedExposurePct     decimal.Decimal
	RebalanceThresholdPct        decimal.Decimal
	EmergencyLiquidationLossPct  decimal.Decimal // negative, e.g. -10
}

// DefaultConfig mirrors the original's dataclass defaults.
func DefaultConfig(totalCapital decimal.Decimal) Config {
	return Config{
		TotalCapital:                totalCapital,
		MaxPositionSizePct:          decimal.NewFromInt(5),
		MaxPositions:                10,
		MaxCorrelatedExposurePct:    decimal.NewFromInt(20),
		RebalanceThresholdPct:       decimal.NewFromInt(10),
		EmergencyLiquidationLossPct: decimal.NewFromInt(-10),
	}
}

// PairConfig is per-pair configuration (spec.md §6 "pairs[]" entries).
type PairConfig struct {
	ProductID             string
	Enabled               bool
	PositionSizePct       decimal.Decimal
	TrailPct              decimal.Decimal
	EntryConfirmationLvl  int
	MaxEntryWaitMinutes   int
	CorrelationGroup      string
}

// Status is a portfolio position's lifecycle state.
type Status string

const (
	StatusActive     Status = "active"
	StatusClosed     Status = "closed"
	StatusLiquidated Status = "liquidated"
)

// Position is portfolio-level tracking for one open (or closed) position,
// wrapping the position.State the execution engine maintains.
type Position struct {
	PositionID     string
	ProductID      string
	State          *position.State
	TargetSizePct  decimal.Decimal
	CurrentPnL     decimal.Decimal
	CurrentPnLPct  decimal.Decimal
	Status         Status
}

// Metrics is a point-in-time snapshot of portfolio health (spec.md §4.7).
type Metrics struct {
	TotalCapital       decimal.Decimal
	AvailableCapital   decimal.Decimal
	DeployedCapital    decimal.Decimal
	TotalPositions     int
	ActivePositions    int
	ClosedPositions    int
	RealizedPnL        decimal.Decimal
	UnrealizedPnL      decimal.Decimal
	TotalPnL           decimal.Decimal
	TotalReturnPct     decimal.Decimal
	LargestPositionPct decimal.Decimal
	ConcentrationPct   decimal.Decimal
	WinRatePct         decimal.Decimal
}

// RebalanceAction describes a position whose current allocation has
// drifted past the configured threshold from its target.
type RebalanceAction struct {
	PositionID string
	ProductID  string
	CurrentPct decimal.Decimal
	TargetPct  decimal.Decimal
	DriftPct   decimal.Decimal
	Action     string // "increase" or "decrease"
}

// Manager tracks positions across pairs and enforces portfolio-level risk
// limits. Safe for concurrent use.
type Manager struct {
	mu              sync.Mutex
	cfg             Config
	pairConfigs     map[string]PairConfig
	positions       map[string]*Position
	closedPositions []*Position
}

// NewManager constructs an empty Manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:         cfg,
		pairConfigs: make(map[string]PairConfig),
		positions:   make(map[string]*Position),
	}
}

// RegisterPair adds a pair to the portfolio's tradable set. A disabled
// pair config is silently ignored, matching the original's early return.
func (m *Manager) RegisterPair(pc PairConfig) error {
	if !pc.Enabled {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pairConfigs) >= m.cfg.MaxPositions {
		return fmt.Errorf("%w (%d)", ErrMaxPositions, m.cfg.MaxPositions)
	}
	m.pairConfigs[pc.ProductID] = pc
	return nil
}

// PositionSizeUSD returns the capital allocated to one pair's position.
func (m *Manager) PositionSizeUSD(productID string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.pairConfigs[productID]
	if !ok {
		return decimal.Zero
	}
	return m.cfg.TotalCapital.Mul(pc.PositionSizePct).Div(decimal.NewFromInt(100))
}

// AddPosition registers a freshly opened position under the portfolio.
func (m *Manager) AddPosition(positionID, productID string, st *position.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.pairConfigs[productID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPairNotFound, productID)
	}
	if len(m.positions) >= m.cfg.MaxPositions {
		return fmt.Errorf("%w (%d)", ErrMaxPositions, m.cfg.MaxPositions)
	}
	m.positions[positionID] = &Position{
		PositionID:    positionID,
		ProductID:     productID,
		State:         st,
		TargetSizePct: pc.PositionSizePct,
		Status:        StatusActive,
	}
	return nil
}

// UpdatePosition refreshes a position's tracked state and unrealized P&L,
// flagging it for emergency liquidation if the loss exceeds the
// configured threshold.
func (m *Manager) UpdatePosition(positionID string, st *position.State, currentPrice decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[positionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionMissing, positionID)
	}
	pos.State = st

	if !currentPrice.IsZero() && pos.State.QtyFilled.GreaterThan(decimal.Zero) {
		pnl := currentPrice.Sub(pos.State.EntryPrice).Mul(pos.State.QtyFilled)
		var pnlPct decimal.Decimal
		if pos.State.EntryPrice.GreaterThan(decimal.Zero) {
			pnlPct = currentPrice.Sub(pos.State.EntryPrice).Div(pos.State.EntryPrice).Mul(decimal.NewFromInt(100))
		}
		pos.CurrentPnL = pnl
		pos.CurrentPnLPct = pnlPct

		if pnlPct.LessThanOrEqual(m.cfg.EmergencyLiquidationLossPct) {
			pos.Status = StatusLiquidated
		}
	}
	return nil
}

// ClosePosition removes a position from the active set and records its
// realized P&L.
func (m *Manager) ClosePosition(positionID string, exitPrice decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[positionID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrPositionMissing, positionID)
	}
	delete(m.positions, positionID)

	realized := exitPrice.Sub(pos.State.EntryPrice).Mul(pos.State.QtyFilled)
	pos.State.QtyFilled = decimal.Zero
	pos.Status = StatusClosed
	pos.CurrentPnL = realized
	m.closedPositions = append(m.closedPositions, pos)
	return realized, nil
}

// ActivePositionCount returns the number of currently open positions.
func (m *Manager) ActivePositionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// PositionByProduct returns the active position for a product, if any.
func (m *Manager) PositionByProduct(productID string) (positionID string, pos *Position, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pid, p := range m.positions {
		if p.ProductID == productID {
			return pid, p, true
		}
	}
	return "", nil, false
}

// GetMetrics computes portfolio-level metrics from current state.
func (m *Manager) GetMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metricsLocked()
}

func (m *Manager) metricsLocked() Metrics {
	deployed := decimal.Zero
	var sizes []decimal.Decimal
	for _, pos := range m.positions {
		if pos.State.QtyFilled.GreaterThan(decimal.Zero) {
			size := pos.State.EntryPrice.Mul(pos.State.QtyFilled)
			deployed = deployed.Add(size)
			sizes = append(sizes, size)
		}
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i].GreaterThan(sizes[j]) })

	unrealized := decimal.Zero
	for _, pos := range m.positions {
		unrealized = unrealized.Add(pos.CurrentPnL)
	}
	realized := decimal.Zero
	wins := 0
	for _, pos := range m.closedPositions {
		realized = realized.Add(pos.CurrentPnL)
		if pos.CurrentPnL.GreaterThan(decimal.Zero) {
			wins++
		}
	}
	totalPnL := realized.Add(unrealized)

	totalReturn := decimal.Zero
	if m.cfg.TotalCapital.GreaterThan(decimal.Zero) {
		totalReturn = totalPnL.Div(m.cfg.TotalCapital).Mul(decimal.NewFromInt(100))
	}

	top3 := decimal.Zero
	for i := 0; i < len(sizes) && i < 3; i++ {
		top3 = top3.Add(sizes[i])
	}
	concentration := decimal.Zero
	largest := decimal.Zero
	if m.cfg.TotalCapital.GreaterThan(decimal.Zero) {
		concentration = top3.Div(m.cfg.TotalCapital).Mul(decimal.NewFromInt(100))
		if len(sizes) > 0 {
			largest = sizes[0].Div(m.cfg.TotalCapital).Mul(decimal.NewFromInt(100))
		}
	}

	winRate := decimal.Zero
	if len(m.closedPositions) > 0 {
		winRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(len(m.closedPositions)))).Mul(decimal.NewFromInt(100))
	}

	return Metrics{
		TotalCapital:       m.cfg.TotalCapital,
		AvailableCapital:   m.cfg.TotalCapital.Sub(deployed),
		DeployedCapital:    deployed,
		TotalPositions:     len(m.positions) + len(m.closedPositions),
		ActivePositions:    len(m.positions),
		ClosedPositions:    len(m.closedPositions),
		RealizedPnL:        realized,
		UnrealizedPnL:      unrealized,
		TotalPnL:           totalPnL,
		TotalReturnPct:     totalReturn,
		LargestPositionPct: largest,
		ConcentrationPct:   concentration,
		WinRatePct:         winRate,
	}
}

// CheckRiskLimits reports any portfolio-level risk violations, keyed by
// violation name (spec.md §4.7 risk checks).
func (m *Manager) CheckRiskLimits() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	metrics := m.metricsLocked()
	issues := make(map[string]string)

	if metrics.ActivePositions > m.cfg.MaxPositions {
		issues["max_positions"] = fmt.Sprintf("active positions (%d) > limit (%d)", metrics.ActivePositions, m.cfg.MaxPositions)
	}
	if metrics.LargestPositionPct.GreaterThan(m.cfg.MaxPositionSizePct) {
		issues["position_size"] = fmt.Sprintf("largest position (%s%%) > limit (%s%%)", metrics.LargestPositionPct.StringFixed(1), m.cfg.MaxPositionSizePct.String())
	}
	if metrics.ConcentrationPct.GreaterThan(m.cfg.MaxCorrelatedExposurePct) {
		issues["concentration"] = fmt.Sprintf("top-3 concentration (%s%%) > limit (%s%%)", metrics.ConcentrationPct.StringFixed(1), m.cfg.MaxCorrelatedExposurePct.String())
	}
	return issues
}

// GetRebalanceActions identifies positions whose allocation has drifted
// past RebalanceThresholdPct from their target.
func (m *Manager) GetRebalanceActions() []RebalanceAction {
	m.mu.Lock()
	defer m.mu.Unlock()

	var actions []RebalanceAction
	for pid, pos := range m.positions {
		currentPct := decimal.Zero
		if m.cfg.TotalCapital.GreaterThan(decimal.Zero) {
			currentPct = pos.State.EntryPrice.Mul(pos.State.QtyFilled).Div(m.cfg.TotalCapital).Mul(decimal.NewFromInt(100))
		}
		drift := currentPct.Sub(pos.TargetSizePct).Abs()
		if drift.GreaterThan(m.cfg.RebalanceThresholdPct) {
			action := "increase"
			if currentPct.GreaterThanOrEqual(pos.TargetSizePct) {
				action = "decrease"
			}
			actions = append(actions, RebalanceAction{
				PositionID: pid,
				ProductID:  pos.ProductID,
				CurrentPct: currentPct,
				TargetPct:  pos.TargetSizePct,
				DriftPct:   drift,
				Action:     action,
			})
		}
	}
	return actions
}
