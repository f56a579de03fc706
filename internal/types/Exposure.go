/*

This file contains the derived exposure snapshot and cost breakdown records
shared by the strategies, the optimizer and the bundle.

*/

package types

import (
	"errors"
	"math"
	"time"

	sdkmath "cosmossdk.io/math"
)

// CostUnavailable is the sentinel returned by cost estimation when no quote
// or rate can be obtained. Callers must treat it as "cannot be serviced",
// never as a numeric cost.
const CostUnavailable int64 = math.MaxInt64

// StrategyKind identifies one of the exposure strategy implementations.
type StrategyKind string

const (
	StrategyTRS         StrategyKind = "TRS"
	StrategyPerpetual   StrategyKind = "PERPETUAL"
	StrategyDirectToken StrategyKind = "DIRECT_TOKEN"
)

// ExposureInfo is a read-only snapshot of a strategy's live state. It is
// recomputed from live state on every read and never persisted independently.
type ExposureInfo struct {
	Kind             StrategyKind `json:"strategy_type"`
	UnderlyingAsset  string       `json:"underlying_asset"`
	Leverage         int64        `json:"leverage"`         // Centi-x (100 = 1x).
	CollateralRatio  int64        `json:"collateral_ratio"` // Bps: collateral / notional.
	CurrentExposure  sdkmath.Int  `json:"current_exposure"` // Notional, base-asset units.
	MaxCapacity      sdkmath.Int  `json:"max_capacity"`     // Remaining headroom to MaxPositionSize.
	CurrentCostBps   int64        `json:"current_cost_bps"` // Annualized carry cost.
	RiskScore        int64        `json:"risk_score"`       // 0-100, higher is riskier.
	IsActive         bool         `json:"is_active"`
	LiquidationPrice sdkmath.Int  `json:"liquidation_price"` // Zero when the strategy cannot be liquidated.
}

// CostBreakdown itemizes a strategy's carry cost in basis points. The sum of
// the components must equal TotalCostBps at emission time.
type CostBreakdown struct {
	FundingRateBps   int64     `json:"funding_rate_bps"`
	BorrowRateBps    int64     `json:"borrow_rate_bps"`
	ManagementFeeBps int64     `json:"management_fee_bps"`
	SlippageCostBps  int64     `json:"slippage_cost_bps"`
	GasCostBps       int64     `json:"gas_cost_bps"`
	TotalCostBps     int64     `json:"total_cost_bps"`
	LastUpdated      time.Time `json:"last_updated"`
}

var ErrCostComponentsMismatch = errors.New("cost components do not sum to total")

// Validate checks the emission-time invariant that the components sum to the
// reported total.
func (c CostBreakdown) Validate() error {
	sum := c.FundingRateBps + c.BorrowRateBps + c.ManagementFeeBps + c.SlippageCostBps + c.GasCostBps
	if sum != c.TotalCostBps {
		return ErrCostComponentsMismatch
	}
	return nil
}
