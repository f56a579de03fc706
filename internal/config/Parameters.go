/*

This file contains the default parameters for the exposure manager.

These parameters are designed for managing significant capital in a production
environment. Each value has been chosen to balance execution cost against risk
containment.

*/

package config

import (
	sdkmath "cosmossdk.io/math"

	"github.com/metazhar-legion/meta-index-sub006/internal/types"
)

// DefaultOptimizerParameters provides a baseline set of parameters for the
// strategy optimizer. These values are used if no active parameters are found
// in the database during initialization.
//
// IMPORTANT: These defaults are calibrated for managing large amounts of
// capital. They prioritize capital preservation over aggressive cost chasing.
var DefaultOptimizerParameters = types.OptimizerParameters{
	// --- Sub-score weights ---
	CostWeight: 1.5, // Carry cost dominates long-horizon exposure returns.
	// Rationale: Over a multi-month holding period, a 50 bps difference in
	// annualized carry compounds into real money. Cost is the signal the
	// optimizer exists to act on, so it carries the highest weight.

	RiskWeight: 1.2, // Second priority: avoid routing into fragile venues.
	// Rationale: A cheap strategy that liquidates or defaults is more
	// expensive than any carry saving. Risk is weighted just below cost so
	// it can veto marginal cost advantages.

	LiquidityWeight: 0.8, // Exit depth matters at size.
	// Rationale: Large positions need to unwind without dominating the
	// venue. Liquidity is structural per strategy kind and changes slowly,
	// so it does not need top billing.

	ReliabilityWeight: 1.0, // Learned from realized execution history.
	// Rationale: A venue that keeps failing instructions is worse than its
	// quoted cost suggests. History-driven weighting lets the optimizer
	// route around persistent operational problems.

	CapacityWeight: 0.5, // Headroom is binary in practice.
	// Rationale: Either a strategy can absorb the target exposure or it
	// cannot. The capacity score already collapses allocations for full
	// strategies, so a modest weight suffices.

	// --- Scoring anchors ---
	CostScoreAnchorBps: 1000, // 10% annualized carry scores zero.
	// Rationale: A strategy costing 10%/yr to hold is never attractive for
	// passive exposure. Everything cheaper earns a proportional score.

	MinScoreThreshold: 35.0, // Strategies below this are not recommended.
	// Rationale: Low composite scores mean expensive, risky or unreliable.
	// Better to concentrate in fewer sound strategies than to force
	// diversification into poor ones.

	// --- Rebalance gating ---
	MinCostSavingBps: 20, // Ignore savings below 20 bps annualized.
	// Rationale: Small edges are noise in cost estimates. Acting on them
	// churns capital without improving the portfolio.

	InstructionOverheadBps: 5, // Per-instruction execution overhead estimate.
	// Rationale: Every close/open pair pays gas, spread and operational
	// risk. Charging a flat overhead per instruction makes long plans
	// justify themselves.

	RebalanceToleranceBps: 100, // Ignore allocation drift below 1%.
	// Rationale: Drift inside 1% of capital is not worth a transaction.
	// A tolerance band keeps the planner from emitting dust moves.

	MaxSlippageBps: 50, // Slippage bound attached to generated instructions.
	// Rationale: Routine rebalancing should never accept emergency-level
	// slippage. 50 bps forces execution to wait for acceptable conditions.

	// --- Emergency thresholds ---
	EmergencyCostBps: 2000, // Flag strategies with carry above 20%/yr.
	// Rationale: Carry at that level signals a broken venue (funding
	// blowout, credit event), not a market to optimize against.

	EmergencyRiskScore: 85, // Flag strategies reporting extreme risk.
	// Rationale: Risk scores this high mean near-liquidation leverage or a
	// distressed counterparty. The flag surfaces independently of scoring
	// so a high score elsewhere cannot mask it.

	EmergencyFailures: 3, // Flag after three consecutive failed operations.
	// Rationale: One failure is noise, two may be bad luck, three in a row
	// is an outage. Operators need the signal before more capital routes in.

	// --- Reliability history ---
	HistoryWindow: 50, // Performance records considered for reliability.
	// Rationale: Enough observations to smooth single incidents while
	// still reflecting a venue's current operational state.
}

// DefaultRiskParameters provides baseline per-strategy risk bounds used when
// a strategy is constructed without an explicit override.
var DefaultRiskParameters = types.RiskParameters{
	MaxLeverage: 300, // 3x ceiling, well inside the 10x hard cap.
	// Rationale: Leverage above 3x puts the liquidation price inside
	// ordinary market noise for the asset classes this manager targets.

	MaxPositionSize: sdkmath.NewInt(10_000_000_000_000), // 10M base units at 6 decimals.
	// Rationale: Caps single-strategy exposure so one venue failure cannot
	// take down the whole bundle.

	LiquidationBuffer: 2000, // Keep 20% of collateral above liquidation level.
	// Rationale: Funding-driven collateral drain plus a gap move must not
	// reach the liquidation price between monitoring cycles.

	RebalanceThreshold: 300, // 3% internal deviation before a strategy self-adjusts.
	// Rationale: Per-strategy adjustment below this is dominated by fees.

	SlippageLimit: 100, // 1% execution slippage bound for routine operations.
	// Rationale: Emergency exits may relax this to the hard cap; normal
	// flow should never need to.

	EmergencyExitEnabled: true,
	// Rationale: Exits must work on day one. Disabling the escape hatch is
	// an explicit operator decision, never a default.
}
