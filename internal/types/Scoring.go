/*

This file contains the types for scoring exposure strategies, and the tunable
parameters for the strategy optimizer.

*/

package types

import (
	"errors"
	"math"
	"time"

	sdkmath "cosmossdk.io/math"
)

// OptimizerParameters holds all tunable weights, coefficients and thresholds
// used by the strategy optimizer for scoring, allocation and rebalance
// gating. Different sets of these parameters can exist for different market
// regimes.
type OptimizerParameters struct {
	// --- Sub-score weights ---
	CostWeight        float64 `json:"cost_weight"`        // Weight of the cost sub-score in the total score.
	RiskWeight        float64 `json:"risk_weight"`        // Weight of the risk sub-score.
	LiquidityWeight   float64 `json:"liquidity_weight"`   // Weight of the liquidity sub-score.
	ReliabilityWeight float64 `json:"reliability_weight"` // Weight of the reliability sub-score.
	CapacityWeight    float64 `json:"capacity_weight"`    // Weight of the capacity sub-score.

	// --- Scoring anchors ---
	CostScoreAnchorBps int64   `json:"cost_score_anchor_bps"` // Carry cost at which the cost sub-score reaches zero.
	MinScoreThreshold  float64 `json:"min_score_threshold"`   // Strategies scoring below this are not recommended.

	// --- Rebalance gating ---
	MinCostSavingBps       int64 `json:"min_cost_saving_bps"`      // Absolute minimum expected saving to consider rebalancing.
	InstructionOverheadBps int64 `json:"instruction_overhead_bps"` // Estimated execution cost per instruction (gas/overhead proxy).
	RebalanceToleranceBps  int64 `json:"rebalance_tolerance_bps"`  // Allocation deviations below this are ignored.
	MaxSlippageBps         int64 `json:"max_slippage_bps"`         // Slippage bound attached to generated instructions.

	// --- Emergency thresholds (independent of the scoring pipeline) ---
	EmergencyCostBps   int64 `json:"emergency_cost_bps"`   // Carry cost beyond which a strategy is flagged.
	EmergencyRiskScore int64 `json:"emergency_risk_score"` // Risk score (0-100) beyond which a strategy is flagged.
	EmergencyFailures  int   `json:"emergency_failures"`   // Consecutive recorded failures beyond which a strategy is flagged.

	// --- Reliability history ---
	HistoryWindow int `json:"history_window"` // Number of performance records considered for reliability.
}

// Validate performs strict validation of the optimizer parameters. All
// weights must be finite and non-negative and at least one must be positive.
func (p OptimizerParameters) Validate() error {
	weights := []struct {
		value float64
		name  string
	}{
		{p.CostWeight, "CostWeight"},
		{p.RiskWeight, "RiskWeight"},
		{p.LiquidityWeight, "LiquidityWeight"},
		{p.ReliabilityWeight, "ReliabilityWeight"},
		{p.CapacityWeight, "CapacityWeight"},
	}
	var total float64
	for _, w := range weights {
		if math.IsNaN(w.value) || math.IsInf(w.value, 0) {
			return errors.New(w.name + " must be finite")
		}
		if w.value < 0 {
			return errors.New(w.name + " cannot be negative")
		}
		total += w.value
	}
	if total <= 0 {
		return errors.New("sub-score weights must sum to a positive value")
	}
	if p.CostScoreAnchorBps <= 0 {
		return errors.New("CostScoreAnchorBps must be positive")
	}
	if math.IsNaN(p.MinScoreThreshold) || math.IsInf(p.MinScoreThreshold, 0) {
		return errors.New("MinScoreThreshold must be finite")
	}
	if p.MinCostSavingBps < 0 {
		return errors.New("MinCostSavingBps cannot be negative")
	}
	if p.InstructionOverheadBps < 0 {
		return errors.New("InstructionOverheadBps cannot be negative")
	}
	if p.RebalanceToleranceBps < 0 || p.RebalanceToleranceBps > BpsDenominator {
		return errors.New("RebalanceToleranceBps is out of range")
	}
	if p.MaxSlippageBps < 0 || p.MaxSlippageBps > MaxSlippageHardCap {
		return errors.New("MaxSlippageBps is out of range")
	}
	if p.EmergencyCostBps <= 0 {
		return errors.New("EmergencyCostBps must be positive")
	}
	if p.EmergencyRiskScore <= 0 || p.EmergencyRiskScore > 100 {
		return errors.New("EmergencyRiskScore must be in (0, 100]")
	}
	if p.EmergencyFailures < 0 {
		return errors.New("EmergencyFailures cannot be negative")
	}
	if p.HistoryWindow <= 0 {
		return errors.New("HistoryWindow must be positive")
	}
	return nil
}

// StrategyScore is the transient per-strategy scoring result. It is computed
// per call from live strategy reads and never stored.
type StrategyScore struct {
	Strategy         string       `json:"strategy"`
	Kind             StrategyKind `json:"kind"`
	CostScore        float64      `json:"cost_score"`        // 0-100, higher is cheaper.
	RiskScore        float64      `json:"risk_score"`        // 0-100, higher is safer.
	LiquidityScore   float64      `json:"liquidity_score"`   // 0-100.
	ReliabilityScore float64      `json:"reliability_score"` // 0-100, from performance history.
	CapacityScore    float64      `json:"capacity_score"`    // 0-100, remaining headroom.
	TotalScore       float64      `json:"total_score"`
	Recommended      bool         `json:"recommended"`
}

// RebalanceInstruction is one ordered step of a rebalance plan. An empty
// FromStrategy means fresh capital in; an empty ToStrategy means close-only.
type RebalanceInstruction struct {
	FromStrategy   string      `json:"from_strategy"`
	ToStrategy     string      `json:"to_strategy"`
	Amount         sdkmath.Int `json:"amount"`           // Base-asset units to move.
	Priority       int         `json:"priority"`         // Lower executes first.
	MaxSlippageBps int64       `json:"max_slippage_bps"` // Execution slippage bound.
}

// OptimizationResult bundles the optimizer's output for one analysis call.
type OptimizationResult struct {
	Scores            []StrategyScore        `json:"scores"`
	TargetAllocations map[string]int64       `json:"target_allocations"` // Strategy name -> bps of total capital.
	Instructions      []RebalanceInstruction `json:"instructions"`
	ShouldRebalance   bool                   `json:"should_rebalance"`
	ExpectedSavingBps int64                  `json:"expected_saving_bps"`
	EstimatedCostBps  int64                  `json:"estimated_cost_bps"` // Execution cost of the instruction set.
	GeneratedAt       time.Time              `json:"generated_at"`
}

// PerformanceRecord is one historical observation about a strategy, used as
// a reliability scoring input.
type PerformanceRecord struct {
	Strategy  string    `json:"strategy"`
	Success   bool      `json:"success"`
	CostBps   int64     `json:"cost_bps"`
	Timestamp time.Time `json:"timestamp"`
}
