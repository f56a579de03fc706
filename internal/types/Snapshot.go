/*

This file contains the cycle snapshot types which record the full state of a
bundle rebalance cycle for analytics and the web dashboard.

*/

package types

import (
	"time"
)

// StrategySnapshot captures one strategy's state at a point in a cycle.
type StrategySnapshot struct {
	Strategy      string       `json:"strategy"`
	Kind          StrategyKind `json:"kind"`
	Exposure      string       `json:"exposure"` // Base-asset units, stringified for storage.
	AllocationBps int64        `json:"allocation_bps"`
	CostBps       int64        `json:"cost_bps"`
	RiskScore     int64        `json:"risk_score"`
	IsActive      bool         `json:"is_active"`
}

// InstructionReceipt records the outcome of one executed rebalance
// instruction. Batch execution isolates failures, so receipts carry their
// own success flag rather than aborting the cycle.
type InstructionReceipt struct {
	Instruction RebalanceInstruction `json:"instruction"`
	Success     bool                 `json:"success"`
	Message     string               `json:"message,omitempty"`
	MovedAmount string               `json:"moved_amount"` // Actual base-asset units moved.
	Timestamp   time.Time            `json:"timestamp"`
}

// RebalanceSnapshot is the complete record of one bundle cycle: state before,
// the plan, per-instruction receipts and state after.
type RebalanceSnapshot struct {
	CycleNumber       int                    `json:"cycle_number"`
	CycleID           string                 `json:"cycle_id"`
	Timestamp         time.Time              `json:"timestamp"`
	ParamsID          *int64                 `json:"params_id,omitempty"`
	InitialCapital    string                 `json:"initial_capital"`
	InitialStrategies []StrategySnapshot     `json:"initial_strategies"`
	TargetAllocations map[string]int64       `json:"target_allocations"`
	Instructions      []RebalanceInstruction `json:"instructions"`
	Receipts          []InstructionReceipt   `json:"receipts"`
	FinalCapital      string                 `json:"final_capital"`
	FinalStrategies   []StrategySnapshot     `json:"final_strategies"`
	ExpectedSavingBps int64                  `json:"expected_saving_bps"`
	EstimatedCostBps  int64                  `json:"estimated_cost_bps"`
	Rebalanced        bool                   `json:"rebalanced"`
	EmergencyFlags    []string               `json:"emergency_flags,omitempty"`
}
