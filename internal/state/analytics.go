/*

This file contains aggregate queries over stored cycle history. The web
dashboard uses these instead of recomputing summaries from raw snapshots.

*/

package state

import (
	"fmt"
)

// CycleSummary aggregates rebalance activity over the most recent cycles.
type CycleSummary struct {
	CyclesObserved        int     `json:"cycles_observed"`
	RebalancesExecuted    int     `json:"rebalances_executed"`
	InstructionsAttempted int     `json:"instructions_attempted"`
	InstructionsFailed    int     `json:"instructions_failed"`
	InstructionSuccess    float64 `json:"instruction_success_rate"` // 0..1, 1.0 when nothing attempted.
	AvgExpectedSavingBps  float64 `json:"avg_expected_saving_bps"`  // Over executed rebalances only.
	CyclesWithEmergency   int     `json:"cycles_with_emergency"`
}

// SummarizeRecentCycles computes a CycleSummary over the last n cycles.
func SummarizeRecentCycles(n int) (CycleSummary, error) {
	snaps, err := GetRecentSnapshots(n)
	if err != nil {
		return CycleSummary{}, fmt.Errorf("failed to load cycles for summary: %w", err)
	}

	summary := CycleSummary{CyclesObserved: len(snaps)}
	var savingSum int64
	for _, snap := range snaps {
		if snap.Rebalanced {
			summary.RebalancesExecuted++
			savingSum += snap.ExpectedSavingBps
		}
		if len(snap.EmergencyFlags) > 0 {
			summary.CyclesWithEmergency++
		}
		for _, receipt := range snap.Receipts {
			summary.InstructionsAttempted++
			if !receipt.Success {
				summary.InstructionsFailed++
			}
		}
	}

	if summary.InstructionsAttempted > 0 {
		summary.InstructionSuccess = float64(summary.InstructionsAttempted-summary.InstructionsFailed) /
			float64(summary.InstructionsAttempted)
	} else {
		summary.InstructionSuccess = 1.0
	}
	if summary.RebalancesExecuted > 0 {
		summary.AvgExpectedSavingBps = float64(savingSum) / float64(summary.RebalancesExecuted)
	}

	return summary, nil
}
