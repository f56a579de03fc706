/*

This file contains the bundle's rebalance cycle: consulting the optimizer,
executing the returned instructions in priority order with per-instruction
failure isolation, and recording a full cycle snapshot.

*/

package bundle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/metazhar-legion/meta-index-sub006/internal/metrics"
	"github.com/metazhar-legion/meta-index-sub006/internal/strategy"
	"github.com/metazhar-legion/meta-index-sub006/internal/types"
	"github.com/metazhar-legion/meta-index-sub006/internal/utils"
)

// RebalanceStrategies consults the optimizer and, when the gate passes,
// executes the instruction plan. A cooldown bounds how often the expensive
// reallocation can run. The returned snapshot records the cycle whether or
// not anything moved.
func (b *Bundle) RebalanceStrategies() (types.RebalanceSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if !b.lastRebalance.IsZero() && now.Sub(b.lastRebalance) < b.rebalanceCooldown {
		return types.RebalanceSnapshot{}, errors.Join(strategy.ErrCooldownActive,
			fmt.Errorf("last rebalance %s, cooldown %s", b.lastRebalance.Format(time.RFC3339), b.rebalanceCooldown))
	}

	active := b.activeAllocations()
	if len(active) == 0 {
		return types.RebalanceSnapshot{}, ErrNoActiveStrategies
	}

	b.cycleCount++
	snapshot := types.RebalanceSnapshot{
		CycleNumber:       b.cycleCount,
		CycleID:           uuid.NewString(),
		Timestamp:         now,
		InitialCapital:    b.totalAllocatedCapital.String(),
		InitialStrategies: b.strategySnapshots(active),
	}
	cycleLogger := b.log.With().Str("cycle_id", snapshot.CycleID).Logger()
	cycleLogger.Info().Int("cycle", b.cycleCount).Msg("--- Starting rebalance cycle ---")

	strategies := make([]strategy.ExposureStrategy, 0, len(active))
	current := make(map[string]sdkmath.Int, len(active))
	for _, a := range active {
		strategies = append(strategies, a.Strategy)
		current[a.Strategy.Name()] = a.CurrentAllocation
	}

	// Emergency detection runs before planning so a favorable plan cannot
	// mask a strategy in distress.
	for _, flag := range b.opt.CheckEmergencyStates(strategies) {
		snapshot.EmergencyFlags = append(snapshot.EmergencyFlags,
			fmt.Sprintf("%s: %v", flag.Strategy, flag.Reasons))
	}

	if !b.totalAllocatedCapital.IsPositive() {
		cycleLogger.Info().Msg("No capital deployed, nothing to rebalance")
		snapshot.FinalCapital = snapshot.InitialCapital
		snapshot.FinalStrategies = snapshot.InitialStrategies
		b.finishCycle(&snapshot, cycleLogger)
		return snapshot, nil
	}

	result, err := b.opt.CalculateOptimalAllocation(strategies, current, b.totalAllocatedCapital, b.timeHorizon)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Cycle aborted: optimization failed")
		return types.RebalanceSnapshot{}, err
	}
	snapshot.TargetAllocations = result.TargetAllocations
	snapshot.Instructions = result.Instructions
	snapshot.ExpectedSavingBps = result.ExpectedSavingBps
	snapshot.EstimatedCostBps = result.EstimatedCostBps

	if !result.ShouldRebalance {
		cycleLogger.Info().
			Int64("expectedSavingBps", result.ExpectedSavingBps).
			Int64("estimatedCostBps", result.EstimatedCostBps).
			Msg("Rebalance gate closed, no action taken")
		snapshot.FinalCapital = b.totalAllocatedCapital.String()
		snapshot.FinalStrategies = b.strategySnapshots(active)
		b.finishCycle(&snapshot, cycleLogger)
		return snapshot, nil
	}

	snapshot.Receipts = b.executeInstructions(result.Instructions, cycleLogger)
	snapshot.Rebalanced = true
	b.lastRebalance = now
	metrics.RebalancesExecuted.Inc()

	snapshot.FinalCapital = b.totalAllocatedCapital.String()
	snapshot.FinalStrategies = b.strategySnapshots(active)
	b.events.Append(types.NewEvent(types.EventRebalanceExecuted, b.name,
		snapshot.InitialCapital, snapshot.FinalCapital,
		fmt.Sprintf("instructions=%d", len(snapshot.Receipts))))
	b.finishCycle(&snapshot, cycleLogger)
	return snapshot, nil
}

// executeInstructions runs the plan in priority order. Each instruction is
// a close on the source followed by an open on the sink with the capital
// actually recovered; a failing instruction is recorded and skipped, never
// aborting the batch. Caller holds the lock.
func (b *Bundle) executeInstructions(instructions []types.RebalanceInstruction, cycleLogger zerolog.Logger) []types.InstructionReceipt {
	ordered := make([]types.RebalanceInstruction, len(instructions))
	copy(ordered, instructions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	receipts := make([]types.InstructionReceipt, 0, len(ordered))
	for _, ins := range ordered {
		receipt := types.InstructionReceipt{
			Instruction: ins,
			MovedAmount: "0",
			Timestamp:   b.now(),
		}

		// Fresh-capital instructions are planned when total capital exceeds
		// deployment; inflow goes through AllocateCapital instead.
		if ins.FromStrategy == "" {
			receipt.Message = "fresh capital handled by allocation path"
			receipts = append(receipts, receipt)
			continue
		}

		source := b.findAllocation(ins.FromStrategy)
		if source == nil {
			receipt.Message = "source strategy not registered"
			receipts = append(receipts, b.recordReceipt(receipt, cycleLogger))
			continue
		}

		closeResult, err := source.Strategy.CloseExposure(ins.Amount)
		if err != nil {
			receipt.Message = fmt.Sprintf("close failed: %v", err)
			receipts = append(receipts, b.recordReceipt(receipt, cycleLogger))
			continue
		}
		source.CurrentAllocation = source.CurrentAllocation.Sub(ins.Amount)
		if source.CurrentAllocation.IsNegative() {
			source.CurrentAllocation = sdkmath.ZeroInt()
		}

		moved := closeResult.CapitalRecovered
		if ins.ToStrategy == "" {
			// Close-only: the capital leaves deployment.
			b.totalAllocatedCapital = b.totalAllocatedCapital.Sub(ins.Amount)
			receipt.Success = true
			receipt.MovedAmount = moved.String()
			receipts = append(receipts, b.recordReceipt(receipt, cycleLogger))
			continue
		}

		sink := b.findAllocation(ins.ToStrategy)
		if sink == nil || !moved.IsPositive() {
			b.totalAllocatedCapital = b.totalAllocatedCapital.Sub(ins.Amount)
			receipt.Message = "sink unavailable, capital recovered but not redeployed"
			receipts = append(receipts, b.recordReceipt(receipt, cycleLogger))
			continue
		}

		if _, err := sink.Strategy.OpenExposure(moved); err != nil {
			// The close already committed; the recovered capital stays
			// undeployed rather than being forced into a failing venue.
			b.totalAllocatedCapital = b.totalAllocatedCapital.Sub(ins.Amount)
			receipt.Message = fmt.Sprintf("open on sink failed: %v", err)
			receipts = append(receipts, b.recordReceipt(receipt, cycleLogger))
			continue
		}
		sink.CurrentAllocation = sink.CurrentAllocation.Add(moved)
		b.totalAllocatedCapital = b.totalAllocatedCapital.Sub(ins.Amount).Add(moved)

		receipt.Success = true
		receipt.MovedAmount = moved.String()
		receipts = append(receipts, b.recordReceipt(receipt, cycleLogger))
	}
	return receipts
}

// recordReceipt logs, meters, and feeds the optimizer's reliability history
// with the instruction outcome.
func (b *Bundle) recordReceipt(receipt types.InstructionReceipt, cycleLogger zerolog.Logger) types.InstructionReceipt {
	outcome := "failure"
	if receipt.Success {
		outcome = "success"
	}
	metrics.InstructionsTotal.WithLabelValues(outcome).Inc()

	for _, name := range []string{receipt.Instruction.FromStrategy, receipt.Instruction.ToStrategy} {
		if name == "" {
			continue
		}
		b.opt.RecordPerformance(types.PerformanceRecord{
			Strategy:  name,
			Success:   receipt.Success,
			Timestamp: receipt.Timestamp,
		})
	}

	evt := cycleLogger.Info()
	if !receipt.Success {
		evt = cycleLogger.Error()
	}
	evt.
		Str("from", receipt.Instruction.FromStrategy).
		Str("to", receipt.Instruction.ToStrategy).
		Str("amount", receipt.Instruction.Amount.String()).
		Str("moved", receipt.MovedAmount).
		Str("message", receipt.Message).
		Msg("Instruction executed")
	return receipt
}

// finishCycle persists the snapshot and updates cycle telemetry. Caller
// holds the lock.
func (b *Bundle) finishCycle(snapshot *types.RebalanceSnapshot, cycleLogger zerolog.Logger) {
	metrics.CyclesTotal.Inc()
	metrics.AllocatedCapital.Set(intToFloat(b.totalAllocatedCapital))
	for _, a := range b.allocations {
		metrics.StrategyExposure.WithLabelValues(a.Strategy.Name()).
			Set(intToFloat(a.Strategy.ExposureInfo().CurrentExposure))
	}
	if b.store != nil {
		if err := b.store.SaveSnapshot(*snapshot); err != nil {
			cycleLogger.Error().Err(err).Msg("Failed to persist cycle snapshot")
		}
	}
	cycleLogger.Info().
		Bool("rebalanced", snapshot.Rebalanced).
		Int("receipts", len(snapshot.Receipts)).
		Msg("--- Rebalance cycle completed ---")
}

// strategySnapshots captures the live state of the given allocations.
// Caller holds the lock.
func (b *Bundle) strategySnapshots(allocations []*StrategyAllocation) []types.StrategySnapshot {
	out := make([]types.StrategySnapshot, 0, len(allocations))
	for _, a := range allocations {
		info := a.Strategy.ExposureInfo()
		out = append(out, types.StrategySnapshot{
			Strategy:      a.Strategy.Name(),
			Kind:          a.Strategy.Kind(),
			Exposure:      info.CurrentExposure.String(),
			AllocationBps: utils.ConcentrationBps(a.CurrentAllocation, b.totalAllocatedCapital),
			CostBps:       info.CurrentCostBps,
			RiskScore:     info.RiskScore,
			IsActive:      info.IsActive,
		})
	}
	return out
}

// findAllocation looks up a registered strategy by name. Caller holds the
// lock.
func (b *Bundle) findAllocation(name string) *StrategyAllocation {
	for _, a := range b.allocations {
		if a.Strategy.Name() == name {
			return a
		}
	}
	return nil
}

// RunLoop drives periodic cycles until the context is cancelled. The first
// cycle runs immediately; cooldown rejections between ticks are expected
// and logged at debug level.
func (b *Bundle) RunLoop(ctx context.Context, interval time.Duration) {
	b.log.Info().Dur("interval", interval).Msg("Starting bundle loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runOnce := func() {
		if _, err := b.RebalanceStrategies(); err != nil {
			if errors.Is(err, strategy.ErrCooldownActive) {
				b.log.Debug().Err(err).Msg("Cycle skipped by cooldown")
				return
			}
			b.log.Error().Err(err).Msg("Rebalance cycle failed")
		}
	}

	runOnce()
	for {
		select {
		case <-ctx.Done():
			b.log.Info().Msg("Bundle loop stopped due to context cancellation")
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
