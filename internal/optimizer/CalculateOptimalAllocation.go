/*

This file contains the rebalance planning function. It turns the scored
target allocation vector into an ordered list of move instructions and
gates the plan on expected cost saving against estimated execution cost.

*/

package optimizer

import (
	"errors"
	"fmt"
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/metazhar-legion/meta-index-sub006/internal/strategy"
	"github.com/metazhar-legion/meta-index-sub006/internal/types"
	"github.com/metazhar-legion/meta-index-sub006/internal/utils"
)

var ErrInvalidCurrentState = errors.New("current allocation state is invalid")

// flow is one signed allocation imbalance awaiting pairing.
type flow struct {
	strategy string
	amount   sdkmath.Int
}

// CalculateOptimalAllocation scores the strategies, compares the target
// vector against current exposures, and produces ordered instructions to
// converge. The ShouldRebalance gate passes only when the expected carry
// saving clears both the absolute minimum and the estimated execution cost
// of the instruction set.
func (o *Optimizer) CalculateOptimalAllocation(
	strategies []strategy.ExposureStrategy,
	current map[string]sdkmath.Int,
	totalCapital sdkmath.Int,
	timeHorizon time.Duration,
) (types.OptimizationResult, error) {
	if totalCapital.IsNil() || !totalCapital.IsPositive() {
		return types.OptimizationResult{}, errors.New("total capital must be positive")
	}
	for name, amount := range current {
		if amount.IsNil() || amount.IsNegative() {
			return types.OptimizationResult{}, errors.Join(ErrInvalidCurrentState,
				fmt.Errorf("strategy %q has invalid exposure", name))
		}
	}

	scores, targets, err := o.AnalyzeStrategies(strategies, totalCapital, timeHorizon)
	if err != nil {
		return types.OptimizationResult{}, err
	}

	o.mu.Lock()
	params := o.params
	o.mu.Unlock()

	currentTotal := sdkmath.ZeroInt()
	for _, amount := range current {
		currentTotal = currentTotal.Add(amount)
	}

	instructions, movedTotal, err := planInstructions(strategies, current, currentTotal, totalCapital, targets, params)
	if err != nil {
		return types.OptimizationResult{}, err
	}

	savingBps, err := o.expectedSavingBps(strategies, current, currentTotal, targets, totalCapital, timeHorizon)
	if err != nil {
		return types.OptimizationResult{}, err
	}

	executionCostBps := params.InstructionOverheadBps * int64(len(instructions))
	if currentTotal.IsPositive() {
		movedFraction := utils.ConcentrationBps(movedTotal, currentTotal)
		executionCostBps += movedFraction * params.MaxSlippageBps / types.BpsDenominator
	}

	shouldRebalance := len(instructions) > 0 &&
		savingBps >= params.MinCostSavingBps &&
		savingBps > executionCostBps

	o.log.Info().
		Int("instructions", len(instructions)).
		Int64("expectedSavingBps", savingBps).
		Int64("executionCostBps", executionCostBps).
		Bool("shouldRebalance", shouldRebalance).
		Msg("Rebalance plan generated")

	return types.OptimizationResult{
		Scores:            scores,
		TargetAllocations: targets,
		Instructions:      instructions,
		ShouldRebalance:   shouldRebalance,
		ExpectedSavingBps: savingBps,
		EstimatedCostBps:  executionCostBps,
		GeneratedAt:       time.Now(),
	}, nil
}

// planInstructions pairs over-allocated strategies (sources) with
// under-allocated ones (sinks), largest imbalance first, and returns the
// ordered instruction list plus the total amount moved. Fresh capital
// (totalCapital above the currently deployed total) acts as an extra
// source with an empty FromStrategy; a source with no sink left becomes a
// close-only instruction.
func planInstructions(
	strategies []strategy.ExposureStrategy,
	current map[string]sdkmath.Int,
	currentTotal, totalCapital sdkmath.Int,
	targets map[string]int64,
	params types.OptimizerParameters,
) ([]types.RebalanceInstruction, sdkmath.Int, error) {
	var sources, sinks []flow

	names := make([]string, 0, len(strategies))
	for _, s := range strategies {
		names = append(names, s.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		cur, ok := current[name]
		if !ok {
			cur = sdkmath.ZeroInt()
		}
		target, err := utils.ApplyBps(totalCapital, targets[name])
		if err != nil {
			return nil, sdkmath.ZeroInt(), err
		}

		// Deviations below the tolerance band are noise, not imbalance.
		if currentTotal.IsPositive() {
			deviation := utils.ConcentrationBps(cur.Sub(target).Abs(), currentTotal)
			if deviation < params.RebalanceToleranceBps {
				continue
			}
		}

		switch {
		case cur.GT(target):
			sources = append(sources, flow{strategy: name, amount: cur.Sub(target)})
		case target.GT(cur):
			sinks = append(sinks, flow{strategy: name, amount: target.Sub(cur)})
		}
	}

	if totalCapital.GT(currentTotal) {
		sources = append(sources, flow{strategy: "", amount: totalCapital.Sub(currentTotal)})
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].amount.GT(sources[j].amount) })
	sort.Slice(sinks, func(i, j int) bool { return sinks[i].amount.GT(sinks[j].amount) })

	var instructions []types.RebalanceInstruction
	moved := sdkmath.ZeroInt()
	si := 0
	for _, source := range sources {
		remaining := source.amount
		for si < len(sinks) && remaining.IsPositive() {
			step := utils.MinInt(remaining, sinks[si].amount)
			if step.IsPositive() {
				instructions = append(instructions, types.RebalanceInstruction{
					FromStrategy:   source.strategy,
					ToStrategy:     sinks[si].strategy,
					Amount:         step,
					Priority:       len(instructions) + 1,
					MaxSlippageBps: params.MaxSlippageBps,
				})
				moved = moved.Add(step)
				remaining = remaining.Sub(step)
				sinks[si].amount = sinks[si].amount.Sub(step)
			}
			if sinks[si].amount.IsZero() {
				si++
			}
		}
		// A real source with leftover surplus and no sink closes outright.
		// Leftover fresh capital just stays undeployed.
		if remaining.IsPositive() && source.strategy != "" {
			instructions = append(instructions, types.RebalanceInstruction{
				FromStrategy:   source.strategy,
				Amount:         remaining,
				Priority:       len(instructions) + 1,
				MaxSlippageBps: params.MaxSlippageBps,
			})
			moved = moved.Add(remaining)
		}
	}
	return instructions, moved, nil
}

// expectedSavingBps compares the exposure-weighted carry cost of the
// current allocation against the target allocation. Strategies whose cost
// cannot be estimated fall back to their self-reported current cost on the
// current side and are absent from the target side by construction.
func (o *Optimizer) expectedSavingBps(
	strategies []strategy.ExposureStrategy,
	current map[string]sdkmath.Int,
	currentTotal sdkmath.Int,
	targets map[string]int64,
	totalCapital sdkmath.Int,
	timeHorizon time.Duration,
) (int64, error) {
	var currentCost, targetCost int64
	for _, s := range strategies {
		name := s.Name()
		costBps, err := s.EstimateExposureCost(totalCapital, timeHorizon)
		if err != nil || costBps == types.CostUnavailable {
			costBps = s.ExposureInfo().CurrentCostBps
			if costBps == types.CostUnavailable {
				costBps = 0
			}
		}
		if currentTotal.IsPositive() {
			cur, ok := current[name]
			if ok && cur.IsPositive() {
				currentCost += costBps * utils.ConcentrationBps(cur, currentTotal) / types.BpsDenominator
			}
		}
		targetCost += costBps * targets[name] / types.BpsDenominator
	}
	return currentCost - targetCost, nil
}
