/*

This file contains the main scoring function for exposure strategies. Each
strategy gets five 0-100 sub-scores (cost, risk, liquidity, reliability,
capacity) combined into a weighted total, and the totals of recommended
strategies are turned into a target allocation vector in basis points.

*/

package optimizer

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/metazhar-legion/meta-index-sub006/internal/strategy"
	"github.com/metazhar-legion/meta-index-sub006/internal/types"
)

// kindLiquidityBase anchors the liquidity sub-score per variant: a spot
// holding unwinds on any venue, a perpetual needs an orderly market, and a
// TRS book is locked into bilateral contracts until termination.
var kindLiquidityBase = map[types.StrategyKind]float64{
	types.StrategyDirectToken: 90,
	types.StrategyPerpetual:   70,
	types.StrategyTRS:         50,
}

// AnalyzeStrategies scores every strategy for the target exposure over the
// time horizon and derives target allocations proportional to the total
// score of the recommended strategies.
func (o *Optimizer) AnalyzeStrategies(
	strategies []strategy.ExposureStrategy,
	targetExposure sdkmath.Int,
	timeHorizon time.Duration,
) ([]types.StrategyScore, map[string]int64, error) {
	if len(strategies) == 0 {
		return nil, nil, ErrNoStrategies
	}
	if targetExposure.IsNil() || !targetExposure.IsPositive() {
		return nil, nil, errors.New("target exposure must be positive")
	}
	if timeHorizon <= 0 {
		return nil, nil, errors.New("time horizon must be positive")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	scores := make([]types.StrategyScore, 0, len(strategies))
	for _, s := range strategies {
		score, err := o.scoreStrategy(s, targetExposure, timeHorizon)
		if err != nil {
			return nil, nil, fmt.Errorf("scoring %s: %w", s.Name(), err)
		}
		scores = append(scores, score)
	}

	allocations, err := deriveAllocations(scores)
	if err != nil {
		return nil, nil, err
	}

	o.log.Info().
		Int("strategies", len(scores)).
		Int("recommended", len(allocations)).
		Msg("Strategy analysis completed")
	return scores, allocations, nil
}

// scoreStrategy computes the five sub-scores for one strategy. Caller holds
// the optimizer lock.
func (o *Optimizer) scoreStrategy(
	s strategy.ExposureStrategy,
	targetExposure sdkmath.Int,
	timeHorizon time.Duration,
) (types.StrategyScore, error) {
	info := s.ExposureInfo()

	score := types.StrategyScore{
		Strategy: s.Name(),
		Kind:     s.Kind(),
	}

	// Cost: anchored linearly, 100 at zero carry and 0 at the anchor. An
	// unavailable cost marks the strategy unserviceable rather than cheap.
	costServiceable := true
	costBps, err := s.EstimateExposureCost(targetExposure, timeHorizon)
	if err != nil || costBps == types.CostUnavailable {
		costServiceable = false
		score.CostScore = 0
	} else {
		score.CostScore = clampScore(100 * (1 - float64(costBps)/float64(o.params.CostScoreAnchorBps)))
	}

	// Risk: inverse of the strategy's self-reported 0-100 risk figure.
	score.RiskScore = clampScore(float64(100 - info.RiskScore))

	// Liquidity: variant anchor, discounted when the venue cannot take the
	// target amount right now.
	liquidity := kindLiquidityBase[s.Kind()]
	if !s.CanHandleExposure(targetExposure) {
		liquidity -= 30
	}
	score.LiquidityScore = clampScore(liquidity)

	// Reliability: success rate over the performance history window.
	score.ReliabilityScore = clampScore(100 * o.successRate(s.Name()))

	// Capacity: headroom relative to the target amount.
	score.CapacityScore = capacityScore(info.MaxCapacity, targetExposure)

	total := o.params.CostWeight*score.CostScore +
		o.params.RiskWeight*score.RiskScore +
		o.params.LiquidityWeight*score.LiquidityScore +
		o.params.ReliabilityWeight*score.ReliabilityScore +
		o.params.CapacityWeight*score.CapacityScore
	weightSum := o.params.CostWeight + o.params.RiskWeight + o.params.LiquidityWeight +
		o.params.ReliabilityWeight + o.params.CapacityWeight
	total /= weightSum

	if math.IsNaN(total) || math.IsInf(total, 0) {
		return types.StrategyScore{}, fmt.Errorf("total score for %s is not finite", s.Name())
	}
	score.TotalScore = total
	score.Recommended = costServiceable && total >= o.params.MinScoreThreshold

	o.log.Debug().
		Str("strategy", score.Strategy).
		Float64("total", score.TotalScore).
		Bool("recommended", score.Recommended).
		Msg("Strategy scored")
	return score, nil
}

// deriveAllocations splits 10000 bps across recommended strategies
// proportional to total score. Rounding dust lands on the top scorer so
// the vector always sums to exactly 10000.
func deriveAllocations(scores []types.StrategyScore) (map[string]int64, error) {
	recommended := make([]types.StrategyScore, 0, len(scores))
	var scoreSum float64
	for _, s := range scores {
		if s.Recommended && s.TotalScore > 0 {
			recommended = append(recommended, s)
			scoreSum += s.TotalScore
		}
	}
	if len(recommended) == 0 || scoreSum <= 0 {
		return nil, ErrNoRecommended
	}

	sort.Slice(recommended, func(i, j int) bool {
		if recommended[i].TotalScore != recommended[j].TotalScore {
			return recommended[i].TotalScore > recommended[j].TotalScore
		}
		return recommended[i].Strategy < recommended[j].Strategy
	})

	allocations := make(map[string]int64, len(recommended))
	var assigned int64
	for _, s := range recommended {
		bps := int64(s.TotalScore / scoreSum * float64(types.BpsDenominator))
		allocations[s.Strategy] = bps
		assigned += bps
	}
	allocations[recommended[0].Strategy] += types.BpsDenominator - assigned
	return allocations, nil
}

// capacityScore is 100 when the strategy can absorb the full target and
// scales down with the fraction it can absorb.
func capacityScore(capacity, target sdkmath.Int) float64 {
	if capacity.IsNil() || !capacity.IsPositive() {
		return 0
	}
	if capacity.GTE(target) {
		return 100
	}
	ratio := capacity.Mul(sdkmath.NewInt(types.BpsDenominator)).Quo(target).Int64()
	return clampScore(100 * float64(ratio) / float64(types.BpsDenominator))
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
