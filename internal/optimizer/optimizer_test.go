package optimizer_test

import (
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metazhar-legion/meta-index-sub006/internal/optimizer"
	"github.com/metazhar-legion/meta-index-sub006/internal/strategy"
	"github.com/metazhar-legion/meta-index-sub006/internal/types"
)

// stubStrategy is a controllable exposure strategy for scoring tests.
type stubStrategy struct {
	name      string
	kind      types.StrategyKind
	costBps   int64
	costErr   error
	riskScore int64
	liveCost  int64
	capacity  sdkmath.Int
	canHandle bool
}

var _ strategy.ExposureStrategy = (*stubStrategy)(nil)

func (s *stubStrategy) Name() string             { return s.name }
func (s *stubStrategy) Kind() types.StrategyKind { return s.kind }

func (s *stubStrategy) OpenExposure(amount sdkmath.Int) (strategy.OpenResult, error) {
	return strategy.OpenResult{ActualExposure: amount}, nil
}

func (s *stubStrategy) CloseExposure(amount sdkmath.Int) (strategy.CloseResult, error) {
	return strategy.CloseResult{ClosedExposure: amount, CapitalRecovered: amount}, nil
}

func (s *stubStrategy) AdjustExposure(delta sdkmath.Int) (sdkmath.Int, error) {
	return delta, nil
}

func (s *stubStrategy) EstimateExposureCost(sdkmath.Int, time.Duration) (int64, error) {
	if s.costErr != nil {
		return types.CostUnavailable, s.costErr
	}
	return s.costBps, nil
}

func (s *stubStrategy) CanHandleExposure(sdkmath.Int) bool { return s.canHandle }

func (s *stubStrategy) HarvestYield() (sdkmath.Int, error)  { return sdkmath.ZeroInt(), nil }
func (s *stubStrategy) EmergencyExit() (sdkmath.Int, error) { return sdkmath.ZeroInt(), nil }

func (s *stubStrategy) ExposureInfo() types.ExposureInfo {
	return types.ExposureInfo{
		Kind:             s.kind,
		CurrentExposure:  sdkmath.ZeroInt(),
		MaxCapacity:      s.capacity,
		CurrentCostBps:   s.liveCost,
		RiskScore:        s.riskScore,
		IsActive:         true,
		LiquidationPrice: sdkmath.ZeroInt(),
	}
}

func (s *stubStrategy) CostBreakdown() (types.CostBreakdown, error) {
	return types.CostBreakdown{}, nil
}

func (s *stubStrategy) RiskParameters() types.RiskParameters { return types.RiskParameters{} }

func (s *stubStrategy) UpdateRiskParameters(string, types.RiskParameters) error { return nil }

func (s *stubStrategy) Events() []types.Event { return nil }

func testParams() types.OptimizerParameters {
	return types.OptimizerParameters{
		CostWeight:             1,
		RiskWeight:             1,
		LiquidityWeight:        1,
		ReliabilityWeight:      1,
		CapacityWeight:         1,
		CostScoreAnchorBps:     1_000,
		MinScoreThreshold:      35,
		MinCostSavingBps:       20,
		InstructionOverheadBps: 5,
		RebalanceToleranceBps:  100,
		MaxSlippageBps:         50,
		EmergencyCostBps:       2_000,
		EmergencyRiskScore:     85,
		EmergencyFailures:      3,
		HistoryWindow:          5,
	}
}

func newOptimizer(t *testing.T) *optimizer.Optimizer {
	t.Helper()
	o, err := optimizer.New(testParams())
	require.NoError(t, err)
	return o
}

func healthyStub(name string, kind types.StrategyKind, costBps int64) *stubStrategy {
	return &stubStrategy{
		name:      name,
		kind:      kind,
		costBps:   costBps,
		liveCost:  costBps,
		riskScore: 20,
		capacity:  sdkmath.NewInt(100_000_000),
		canHandle: true,
	}
}

func TestNewRejectsInvalidParameters(t *testing.T) {
	p := testParams()
	p.CostWeight = -1
	_, err := optimizer.New(p)
	assert.ErrorIs(t, err, optimizer.ErrInvalidParameters)
}

func TestAnalyzeStrategiesScoreBounds(t *testing.T) {
	o := newOptimizer(t)
	strategies := []strategy.ExposureStrategy{
		healthyStub("alpha", types.StrategyDirectToken, 100),
		healthyStub("beta", types.StrategyPerpetual, 300),
		healthyStub("gamma", types.StrategyTRS, 5_000), // Cost past the anchor clamps to zero.
	}

	scores, targets, err := o.AnalyzeStrategies(strategies, sdkmath.NewInt(1_000_000), time.Hour)
	require.NoError(t, err)
	require.Len(t, scores, 3)

	for _, s := range scores {
		for _, v := range []float64{s.CostScore, s.RiskScore, s.LiquidityScore, s.ReliabilityScore, s.CapacityScore, s.TotalScore} {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 100.0)
		}
		// No history yet: reliability is neutral.
		assert.Equal(t, 50.0, s.ReliabilityScore)
	}

	// The target allocation vector sums to exactly 10000 bps.
	var sum int64
	for _, bps := range targets {
		assert.Positive(t, bps)
		sum += bps
	}
	assert.Equal(t, types.BpsDenominator, sum)

	// Cheaper and more liquid scores higher and takes the larger share.
	assert.Greater(t, targets["alpha"], targets["beta"])
}

func TestAnalyzeStrategiesUnserviceableCost(t *testing.T) {
	o := newOptimizer(t)
	broken := healthyStub("broken", types.StrategyDirectToken, 0)
	broken.costErr = errors.New("no quotes")

	scores, targets, err := o.AnalyzeStrategies(
		[]strategy.ExposureStrategy{broken, healthyStub("ok", types.StrategyPerpetual, 100)},
		sdkmath.NewInt(1_000_000), time.Hour)
	require.NoError(t, err)

	for _, s := range scores {
		if s.Strategy == "broken" {
			assert.Equal(t, 0.0, s.CostScore)
			assert.False(t, s.Recommended, "unserviceable cost must veto the recommendation")
		}
	}
	_, ok := targets["broken"]
	assert.False(t, ok)
	assert.Equal(t, types.BpsDenominator, targets["ok"])
}

func TestAnalyzeStrategiesNoneRecommended(t *testing.T) {
	o := newOptimizer(t)
	broken := healthyStub("broken", types.StrategyDirectToken, 0)
	broken.costErr = errors.New("no quotes")

	_, _, err := o.AnalyzeStrategies([]strategy.ExposureStrategy{broken}, sdkmath.NewInt(1_000), time.Hour)
	assert.ErrorIs(t, err, optimizer.ErrNoRecommended)
}

func TestAnalyzeStrategiesInputValidation(t *testing.T) {
	o := newOptimizer(t)

	_, _, err := o.AnalyzeStrategies(nil, sdkmath.NewInt(1_000), time.Hour)
	assert.ErrorIs(t, err, optimizer.ErrNoStrategies)

	_, _, err = o.AnalyzeStrategies(
		[]strategy.ExposureStrategy{healthyStub("a", types.StrategyTRS, 100)},
		sdkmath.ZeroInt(), time.Hour)
	assert.Error(t, err)

	_, _, err = o.AnalyzeStrategies(
		[]strategy.ExposureStrategy{healthyStub("a", types.StrategyTRS, 100)},
		sdkmath.NewInt(1_000), 0)
	assert.Error(t, err)
}

func TestCapacityScoreScalesWithHeadroom(t *testing.T) {
	o := newOptimizer(t)
	small := healthyStub("small", types.StrategyDirectToken, 100)
	small.capacity = sdkmath.NewInt(250_000) // A quarter of the target.

	scores, _, err := o.AnalyzeStrategies(
		[]strategy.ExposureStrategy{small}, sdkmath.NewInt(1_000_000), time.Hour)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, scores[0].CapacityScore, 0.1)
}

func TestCalculateOptimalAllocationMovesTowardCheaperStrategy(t *testing.T) {
	o := newOptimizer(t)
	cheap := healthyStub("cheap", types.StrategyDirectToken, 50)
	expensive := healthyStub("expensive", types.StrategyPerpetual, 500)

	current := map[string]sdkmath.Int{
		"cheap":     sdkmath.ZeroInt(),
		"expensive": sdkmath.NewInt(1_000_000),
	}

	res, err := o.CalculateOptimalAllocation(
		[]strategy.ExposureStrategy{cheap, expensive},
		current, sdkmath.NewInt(1_000_000), time.Hour)
	require.NoError(t, err)

	require.Len(t, res.Instructions, 1)
	instr := res.Instructions[0]
	assert.Equal(t, "expensive", instr.FromStrategy)
	assert.Equal(t, "cheap", instr.ToStrategy)
	assert.True(t, instr.Amount.IsPositive())
	assert.Equal(t, 1, instr.Priority)
	assert.Equal(t, testParams().MaxSlippageBps, instr.MaxSlippageBps)

	assert.True(t, res.ShouldRebalance)
	assert.Greater(t, res.ExpectedSavingBps, res.EstimatedCostBps)
	assert.GreaterOrEqual(t, res.ExpectedSavingBps, testParams().MinCostSavingBps)
}

func TestCalculateOptimalAllocationWithinTolerance(t *testing.T) {
	o := newOptimizer(t)
	only := healthyStub("only", types.StrategyDirectToken, 100)

	// Already fully allocated to the single recommended strategy.
	current := map[string]sdkmath.Int{"only": sdkmath.NewInt(1_000_000)}
	res, err := o.CalculateOptimalAllocation(
		[]strategy.ExposureStrategy{only}, current, sdkmath.NewInt(1_000_000), time.Hour)
	require.NoError(t, err)

	assert.Empty(t, res.Instructions)
	assert.False(t, res.ShouldRebalance)
}

func TestCalculateOptimalAllocationFreshCapital(t *testing.T) {
	o := newOptimizer(t)
	only := healthyStub("only", types.StrategyDirectToken, 100)

	res, err := o.CalculateOptimalAllocation(
		[]strategy.ExposureStrategy{only}, nil, sdkmath.NewInt(1_000_000), time.Hour)
	require.NoError(t, err)

	// Fresh capital becomes an instruction with an empty source.
	require.Len(t, res.Instructions, 1)
	assert.Equal(t, "", res.Instructions[0].FromStrategy)
	assert.Equal(t, "only", res.Instructions[0].ToStrategy)
	assert.Equal(t, sdkmath.NewInt(1_000_000), res.Instructions[0].Amount)

	// Deploying fresh capital adds carry rather than saving it, so the
	// saving gate stays closed; the caller deploys through allocation, not
	// through the rebalance gate.
	assert.False(t, res.ShouldRebalance)
}

func TestCalculateOptimalAllocationValidatesCurrentState(t *testing.T) {
	o := newOptimizer(t)
	only := healthyStub("only", types.StrategyDirectToken, 100)

	_, err := o.CalculateOptimalAllocation(
		[]strategy.ExposureStrategy{only},
		map[string]sdkmath.Int{"only": sdkmath.NewInt(-1)},
		sdkmath.NewInt(1_000), time.Hour)
	assert.ErrorIs(t, err, optimizer.ErrInvalidCurrentState)

	_, err = o.CalculateOptimalAllocation(
		[]strategy.ExposureStrategy{only}, nil, sdkmath.ZeroInt(), time.Hour)
	assert.Error(t, err)
}

func TestRecordPerformanceWindow(t *testing.T) {
	o := newOptimizer(t)

	for i := 0; i < 8; i++ {
		o.RecordPerformance(types.PerformanceRecord{
			Strategy:  "alpha",
			Success:   true,
			CostBps:   10,
			Timestamp: time.Now(),
		})
	}
	// HistoryWindow is 5: the oldest records are evicted.
	assert.Len(t, o.History("alpha"), 5)

	// Unnamed records are dropped.
	o.RecordPerformance(types.PerformanceRecord{})
	assert.Empty(t, o.History(""))
}

func TestReliabilityScoreTracksHistory(t *testing.T) {
	o := newOptimizer(t)
	s := healthyStub("alpha", types.StrategyDirectToken, 100)

	for i := 0; i < 4; i++ {
		o.RecordPerformance(types.PerformanceRecord{Strategy: "alpha", Success: i%2 == 0, Timestamp: time.Now()})
	}

	scores, _, err := o.AnalyzeStrategies([]strategy.ExposureStrategy{s}, sdkmath.NewInt(1_000), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 50.0, scores[0].ReliabilityScore) // 2 of 4 succeeded.

	o.RecordPerformance(types.PerformanceRecord{Strategy: "alpha", Success: true, Timestamp: time.Now()})
	scores, _, err = o.AnalyzeStrategies([]strategy.ExposureStrategy{s}, sdkmath.NewInt(1_000), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 60.0, scores[0].ReliabilityScore) // 3 of 5.
}

func TestCheckEmergencyStates(t *testing.T) {
	o := newOptimizer(t)

	healthy := healthyStub("healthy", types.StrategyDirectToken, 100)
	assert.Empty(t, o.CheckEmergencyStates([]strategy.ExposureStrategy{healthy}))

	costly := healthyStub("costly", types.StrategyTRS, 100)
	costly.liveCost = 2_500
	risky := healthyStub("risky", types.StrategyPerpetual, 100)
	risky.riskScore = 90

	flags := o.CheckEmergencyStates([]strategy.ExposureStrategy{healthy, costly, risky})
	require.Len(t, flags, 2)
	byName := map[string]optimizer.EmergencyFlag{}
	for _, f := range flags {
		byName[f.Strategy] = f
	}
	assert.Len(t, byName["costly"].Reasons, 1)
	assert.Len(t, byName["risky"].Reasons, 1)
}

func TestCheckEmergencyStatesFailureStreak(t *testing.T) {
	o := newOptimizer(t)
	s := healthyStub("flaky", types.StrategyDirectToken, 100)

	o.RecordPerformance(types.PerformanceRecord{Strategy: "flaky", Success: false, Timestamp: time.Now()})
	o.RecordPerformance(types.PerformanceRecord{Strategy: "flaky", Success: false, Timestamp: time.Now()})
	assert.Empty(t, o.CheckEmergencyStates([]strategy.ExposureStrategy{s}), "two failures are below the threshold")

	o.RecordPerformance(types.PerformanceRecord{Strategy: "flaky", Success: false, Timestamp: time.Now()})
	flags := o.CheckEmergencyStates([]strategy.ExposureStrategy{s})
	require.Len(t, flags, 1)
	assert.Equal(t, "flaky", flags[0].Strategy)

	// A success resets the streak.
	o.RecordPerformance(types.PerformanceRecord{Strategy: "flaky", Success: true, Timestamp: time.Now()})
	assert.Empty(t, o.CheckEmergencyStates([]strategy.ExposureStrategy{s}))
}
