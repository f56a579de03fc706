package bundle_test

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metazhar-legion/meta-index-sub006/internal/bundle"
	"github.com/metazhar-legion/meta-index-sub006/internal/optimizer"
	"github.com/metazhar-legion/meta-index-sub006/internal/strategy"
	"github.com/metazhar-legion/meta-index-sub006/internal/types"
)

const testAdmin = "admin"

// fakeStrategy is a controllable exposure strategy for bundle tests. The
// bundle owns allocation accounting, so the fake only has to succeed or
// fail on command.
type fakeStrategy struct {
	name       string
	kind       types.StrategyKind
	costBps    int64
	failOpen   bool
	failClose  bool
	exited     bool
	exitReturn sdkmath.Int
}

var _ strategy.ExposureStrategy = (*fakeStrategy)(nil)

func newFake(name string, kind types.StrategyKind, costBps int64) *fakeStrategy {
	return &fakeStrategy{name: name, kind: kind, costBps: costBps, exitReturn: sdkmath.ZeroInt()}
}

func (f *fakeStrategy) Name() string             { return f.name }
func (f *fakeStrategy) Kind() types.StrategyKind { return f.kind }

func (f *fakeStrategy) OpenExposure(amount sdkmath.Int) (strategy.OpenResult, error) {
	if f.failOpen {
		return strategy.OpenResult{}, strategy.ErrVenueUnavailable
	}
	return strategy.OpenResult{ActualExposure: amount}, nil
}

func (f *fakeStrategy) CloseExposure(amount sdkmath.Int) (strategy.CloseResult, error) {
	if f.failClose {
		return strategy.CloseResult{}, strategy.ErrVenueUnavailable
	}
	return strategy.CloseResult{ClosedExposure: amount, CapitalRecovered: amount}, nil
}

func (f *fakeStrategy) AdjustExposure(delta sdkmath.Int) (sdkmath.Int, error) {
	return delta, nil
}

func (f *fakeStrategy) EstimateExposureCost(sdkmath.Int, time.Duration) (int64, error) {
	return f.costBps, nil
}

func (f *fakeStrategy) CanHandleExposure(sdkmath.Int) bool { return true }

func (f *fakeStrategy) HarvestYield() (sdkmath.Int, error) { return sdkmath.ZeroInt(), nil }

func (f *fakeStrategy) EmergencyExit() (sdkmath.Int, error) {
	f.exited = true
	return f.exitReturn, nil
}

func (f *fakeStrategy) ExposureInfo() types.ExposureInfo {
	return types.ExposureInfo{
		Kind:             f.kind,
		CurrentExposure:  sdkmath.ZeroInt(),
		MaxCapacity:      sdkmath.NewInt(100_000_000),
		CurrentCostBps:   f.costBps,
		RiskScore:        20,
		IsActive:         true,
		LiquidationPrice: sdkmath.ZeroInt(),
	}
}

func (f *fakeStrategy) CostBreakdown() (types.CostBreakdown, error) {
	return types.CostBreakdown{}, nil
}

func (f *fakeStrategy) RiskParameters() types.RiskParameters { return types.RiskParameters{} }

func (f *fakeStrategy) UpdateRiskParameters(string, types.RiskParameters) error { return nil }

func (f *fakeStrategy) Events() []types.Event { return nil }

// memStore records every snapshot it is handed.
type memStore struct {
	snapshots []types.RebalanceSnapshot
}

func (m *memStore) SaveSnapshot(snap types.RebalanceSnapshot) error {
	m.snapshots = append(m.snapshots, snap)
	return nil
}

func testOptimizerParams() types.OptimizerParameters {
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
		HistoryWindow:          10,
	}
}

func newTestBundle(t *testing.T, store bundle.Store) *bundle.Bundle {
	t.Helper()
	opt, err := optimizer.New(testOptimizerParams())
	require.NoError(t, err)
	b, err := bundle.New(bundle.Config{
		Name:              "bundle-test",
		Admin:             testAdmin,
		Optimizer:         opt,
		RebalanceCooldown: time.Hour,
		TimeHorizon:       24 * time.Hour,
		Store:             store,
	})
	require.NoError(t, err)
	return b
}

func TestAddStrategyValidation(t *testing.T) {
	b := newTestBundle(t, nil)
	s := newFake("alpha", types.StrategyDirectToken, 100)

	err := b.AddStrategy("intruder", s, 4_000, 2_000, 6_000, true)
	assert.ErrorIs(t, err, strategy.ErrNotAdmin)

	err = b.AddStrategy(testAdmin, s, 1_000, 2_000, 6_000, true)
	assert.ErrorIs(t, err, bundle.ErrAllocationBounds, "target below min")

	err = b.AddStrategy(testAdmin, s, 7_000, 2_000, 6_000, true)
	assert.ErrorIs(t, err, bundle.ErrAllocationBounds, "target above max")

	require.NoError(t, b.AddStrategy(testAdmin, s, 6_000, 2_000, 8_000, true))

	err = b.AddStrategy(testAdmin, newFake("alpha", types.StrategyTRS, 100), 1_000, 0, 2_000, false)
	assert.ErrorIs(t, err, bundle.ErrStrategyExists)

	err = b.AddStrategy(testAdmin, newFake("beta", types.StrategyTRS, 100), 5_000, 0, 10_000, false)
	assert.ErrorIs(t, err, bundle.ErrAllocationBounds, "targets would sum past 10000")

	require.NoError(t, b.AddStrategy(testAdmin, newFake("beta", types.StrategyTRS, 100), 4_000, 0, 10_000, false))
}

func TestAllocateCapitalProRata(t *testing.T) {
	b := newTestBundle(t, nil)
	require.NoError(t, b.AddStrategy(testAdmin, newFake("alpha", types.StrategyDirectToken, 100), 6_000, 0, 10_000, true))
	require.NoError(t, b.AddStrategy(testAdmin, newFake("beta", types.StrategyPerpetual, 100), 3_000, 0, 10_000, false))

	deployed, err := b.AllocateCapital(sdkmath.NewInt(90_000))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(90_000), deployed)
	assert.Equal(t, sdkmath.NewInt(90_000), b.TotalAllocatedCapital())

	byName := map[string]sdkmath.Int{}
	for _, a := range b.Allocations() {
		byName[a.Strategy.Name()] = a.CurrentAllocation
	}
	// 6000/9000 of the amount, with the remainder landing on the last.
	assert.Equal(t, sdkmath.NewInt(60_000), byName["alpha"])
	assert.Equal(t, sdkmath.NewInt(30_000), byName["beta"])

	_, err = b.AllocateCapital(sdkmath.ZeroInt())
	assert.ErrorIs(t, err, strategy.ErrZeroAmount)
}

func TestAllocateCapitalIsolatesStrategyFailure(t *testing.T) {
	b := newTestBundle(t, nil)
	broken := newFake("broken", types.StrategyTRS, 100)
	broken.failOpen = true
	require.NoError(t, b.AddStrategy(testAdmin, broken, 5_000, 0, 10_000, false))
	require.NoError(t, b.AddStrategy(testAdmin, newFake("ok", types.StrategyDirectToken, 100), 5_000, 0, 10_000, false))

	deployed, err := b.AllocateCapital(sdkmath.NewInt(100_000))
	assert.Error(t, err, "the failed open must surface in the joined error")
	assert.Equal(t, sdkmath.NewInt(50_000), deployed)
	assert.Equal(t, sdkmath.NewInt(50_000), b.TotalAllocatedCapital())
}

func TestAllocateCapitalNoActiveStrategies(t *testing.T) {
	b := newTestBundle(t, nil)
	_, err := b.AllocateCapital(sdkmath.NewInt(1_000))
	assert.ErrorIs(t, err, bundle.ErrNoActiveStrategies)
}

func TestCircuitBreakerBlocksInflowOnly(t *testing.T) {
	b := newTestBundle(t, nil)
	require.NoError(t, b.AddStrategy(testAdmin, newFake("alpha", types.StrategyDirectToken, 100), 5_000, 0, 10_000, true))

	_, err := b.AllocateCapital(sdkmath.NewInt(100_000))
	require.NoError(t, err)

	err = b.SetCircuitBreaker("intruder", true, "nope")
	assert.ErrorIs(t, err, strategy.ErrNotAdmin)

	require.NoError(t, b.SetCircuitBreaker(testAdmin, true, "oracle anomaly"))
	active, reason := b.CircuitBreaker()
	assert.True(t, active)
	assert.Equal(t, "oracle anomaly", reason)

	_, err = b.AllocateCapital(sdkmath.NewInt(1_000))
	assert.ErrorIs(t, err, bundle.ErrCircuitBreakerActive)
	assert.Equal(t, sdkmath.NewInt(100_000), b.TotalAllocatedCapital(), "no state change behind the breaker")

	// Outflow is never blocked.
	recovered, err := b.WithdrawCapital(sdkmath.NewInt(50_000))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(50_000), recovered)

	require.NoError(t, b.SetCircuitBreaker(testAdmin, false, ""))
	_, err = b.AllocateCapital(sdkmath.NewInt(1_000))
	require.NoError(t, err)
}

func TestWithdrawCapital(t *testing.T) {
	b := newTestBundle(t, nil)
	require.NoError(t, b.AddStrategy(testAdmin, newFake("alpha", types.StrategyDirectToken, 100), 6_000, 0, 10_000, true))
	require.NoError(t, b.AddStrategy(testAdmin, newFake("beta", types.StrategyPerpetual, 100), 3_000, 0, 10_000, false))

	_, err := b.AllocateCapital(sdkmath.NewInt(90_000))
	require.NoError(t, err)

	recovered, err := b.WithdrawCapital(sdkmath.NewInt(45_000))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(45_000), recovered)
	assert.Equal(t, sdkmath.NewInt(45_000), b.TotalAllocatedCapital())

	byName := map[string]sdkmath.Int{}
	for _, a := range b.Allocations() {
		byName[a.Strategy.Name()] = a.CurrentAllocation
	}
	assert.Equal(t, sdkmath.NewInt(30_000), byName["alpha"])
	assert.Equal(t, sdkmath.NewInt(15_000), byName["beta"])

	_, err = b.WithdrawCapital(sdkmath.NewInt(100_000))
	assert.ErrorIs(t, err, bundle.ErrWithdrawTooLarge)
}

func TestWithdrawCapitalIsolatesCloseFailure(t *testing.T) {
	b := newTestBundle(t, nil)
	stuck := newFake("stuck", types.StrategyTRS, 100)
	require.NoError(t, b.AddStrategy(testAdmin, stuck, 5_000, 0, 10_000, false))
	require.NoError(t, b.AddStrategy(testAdmin, newFake("ok", types.StrategyDirectToken, 100), 5_000, 0, 10_000, false))

	_, err := b.AllocateCapital(sdkmath.NewInt(100_000))
	require.NoError(t, err)

	stuck.failClose = true
	recovered, err := b.WithdrawCapital(sdkmath.NewInt(50_000))
	assert.Error(t, err)
	assert.Equal(t, sdkmath.NewInt(25_000), recovered, "the healthy strategy still pays out")
	assert.Equal(t, sdkmath.NewInt(75_000), b.TotalAllocatedCapital(), "the stuck share stays deployed")
}

func TestEmergencyExitAll(t *testing.T) {
	b := newTestBundle(t, nil)
	alpha := newFake("alpha", types.StrategyDirectToken, 100)
	alpha.exitReturn = sdkmath.NewInt(60_000)
	beta := newFake("beta", types.StrategyPerpetual, 100)
	beta.exitReturn = sdkmath.NewInt(30_000)
	require.NoError(t, b.AddStrategy(testAdmin, alpha, 6_000, 0, 10_000, true))
	require.NoError(t, b.AddStrategy(testAdmin, beta, 3_000, 0, 10_000, false))

	_, err := b.AllocateCapital(sdkmath.NewInt(90_000))
	require.NoError(t, err)

	_, err = b.EmergencyExitAll("intruder")
	assert.ErrorIs(t, err, strategy.ErrNotAdmin)
	assert.False(t, alpha.exited)

	recovered, err := b.EmergencyExitAll(testAdmin)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(90_000), recovered)
	assert.True(t, alpha.exited)
	assert.True(t, beta.exited)
	assert.True(t, b.TotalAllocatedCapital().IsZero())

	for _, a := range b.Allocations() {
		assert.False(t, a.IsActive)
		assert.True(t, a.CurrentAllocation.IsZero())
	}

	// Everything is deactivated: the bundle takes no further inflow.
	_, err = b.AllocateCapital(sdkmath.NewInt(1_000))
	assert.ErrorIs(t, err, bundle.ErrNoActiveStrategies)
}

func TestRebalanceMovesCapitalToCheaperStrategy(t *testing.T) {
	store := &memStore{}
	b := newTestBundle(t, store)

	expensive := newFake("expensive", types.StrategyPerpetual, 500)
	require.NoError(t, b.AddStrategy(testAdmin, expensive, 5_000, 0, 10_000, true))

	// Deploy everything into the expensive strategy, then register the
	// cheap alternative.
	_, err := b.AllocateCapital(sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	cheap := newFake("cheap", types.StrategyDirectToken, 50)
	require.NoError(t, b.AddStrategy(testAdmin, cheap, 5_000, 0, 10_000, false))

	snap, err := b.RebalanceStrategies()
	require.NoError(t, err)
	assert.True(t, snap.Rebalanced)
	require.Len(t, snap.Receipts, 1)
	assert.True(t, snap.Receipts[0].Success)
	assert.Equal(t, "expensive", snap.Receipts[0].Instruction.FromStrategy)
	assert.Equal(t, "cheap", snap.Receipts[0].Instruction.ToStrategy)
	assert.Greater(t, snap.ExpectedSavingBps, snap.EstimatedCostBps)

	byName := map[string]sdkmath.Int{}
	for _, a := range b.Allocations() {
		byName[a.Strategy.Name()] = a.CurrentAllocation
	}
	assert.True(t, byName["cheap"].IsPositive())
	assert.True(t, byName["cheap"].GT(byName["expensive"]))
	// Moved capital was fully redeployed.
	assert.Equal(t, sdkmath.NewInt(1_000_000), b.TotalAllocatedCapital())

	require.Len(t, store.snapshots, 1)
	assert.Equal(t, 1, store.snapshots[0].CycleNumber)
	assert.True(t, store.snapshots[0].Rebalanced)
}

func TestRebalanceCooldown(t *testing.T) {
	b := newTestBundle(t, nil)
	expensive := newFake("expensive", types.StrategyPerpetual, 500)
	require.NoError(t, b.AddStrategy(testAdmin, expensive, 5_000, 0, 10_000, true))
	_, err := b.AllocateCapital(sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	require.NoError(t, b.AddStrategy(testAdmin, newFake("cheap", types.StrategyDirectToken, 50), 5_000, 0, 10_000, false))

	snap, err := b.RebalanceStrategies()
	require.NoError(t, err)
	require.True(t, snap.Rebalanced)

	// An immediate second cycle is rejected by the cooldown.
	_, err = b.RebalanceStrategies()
	assert.ErrorIs(t, err, strategy.ErrCooldownActive)

	// Past the cooldown the cycle runs again; the book now sits within the
	// tolerance band, so the gate stays closed.
	b.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	snap, err = b.RebalanceStrategies()
	require.NoError(t, err)
	assert.False(t, snap.Rebalanced)
	assert.Empty(t, snap.Receipts)
}

func TestRebalanceInstructionFailureIsolated(t *testing.T) {
	b := newTestBundle(t, nil)
	expensive := newFake("expensive", types.StrategyPerpetual, 500)
	require.NoError(t, b.AddStrategy(testAdmin, expensive, 5_000, 0, 10_000, true))
	_, err := b.AllocateCapital(sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	cheap := newFake("cheap", types.StrategyDirectToken, 50)
	cheap.failOpen = true
	require.NoError(t, b.AddStrategy(testAdmin, cheap, 5_000, 0, 10_000, false))

	snap, err := b.RebalanceStrategies()
	require.NoError(t, err, "a failing instruction must not fail the cycle")
	require.Len(t, snap.Receipts, 1)
	assert.False(t, snap.Receipts[0].Success)

	// The close committed but the open failed: the recovered capital left
	// deployment instead of being forced into the failing venue.
	moved := snap.Receipts[0].Instruction.Amount
	assert.Equal(t, sdkmath.NewInt(1_000_000).Sub(moved), b.TotalAllocatedCapital())
}

func TestRebalanceNoCapital(t *testing.T) {
	store := &memStore{}
	b := newTestBundle(t, store)
	require.NoError(t, b.AddStrategy(testAdmin, newFake("alpha", types.StrategyDirectToken, 100), 5_000, 0, 10_000, true))

	snap, err := b.RebalanceStrategies()
	require.NoError(t, err)
	assert.False(t, snap.Rebalanced)
	assert.Empty(t, snap.Receipts)
	assert.Equal(t, "0", snap.FinalCapital)
	require.Len(t, store.snapshots, 1)

	// An idle cycle does not arm the cooldown.
	snap, err = b.RebalanceStrategies()
	require.NoError(t, err)
	assert.Equal(t, 2, snap.CycleNumber)
}

func TestRebalanceNoStrategies(t *testing.T) {
	b := newTestBundle(t, nil)
	_, err := b.RebalanceStrategies()
	assert.ErrorIs(t, err, bundle.ErrNoActiveStrategies)
}

func TestHarvestAllIsolatesFailures(t *testing.T) {
	b := newTestBundle(t, nil)
	require.NoError(t, b.AddStrategy(testAdmin, newFake("alpha", types.StrategyDirectToken, 100), 5_000, 0, 10_000, true))

	harvested, err := b.HarvestAll()
	require.NoError(t, err)
	assert.True(t, harvested.IsZero())
}
