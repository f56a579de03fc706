package trs_test

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metazhar-legion/meta-index-sub006/internal/strategy"
	"github.com/metazhar-legion/meta-index-sub006/internal/strategy/trs"
	"github.com/metazhar-legion/meta-index-sub006/internal/types"
	"github.com/metazhar-legion/meta-index-sub006/internal/venue/sim"
)

const testAdmin = "admin"

func testRiskParams() types.RiskParameters {
	return types.RiskParameters{
		MaxLeverage:          300,
		MaxPositionSize:      sdkmath.NewInt(10_000_000),
		LiquidationBuffer:    2_000,
		RebalanceThreshold:   300,
		SlippageLimit:        100,
		EmergencyExitEnabled: true,
	}
}

func newTestRegistry() *sim.SwapRegistry {
	r := sim.NewSwapRegistry()
	r.AddCounterparty("dealer-a", 9, 120)
	r.AddCounterparty("dealer-b", 7, 95)
	return r
}

func newTestStrategy(t *testing.T, registry *sim.SwapRegistry) *trs.Strategy {
	t.Helper()
	s, err := trs.New(trs.Config{
		Name:                  "trs-test",
		Admin:                 testAdmin,
		AssetID:               "RWA-IDX",
		Registry:              registry,
		Oracle:                sim.NewOracle(),
		RiskParams:            testRiskParams(),
		Leverage:              100,
		MaturityTenor:         30 * 24 * time.Hour,
		ConcentrationLimitBps: 6_000,
		ManagementFeeBps:      20,
	})
	require.NoError(t, err)
	require.NoError(t, s.AddCounterparty(testAdmin, "dealer-a", sdkmath.NewInt(5_000_000), 5_000))
	require.NoError(t, s.AddCounterparty(testAdmin, "dealer-b", sdkmath.NewInt(5_000_000), 5_000))
	return s
}

func TestNewValidation(t *testing.T) {
	registry := newTestRegistry()
	cfg := trs.Config{
		Name:                  "trs-test",
		Admin:                 testAdmin,
		AssetID:               "RWA-IDX",
		Registry:              registry,
		Oracle:                sim.NewOracle(),
		RiskParams:            testRiskParams(),
		MaturityTenor:         time.Hour,
		ConcentrationLimitBps: 5_000,
	}

	_, err := trs.New(cfg)
	require.NoError(t, err)

	bad := cfg
	bad.Name = ""
	_, err = trs.New(bad)
	assert.ErrorIs(t, err, strategy.ErrEmptyIdentifier)

	bad = cfg
	bad.Leverage = 400 // Above MaxLeverage=300.
	_, err = trs.New(bad)
	assert.Error(t, err)

	bad = cfg
	bad.ConcentrationLimitBps = 0
	_, err = trs.New(bad)
	assert.Error(t, err)

	bad = cfg
	bad.RiskParams.MaxLeverage = types.MaxLeverageHardCap + 1
	_, err = trs.New(bad)
	assert.ErrorIs(t, err, types.ErrLeverageTooHigh)
}

func TestAddCounterpartyGating(t *testing.T) {
	registry := newTestRegistry()
	s := newTestStrategy(t, registry)

	err := s.AddCounterparty("intruder", "dealer-a", sdkmath.NewInt(1), 100)
	assert.ErrorIs(t, err, strategy.ErrNotAdmin)

	err = s.AddCounterparty(testAdmin, "dealer-a", sdkmath.NewInt(1), 100)
	assert.ErrorIs(t, err, trs.ErrCounterpartyExists)

	err = s.AddCounterparty(testAdmin, "nobody", sdkmath.NewInt(1), 100)
	assert.ErrorIs(t, err, strategy.ErrVenueUnavailable)

	registry.AddCounterparty("dealer-c", 5, 200)
	registry.FailCounterparty("dealer-c", true)
	err = s.AddCounterparty(testAdmin, "dealer-c", sdkmath.NewInt(1), 100)
	assert.Error(t, err, "failed counterparties cannot be allow-listed")
}

func TestOpenExposureSelectsBestQuote(t *testing.T) {
	registry := newTestRegistry()
	s := newTestStrategy(t, registry)

	res, err := s.OpenExposure(sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_000_000), res.ActualExposure)

	// Credit rating dominates the quote score, so dealer-a (rating 9) wins over
	// dealer-b (7) despite the higher borrow rate.
	contracts := s.Contracts()
	require.Len(t, contracts, 1)
	assert.Equal(t, "dealer-a", contracts[0].Counterparty)
	assert.Equal(t, sdkmath.NewInt(1_000_000), contracts[0].NotionalAmount)
	// 1x leverage: collateral equals notional.
	assert.Equal(t, sdkmath.NewInt(1_000_000), contracts[0].CollateralAmount)

	info := s.ExposureInfo()
	assert.Equal(t, types.StrategyTRS, info.Kind)
	assert.True(t, info.IsActive)
	assert.Equal(t, sdkmath.NewInt(1_000_000), info.CurrentExposure)
	assert.Equal(t, int64(10_000), info.CollateralRatio)
	assert.Equal(t, int64(100), info.Leverage)
	assert.Equal(t, int64(140), info.CurrentCostBps) // 120 borrow + 20 fee.
}

func TestOpenExposureRespectsConcentrationLimit(t *testing.T) {
	registry := newTestRegistry()
	s := newTestStrategy(t, registry)

	_, err := s.OpenExposure(sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	// Another contract with dealer-a would put it at 100% of the book,
	// past the 60% limit, so the second open must go to dealer-b.
	_, err = s.OpenExposure(sdkmath.NewInt(500_000))
	require.NoError(t, err)

	byCounterparty := map[string]sdkmath.Int{}
	for _, c := range s.Contracts() {
		byCounterparty[c.Counterparty] = c.NotionalAmount
	}
	assert.Equal(t, sdkmath.NewInt(1_000_000), byCounterparty["dealer-a"])
	assert.Equal(t, sdkmath.NewInt(500_000), byCounterparty["dealer-b"])
	assert.Equal(t, sdkmath.NewInt(1_500_000), s.TotalExposure())
}

func TestOpenExposurePenalizesConcentratedCounterparty(t *testing.T) {
	registry := sim.NewSwapRegistry()
	registry.AddCounterparty("dealer-a", 9, 120)
	registry.AddCounterparty("dealer-b", 7, 95)
	registry.AddCounterparty("dealer-c", 5, 80)

	s, err := trs.New(trs.Config{
		Name:                  "trs-test",
		Admin:                 testAdmin,
		AssetID:               "RWA-IDX",
		Registry:              registry,
		Oracle:                sim.NewOracle(),
		RiskParams:            testRiskParams(),
		Leverage:              100,
		MaturityTenor:         30 * 24 * time.Hour,
		ConcentrationLimitBps: 6_000,
		ManagementFeeBps:      20,
	})
	require.NoError(t, err)
	require.NoError(t, s.AddCounterparty(testAdmin, "dealer-a", sdkmath.NewInt(5_000_000), 4_000))
	require.NoError(t, s.AddCounterparty(testAdmin, "dealer-b", sdkmath.NewInt(200_000), 2_000))
	require.NoError(t, s.AddCounterparty(testAdmin, "dealer-c", sdkmath.NewInt(5_000_000), 4_000))

	// Zero exposure: no concentration applies, highest rating wins.
	_, err = s.OpenExposure(sdkmath.NewInt(500_000))
	require.NoError(t, err)

	// dealer-a would be 100% of the book, dealer-b's cap is too small;
	// dealer-c takes it at exactly the 60% limit.
	_, err = s.OpenExposure(sdkmath.NewInt(750_000))
	require.NoError(t, err)

	// dealer-a now holds 4000 bps of the book, above the 2000 bps penalty
	// threshold but well under the hard limit. The penalty (2000 score
	// points) outweighs its 2-rating edge over dealer-b, so the open is
	// diverted to the idle dealer-b. dealer-c is past the hard limit.
	_, err = s.OpenExposure(sdkmath.NewInt(100_000))
	require.NoError(t, err)

	byCounterparty := map[string]sdkmath.Int{}
	for _, a := range s.CounterpartyAllocations() {
		byCounterparty[a.Counterparty] = a.CurrentExposure
	}
	assert.Equal(t, sdkmath.NewInt(500_000), byCounterparty["dealer-a"])
	assert.Equal(t, sdkmath.NewInt(100_000), byCounterparty["dealer-b"])
	assert.Equal(t, sdkmath.NewInt(750_000), byCounterparty["dealer-c"])
	assert.Equal(t, sdkmath.NewInt(1_350_000), s.TotalExposure())
}

// reentrantRegistry calls back into the strategy mid mark-to-market, the
// way a compromised venue could.
type reentrantRegistry struct {
	*sim.SwapRegistry
	target  *trs.Strategy
	callErr error
}

func (r *reentrantRegistry) MarkToMarket(contractID string) (sdkmath.Int, error) {
	if r.target != nil {
		_, r.callErr = r.target.HarvestYield()
	}
	return r.SwapRegistry.MarkToMarket(contractID)
}

func TestHarvestYieldRejectsReentrantCall(t *testing.T) {
	registry := &reentrantRegistry{SwapRegistry: newTestRegistry()}
	s, err := trs.New(trs.Config{
		Name:                  "trs-test",
		Admin:                 testAdmin,
		AssetID:               "RWA-IDX",
		Registry:              registry,
		Oracle:                sim.NewOracle(),
		RiskParams:            testRiskParams(),
		Leverage:              100,
		MaturityTenor:         30 * 24 * time.Hour,
		ConcentrationLimitBps: 6_000,
		ManagementFeeBps:      20,
	})
	require.NoError(t, err)
	require.NoError(t, s.AddCounterparty(testAdmin, "dealer-a", sdkmath.NewInt(5_000_000), 5_000))

	_, err = s.OpenExposure(sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	registry.target = s
	_, err = s.HarvestYield()
	require.NoError(t, err, "the failed mark is tolerated")
	assert.ErrorIs(t, registry.callErr, strategy.ErrReentrantCall)
}

func TestOpenExposureLimits(t *testing.T) {
	registry := newTestRegistry()
	s := newTestStrategy(t, registry)

	_, err := s.OpenExposure(sdkmath.ZeroInt())
	assert.ErrorIs(t, err, strategy.ErrZeroAmount)

	_, err = s.OpenExposure(sdkmath.NewInt(10_000_001))
	assert.ErrorIs(t, err, strategy.ErrExceedsMaxPosition)

	// Both dealer caps are 5M, so a 6M single open has no eligible quote.
	_, err = s.OpenExposure(sdkmath.NewInt(6_000_000))
	assert.ErrorIs(t, err, strategy.ErrNoEligibleQuotes)

	assert.True(t, s.CanHandleExposure(sdkmath.NewInt(1_000_000)))
	assert.False(t, s.CanHandleExposure(sdkmath.NewInt(6_000_000)))
	assert.False(t, s.CanHandleExposure(sdkmath.ZeroInt()))
}

func TestOpenExposureNoCounterparties(t *testing.T) {
	registry := newTestRegistry()
	s, err := trs.New(trs.Config{
		Name:                  "trs-empty",
		Admin:                 testAdmin,
		AssetID:               "RWA-IDX",
		Registry:              registry,
		Oracle:                sim.NewOracle(),
		RiskParams:            testRiskParams(),
		MaturityTenor:         time.Hour,
		ConcentrationLimitBps: 5_000,
	})
	require.NoError(t, err)

	// The registry quotes, but nothing is allow-listed.
	_, err = s.OpenExposure(sdkmath.NewInt(1_000))
	assert.ErrorIs(t, err, strategy.ErrNoEligibleQuotes)
}

func TestCloseExposureWholeContracts(t *testing.T) {
	registry := newTestRegistry()
	s := newTestStrategy(t, registry)

	_, err := s.OpenExposure(sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	_, err = s.OpenExposure(sdkmath.NewInt(500_000))
	require.NoError(t, err)

	// Contracts cannot be partially terminated: a 300k request takes out
	// the whole smallest contract (500k) and overshoots.
	res, err := s.CloseExposure(sdkmath.NewInt(300_000))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(500_000), res.ClosedExposure)
	assert.Equal(t, sdkmath.NewInt(500_000), res.CapitalRecovered)
	assert.Equal(t, sdkmath.NewInt(1_000_000), s.TotalExposure())

	_, err = s.CloseExposure(sdkmath.NewInt(2_000_000))
	assert.ErrorIs(t, err, strategy.ErrInsufficientExposure)

	res, err = s.CloseExposure(sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_000_000), res.ClosedExposure)
	assert.True(t, s.TotalExposure().IsZero())
	assert.False(t, s.ExposureInfo().IsActive)
}

func TestCloseExposureRecoversMarkedPnL(t *testing.T) {
	registry := newTestRegistry()
	s := newTestStrategy(t, registry)

	_, err := s.OpenExposure(sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	open := registry.OpenContracts()
	require.Len(t, open, 1)
	registry.SetContractValue(open[0], sdkmath.NewInt(1_100_000))

	res, err := s.CloseExposure(sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	// Collateral back plus 100k of marked gains.
	assert.Equal(t, sdkmath.NewInt(1_100_000), res.CapitalRecovered)
}

func TestAdjustExposure(t *testing.T) {
	registry := newTestRegistry()
	s := newTestStrategy(t, registry)

	total, err := s.AdjustExposure(sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_000_000), total)

	total, err = s.AdjustExposure(sdkmath.ZeroInt())
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_000_000), total)

	total, err = s.AdjustExposure(sdkmath.NewInt(-1_000_000))
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestEstimateExposureCost(t *testing.T) {
	registry := newTestRegistry()
	s := newTestStrategy(t, registry)

	cost, err := s.EstimateExposureCost(sdkmath.NewInt(1_000_000), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(140), cost) // dealer-a: 120 borrow + 20 fee.

	// With dealer-a out, the estimate falls back to dealer-b's quote.
	registry.FailCounterparty("dealer-a", true)
	cost, err = s.EstimateExposureCost(sdkmath.NewInt(1_000_000), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(115), cost) // dealer-b: 95 borrow + 20 fee.

	registry.FailCounterparty("dealer-b", true)
	cost, err = s.EstimateExposureCost(sdkmath.NewInt(1_000_000), time.Hour)
	assert.Error(t, err)
	assert.Equal(t, types.CostUnavailable, cost)

	_, err = s.EstimateExposureCost(sdkmath.ZeroInt(), time.Hour)
	assert.ErrorIs(t, err, strategy.ErrZeroAmount)

	_, err = s.EstimateExposureCost(sdkmath.NewInt(1_000), 0)
	assert.Error(t, err)
}

func TestSettleMaturedContracts(t *testing.T) {
	registry := newTestRegistry()
	s := newTestStrategy(t, registry)

	_, err := s.OpenExposure(sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	// Still inside the tenor: nothing settles.
	recovered, err := s.SettleMaturedContracts()
	require.NoError(t, err)
	assert.True(t, recovered.IsZero())
	assert.Equal(t, sdkmath.NewInt(1_000_000), s.TotalExposure())

	registry.SetClock(func() time.Time { return time.Now().Add(31 * 24 * time.Hour) })
	recovered, err = s.SettleMaturedContracts()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_000_000), recovered)
	assert.True(t, s.TotalExposure().IsZero())
	assert.False(t, s.ExposureInfo().IsActive)
}

func TestEmergencyExitIsolatesStuckCounterparty(t *testing.T) {
	registry := newTestRegistry()
	s := newTestStrategy(t, registry)

	_, err := s.OpenExposure(sdkmath.NewInt(1_000_000)) // dealer-a
	require.NoError(t, err)
	_, err = s.OpenExposure(sdkmath.NewInt(500_000)) // dealer-b
	require.NoError(t, err)

	registry.FailCounterparty("dealer-a", true)

	recovered, err := s.EmergencyExit()
	require.NoError(t, err)
	// dealer-b's contract unwound; dealer-a's is stuck and stays on the book.
	assert.Equal(t, sdkmath.NewInt(500_000), recovered)
	assert.Equal(t, sdkmath.NewInt(1_000_000), s.TotalExposure())
	assert.False(t, s.ExposureInfo().IsActive)
}

func TestEmergencyExitDisabled(t *testing.T) {
	registry := newTestRegistry()
	params := testRiskParams()
	params.EmergencyExitEnabled = false
	s, err := trs.New(trs.Config{
		Name:                  "trs-noexit",
		Admin:                 testAdmin,
		AssetID:               "RWA-IDX",
		Registry:              registry,
		Oracle:                sim.NewOracle(),
		RiskParams:            params,
		MaturityTenor:         time.Hour,
		ConcentrationLimitBps: 5_000,
	})
	require.NoError(t, err)

	_, err = s.EmergencyExit()
	assert.ErrorIs(t, err, strategy.ErrEmergencyExitDisabled)
}

func TestUpdateRiskParameters(t *testing.T) {
	registry := newTestRegistry()
	s := newTestStrategy(t, registry)

	err := s.UpdateRiskParameters("intruder", testRiskParams())
	assert.ErrorIs(t, err, strategy.ErrNotAdmin)

	bad := testRiskParams()
	bad.MaxLeverage = types.MaxLeverageHardCap + 1
	err = s.UpdateRiskParameters(testAdmin, bad)
	assert.ErrorIs(t, err, types.ErrLeverageTooHigh)

	updated := testRiskParams()
	updated.MaxPositionSize = sdkmath.NewInt(500_000)
	require.NoError(t, s.UpdateRiskParameters(testAdmin, updated))

	_, err = s.OpenExposure(sdkmath.NewInt(600_000))
	assert.ErrorIs(t, err, strategy.ErrExceedsMaxPosition)
}

func TestRemoveCounterparty(t *testing.T) {
	registry := newTestRegistry()
	s := newTestStrategy(t, registry)

	_, err := s.OpenExposure(sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	err = s.RemoveCounterparty(testAdmin, "dealer-a")
	assert.ErrorIs(t, err, trs.ErrCounterpartyExposed)

	require.NoError(t, s.RemoveCounterparty(testAdmin, "dealer-b"))
	err = s.RemoveCounterparty(testAdmin, "dealer-b")
	assert.ErrorIs(t, err, trs.ErrCounterpartyUnknown)
}
