package strategy_test

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metazhar-legion/meta-index-sub006/internal/strategy"
	"github.com/metazhar-legion/meta-index-sub006/internal/types"
	"github.com/metazhar-legion/meta-index-sub006/internal/venue/sim"
)

func newTestBook(t *testing.T) (*strategy.YieldBook, *sim.Vault, *sim.Vault) {
	t.Helper()
	book := strategy.NewYieldBook(8_000, zerolog.Nop())
	alpha := sim.NewVault("vault-alpha")
	beta := sim.NewVault("vault-beta")
	require.NoError(t, book.Add(alpha, 6_000))
	require.NoError(t, book.Add(beta, 2_000))
	return book, alpha, beta
}

func TestYieldBookAddEnforcesCap(t *testing.T) {
	book, alpha, _ := newTestBook(t)

	err := book.Add(alpha, 1_000)
	assert.ErrorIs(t, err, strategy.ErrYieldVenueExists)

	// 6000 + 2000 are registered against an 8000 cap; any further active
	// share overflows it.
	err = book.Add(sim.NewVault("vault-gamma"), 500)
	assert.ErrorIs(t, err, types.ErrYieldAllocationOverflow)

	require.Len(t, book.Allocations(), 2, "rejected venue must not be recorded")
}

func TestYieldBookDepositProRata(t *testing.T) {
	book, alpha, beta := newTestBook(t)

	book.Deposit(sdkmath.NewInt(80_000))

	byName := map[string]types.YieldAllocation{}
	for _, a := range book.Allocations() {
		byName[a.Strategy] = a
	}
	assert.Equal(t, sdkmath.NewInt(60_000), byName["vault-alpha"].CurrentDeposit)
	assert.Equal(t, sdkmath.NewInt(20_000), byName["vault-beta"].CurrentDeposit)
	assert.Equal(t, sdkmath.NewInt(80_000), book.TotalDeposits())

	gotAlpha, err := alpha.GetTotalValue()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(60_000), gotAlpha)
	gotBeta, err := beta.GetTotalValue()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(20_000), gotBeta)
}

func TestYieldBookDepositSkipsFailedVenue(t *testing.T) {
	book, alpha, _ := newTestBook(t)
	alpha.Fail(true)

	book.Deposit(sdkmath.NewInt(80_000))

	byName := map[string]types.YieldAllocation{}
	for _, a := range book.Allocations() {
		byName[a.Strategy] = a
	}
	assert.True(t, byName["vault-alpha"].CurrentDeposit.IsZero())
	assert.Equal(t, sdkmath.NewInt(20_000), byName["vault-beta"].CurrentDeposit)
	assert.Equal(t, sdkmath.NewInt(20_000), book.TotalDeposits())
}

func TestYieldBookWithdrawRatio(t *testing.T) {
	book, _, _ := newTestBook(t)
	book.Deposit(sdkmath.NewInt(80_000))

	recovered := book.WithdrawRatio(5_000)
	assert.Equal(t, sdkmath.NewInt(40_000), recovered)
	assert.Equal(t, sdkmath.NewInt(40_000), book.TotalDeposits())

	// A full drawdown withdraws every remaining share, not a bps slice.
	recovered = book.WithdrawRatio(types.BpsDenominator)
	assert.Equal(t, sdkmath.NewInt(40_000), recovered)
	assert.True(t, book.TotalDeposits().IsZero())

	assert.True(t, book.WithdrawRatio(5_000).IsZero(), "nothing left to withdraw")
}

func TestYieldBookWithdrawIsolatesFailedVenue(t *testing.T) {
	book, alpha, _ := newTestBook(t)
	book.Deposit(sdkmath.NewInt(80_000))
	alpha.Fail(true)

	recovered := book.WithdrawRatio(types.BpsDenominator)
	assert.Equal(t, sdkmath.NewInt(20_000), recovered)

	// The stuck venue's book entry is untouched so a later retry can still
	// reach the deposit.
	byName := map[string]types.YieldAllocation{}
	for _, a := range book.Allocations() {
		byName[a.Strategy] = a
	}
	assert.Equal(t, sdkmath.NewInt(60_000), byName["vault-alpha"].CurrentDeposit)
	assert.True(t, byName["vault-beta"].CurrentDeposit.IsZero())

	alpha.Fail(false)
	recovered = book.WithdrawRatio(types.BpsDenominator)
	assert.Equal(t, sdkmath.NewInt(60_000), recovered)
	assert.True(t, book.TotalDeposits().IsZero())
}

func TestYieldBookHarvest(t *testing.T) {
	book, alpha, beta := newTestBook(t)
	book.Deposit(sdkmath.NewInt(80_000))
	alpha.Accrue(sdkmath.NewInt(600))
	beta.Accrue(sdkmath.NewInt(200))

	harvested, err := book.Harvest()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(800), harvested)

	harvested, err = book.Harvest()
	require.NoError(t, err)
	assert.True(t, harvested.IsZero(), "yield collects once")
}

func TestYieldBookHarvestJoinsFailures(t *testing.T) {
	book, alpha, beta := newTestBook(t)
	book.Deposit(sdkmath.NewInt(80_000))
	alpha.Fail(true)
	beta.Accrue(sdkmath.NewInt(200))

	harvested, err := book.Harvest()
	assert.Error(t, err)
	assert.Equal(t, sdkmath.NewInt(200), harvested, "healthy venue still harvests")
}
