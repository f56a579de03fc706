package utils

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyBps(t *testing.T) {
	out, err := ApplyBps(sdkmath.NewInt(10_000), 2500)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(2_500), out)

	// Truncates toward zero.
	out, err = ApplyBps(sdkmath.NewInt(3), 5000)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1), out)

	out, err = ApplyBps(sdkmath.NewInt(777), 0)
	require.NoError(t, err)
	assert.True(t, out.IsZero())

	out, err = ApplyBps(sdkmath.NewInt(777), 10_000)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(777), out)

	_, err = ApplyBps(sdkmath.NewInt(100), -1)
	assert.ErrorIs(t, err, ErrInvalidBps)

	_, err = ApplyBps(sdkmath.NewInt(100), 10_001)
	assert.ErrorIs(t, err, ErrInvalidBps)

	_, err = ApplyBps(sdkmath.NewInt(-5), 100)
	assert.ErrorIs(t, err, ErrAmountNegative)

	_, err = ApplyBps(sdkmath.Int{}, 100)
	assert.ErrorIs(t, err, ErrAmountNil)
}

func TestApplyLeverage(t *testing.T) {
	out, err := ApplyLeverage(sdkmath.NewInt(1_000), 200)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(2_000), out)

	// 1x is the identity.
	out, err = ApplyLeverage(sdkmath.NewInt(1_000), 100)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_000), out)

	// Fractional leverage truncates.
	out, err = ApplyLeverage(sdkmath.NewInt(999), 150)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_498), out)

	_, err = ApplyLeverage(sdkmath.NewInt(1_000), 99)
	assert.Error(t, err)

	_, err = ApplyLeverage(sdkmath.NewInt(1_000), 1_001)
	assert.Error(t, err)
}

func TestCollateralForNotional(t *testing.T) {
	// Even division.
	col, err := CollateralForNotional(sdkmath.NewInt(2_000), 200)
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_000), col)

	// Rounds up so the achievable notional covers the request.
	col, err = CollateralForNotional(sdkmath.NewInt(1_001), 300)
	require.NoError(t, err)
	notional, err := ApplyLeverage(col, 300)
	require.NoError(t, err)
	assert.True(t, notional.GTE(sdkmath.NewInt(1_001)),
		"levered collateral must cover the requested notional")
	// One unit less would not cover it.
	short, err := ApplyLeverage(col.SubRaw(1), 300)
	require.NoError(t, err)
	assert.True(t, short.LT(sdkmath.NewInt(1_001)))

	_, err = CollateralForNotional(sdkmath.NewInt(-1), 200)
	assert.ErrorIs(t, err, ErrAmountNegative)
}

func TestRatioHelpers(t *testing.T) {
	assert.Equal(t, int64(5_000), CollateralRatioBps(sdkmath.NewInt(50), sdkmath.NewInt(100)))
	assert.Equal(t, int64(0), CollateralRatioBps(sdkmath.NewInt(50), sdkmath.ZeroInt()))

	assert.Equal(t, int64(2_500), ConcentrationBps(sdkmath.NewInt(25), sdkmath.NewInt(100)))
	assert.Equal(t, int64(0), ConcentrationBps(sdkmath.NewInt(25), sdkmath.ZeroInt()))
}

func TestAnnualizeAndProRate(t *testing.T) {
	// 1 bps per day is 365 bps per year.
	annual, err := AnnualizeBps(1, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(365), annual)

	_, err = AnnualizeBps(1, 0)
	assert.ErrorIs(t, err, ErrZeroHorizon)

	// And pro-rating inverts it, up to truncation.
	scaled, err := ProRateBps(365, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), scaled)

	scaled, err = ProRateBps(400, 365*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(400), scaled)

	_, err = ProRateBps(400, -time.Hour)
	assert.ErrorIs(t, err, ErrZeroHorizon)
}

func TestMinInt(t *testing.T) {
	assert.Equal(t, sdkmath.NewInt(3), MinInt(sdkmath.NewInt(3), sdkmath.NewInt(7)))
	assert.Equal(t, sdkmath.NewInt(3), MinInt(sdkmath.NewInt(7), sdkmath.NewInt(3)))
	assert.Equal(t, sdkmath.NewInt(-4), MinInt(sdkmath.NewInt(-4), sdkmath.NewInt(0)))
}
