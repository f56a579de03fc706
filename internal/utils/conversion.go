/*
This file contains common utility functions for basis-point arithmetic over
SDK integers and for annualizing rates over arbitrary time horizons.
*/

package utils

import (
	"errors"
	"fmt"
	"math"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/metazhar-legion/meta-index-sub006/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrAmountNil      = errors.New("amount is nil")
	ErrAmountNegative = errors.New("amount is negative")
	ErrInvalidBps     = errors.New("basis points out of range")
	ErrZeroHorizon    = errors.New("time horizon must be positive")
	ErrNotFinite      = errors.New("value is not finite")
)

const secondsPerYear = 365 * 24 * 60 * 60

// ApplyBps returns amount * bps / 10000, truncating toward zero.
func ApplyBps(amount sdkmath.Int, bps int64) (sdkmath.Int, error) {
	if amount.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if amount.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	if bps < 0 || bps > types.BpsDenominator {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d", ErrInvalidBps, bps)
	}
	return amount.Mul(sdkmath.NewInt(bps)).Quo(sdkmath.NewInt(types.BpsDenominator)), nil
}

// ApplyLeverage converts collateral into notional exposure at the given
// centi-x leverage (100 = 1x).
func ApplyLeverage(collateral sdkmath.Int, leverage int64) (sdkmath.Int, error) {
	if collateral.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if collateral.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	if leverage < types.LeverageUnit || leverage > types.MaxLeverageHardCap {
		return sdkmath.ZeroInt(), fmt.Errorf("leverage %d out of range", leverage)
	}
	return collateral.Mul(sdkmath.NewInt(leverage)).Quo(sdkmath.NewInt(types.LeverageUnit)), nil
}

// CollateralForNotional inverts ApplyLeverage, rounding the required
// collateral up so the resulting notional never exceeds the request.
func CollateralForNotional(notional sdkmath.Int, leverage int64) (sdkmath.Int, error) {
	if notional.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if notional.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	if leverage < types.LeverageUnit || leverage > types.MaxLeverageHardCap {
		return sdkmath.ZeroInt(), fmt.Errorf("leverage %d out of range", leverage)
	}
	lev := sdkmath.NewInt(leverage)
	// Ceiling division: (notional*100 + lev - 1) / lev
	return notional.Mul(sdkmath.NewInt(types.LeverageUnit)).Add(lev.SubRaw(1)).Quo(lev), nil
}

// CollateralRatioBps returns collateral / notional in bps. A zero notional
// yields zero since the ratio is undefined without exposure.
func CollateralRatioBps(collateral, notional sdkmath.Int) int64 {
	if collateral.IsNil() || notional.IsNil() || notional.IsZero() {
		return 0
	}
	return collateral.Mul(sdkmath.NewInt(types.BpsDenominator)).Quo(notional).Int64()
}

// ConcentrationBps returns part / whole in bps, zero when whole is zero.
func ConcentrationBps(part, whole sdkmath.Int) int64 {
	if part.IsNil() || whole.IsNil() || whole.IsZero() {
		return 0
	}
	return part.Mul(sdkmath.NewInt(types.BpsDenominator)).Quo(whole).Int64()
}

// AnnualizeBps scales a periodic rate (bps per period) to an annual rate for
// the given horizon. The horizon is the period the rate was quoted over.
func AnnualizeBps(rateBps int64, period time.Duration) (int64, error) {
	if period <= 0 {
		return 0, ErrZeroHorizon
	}
	periods := float64(secondsPerYear) / period.Seconds()
	annual := float64(rateBps) * periods
	if math.IsNaN(annual) || math.IsInf(annual, 0) {
		return 0, ErrNotFinite
	}
	if annual > float64(math.MaxInt64) {
		return 0, fmt.Errorf("annualized rate overflows: %f", annual)
	}
	return int64(annual), nil
}

// ProRateBps scales an annual rate (bps per year) down to the given horizon.
func ProRateBps(annualBps int64, horizon time.Duration) (int64, error) {
	if horizon <= 0 {
		return 0, ErrZeroHorizon
	}
	scaled := float64(annualBps) * horizon.Seconds() / float64(secondsPerYear)
	if math.IsNaN(scaled) || math.IsInf(scaled, 0) {
		return 0, ErrNotFinite
	}
	return int64(scaled), nil
}

// MinInt returns the smaller of two SDK integers.
func MinInt(a, b sdkmath.Int) sdkmath.Int {
	if a.LT(b) {
		return a
	}
	return b
}
