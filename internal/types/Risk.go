/*

This file contains the risk parameter types shared by every exposure strategy,
together with the hard bounds enforced on every update.

*/

package types

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

const (
	// BpsDenominator is the basis point denominator (10000 bps = 100%).
	BpsDenominator int64 = 10000

	// LeverageUnit is one unit of leverage in centi-x representation (100 = 1.00x).
	LeverageUnit int64 = 100

	// MaxLeverageHardCap is the absolute leverage ceiling (1000 = 10x).
	// No parameter update may exceed it.
	MaxLeverageHardCap int64 = 1000

	// MaxSlippageHardCap is the absolute slippage ceiling (1000 bps = 10%).
	MaxSlippageHardCap int64 = 1000

	// PriceDecimals is the fixed decimal precision of oracle prices.
	PriceDecimals = 18
)

// PriceScale is the oracle price denominator (10^PriceDecimals).
var PriceScale = sdkmath.NewIntWithDecimal(1, PriceDecimals)

var (
	ErrLeverageTooHigh     = errors.New("max leverage exceeds hard cap")
	ErrSlippageTooHigh     = errors.New("slippage limit exceeds hard cap")
	ErrInvalidRiskParams   = errors.New("risk parameters are invalid")
	ErrZeroPositionSize    = errors.New("max position size must be positive")
	ErrInvalidBufferBps    = errors.New("liquidation buffer is out of range")
	ErrInvalidThresholdBps = errors.New("rebalance threshold is out of range")
)

// RiskParameters holds the leverage bounds, position limits and execution
// tolerances of a single exposure strategy. Owned by, and mutable only by,
// the strategy's administrator.
type RiskParameters struct {
	MaxLeverage          int64       `json:"max_leverage"`           // Centi-x (100 = 1x). Hard-capped at 1000 (10x).
	MaxPositionSize      sdkmath.Int `json:"max_position_size"`      // Maximum notional exposure in base-asset units.
	LiquidationBuffer    int64       `json:"liquidation_buffer"`     // Bps of collateral kept above liquidation level.
	RebalanceThreshold   int64       `json:"rebalance_threshold"`    // Bps deviation required before internal rebalancing.
	SlippageLimit        int64       `json:"slippage_limit"`         // Bps. Hard-capped at 1000 (10%).
	EmergencyExitEnabled bool        `json:"emergency_exit_enabled"` // Gate for EmergencyExit.
}

// Validate enforces the hard bounds on a parameter set. It is called on
// construction and on every administrator update; a set that fails here is
// rejected before any state changes.
func (p RiskParameters) Validate() error {
	if p.MaxLeverage < LeverageUnit {
		return errors.Join(ErrInvalidRiskParams,
			fmt.Errorf("max leverage %d is below 1x (%d)", p.MaxLeverage, LeverageUnit))
	}
	if p.MaxLeverage > MaxLeverageHardCap {
		return errors.Join(ErrLeverageTooHigh,
			fmt.Errorf("max leverage %d exceeds cap %d", p.MaxLeverage, MaxLeverageHardCap))
	}
	if p.SlippageLimit < 0 {
		return errors.Join(ErrInvalidRiskParams, errors.New("slippage limit cannot be negative"))
	}
	if p.SlippageLimit > MaxSlippageHardCap {
		return errors.Join(ErrSlippageTooHigh,
			fmt.Errorf("slippage limit %d bps exceeds cap %d bps", p.SlippageLimit, MaxSlippageHardCap))
	}
	if p.MaxPositionSize.IsNil() || !p.MaxPositionSize.IsPositive() {
		return errors.Join(ErrInvalidRiskParams, ErrZeroPositionSize)
	}
	if p.LiquidationBuffer < 0 || p.LiquidationBuffer > BpsDenominator {
		return errors.Join(ErrInvalidRiskParams, ErrInvalidBufferBps)
	}
	if p.RebalanceThreshold < 0 || p.RebalanceThreshold > BpsDenominator {
		return errors.Join(ErrInvalidRiskParams, ErrInvalidThresholdBps)
	}
	return nil
}
