package types

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRiskParams() RiskParameters {
	return RiskParameters{
		MaxLeverage:          300,
		MaxPositionSize:      sdkmath.NewInt(1_000_000),
		LiquidationBuffer:    2_000,
		RebalanceThreshold:   300,
		SlippageLimit:        100,
		EmergencyExitEnabled: true,
	}
}

func TestRiskParametersValidate(t *testing.T) {
	require.NoError(t, validRiskParams().Validate())

	p := validRiskParams()
	p.MaxLeverage = MaxLeverageHardCap
	assert.NoError(t, p.Validate(), "hard cap itself is allowed")

	p.MaxLeverage = MaxLeverageHardCap + 1
	assert.ErrorIs(t, p.Validate(), ErrLeverageTooHigh)

	p = validRiskParams()
	p.MaxLeverage = LeverageUnit - 1
	assert.ErrorIs(t, p.Validate(), ErrInvalidRiskParams)

	p = validRiskParams()
	p.SlippageLimit = MaxSlippageHardCap + 1
	assert.ErrorIs(t, p.Validate(), ErrSlippageTooHigh)

	p = validRiskParams()
	p.SlippageLimit = -1
	assert.ErrorIs(t, p.Validate(), ErrInvalidRiskParams)

	p = validRiskParams()
	p.MaxPositionSize = sdkmath.ZeroInt()
	assert.ErrorIs(t, p.Validate(), ErrZeroPositionSize)

	p = validRiskParams()
	p.MaxPositionSize = sdkmath.Int{}
	assert.ErrorIs(t, p.Validate(), ErrZeroPositionSize)

	p = validRiskParams()
	p.LiquidationBuffer = BpsDenominator + 1
	assert.ErrorIs(t, p.Validate(), ErrInvalidBufferBps)

	p = validRiskParams()
	p.RebalanceThreshold = -1
	assert.ErrorIs(t, p.Validate(), ErrInvalidThresholdBps)
}
