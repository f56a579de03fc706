/*

This file contains the yield, harvest, and emergency exit paths of the
direct-token strategy.

*/

package spot

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/metazhar-legion/meta-index-sub006/internal/strategy"
	"github.com/metazhar-legion/meta-index-sub006/internal/types"
	"github.com/metazhar-legion/meta-index-sub006/internal/utils"
	"github.com/metazhar-legion/meta-index-sub006/internal/venue"
)

// AddYieldAllocation registers a yield venue with an allocation share.
// Administrator only.
func (s *Strategy) AddYieldAllocation(caller string, ys venue.YieldStrategy, allocationBps int64) error {
	if caller != s.admin {
		return strategy.ErrNotAdmin
	}
	return s.yields.Add(ys, allocationBps)
}

// YieldAllocations returns a copy of the allocation records.
func (s *Strategy) YieldAllocations() []types.YieldAllocation {
	return s.yields.Allocations()
}

// HarvestYield collects accrued yield across all venues. Per-venue
// failures are isolated.
func (s *Strategy) HarvestYield() (sdkmath.Int, error) {
	if err := s.guard.Enter(); err != nil {
		return sdkmath.ZeroInt(), err
	}
	defer s.guard.Exit()

	harvested, err := s.yields.Harvest()
	s.events.Append(types.NewEvent(types.EventYieldHarvested, s.name,
		"", harvested.String(), ""))
	s.log.Info().
		Str("harvested", harvested.String()).
		Msg("Yield harvested")
	return harvested, err
}

// EmergencyExit dumps the full token balance on the exchange with the
// slippage bound relaxed to the hard cap, then drains the yield deposits.
// Requires the emergency flag in the risk parameters.
func (s *Strategy) EmergencyExit() (sdkmath.Int, error) {
	if !s.params.EmergencyExitEnabled {
		return sdkmath.ZeroInt(), strategy.ErrEmergencyExitDisabled
	}
	if err := s.guard.Enter(); err != nil {
		return sdkmath.ZeroInt(), err
	}
	defer s.guard.Exit()

	recovered := sdkmath.ZeroInt()
	var failures []error

	if s.tokenBalance.IsPositive() {
		quoted, err := s.exchange.GetAmountsOut(s.tokenBalance, s.token, s.baseAsset)
		if err != nil {
			failures = append(failures, fmt.Errorf("quote exit swap: %w", err))
		} else {
			// In an emergency the configured limit yields to the hard cap:
			// getting out matters more than execution quality.
			minOut, bpsErr := utils.ApplyBps(quoted, types.BpsDenominator-types.MaxSlippageHardCap)
			if bpsErr != nil {
				minOut = sdkmath.ZeroInt()
			}
			got, err := s.exchange.SwapExactTokensForTokens(s.tokenBalance, minOut, s.token, s.baseAsset)
			if err != nil {
				failures = append(failures, fmt.Errorf("exit swap: %w", err))
			} else {
				recovered = recovered.Add(got)
				s.tokenBalance = sdkmath.ZeroInt()
				s.costBasis = sdkmath.ZeroInt()
			}
		}
	}

	recovered = recovered.Add(s.yields.WithdrawRatio(types.BpsDenominator))

	s.active = false

	s.events.Append(types.NewEvent(types.EventEmergencyExit, s.name,
		"", recovered.String(), fmt.Sprintf("failures=%d", len(failures))))
	s.log.Warn().
		Str("recovered", recovered.String()).
		Int("failures", len(failures)).
		Msg("Emergency exit executed")
	return recovered, errors.Join(failures...)
}
