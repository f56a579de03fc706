/*

This file contains the funding-rate history and the leverage adaptation
logic. The strategy keeps a bounded window of observed funding rates and
shifts leverage away from the base when the trailing average leaves the
configured band.

*/

package perp

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/metazhar-legion/meta-index-sub006/internal/strategy"
	"github.com/metazhar-legion/meta-index-sub006/internal/types"
	"github.com/metazhar-legion/meta-index-sub006/internal/utils"
)

// RecordFundingRate samples the market funding rate into the bounded
// history window. Venue failures leave the history untouched.
func (s *Strategy) RecordFundingRate() error {
	rate, err := s.router.GetFundingRate(s.market)
	if err != nil {
		return errors.Join(strategy.ErrVenueUnavailable, err)
	}
	s.appendFunding(rate)
	return nil
}

// recordFundingRate is the best-effort variant used inside open paths.
func (s *Strategy) recordFundingRate() {
	if err := s.RecordFundingRate(); err != nil {
		s.log.Warn().Err(err).Msg("Funding rate sample skipped")
	}
}

func (s *Strategy) appendFunding(rate int64) {
	s.fundingHistory = append(s.fundingHistory, rate)
	if len(s.fundingHistory) > s.fundingWindow {
		s.fundingHistory = s.fundingHistory[len(s.fundingHistory)-s.fundingWindow:]
	}
}

// trailingAverageFunding returns the mean of the recorded window; ok is
// false when no samples exist yet.
func (s *Strategy) trailingAverageFunding() (int64, bool) {
	if len(s.fundingHistory) == 0 {
		return 0, false
	}
	var sum int64
	for _, r := range s.fundingHistory {
		sum += r
	}
	return sum / int64(len(s.fundingHistory)), true
}

// OptimalLeverage computes the leverage the funding regime calls for:
// reduced from base when the trailing average exceeds the threshold,
// increased when it sits below the negative threshold, base otherwise.
// The result is clamped to [minLeverage, MaxLeverage].
func (s *Strategy) OptimalLeverage() int64 {
	optimal := s.baseLeverage
	if avg, ok := s.trailingAverageFunding(); ok {
		adjustment := s.baseLeverage * s.adjustmentBps / types.BpsDenominator
		switch {
		case avg > s.fundingThresholdBps:
			optimal = s.baseLeverage - adjustment
		case avg < -s.fundingThresholdBps:
			optimal = s.baseLeverage + adjustment
		}
	}
	if optimal < s.minLeverage {
		optimal = s.minLeverage
	}
	if optimal > s.params.MaxLeverage {
		optimal = s.params.MaxLeverage
	}
	return optimal
}

// UpdateLeverage moves the live position toward the optimal leverage. The
// position is only touched when the delta reaches minLeverageChange, so
// small funding wobbles do not churn the venue.
func (s *Strategy) UpdateLeverage() (int64, error) {
	if err := s.guard.Enter(); err != nil {
		return 0, err
	}
	defer s.guard.Exit()

	optimal := s.OptimalLeverage()
	delta := optimal - s.currentLeverage
	if delta < 0 {
		delta = -delta
	}
	if delta < minLeverageChange {
		return s.currentLeverage, nil
	}

	before := s.currentLeverage
	if s.positionID != "" {
		// Re-lever the existing collateral: notional follows the new
		// leverage, collateral stays put.
		newNotional, err := utils.ApplyLeverage(s.collateral, optimal)
		if err != nil {
			return 0, err
		}
		if newNotional.GT(s.params.MaxPositionSize) {
			return 0, errors.Join(strategy.ErrExceedsMaxPosition,
				fmt.Errorf("re-levered notional %s exceeds max %s", newNotional, s.params.MaxPositionSize))
		}
		sizeDelta := newNotional.Sub(s.notional)
		if err := s.router.AdjustPosition(s.positionID, sizeDelta, sdkmath.ZeroInt(), optimal); err != nil {
			return 0, errors.Join(strategy.ErrVenueUnavailable, err)
		}
		s.notional = newNotional
	}
	s.currentLeverage = optimal

	s.events.Append(types.NewEvent(types.EventLeverageAdjusted, s.name,
		fmt.Sprintf("%d", before), fmt.Sprintf("%d", optimal), ""))
	s.log.Info().
		Int64("from", before).
		Int64("to", optimal).
		Msg("Leverage adjusted")
	return optimal, nil
}
