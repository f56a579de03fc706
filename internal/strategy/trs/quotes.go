/*

This file contains quote selection and cost estimation for the TRS strategy.
Selection strictly favors counterparty diversification over marginal cost
once concentration becomes material.

*/

package trs

import (
	"errors"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/metazhar-legion/meta-index-sub006/internal/strategy"
	"github.com/metazhar-legion/meta-index-sub006/internal/types"
	"github.com/metazhar-legion/meta-index-sub006/internal/utils"
	"github.com/metazhar-legion/meta-index-sub006/internal/venue"
)

// selectBestQuote filters the quotes to those that are executable under this
// strategy's counterparty policy and picks the highest scoring one.
//
// A quote survives filtering when it is (a) non-expired, (b) from an
// allow-listed, active counterparty, (c) within that counterparty's exposure
// cap, and (d) within the portfolio concentration limit. Concentration is
// only checked once existing exposure is positive, since it is undefined at
// zero exposure.
//
// Score = creditRating*1000 - borrowRateBps, minus a penalty when the
// counterparty's concentration already exceeds the penalty threshold.
// Highest score wins; on ties the first encountered quote wins.
func (s *Strategy) selectBestQuote(quotes []venue.Quote, amount sdkmath.Int) (venue.Quote, error) {
	if len(quotes) == 0 {
		return venue.Quote{}, strategy.ErrNoEligibleQuotes
	}

	now := time.Now()
	var best venue.Quote
	bestScore := int64(0)
	found := false

	for _, q := range quotes {
		if q.Expired(now) {
			s.log.Debug().Str("quoteID", q.QuoteID).Msg("Quote expired, skipping")
			continue
		}

		cp, listed := s.counterparties[q.Counterparty]
		if !listed || !cp.IsActive {
			s.log.Debug().Str("counterparty", q.Counterparty).Msg("Counterparty not allow-listed or inactive, skipping")
			continue
		}

		// Per-counterparty cap.
		if cp.CurrentExposure.Add(q.Notional).GT(cp.MaxExposure) {
			s.log.Debug().
				Str("counterparty", q.Counterparty).
				Str("current", cp.CurrentExposure.String()).
				Str("cap", cp.MaxExposure.String()).
				Msg("Quote would exceed counterparty cap, skipping")
			continue
		}

		// Portfolio concentration, undefined until exposure exists.
		if s.totalExposure.IsPositive() {
			projected := utils.ConcentrationBps(
				cp.CurrentExposure.Add(q.Notional),
				s.totalExposure.Add(q.Notional))
			if projected > s.concentrationLimitBps {
				s.log.Debug().
					Str("counterparty", q.Counterparty).
					Int64("projectedBps", projected).
					Int64("limitBps", s.concentrationLimitBps).
					Msg("Quote would exceed concentration limit, skipping")
				continue
			}
		}

		info, err := s.registry.GetCounterpartyInfo(q.Counterparty)
		if err != nil {
			s.log.Warn().Err(err).Str("counterparty", q.Counterparty).Msg("Failed to fetch counterparty info, skipping quote")
			continue
		}
		if !info.IsActive {
			continue
		}

		score := info.CreditRating*1000 - q.BorrowRateBps
		if utils.ConcentrationBps(cp.CurrentExposure, s.totalExposure) > concentrationPenaltyThresholdBps {
			score -= concentrationPenalty
		}

		if !found || score > bestScore {
			best = q
			bestScore = score
			found = true
		}
	}

	if !found {
		return venue.Quote{}, strategy.ErrNoEligibleQuotes
	}
	return best, nil
}

// EstimateExposureCost is a pure read returning the annualized carry cost in
// bps for opening the given amount, based on the best eligible quote. When
// no quote can service the amount it returns types.CostUnavailable with a
// venue error; callers must treat that as "cannot be serviced".
func (s *Strategy) EstimateExposureCost(amount sdkmath.Int, horizon time.Duration) (int64, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return types.CostUnavailable, strategy.ErrZeroAmount
	}
	if horizon <= 0 {
		return types.CostUnavailable, errors.New("time horizon must be positive")
	}

	quotes, err := s.registry.RequestQuotes(s.assetID, amount, time.Now().Add(s.maturityTenor), s.leverage)
	if err != nil {
		return types.CostUnavailable, errors.Join(strategy.ErrVenueUnavailable, err)
	}
	best, err := s.selectBestQuote(quotes, amount)
	if err != nil {
		return types.CostUnavailable, err
	}

	// Borrow rates are quoted annualized; the horizon bounds validity, not
	// the rate itself.
	return best.BorrowRateBps + s.managementFeeBps, nil
}
