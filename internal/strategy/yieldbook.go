/*

This file contains the yield allocation book shared by the strategies that
park idle capital in yield venues. The book owns the allocation records and
their invariant (active shares sum to at most 10000 bps and at most the
configured cap) and iterates venues with per-venue failure isolation.

*/

package strategy

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/metazhar-legion/meta-index-sub006/internal/types"
	"github.com/metazhar-legion/meta-index-sub006/internal/utils"
	"github.com/metazhar-legion/meta-index-sub006/internal/venue"
)

var (
	ErrYieldVenueExists  = errors.New("yield strategy already registered")
	ErrYieldVenueUnknown = errors.New("yield strategy not registered")
)

// YieldBook tracks a set of yield venues and the capital deposited in each.
type YieldBook struct {
	capBps      int64
	venues      map[string]venue.YieldStrategy
	allocations []types.YieldAllocation
	log         zerolog.Logger
}

// NewYieldBook creates an empty book with the given allocation-sum cap.
func NewYieldBook(capBps int64, log zerolog.Logger) *YieldBook {
	return &YieldBook{
		capBps: capBps,
		venues: make(map[string]venue.YieldStrategy),
		log:    log,
	}
}

// Add registers a yield venue with an allocation share. The allocation-sum
// invariant is checked before the registry is touched.
func (b *YieldBook) Add(ys venue.YieldStrategy, allocationBps int64) error {
	if ys == nil {
		return errors.New("yield strategy cannot be nil")
	}
	name := ys.Name()
	if name == "" {
		return ErrEmptyIdentifier
	}
	if _, exists := b.venues[name]; exists {
		return errors.Join(ErrYieldVenueExists, fmt.Errorf("name %q", name))
	}

	candidate := append(append([]types.YieldAllocation{}, b.allocations...), types.YieldAllocation{
		Strategy:      name,
		AllocationBps: allocationBps,
		IsActive:      true,
	})
	if err := types.ValidateYieldAllocations(candidate, b.capBps); err != nil {
		return err
	}

	b.venues[name] = ys
	b.allocations = append(b.allocations, types.YieldAllocation{
		Strategy:       name,
		AllocationBps:  allocationBps,
		CurrentDeposit: sdkmath.ZeroInt(),
		Shares:         sdkmath.ZeroInt(),
		IsActive:       true,
	})
	b.log.Info().Str("yieldStrategy", name).Int64("allocationBps", allocationBps).
		Msg("Yield allocation added")
	return nil
}

// Allocations returns a copy of the allocation records.
func (b *YieldBook) Allocations() []types.YieldAllocation {
	out := make([]types.YieldAllocation, len(b.allocations))
	copy(out, b.allocations)
	return out
}

// TotalDeposits sums the tracked deposits across all venues.
func (b *YieldBook) TotalDeposits() sdkmath.Int {
	return types.TotalYieldDeposits(b.allocations)
}

// Deposit spreads capital across active allocations pro-rata to their
// shares. Venue failures are logged and skipped.
func (b *YieldBook) Deposit(amount sdkmath.Int) {
	var totalBps int64
	for _, a := range b.allocations {
		if a.IsActive {
			totalBps += a.AllocationBps
		}
	}
	if totalBps == 0 {
		return
	}
	for i := range b.allocations {
		a := &b.allocations[i]
		if !a.IsActive || a.AllocationBps == 0 {
			continue
		}
		share := amount.Mul(sdkmath.NewInt(a.AllocationBps)).Quo(sdkmath.NewInt(totalBps))
		if !share.IsPositive() {
			continue
		}
		shares, err := b.venues[a.Strategy].Deposit(share)
		if err != nil {
			b.log.Error().Err(err).Str("yieldStrategy", a.Strategy).
				Msg("Yield deposit failed, skipping venue")
			continue
		}
		a.CurrentDeposit = a.CurrentDeposit.Add(share)
		a.Shares = a.Shares.Add(shares)
	}
}

// WithdrawRatio draws down ratioBps of every active deposit and returns the
// recovered capital. Per-venue failures are isolated.
func (b *YieldBook) WithdrawRatio(ratioBps int64) sdkmath.Int {
	recovered := sdkmath.ZeroInt()
	if ratioBps <= 0 {
		return recovered
	}
	for i := range b.allocations {
		a := &b.allocations[i]
		if !a.IsActive || !a.Shares.IsPositive() {
			continue
		}
		sharesOut := a.Shares
		if ratioBps < types.BpsDenominator {
			var err error
			sharesOut, err = utils.ApplyBps(a.Shares, ratioBps)
			if err != nil || !sharesOut.IsPositive() {
				continue
			}
		}
		got, err := b.venues[a.Strategy].Withdraw(sharesOut)
		if err != nil {
			b.log.Error().Err(err).Str("yieldStrategy", a.Strategy).
				Msg("Yield withdrawal failed, skipping venue")
			continue
		}
		a.Shares = a.Shares.Sub(sharesOut)
		if depositOut, err := utils.ApplyBps(a.CurrentDeposit, ratioBps); err == nil {
			a.CurrentDeposit = a.CurrentDeposit.Sub(depositOut)
		}
		if a.CurrentDeposit.IsNegative() || a.Shares.IsZero() {
			a.CurrentDeposit = sdkmath.ZeroInt()
		}
		recovered = recovered.Add(got)
	}
	return recovered
}

// Harvest collects accrued yield across all venues. Failures are isolated
// per venue; the total harvested is returned alongside the joined error.
func (b *YieldBook) Harvest() (sdkmath.Int, error) {
	harvested := sdkmath.ZeroInt()
	var failures []error
	for _, a := range b.allocations {
		if !a.IsActive {
			continue
		}
		got, err := b.venues[a.Strategy].HarvestYield()
		if err != nil {
			failures = append(failures, fmt.Errorf("harvest %s: %w", a.Strategy, err))
			continue
		}
		harvested = harvested.Add(got)
	}
	return harvested, errors.Join(failures...)
}
