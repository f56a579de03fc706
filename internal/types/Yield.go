/*

This file contains the yield allocation record used by the perpetual and
direct-token strategies to route idle capital into yield strategies.

*/

package types

import (
	"errors"

	sdkmath "cosmossdk.io/math"
)

var ErrYieldAllocationOverflow = errors.New("active yield allocations exceed limit")

// YieldAllocation routes a share of a strategy's idle capital to one yield
// strategy. The sum of active allocations must stay at or below 10000 bps
// and below the strategy's configured max-yield cap.
type YieldAllocation struct {
	Strategy       string      `json:"strategy"`        // Identifier of the yield strategy venue.
	AllocationBps  int64       `json:"allocation_bps"`  // Share of routable capital, in bps.
	CurrentDeposit sdkmath.Int `json:"current_deposit"` // Base-asset units currently deposited.
	Shares         sdkmath.Int `json:"shares"`          // Venue share units held.
	IsActive       bool        `json:"is_active"`
}

// ValidateYieldAllocations checks the allocation-sum invariant over a set of
// yield allocations against the configured cap (both in bps).
func ValidateYieldAllocations(allocations []YieldAllocation, maxTotalBps int64) error {
	var total int64
	for _, a := range allocations {
		if !a.IsActive {
			continue
		}
		if a.AllocationBps < 0 {
			return errors.New("yield allocation cannot be negative")
		}
		total += a.AllocationBps
	}
	if total > BpsDenominator || total > maxTotalBps {
		return ErrYieldAllocationOverflow
	}
	return nil
}

// TotalYieldDeposits sums the current deposits across all allocations.
func TotalYieldDeposits(allocations []YieldAllocation) sdkmath.Int {
	total := sdkmath.ZeroInt()
	for _, a := range allocations {
		if !a.CurrentDeposit.IsNil() {
			total = total.Add(a.CurrentDeposit)
		}
	}
	return total
}
