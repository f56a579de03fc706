/*

This file contains the exposure strategy capability contract shared by the
TRS, perpetual and direct-token implementations, together with the error
taxonomy and the operation guard every implementation uses.

*/

package strategy

import (
	"errors"
	"sync/atomic"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/metazhar-legion/meta-index-sub006/internal/types"
)

// Error taxonomy. Validation and capacity failures are policy violations;
// venue failures are external-dependency conditions and are surfaced
// distinctly so callers can tell the two apart.
var (
	// Validation
	ErrZeroAmount      = errors.New("amount must be positive")
	ErrEmptyIdentifier = errors.New("identifier cannot be empty")

	// Capacity / risk
	ErrExceedsMaxPosition    = errors.New("would exceed max position size")
	ErrExceedsCounterparty   = errors.New("would exceed counterparty exposure cap")
	ErrConcentrationExceeded = errors.New("would exceed counterparty concentration limit")
	ErrInsufficientExposure  = errors.New("close amount exceeds current exposure")

	// Venue unavailability
	ErrNoEligibleQuotes = errors.New("no eligible quotes available")
	ErrVenueUnavailable = errors.New("execution venue unavailable")

	// Timing
	ErrQuoteExpired   = errors.New("quote has expired")
	ErrCooldownActive = errors.New("operation attempted before cooldown elapsed")
	ErrNotMatured     = errors.New("contract has not reached maturity")

	// Authorization
	ErrNotAdmin              = errors.New("caller is not the administrator")
	ErrEmergencyExitDisabled = errors.New("emergency exit is not enabled")

	// Re-entrancy
	ErrReentrantCall = errors.New("reentrant call into strategy rejected")
)

// OpenResult reports the outcome of opening exposure. ActualExposure may
// differ from the requested amount due to collateral ratios or leverage
// rounding at the venue.
type OpenResult struct {
	ActualExposure sdkmath.Int
}

// CloseResult reports the outcome of closing exposure. For the TRS strategy
// ClosedExposure may exceed the requested amount because whole contracts are
// terminated.
type CloseResult struct {
	ClosedExposure   sdkmath.Int
	CapitalRecovered sdkmath.Int
}

// ExposureStrategy is the capability contract every exposure strategy
// implements. The optimizer and the bundle depend only on this interface,
// never on variant internals.
type ExposureStrategy interface {
	// Name returns the unique instance name used in allocations and logs.
	Name() string

	// Kind returns the strategy variant.
	Kind() types.StrategyKind

	// OpenExposure converts base-asset capital into exposure. The amount
	// must be positive and the resulting exposure must stay within the
	// configured max position size.
	OpenExposure(amount sdkmath.Int) (OpenResult, error)

	// CloseExposure unwinds up to amount of exposure and returns the actual
	// amount closed plus the capital recovered.
	CloseExposure(amount sdkmath.Int) (CloseResult, error)

	// AdjustExposure opens on a positive delta, closes |delta| on a negative
	// one, and is a state-free no-op on zero. It never leaves exposure
	// negative.
	AdjustExposure(delta sdkmath.Int) (sdkmath.Int, error)

	// EstimateExposureCost is a pure read returning the annualized carry
	// cost in bps over the horizon. It returns types.CostUnavailable with a
	// venue error when no quote or rate exists.
	EstimateExposureCost(amount sdkmath.Int, horizon time.Duration) (int64, error)

	// CanHandleExposure is an advisory feasibility check. OpenExposure
	// re-validates independently; the check cannot reserve capacity.
	CanHandleExposure(amount sdkmath.Int) bool

	// HarvestYield collects whatever yield the variant produces and returns
	// the amount collected in base-asset units.
	HarvestYield() (sdkmath.Int, error)

	// EmergencyExit unwinds every position it can, tolerating individual
	// failures, zeroes aggregate state, and returns the capital recovered.
	// It is the only guaranteed-available unwind path.
	EmergencyExit() (sdkmath.Int, error)

	// ExposureInfo recomputes the live exposure snapshot.
	ExposureInfo() types.ExposureInfo

	// CostBreakdown reports the itemized current carry cost.
	CostBreakdown() (types.CostBreakdown, error)

	// RiskParameters returns the current parameter set.
	RiskParameters() types.RiskParameters

	// UpdateRiskParameters replaces the parameter set. Administrator only;
	// bounds are enforced on every update.
	UpdateRiskParameters(caller string, params types.RiskParameters) error

	// Events returns the recent audit event tail.
	Events() []types.Event
}

// Guard rejects reentrant entry into a strategy while an operation is in
// flight. Operations run to completion one at a time; a nested or
// overlapping call fails fast instead of observing partial state.
type Guard struct {
	inFlight atomic.Bool
}

// Enter marks an operation in flight, failing if one already is.
func (g *Guard) Enter() error {
	if !g.inFlight.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	return nil
}

// Exit clears the in-flight flag.
func (g *Guard) Exit() {
	g.inFlight.Store(false)
}

// EventTail is a bounded in-memory audit log kept by each strategy.
type EventTail struct {
	events []types.Event
	limit  int
}

// NewEventTail creates a tail holding at most limit events.
func NewEventTail(limit int) *EventTail {
	if limit <= 0 {
		limit = 256
	}
	return &EventTail{limit: limit}
}

// Append records an event, evicting the oldest past the limit.
func (t *EventTail) Append(e types.Event) {
	t.events = append(t.events, e)
	if len(t.events) > t.limit {
		t.events = t.events[len(t.events)-t.limit:]
	}
}

// Snapshot returns a copy of the recorded events.
func (t *EventTail) Snapshot() []types.Event {
	out := make([]types.Event, len(t.events))
	copy(out, t.events)
	return out
}
