/*

This file contains the composable bundle orchestrator: the component that
owns the aggregate capital totals and splits inflow and outflow across the
registered exposure strategies. The bundle never mutates a strategy's
internal ledger; all changes flow through the strategy's public operations.

*/

package bundle

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/metazhar-legion/meta-index-sub006/internal/logger"
	"github.com/metazhar-legion/meta-index-sub006/internal/metrics"
	"github.com/metazhar-legion/meta-index-sub006/internal/optimizer"
	"github.com/metazhar-legion/meta-index-sub006/internal/strategy"
	"github.com/metazhar-legion/meta-index-sub006/internal/types"
	"github.com/metazhar-legion/meta-index-sub006/internal/utils"
)

var (
	ErrCircuitBreakerActive = errors.New("circuit breaker active, capital inflow blocked")
	ErrNoActiveStrategies   = errors.New("no active strategies registered")
	ErrStrategyExists       = errors.New("strategy already registered")
	ErrStrategyUnknown      = errors.New("strategy not registered")
	ErrAllocationBounds     = errors.New("allocation bounds are invalid")
	ErrWithdrawTooLarge     = errors.New("withdrawal exceeds allocated capital")
)

// StrategyAllocation is the bundle's standing with one exposure strategy.
type StrategyAllocation struct {
	Strategy          strategy.ExposureStrategy
	TargetBps         int64
	MinBps            int64
	MaxBps            int64
	CurrentAllocation sdkmath.Int // Capital handed to the strategy, base-asset units.
	IsPrimary         bool
	IsActive          bool
}

// Store persists cycle snapshots. The bundle works without one; a nil store
// means snapshots are log-only.
type Store interface {
	SaveSnapshot(snapshot types.RebalanceSnapshot) error
}

// Bundle orchestrates capital across exposure strategies under a circuit
// breaker and a rebalance cooldown.
type Bundle struct {
	mu    sync.Mutex
	name  string
	admin string

	allocations []*StrategyAllocation // Registration order; execution is deterministic.
	opt         *optimizer.Optimizer

	totalAllocatedCapital sdkmath.Int

	circuitBreaker       bool
	circuitBreakerReason string

	rebalanceCooldown time.Duration
	lastRebalance     time.Time
	timeHorizon       time.Duration

	cycleCount int
	store      Store
	events     *strategy.EventTail
	log        zerolog.Logger
	now        func() time.Time
}

// Config holds the dependencies and tunables for a bundle.
type Config struct {
	Name              string
	Admin             string
	Optimizer         *optimizer.Optimizer
	RebalanceCooldown time.Duration
	TimeHorizon       time.Duration // Horizon used for cost estimation in cycles.
	Store             Store         // Optional.
}

// New creates a bundle after validating configuration.
func New(cfg Config) (*Bundle, error) {
	if cfg.Name == "" || cfg.Admin == "" {
		return nil, strategy.ErrEmptyIdentifier
	}
	if cfg.Optimizer == nil {
		return nil, errors.New("optimizer cannot be nil")
	}
	if cfg.RebalanceCooldown <= 0 {
		return nil, errors.New("rebalance cooldown must be positive")
	}
	if cfg.TimeHorizon <= 0 {
		return nil, errors.New("time horizon must be positive")
	}
	return &Bundle{
		name:                  cfg.Name,
		admin:                 cfg.Admin,
		opt:                   cfg.Optimizer,
		totalAllocatedCapital: sdkmath.ZeroInt(),
		rebalanceCooldown:     cfg.RebalanceCooldown,
		timeHorizon:           cfg.TimeHorizon,
		store:                 cfg.Store,
		events:                strategy.NewEventTail(0),
		log:                   logger.GetForComponent("bundle"),
		now:                   time.Now,
	}, nil
}

// SetClock overrides the bundle clock, for tests driving cooldowns.
func (b *Bundle) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Name returns the bundle name.
func (b *Bundle) Name() string { return b.name }

// Events returns the recent audit event tail.
func (b *Bundle) Events() []types.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.events.Snapshot()
}

// AddStrategy registers an exposure strategy with target allocation bounds.
// Administrator only. Target allocations across strategies may not exceed
// 10000 bps in total.
func (b *Bundle) AddStrategy(caller string, s strategy.ExposureStrategy, targetBps, minBps, maxBps int64, primary bool) error {
	if caller != b.admin {
		return strategy.ErrNotAdmin
	}
	if s == nil {
		return errors.New("strategy cannot be nil")
	}
	if minBps < 0 || targetBps < minBps || maxBps < targetBps || maxBps > types.BpsDenominator {
		return errors.Join(ErrAllocationBounds,
			fmt.Errorf("min=%d target=%d max=%d", minBps, targetBps, maxBps))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	total := targetBps
	for _, a := range b.allocations {
		if a.Strategy.Name() == s.Name() {
			return errors.Join(ErrStrategyExists, fmt.Errorf("name %q", s.Name()))
		}
		total += a.TargetBps
	}
	if total > types.BpsDenominator {
		return errors.Join(ErrAllocationBounds,
			fmt.Errorf("target allocations would sum to %d bps", total))
	}

	b.allocations = append(b.allocations, &StrategyAllocation{
		Strategy:          s,
		TargetBps:         targetBps,
		MinBps:            minBps,
		MaxBps:            maxBps,
		CurrentAllocation: sdkmath.ZeroInt(),
		IsPrimary:         primary,
		IsActive:          true,
	})
	b.log.Info().
		Str("strategy", s.Name()).
		Int64("targetBps", targetBps).
		Bool("primary", primary).
		Msg("Strategy registered")
	return nil
}

// Allocations returns a copy of the allocation records.
func (b *Bundle) Allocations() []StrategyAllocation {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]StrategyAllocation, len(b.allocations))
	for i, a := range b.allocations {
		out[i] = *a
	}
	return out
}

// TotalAllocatedCapital returns the capital currently deployed.
func (b *Bundle) TotalAllocatedCapital() sdkmath.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalAllocatedCapital
}

// CircuitBreaker reports the breaker state and reason.
func (b *Bundle) CircuitBreaker() (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.circuitBreaker, b.circuitBreakerReason
}

// SetCircuitBreaker toggles the inflow kill-switch. Administrator only.
// An active breaker blocks AllocateCapital but never withdrawal or
// emergency exit.
func (b *Bundle) SetCircuitBreaker(caller string, active bool, reason string) error {
	if caller != b.admin {
		return strategy.ErrNotAdmin
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	before := fmt.Sprintf("%t", b.circuitBreaker)
	b.circuitBreaker = active
	b.circuitBreakerReason = reason
	if active {
		metrics.CircuitBreakerActive.Set(1)
	} else {
		metrics.CircuitBreakerActive.Set(0)
	}
	b.events.Append(types.NewEvent(types.EventCircuitBreakerSet, b.name,
		before, fmt.Sprintf("%t", active), reason))
	b.log.Warn().
		Bool("active", active).
		Str("reason", reason).
		Msg("Circuit breaker toggled")
	return nil
}

// AllocateCapital distributes incoming capital across active strategies
// pro-rata to their target allocations. Fails with no state change while
// the circuit breaker is active. Per-strategy open failures are isolated;
// the returned amount is the capital actually deployed.
func (b *Bundle) AllocateCapital(amount sdkmath.Int) (sdkmath.Int, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.ZeroInt(), strategy.ErrZeroAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.circuitBreaker {
		return sdkmath.ZeroInt(), errors.Join(ErrCircuitBreakerActive,
			fmt.Errorf("reason: %s", b.circuitBreakerReason))
	}

	active := b.activeAllocations()
	if len(active) == 0 {
		return sdkmath.ZeroInt(), ErrNoActiveStrategies
	}
	var targetSum int64
	for _, a := range active {
		targetSum += a.TargetBps
	}
	if targetSum == 0 {
		return sdkmath.ZeroInt(), errors.Join(ErrAllocationBounds,
			errors.New("active strategies have zero total target"))
	}

	deployed := sdkmath.ZeroInt()
	remaining := amount
	var failures []error
	for i, a := range active {
		share := amount.Mul(sdkmath.NewInt(a.TargetBps)).Quo(sdkmath.NewInt(targetSum))
		if i == len(active)-1 {
			share = remaining // Remainder lands on the last strategy.
		}
		if !share.IsPositive() {
			continue
		}
		remaining = remaining.Sub(share)

		result, err := a.Strategy.OpenExposure(share)
		if err != nil {
			failures = append(failures, fmt.Errorf("open %s: %w", a.Strategy.Name(), err))
			b.log.Error().Err(err).
				Str("strategy", a.Strategy.Name()).
				Str("share", share.String()).
				Msg("Capital allocation to strategy failed, continuing")
			continue
		}
		a.CurrentAllocation = a.CurrentAllocation.Add(share)
		b.totalAllocatedCapital = b.totalAllocatedCapital.Add(share)
		deployed = deployed.Add(share)
		b.log.Info().
			Str("strategy", a.Strategy.Name()).
			Str("share", share.String()).
			Str("actualExposure", result.ActualExposure.String()).
			Msg("Capital allocated to strategy")
	}

	metrics.AllocatedCapital.Set(intToFloat(b.totalAllocatedCapital))
	b.events.Append(types.NewEvent(types.EventCapitalAllocated, b.name,
		b.totalAllocatedCapital.Sub(deployed).String(), b.totalAllocatedCapital.String(),
		fmt.Sprintf("requested=%s deployed=%s", amount, deployed)))
	return deployed, errors.Join(failures...)
}

// WithdrawCapital unwinds capital pro-rata to current allocations and
// returns what was recovered. Never blocked by the circuit breaker.
func (b *Bundle) WithdrawCapital(amount sdkmath.Int) (sdkmath.Int, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.ZeroInt(), strategy.ErrZeroAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if amount.GT(b.totalAllocatedCapital) {
		return sdkmath.ZeroInt(), errors.Join(ErrWithdrawTooLarge,
			fmt.Errorf("requested %s, allocated %s", amount, b.totalAllocatedCapital))
	}

	ratioBps := utils.ConcentrationBps(amount, b.totalAllocatedCapital)
	recovered := sdkmath.ZeroInt()
	var failures []error
	for _, a := range b.allocations {
		if !a.CurrentAllocation.IsPositive() {
			continue
		}
		share, err := utils.ApplyBps(a.CurrentAllocation, ratioBps)
		if err != nil || !share.IsPositive() {
			continue
		}
		result, err := a.Strategy.CloseExposure(share)
		if err != nil {
			failures = append(failures, fmt.Errorf("close %s: %w", a.Strategy.Name(), err))
			b.log.Error().Err(err).
				Str("strategy", a.Strategy.Name()).
				Msg("Withdrawal from strategy failed, continuing")
			continue
		}
		a.CurrentAllocation = a.CurrentAllocation.Sub(share)
		if a.CurrentAllocation.IsNegative() {
			a.CurrentAllocation = sdkmath.ZeroInt()
		}
		b.totalAllocatedCapital = b.totalAllocatedCapital.Sub(share)
		recovered = recovered.Add(result.CapitalRecovered)
	}

	metrics.AllocatedCapital.Set(intToFloat(b.totalAllocatedCapital))
	b.events.Append(types.NewEvent(types.EventCapitalWithdrawn, b.name,
		b.totalAllocatedCapital.Add(amount).String(), b.totalAllocatedCapital.String(),
		fmt.Sprintf("recovered=%s", recovered)))
	return recovered, errors.Join(failures...)
}

// EmergencyExitAll invokes every strategy's emergency exit, summing the
// recovered capital. Administrator only; never blocked by the circuit
// breaker, and a failing strategy never blocks the others.
func (b *Bundle) EmergencyExitAll(caller string) (sdkmath.Int, error) {
	if caller != b.admin {
		return sdkmath.ZeroInt(), strategy.ErrNotAdmin
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	recovered := sdkmath.ZeroInt()
	var failures []error
	for _, a := range b.allocations {
		metrics.EmergencyExits.WithLabelValues(a.Strategy.Name()).Inc()
		got, err := a.Strategy.EmergencyExit()
		if err != nil {
			failures = append(failures, fmt.Errorf("emergency exit %s: %w", a.Strategy.Name(), err))
			b.log.Error().Err(err).
				Str("strategy", a.Strategy.Name()).
				Msg("Strategy emergency exit reported failures, continuing")
		}
		recovered = recovered.Add(got)
		a.CurrentAllocation = sdkmath.ZeroInt()
		a.IsActive = false
	}
	b.totalAllocatedCapital = sdkmath.ZeroInt()

	metrics.AllocatedCapital.Set(0)
	b.events.Append(types.NewEvent(types.EventEmergencyExit, b.name,
		"", recovered.String(), fmt.Sprintf("failures=%d", len(failures))))
	b.log.Warn().
		Str("recovered", recovered.String()).
		Int("failures", len(failures)).
		Msg("Bundle emergency exit completed")
	return recovered, errors.Join(failures...)
}

// HarvestAll collects yield across every strategy with per-strategy
// failure isolation.
func (b *Bundle) HarvestAll() (sdkmath.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	harvested := sdkmath.ZeroInt()
	var failures []error
	for _, a := range b.allocations {
		if !a.IsActive {
			continue
		}
		got, err := a.Strategy.HarvestYield()
		if err != nil {
			failures = append(failures, fmt.Errorf("harvest %s: %w", a.Strategy.Name(), err))
			continue
		}
		harvested = harvested.Add(got)
	}
	return harvested, errors.Join(failures...)
}

// activeAllocations filters to active entries. Caller holds the lock.
func (b *Bundle) activeAllocations() []*StrategyAllocation {
	out := make([]*StrategyAllocation, 0, len(b.allocations))
	for _, a := range b.allocations {
		if a.IsActive {
			out = append(out, a)
		}
	}
	return out
}

// intToFloat converts an SDK integer to float64 for gauge export only.
func intToFloat(v sdkmath.Int) float64 {
	f, _ := new(big.Float).SetInt(v.BigInt()).Float64()
	return f
}
