/*

This file contains counterparty administration, contract maintenance and the
emergency unwind path of the TRS strategy. Batch paths isolate per-item
failures: one stuck contract never blocks the rest of the book.

*/

package trs

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/metazhar-legion/meta-index-sub006/internal/strategy"
	"github.com/metazhar-legion/meta-index-sub006/internal/types"
)

var (
	ErrCounterpartyExists  = errors.New("counterparty already registered")
	ErrCounterpartyUnknown = errors.New("counterparty not registered")
	ErrCounterpartyExposed = errors.New("counterparty still has exposure")
)

// AddCounterparty registers a counterparty in the allow-list. Administrator
// only; the counterparty must exist in the registry.
func (s *Strategy) AddCounterparty(caller, name string, maxExposure sdkmath.Int, targetAllocationBps int64) error {
	if caller != s.admin {
		return strategy.ErrNotAdmin
	}
	if name == "" {
		return strategy.ErrEmptyIdentifier
	}
	if _, exists := s.counterparties[name]; exists {
		return ErrCounterpartyExists
	}
	if maxExposure.IsNil() || !maxExposure.IsPositive() {
		return errors.Join(strategy.ErrZeroAmount, errors.New("max exposure must be positive"))
	}
	if targetAllocationBps < 0 || targetAllocationBps > types.BpsDenominator {
		return fmt.Errorf("target allocation %d bps out of range", targetAllocationBps)
	}

	info, err := s.registry.GetCounterpartyInfo(name)
	if err != nil {
		return errors.Join(strategy.ErrVenueUnavailable, err)
	}
	if !info.IsActive {
		return fmt.Errorf("counterparty %s is not active in the registry", name)
	}

	s.counterparties[name] = &types.CounterpartyAllocation{
		Counterparty:     name,
		TargetAllocation: targetAllocationBps,
		CurrentExposure:  sdkmath.ZeroInt(),
		MaxExposure:      maxExposure,
		IsActive:         true,
	}
	s.cpOrder = append(s.cpOrder, name)

	s.events.Append(types.NewEvent(types.EventCounterpartyAdded, s.name, "", name,
		fmt.Sprintf("maxExposure=%s targetBps=%d", maxExposure, targetAllocationBps)))
	s.log.Info().Str("counterparty", name).Int64("creditRating", info.CreditRating).Msg("Counterparty added")
	return nil
}

// RemoveCounterparty removes a counterparty from the allow-list. Permitted
// only once its exposure has been fully unwound.
func (s *Strategy) RemoveCounterparty(caller, name string) error {
	if caller != s.admin {
		return strategy.ErrNotAdmin
	}
	cp, exists := s.counterparties[name]
	if !exists {
		return ErrCounterpartyUnknown
	}
	if !cp.CurrentExposure.IsZero() {
		return errors.Join(ErrCounterpartyExposed,
			fmt.Errorf("counterparty %s exposure is %s", name, cp.CurrentExposure))
	}

	delete(s.counterparties, name)
	for i, n := range s.cpOrder {
		if n == name {
			s.cpOrder = append(s.cpOrder[:i], s.cpOrder[i+1:]...)
			break
		}
	}

	s.events.Append(types.NewEvent(types.EventCounterpartyRemoved, s.name, name, "", ""))
	s.log.Info().Str("counterparty", name).Msg("Counterparty removed")
	return nil
}

// PostCollateral tops up an active contract's collateral. Administrator only.
func (s *Strategy) PostCollateral(caller, contractID string, amount sdkmath.Int) error {
	if caller != s.admin {
		return strategy.ErrNotAdmin
	}
	if amount.IsNil() || !amount.IsPositive() {
		return strategy.ErrZeroAmount
	}
	c, exists := s.contracts[contractID]
	if !exists || !c.IsOpen() {
		return fmt.Errorf("contract %s not found or not active", contractID)
	}
	if err := s.registry.PostCollateral(contractID, amount); err != nil {
		return errors.Join(strategy.ErrVenueUnavailable, err)
	}
	c.CollateralAmount = c.CollateralAmount.Add(amount)
	s.totalCollateral = s.totalCollateral.Add(amount)
	return nil
}

// SettleMaturedContracts settles every contract at or past maturity,
// skipping ones the registry refuses to settle rather than aborting the
// batch. It returns the total capital recovered.
func (s *Strategy) SettleMaturedContracts() (sdkmath.Int, error) {
	if err := s.guard.Enter(); err != nil {
		return sdkmath.ZeroInt(), err
	}
	defer s.guard.Exit()

	now := time.Now()
	recovered := sdkmath.ZeroInt()
	settled := 0
	failed := 0

	for _, c := range s.openContractsByNotional() {
		if c.MaturityTime.After(now) {
			continue
		}
		result, err := s.registry.SettleContract(c.ContractID)
		if err != nil {
			failed++
			s.log.Warn().Err(err).Str("contractID", c.ContractID).Msg("Contract settlement failed, skipping")
			continue
		}
		s.retireContract(c, types.ContractSettled)
		recovered = recovered.Add(result.FinalValue).Add(result.CollateralReturned)
		settled++
		s.events.Append(types.NewEvent(types.EventContractSettled, s.name, c.ContractID, "",
			fmt.Sprintf("recovered=%s", result.FinalValue.Add(result.CollateralReturned))))
	}

	if s.totalExposure.IsZero() {
		s.active = false
	}
	s.log.Info().Int("settled", settled).Int("failed", failed).Str("recovered", recovered.String()).
		Msg("Matured contract settlement completed")
	return recovered, nil
}

// HarvestYield marks all active contracts to market and returns zero: a TRS
// book has no harvestable yield by construction.
func (s *Strategy) HarvestYield() (sdkmath.Int, error) {
	if err := s.guard.Enter(); err != nil {
		return sdkmath.ZeroInt(), err
	}
	defer s.guard.Exit()

	for _, c := range s.contracts {
		if !c.IsOpen() {
			continue
		}
		value, err := s.registry.MarkToMarket(c.ContractID)
		if err != nil {
			s.log.Warn().Err(err).Str("contractID", c.ContractID).Msg("Mark to market failed")
			continue
		}
		s.log.Debug().Str("contractID", c.ContractID).Str("markValue", value.String()).Msg("Contract marked to market")
	}
	return sdkmath.ZeroInt(), nil
}

// EmergencyExit terminates every active contract it can, skipping stuck ones
// rather than reverting, and returns whatever capital was recovered. This is
// the strategy's only guaranteed-available unwind path; a single failing
// counterparty must never block it.
func (s *Strategy) EmergencyExit() (sdkmath.Int, error) {
	if !s.params.EmergencyExitEnabled {
		return sdkmath.ZeroInt(), strategy.ErrEmergencyExitDisabled
	}
	if err := s.guard.Enter(); err != nil {
		return sdkmath.ZeroInt(), err
	}
	defer s.guard.Exit()

	recovered := sdkmath.ZeroInt()
	exited := 0
	stuck := 0

	for _, c := range s.openContractsByNotional() {
		result, err := s.registry.TerminateContract(c.ContractID)
		if err != nil {
			stuck++
			s.log.Error().Err(err).Str("contractID", c.ContractID).
				Msg("Emergency termination failed, skipping contract")
			continue
		}
		s.retireContract(c, types.ContractTerminated)
		recovered = recovered.Add(result.FinalValue).Add(result.CollateralReturned)
		exited++
	}

	s.active = false

	s.events.Append(types.NewEvent(types.EventEmergencyExit, s.name,
		"", s.totalExposure.String(),
		fmt.Sprintf("exited=%d stuck=%d recovered=%s", exited, stuck, recovered)))
	s.log.Warn().
		Int("exited", exited).
		Int("stuck", stuck).
		Str("recovered", recovered.String()).
		Str("residualExposure", s.totalExposure.String()).
		Msg("Emergency exit completed")

	return recovered, nil
}
