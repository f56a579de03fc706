/*

This file contains the counterparty allocation and swap contract records used
by the TRS exposure strategy.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// CounterpartyAllocation tracks the vault's standing with a single swap
// counterparty. Created on AddCounterparty, mutated on every exposure
// open/close touching that counterparty, and removable only once
// CurrentExposure is zero.
type CounterpartyAllocation struct {
	Counterparty     string      `json:"counterparty"`
	TargetAllocation int64       `json:"target_allocation"` // Bps of strategy exposure aimed at this counterparty.
	CurrentExposure  sdkmath.Int `json:"current_exposure"`  // Notional currently held against this counterparty.
	MaxExposure      sdkmath.Int `json:"max_exposure"`      // Per-counterparty cap.
	IsActive         bool        `json:"is_active"`
	LastQuoteTime    time.Time   `json:"last_quote_time"`
}

// ContractStatus is the lifecycle state of a single TRS contract.
type ContractStatus string

const (
	ContractActive     ContractStatus = "ACTIVE"
	ContractSettled    ContractStatus = "SETTLED"
	ContractTerminated ContractStatus = "TERMINATED"
)

// TRSContractInfo describes one synthetic total-return-swap contract. The
// notional contributes to the strategy's total exposure only while the
// status is ContractActive.
type TRSContractInfo struct {
	ContractID       string         `json:"contract_id"`
	Counterparty     string         `json:"counterparty"`
	NotionalAmount   sdkmath.Int    `json:"notional_amount"`
	CollateralAmount sdkmath.Int    `json:"collateral_amount"`
	CreationTime     time.Time      `json:"creation_time"`
	MaturityTime     time.Time      `json:"maturity_time"`
	Status           ContractStatus `json:"status"`
}

// IsOpen reports whether the contract still counts toward exposure.
func (c TRSContractInfo) IsOpen() bool {
	return c.Status == ContractActive
}
