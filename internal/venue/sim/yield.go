/*

This file contains the simulated yield vault. Shares are issued one to one
against deposits; tests accrue yield explicitly and harvest collects it.

*/

package sim

import (
	"errors"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/metazhar-legion/meta-index-sub006/internal/venue"
)

var ErrVaultFailed = errors.New("yield vault is failed")

// Vault is an in-memory yield strategy.
type Vault struct {
	mu       sync.Mutex
	name     string
	deposits sdkmath.Int
	accrued  sdkmath.Int
	failed   bool
}

// NewVault creates an empty vault.
func NewVault(name string) *Vault {
	return &Vault{
		name:     name,
		deposits: sdkmath.ZeroInt(),
		accrued:  sdkmath.ZeroInt(),
	}
}

// Fail makes every operation fail until restored.
func (v *Vault) Fail(failed bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failed = failed
}

// Accrue adds harvestable yield, for tests.
func (v *Vault) Accrue(amount sdkmath.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.accrued = v.accrued.Add(amount)
}

// Name identifies the vault.
func (v *Vault) Name() string { return v.name }

// Deposit places capital and returns shares, one to one.
func (v *Vault) Deposit(amount sdkmath.Int) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failed {
		return sdkmath.ZeroInt(), ErrVaultFailed
	}
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.ZeroInt(), errors.New("deposit must be positive")
	}
	v.deposits = v.deposits.Add(amount)
	return amount, nil
}

// Withdraw burns shares and returns capital, one to one.
func (v *Vault) Withdraw(shares sdkmath.Int) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failed {
		return sdkmath.ZeroInt(), ErrVaultFailed
	}
	if shares.IsNil() || !shares.IsPositive() || shares.GT(v.deposits) {
		return sdkmath.ZeroInt(), errors.New("invalid share amount")
	}
	v.deposits = v.deposits.Sub(shares)
	return shares, nil
}

// GetTotalValue returns the deposited capital plus accrued yield.
func (v *Vault) GetTotalValue() (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failed {
		return sdkmath.ZeroInt(), ErrVaultFailed
	}
	return v.deposits.Add(v.accrued), nil
}

// HarvestYield collects and resets the accrued yield.
func (v *Vault) HarvestYield() (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failed {
		return sdkmath.ZeroInt(), ErrVaultFailed
	}
	out := v.accrued
	v.accrued = sdkmath.ZeroInt()
	return out, nil
}

var _ venue.YieldStrategy = (*Vault)(nil)
