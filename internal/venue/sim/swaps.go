/*

This file contains the simulated swap provider registry. It mimics a set of
TRS counterparties: quoting at configured borrow rates, writing contracts
against posted collateral, and settling or terminating them on request.
Individual counterparties can be failed to exercise the partial-failure
paths of the TRS strategy.

*/

package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/metazhar-legion/meta-index-sub006/internal/utils"
	"github.com/metazhar-legion/meta-index-sub006/internal/venue"
)

var (
	ErrUnknownCounterparty = errors.New("unknown counterparty")
	ErrUnknownQuote        = errors.New("unknown or consumed quote")
	ErrUnknownContract     = errors.New("unknown contract")
	ErrCounterpartyFailed  = errors.New("counterparty is failed")
)

// quoteTTL is how long simulated quotes stay executable.
const quoteTTL = 5 * time.Minute

type simCounterparty struct {
	info          venue.CounterpartyInfo
	borrowRateBps int64
	failed        bool
}

type simContract struct {
	contractID   string
	counterparty string
	notional     sdkmath.Int
	collateral   sdkmath.Int
	value        sdkmath.Int
	maturity     time.Time
	open         bool
}

type pendingQuote struct {
	quote    venue.Quote
	leverage int64
}

// SwapRegistry is an in-memory TRS counterparty registry.
type SwapRegistry struct {
	mu             sync.Mutex
	counterparties map[string]*simCounterparty
	quotes         map[string]pendingQuote
	contracts      map[string]*simContract
	now            func() time.Time
}

// NewSwapRegistry creates an empty registry using the real clock.
func NewSwapRegistry() *SwapRegistry {
	return &SwapRegistry{
		counterparties: make(map[string]*simCounterparty),
		quotes:         make(map[string]pendingQuote),
		contracts:      make(map[string]*simContract),
		now:            time.Now,
	}
}

// SetClock overrides the registry clock, for tests driving time.
func (r *SwapRegistry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// AddCounterparty registers a quoting counterparty.
func (r *SwapRegistry) AddCounterparty(name string, creditRating, borrowRateBps int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counterparties[name] = &simCounterparty{
		info:          venue.CounterpartyInfo{Name: name, CreditRating: creditRating, IsActive: true},
		borrowRateBps: borrowRateBps,
	}
}

// SetBorrowRate changes a counterparty's quoted rate.
func (r *SwapRegistry) SetBorrowRate(name string, borrowRateBps int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cp, ok := r.counterparties[name]; ok {
		cp.borrowRateBps = borrowRateBps
	}
}

// FailCounterparty makes every operation against the counterparty's
// contracts fail until restored. Used to exercise stuck-contract paths.
func (r *SwapRegistry) FailCounterparty(name string, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cp, ok := r.counterparties[name]; ok {
		cp.failed = failed
		cp.info.IsActive = !failed
	}
}

// RequestQuotes gathers quotes from all active counterparties.
func (r *SwapRegistry) RequestQuotes(assetID string, notional sdkmath.Int, maturity time.Time, leverage int64) ([]venue.Quote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if notional.IsNil() || !notional.IsPositive() {
		return nil, errors.New("notional must be positive")
	}
	var quotes []venue.Quote
	for _, cp := range r.counterparties {
		if !cp.info.IsActive || cp.failed {
			continue
		}
		q := venue.Quote{
			QuoteID:       uuid.NewString(),
			Counterparty:  cp.info.Name,
			BorrowRateBps: cp.borrowRateBps,
			Notional:      notional,
			Maturity:      maturity,
			ValidUntil:    r.now().Add(quoteTTL),
		}
		r.quotes[q.QuoteID] = pendingQuote{quote: q, leverage: leverage}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// CreateContract executes a quote, consuming it.
func (r *SwapRegistry) CreateContract(quoteID string, collateral sdkmath.Int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pq, ok := r.quotes[quoteID]
	if !ok {
		return "", errors.Join(ErrUnknownQuote, fmt.Errorf("quote %q", quoteID))
	}
	if pq.quote.Expired(r.now()) {
		return "", fmt.Errorf("quote %q expired at %s", quoteID, pq.quote.ValidUntil)
	}
	cp := r.counterparties[pq.quote.Counterparty]
	if cp == nil || cp.failed {
		return "", errors.Join(ErrCounterpartyFailed, fmt.Errorf("counterparty %q", pq.quote.Counterparty))
	}
	delete(r.quotes, quoteID)

	c := &simContract{
		contractID:   uuid.NewString(),
		counterparty: pq.quote.Counterparty,
		notional:     pq.quote.Notional,
		collateral:   collateral,
		value:        pq.quote.Notional,
		maturity:     pq.quote.Maturity,
		open:         true,
	}
	r.contracts[c.contractID] = c
	return c.contractID, nil
}

// SetContractValue marks a contract to an arbitrary value, for tests
// simulating PnL drift.
func (r *SwapRegistry) SetContractValue(contractID string, value sdkmath.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.contracts[contractID]; ok {
		c.value = value
	}
}

func (r *SwapRegistry) closeContract(contractID string, requireMatured bool) (venue.ContractTerminationResult, error) {
	c, ok := r.contracts[contractID]
	if !ok || !c.open {
		return venue.ContractTerminationResult{}, errors.Join(ErrUnknownContract, fmt.Errorf("contract %q", contractID))
	}
	cp := r.counterparties[c.counterparty]
	if cp != nil && cp.failed {
		return venue.ContractTerminationResult{}, errors.Join(ErrCounterpartyFailed, fmt.Errorf("counterparty %q", c.counterparty))
	}
	if requireMatured && r.now().Before(c.maturity) {
		return venue.ContractTerminationResult{}, fmt.Errorf("contract %q matures at %s", contractID, c.maturity)
	}
	c.open = false
	// The termination pays out the posted collateral plus marked PnL,
	// with losses capped at the collateral.
	pnl := c.value.Sub(c.notional)
	if pnl.IsNegative() && pnl.Abs().GT(c.collateral) {
		pnl = c.collateral.Neg()
	}
	return venue.ContractTerminationResult{
		FinalValue:         pnl,
		CollateralReturned: c.collateral,
	}, nil
}

// TerminateContract unwinds a contract before maturity.
func (r *SwapRegistry) TerminateContract(contractID string) (venue.ContractTerminationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeContract(contractID, false)
}

// SettleContract settles a contract at or after maturity.
func (r *SwapRegistry) SettleContract(contractID string) (venue.ContractTerminationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeContract(contractID, true)
}

// MarkToMarket returns the current marked value of a contract.
func (r *SwapRegistry) MarkToMarket(contractID string) (sdkmath.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contracts[contractID]
	if !ok {
		return sdkmath.ZeroInt(), errors.Join(ErrUnknownContract, fmt.Errorf("contract %q", contractID))
	}
	return c.value, nil
}

// PostCollateral adds collateral to an existing contract.
func (r *SwapRegistry) PostCollateral(contractID string, amount sdkmath.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contracts[contractID]
	if !ok || !c.open {
		return errors.Join(ErrUnknownContract, fmt.Errorf("contract %q", contractID))
	}
	if amount.IsNil() || !amount.IsPositive() {
		return errors.New("collateral amount must be positive")
	}
	c.collateral = c.collateral.Add(amount)
	return nil
}

// WithdrawCollateral removes excess collateral from a contract.
func (r *SwapRegistry) WithdrawCollateral(contractID string, amount sdkmath.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contracts[contractID]
	if !ok || !c.open {
		return errors.Join(ErrUnknownContract, fmt.Errorf("contract %q", contractID))
	}
	if amount.IsNil() || !amount.IsPositive() || amount.GT(c.collateral) {
		return errors.New("invalid withdrawal amount")
	}
	c.collateral = c.collateral.Sub(amount)
	return nil
}

// GetCounterpartyInfo returns registry data for one counterparty.
func (r *SwapRegistry) GetCounterpartyInfo(name string) (venue.CounterpartyInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp, ok := r.counterparties[name]
	if !ok {
		return venue.CounterpartyInfo{}, errors.Join(ErrUnknownCounterparty, fmt.Errorf("name %q", name))
	}
	return cp.info, nil
}

// CalculateCollateralRequirement returns the collateral demanded for a
// notional at the given leverage.
func (r *SwapRegistry) CalculateCollateralRequirement(notional sdkmath.Int, leverage int64) (sdkmath.Int, error) {
	return utils.CollateralForNotional(notional, leverage)
}

var _ venue.SwapProviderRegistry = (*SwapRegistry)(nil)

// OpenContracts returns the identifiers of all open contracts, for tests.
func (r *SwapRegistry) OpenContracts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id, c := range r.contracts {
		if c.open {
			out = append(out, id)
		}
	}
	return out
}
