/*

This file contains the simulated perpetual router. It keeps positions in
memory, applies a settable funding rate per market, and marks PnL through
the shared oracle so position values track simulated price moves.

*/

package sim

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/metazhar-legion/meta-index-sub006/internal/venue"
)

var (
	ErrUnknownPosition = errors.New("unknown position")
	ErrMarketFailed    = errors.New("market is failed")
)

// PerpRouter is an in-memory perpetual execution venue.
type PerpRouter struct {
	mu         sync.Mutex
	oracle     *Oracle
	markets    map[string]string // Market -> underlying asset priced by the oracle.
	fundingBps map[string]int64
	failed     map[string]bool
	positions  map[string]*venue.PerpPosition
}

// NewPerpRouter creates a router marking positions through the oracle.
func NewPerpRouter(oracle *Oracle) *PerpRouter {
	return &PerpRouter{
		oracle:     oracle,
		markets:    make(map[string]string),
		fundingBps: make(map[string]int64),
		failed:     make(map[string]bool),
		positions:  make(map[string]*venue.PerpPosition),
	}
}

// AddMarket registers a market over an oracle-priced asset.
func (p *PerpRouter) AddMarket(market, asset string, fundingBps int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markets[market] = asset
	p.fundingBps[market] = fundingBps
}

// SetFundingRate changes a market's funding rate.
func (p *PerpRouter) SetFundingRate(market string, fundingBps int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fundingBps[market] = fundingBps
}

// FailMarket makes every operation on the market fail until restored.
func (p *PerpRouter) FailMarket(market string, failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed[market] = failed
}

// OpenPosition opens a position and returns its identifier.
func (p *PerpRouter) OpenPosition(market string, size sdkmath.Int, leverage int64, collateral sdkmath.Int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	asset, ok := p.markets[market]
	if !ok {
		return "", fmt.Errorf("unknown market %q", market)
	}
	if p.failed[market] {
		return "", errors.Join(ErrMarketFailed, fmt.Errorf("market %q", market))
	}
	if size.IsNil() || !size.IsPositive() || collateral.IsNil() || !collateral.IsPositive() {
		return "", errors.New("size and collateral must be positive")
	}
	price, err := p.oracle.GetPrice(asset)
	if err != nil {
		return "", err
	}
	pos := &venue.PerpPosition{
		PositionID: uuid.NewString(),
		Market:     market,
		Size:       size,
		Collateral: collateral,
		Leverage:   leverage,
		EntryPrice: price,
	}
	p.positions[pos.PositionID] = pos
	return pos.PositionID, nil
}

// ClosePosition closes a position, returning collateral plus marked PnL.
func (p *PerpRouter) ClosePosition(positionID string) (sdkmath.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, err := p.position(positionID)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	payout, err := p.markedValue(pos)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	delete(p.positions, positionID)
	return payout, nil
}

// AdjustPosition changes size and/or collateral of an open position.
func (p *PerpRouter) AdjustPosition(positionID string, sizeDelta, collateralDelta sdkmath.Int, leverage int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, err := p.position(positionID)
	if err != nil {
		return err
	}
	newSize := pos.Size
	if !sizeDelta.IsNil() {
		newSize = newSize.Add(sizeDelta)
	}
	newCollateral := pos.Collateral
	if !collateralDelta.IsNil() {
		newCollateral = newCollateral.Add(collateralDelta)
	}
	if newSize.IsNegative() || newCollateral.IsNegative() {
		return errors.New("adjustment would make size or collateral negative")
	}
	pos.Size = newSize
	pos.Collateral = newCollateral
	pos.Leverage = leverage
	return nil
}

// GetPosition returns the live position state.
func (p *PerpRouter) GetPosition(positionID string) (venue.PerpPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, err := p.position(positionID)
	if err != nil {
		return venue.PerpPosition{}, err
	}
	return *pos, nil
}

// GetFundingRate returns the market's current funding rate in signed bps.
func (p *PerpRouter) GetFundingRate(market string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failed[market] {
		return 0, errors.Join(ErrMarketFailed, fmt.Errorf("market %q", market))
	}
	rate, ok := p.fundingBps[market]
	if !ok {
		return 0, fmt.Errorf("unknown market %q", market)
	}
	return rate, nil
}

// GetPositionValue returns collateral plus unrealized PnL.
func (p *PerpRouter) GetPositionValue(positionID string) (sdkmath.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, err := p.position(positionID)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return p.markedValue(pos)
}

func (p *PerpRouter) position(positionID string) (*venue.PerpPosition, error) {
	pos, ok := p.positions[positionID]
	if !ok {
		return nil, errors.Join(ErrUnknownPosition, fmt.Errorf("position %q", positionID))
	}
	if p.failed[pos.Market] {
		return nil, errors.Join(ErrMarketFailed, fmt.Errorf("market %q", pos.Market))
	}
	return pos, nil
}

// markedValue is collateral plus size * (price/entry - 1), floored at zero.
func (p *PerpRouter) markedValue(pos *venue.PerpPosition) (sdkmath.Int, error) {
	price, err := p.oracle.GetPrice(p.markets[pos.Market])
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	value := pos.Collateral
	if pos.EntryPrice.IsPositive() {
		pnl := pos.Size.Mul(price.Sub(pos.EntryPrice)).Quo(pos.EntryPrice)
		value = value.Add(pnl)
	}
	if value.IsNegative() {
		value = sdkmath.ZeroInt()
	}
	return value, nil
}

var _ venue.PerpetualRouter = (*PerpRouter)(nil)
