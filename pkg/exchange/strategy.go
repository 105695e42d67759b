package exchange

import (
	"fmt"
	"math/big"
)

// Execution is a strategy's verdict on a valid match.
type Execution struct {
	Price          *big.Int // price the trade settles at
	ProtocolFeeBps uint16   // protocol fee rate for this strategy
}

// Strategy decides match validity, execution price, and protocol fee rate.
// Implementations are pure functions of the two orders and current time;
// they never touch shared state. A non-nil error is the rejection reason.
type Strategy interface {
	ID() uint8
	Validate(maker *MakerOrder, taker *TakerOrder, now uint64) (Execution, error)
}

// StrategyRegistry holds the closed, governance-controlled strategy set,
// dispatched by the id stored on the maker order.
type StrategyRegistry struct {
	byID map[uint8]Strategy
}

func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{byID: make(map[uint8]Strategy)}
}

func (r *StrategyRegistry) Register(s Strategy) {
	r.byID[s.ID()] = s
}

func (r *StrategyRegistry) Lookup(id uint8) (Strategy, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// matchFields rejects asset/amount mismatches. The engine checks these
// too; strategies re-check as defense in depth.
func matchFields(maker *MakerOrder, taker *TakerOrder) error {
	if maker.TokenID.Cmp(taker.TokenID) != 0 {
		return fmt.Errorf("token id mismatch")
	}
	if maker.Amount.Cmp(taker.Amount) != 0 {
		return fmt.Errorf("amount mismatch")
	}
	return nil
}

// FixedPriceStrategy accepts a match only when maker and taker declare
// exactly the same price.
type FixedPriceStrategy struct {
	FeeBps uint16
}

func (s *FixedPriceStrategy) ID() uint8 { return StrategyFixedPrice }

func (s *FixedPriceStrategy) Validate(maker *MakerOrder, taker *TakerOrder, now uint64) (Execution, error) {
	if err := matchFields(maker, taker); err != nil {
		return Execution{}, err
	}
	if maker.Price.Cmp(taker.Price) != 0 {
		return Execution{}, fmt.Errorf("price mismatch: maker %s, taker %s", maker.Price, taker.Price)
	}
	return Execution{Price: new(big.Int).Set(maker.Price), ProtocolFeeBps: s.FeeBps}, nil
}

// DutchAuctionStrategy decays the price linearly from the start price
// carried in the maker's params down to the maker's declared price at
// end time. An ask matches when the taker bids at or above the decayed
// price; a bid matches when the taker asks at or below it. Either way
// the trade settles at the decayed price.
type DutchAuctionStrategy struct {
	FeeBps uint16

	// MinAuctionSeconds guards against near-instant decay windows.
	MinAuctionSeconds uint64
}

func (s *DutchAuctionStrategy) ID() uint8 { return StrategyDutchAuction }

func (s *DutchAuctionStrategy) Validate(maker *MakerOrder, taker *TakerOrder, now uint64) (Execution, error) {
	if err := matchFields(maker, taker); err != nil {
		return Execution{}, err
	}
	if maker.EndTime-maker.StartTime < s.MinAuctionSeconds {
		return Execution{}, fmt.Errorf("auction shorter than %d seconds", s.MinAuctionSeconds)
	}
	if len(maker.Params) == 0 {
		return Execution{}, fmt.Errorf("missing auction start price")
	}

	startPrice := new(big.Int).SetBytes(maker.Params)
	if startPrice.Cmp(maker.Price) < 0 {
		return Execution{}, fmt.Errorf("auction start price below end price")
	}

	current := decayedPrice(startPrice, maker.Price, maker.StartTime, maker.EndTime, now)

	if maker.IsAsk {
		if taker.Price.Cmp(current) < 0 {
			return Execution{}, fmt.Errorf("bid %s below auction price %s", taker.Price, current)
		}
	} else {
		if taker.Price.Cmp(current) > 0 {
			return Execution{}, fmt.Errorf("ask %s above auction price %s", taker.Price, current)
		}
	}

	return Execution{Price: current, ProtocolFeeBps: s.FeeBps}, nil
}

// decayedPrice interpolates between startPrice (at startTime) and endPrice
// (at endTime). The decayed portion rounds down, so the price itself
// rounds up in the seller's favor.
func decayedPrice(startPrice, endPrice *big.Int, startTime, endTime, now uint64) *big.Int {
	if now <= startTime {
		return new(big.Int).Set(startPrice)
	}
	if now >= endTime || endTime == startTime {
		return new(big.Int).Set(endPrice)
	}

	span := new(big.Int).Sub(startPrice, endPrice)
	elapsed := new(big.Int).SetUint64(now - startTime)
	duration := new(big.Int).SetUint64(endTime - startTime)

	drop := span.Mul(span, elapsed)
	drop.Div(drop, duration)

	return new(big.Int).Sub(startPrice, drop)
}
