package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RoyaltyInfo is a collection's royalty schedule entry.
type RoyaltyInfo struct {
	Recipient common.Address
	FeeBps    uint16
}

// RoyaltyLookup is the external royalty collaborator. The engine treats a
// lookup error as zero royalty, never as a fatal fault.
type RoyaltyLookup interface {
	RoyaltyFor(collection common.Address, tokenID *big.Int) (RoyaltyInfo, error)
}

// RoyaltyRegistry is the in-process lookup implementation: per-collection
// schedules with a configurable ceiling. Entries above the ceiling are
// clamped at lookup time rather than rejected, so a misconfigured
// collection still settles.
type RoyaltyRegistry struct {
	entries    map[common.Address]RoyaltyInfo
	ceilingBps uint16
}

func NewRoyaltyRegistry(ceilingBps uint16) *RoyaltyRegistry {
	return &RoyaltyRegistry{
		entries:    make(map[common.Address]RoyaltyInfo),
		ceilingBps: ceilingBps,
	}
}

func (r *RoyaltyRegistry) Set(collection common.Address, info RoyaltyInfo) {
	r.entries[collection] = info
}

func (r *RoyaltyRegistry) RoyaltyFor(collection common.Address, tokenID *big.Int) (RoyaltyInfo, error) {
	info, ok := r.entries[collection]
	if !ok {
		return RoyaltyInfo{}, fmt.Errorf("no royalty entry for collection %s", collection.Hex())
	}
	if info.Recipient == (common.Address{}) {
		return RoyaltyInfo{}, nil
	}
	if info.FeeBps > r.ceilingBps {
		info.FeeBps = r.ceilingBps
	}
	return info, nil
}
