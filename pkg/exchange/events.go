package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SettlementKind names which side the taker was on.
type SettlementKind string

const (
	SettlementTakerBid SettlementKind = "TAKER_BID"
	SettlementTakerAsk SettlementKind = "TAKER_ASK"
)

// Settlement is the record emitted for every successful match. External
// indexers depend on the field order and types, so new fields go at the
// end only.
type Settlement struct {
	OrderHash  common.Hash    `json:"orderHash"`
	OrderNonce uint64         `json:"orderNonce"`
	Taker      common.Address `json:"taker"`
	Maker      common.Address `json:"maker"`
	Strategy   uint8          `json:"strategy"`
	Currency   common.Address `json:"currency"`
	Collection common.Address `json:"collection"`
	TokenID    *big.Int       `json:"tokenId"`
	Amount     *big.Int       `json:"amount"`
	Price      *big.Int       `json:"price"`

	Kind      SettlementKind `json:"kind"`
	Timestamp int64          `json:"timestamp"`
}
