package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/floorswap/floorswap/pkg/crypto"
)

// Strategy ids form a closed, governance-controlled set.
const (
	StrategyFixedPrice   uint8 = 1
	StrategyDutchAuction uint8 = 2
)

// MakerOrder is a signed, off-chain-authored trade intent. The signature
// covers every field except Signature itself, under the instance domain.
type MakerOrder struct {
	IsAsk              bool           `json:"isAsk"`
	Signer             common.Address `json:"signer"`
	Collection         common.Address `json:"collection"`
	Price              *big.Int       `json:"price"`
	TokenID            *big.Int       `json:"tokenId"`
	Amount             *big.Int       `json:"amount"`
	Strategy           uint8          `json:"strategy"`
	Currency           common.Address `json:"currency"`
	Nonce              uint64         `json:"nonce"`
	StartTime          uint64         `json:"startTime"`
	EndTime            uint64         `json:"endTime"`
	MinPercentageToAsk uint16         `json:"minPercentageToAsk"` // basis points
	Params             []byte         `json:"params"`
	Signature          []byte         `json:"signature"` // 65-byte [R || S || V]
}

// TakerOrder is the unsigned counter-intent supplied at match time by its
// own executor. Authenticity derives from the caller's identity, so it
// carries no signature.
type TakerOrder struct {
	IsAsk              bool           `json:"isAsk"`
	Taker              common.Address `json:"taker"`
	Price              *big.Int       `json:"price"`
	TokenID            *big.Int       `json:"tokenId"`
	Amount             *big.Int       `json:"amount"`
	MinPercentageToAsk uint16         `json:"minPercentageToAsk"`
	Params             []byte         `json:"params"`
}

// Typed returns the typed-data view used for hashing and signature checks.
func (o *MakerOrder) Typed() *crypto.MakerOrder712 {
	return &crypto.MakerOrder712{
		IsAsk:              o.IsAsk,
		Signer:             o.Signer,
		Collection:         o.Collection,
		Price:              o.Price,
		TokenID:            o.TokenID,
		Amount:             o.Amount,
		Strategy:           o.Strategy,
		Currency:           o.Currency,
		Nonce:              new(big.Int).SetUint64(o.Nonce),
		StartTime:          new(big.Int).SetUint64(o.StartTime),
		EndTime:            new(big.Int).SetUint64(o.EndTime),
		MinPercentageToAsk: big.NewInt(int64(o.MinPercentageToAsk)),
		Params:             o.Params,
	}
}

// Validate checks structural well-formedness. Match-time rules (expiry,
// nonce, strategy, custody) are the engine's job.
func (o *MakerOrder) Validate() error {
	if o.Signer == (common.Address{}) {
		return fmt.Errorf("zero signer")
	}
	if o.Price == nil || o.Price.Sign() <= 0 {
		return fmt.Errorf("non-positive price")
	}
	if o.TokenID == nil {
		return fmt.Errorf("missing token id")
	}
	if o.Amount == nil || o.Amount.Sign() <= 0 {
		return fmt.Errorf("non-positive amount")
	}
	if o.EndTime < o.StartTime {
		return fmt.Errorf("end time before start time")
	}
	if o.MinPercentageToAsk > BpsDenominator {
		return fmt.Errorf("minPercentageToAsk above %d bps", BpsDenominator)
	}
	return nil
}

func (o *TakerOrder) Validate() error {
	if o.Taker == (common.Address{}) {
		return fmt.Errorf("zero taker")
	}
	if o.Price == nil || o.Price.Sign() <= 0 {
		return fmt.Errorf("non-positive price")
	}
	if o.TokenID == nil {
		return fmt.Errorf("missing token id")
	}
	if o.Amount == nil || o.Amount.Sign() <= 0 {
		return fmt.Errorf("non-positive amount")
	}
	if o.MinPercentageToAsk > BpsDenominator {
		return fmt.Errorf("minPercentageToAsk above %d bps", BpsDenominator)
	}
	return nil
}
