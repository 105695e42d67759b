package api

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/floorswap/floorswap/pkg/crypto"
	"github.com/floorswap/floorswap/pkg/exchange"
)

// MakerOrderPayload is the wire form of a signed maker order. Prices are
// decimal strings so large values survive JSON; bytes fields are 0x-hex.
type MakerOrderPayload struct {
	IsAsk              bool   `json:"isAsk"`
	Signer             string `json:"signer"`
	Collection         string `json:"collection"`
	Price              string `json:"price"`
	TokenID            string `json:"tokenId"`
	Amount             string `json:"amount"`
	Strategy           uint8  `json:"strategy"`
	Currency           string `json:"currency"`
	Nonce              uint64 `json:"nonce"`
	StartTime          uint64 `json:"startTime"`
	EndTime            uint64 `json:"endTime"`
	MinPercentageToAsk uint16 `json:"minPercentageToAsk"`
	Params             string `json:"params"`
	Signature          string `json:"signature"`
}

// TakerOrderPayload carries the taker's counter-order plus the taker's
// signature over it. The signature is the REST caller authentication:
// the engine trusts its in-process callers, so the server must not relay
// a taker order the taker did not sign.
type TakerOrderPayload struct {
	IsAsk              bool   `json:"isAsk"`
	Taker              string `json:"taker"`
	Price              string `json:"price"`
	TokenID            string `json:"tokenId"`
	Amount             string `json:"amount"`
	MinPercentageToAsk uint16 `json:"minPercentageToAsk"`
	Params             string `json:"params"`
	Signature          string `json:"signature"`
}

func parseBig(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing %s", field)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %q", field, s)
	}
	return v, nil
}

func parseHexBytes(field, s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return nil, nil
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %v", field, err)
	}
	return b, nil
}

func (p *MakerOrderPayload) ToOrder() (*exchange.MakerOrder, error) {
	price, err := parseBig("price", p.Price)
	if err != nil {
		return nil, err
	}
	tokenID, err := parseBig("tokenId", p.TokenID)
	if err != nil {
		return nil, err
	}
	amount, err := parseBig("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	params, err := parseHexBytes("params", p.Params)
	if err != nil {
		return nil, err
	}
	signature, err := parseHexBytes("signature", p.Signature)
	if err != nil {
		return nil, err
	}
	return &exchange.MakerOrder{
		IsAsk:              p.IsAsk,
		Signer:             common.HexToAddress(p.Signer),
		Collection:         common.HexToAddress(p.Collection),
		Price:              price,
		TokenID:            tokenID,
		Amount:             amount,
		Strategy:           p.Strategy,
		Currency:           common.HexToAddress(p.Currency),
		Nonce:              p.Nonce,
		StartTime:          p.StartTime,
		EndTime:            p.EndTime,
		MinPercentageToAsk: p.MinPercentageToAsk,
		Params:             params,
		Signature:          signature,
	}, nil
}

func (p *TakerOrderPayload) ToOrder() (*exchange.TakerOrder, error) {
	price, err := parseBig("price", p.Price)
	if err != nil {
		return nil, err
	}
	tokenID, err := parseBig("tokenId", p.TokenID)
	if err != nil {
		return nil, err
	}
	amount, err := parseBig("amount", p.Amount)
	if err != nil {
		return nil, err
	}
	params, err := parseHexBytes("params", p.Params)
	if err != nil {
		return nil, err
	}
	return &exchange.TakerOrder{
		IsAsk:              p.IsAsk,
		Taker:              common.HexToAddress(p.Taker),
		Price:              price,
		TokenID:            tokenID,
		Amount:             amount,
		MinPercentageToAsk: p.MinPercentageToAsk,
		Params:             params,
	}, nil
}

type MatchRequest struct {
	Taker TakerOrderPayload `json:"taker"`
	Maker MakerOrderPayload `json:"maker"`
}

// Cancellation requests are self-service: the signature must recover to
// the sender whose nonces are being invalidated.
type CancelNoncesRequest struct {
	Sender    string   `json:"sender"`
	Nonces    []uint64 `json:"nonces"`
	Signature string   `json:"signature"`
}

type CancelAllRequest struct {
	Sender    string `json:"sender"`
	MinNonce  uint64 `json:"minNonce"`
	Signature string `json:"signature"`
}

type OrderHashResponse struct {
	OrderHash       string `json:"orderHash"`
	Digest          string `json:"digest"`
	DomainSeparator string `json:"domainSeparator"`
}

type NonceResponse struct {
	Signer              string `json:"signer"`
	Nonce               uint64 `json:"nonce"`
	ExecutedOrCancelled bool   `json:"executedOrCancelled"`
}

// SettlementInfo renders a settlement for REST and websocket consumers.
// Field order follows the settlement record; indexers depend on it.
type SettlementInfo struct {
	OrderHash  string `json:"orderHash"`
	OrderNonce uint64 `json:"orderNonce"`
	Taker      string `json:"taker"`
	Maker      string `json:"maker"`
	Strategy   uint8  `json:"strategy"`
	Currency   string `json:"currency"`
	Collection string `json:"collection"`
	TokenID    string `json:"tokenId"`
	Amount     string `json:"amount"`
	Price      string `json:"price"`
	Kind       string `json:"kind"`
	Timestamp  int64  `json:"timestamp"`
}

func settlementInfo(s *exchange.Settlement) SettlementInfo {
	return SettlementInfo{
		OrderHash:  s.OrderHash.Hex(),
		OrderNonce: s.OrderNonce,
		Taker:      crypto.ChecksumAddress(s.Taker.Bytes()),
		Maker:      crypto.ChecksumAddress(s.Maker.Bytes()),
		Strategy:   s.Strategy,
		Currency:   crypto.ChecksumAddress(s.Currency.Bytes()),
		Collection: crypto.ChecksumAddress(s.Collection.Bytes()),
		TokenID:    s.TokenID.String(),
		Amount:     s.Amount.String(),
		Price:      s.Price.String(),
		Kind:       string(s.Kind),
		Timestamp:  s.Timestamp,
	}
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type WSSubscribeRequest struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels"`
}

type WSEvent struct {
	Channel string      `json:"channel"`
	Data    interface{} `json:"data"`
}
