package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain binds signatures to one deployed exchange instance.
// Signatures produced against a different name/version/chain/instance
// never verify here, which is the cross-instance replay protection.
type EIP712Domain struct {
	Name              string         // Protocol name ("FloorSwap")
	Version           string         // Protocol version ("1")
	ChainID           *big.Int       // Chain the instance settles on
	VerifyingContract common.Address // Instance identity (settlement service address)
}

// MakerOrder712 is the typed-data view of a maker order: exactly the
// fields the maker signs. Changing any field changes the digest.
type MakerOrder712 struct {
	IsAsk              bool           // true = ask (sell), false = bid (buy)
	Signer             common.Address // Maker address
	Collection         common.Address // Asset collection
	Price              *big.Int       // Declared price (wei of the payment currency)
	TokenID            *big.Int       // Traded asset id within the collection
	Amount             *big.Int       // Units for multi-quantity collections, 1 for unique tokens
	Strategy           uint8          // Execution strategy id
	Currency           common.Address // Payment currency
	Nonce              *big.Int       // Per-signer replay nonce
	StartTime          *big.Int       // Validity window start (Unix seconds)
	EndTime            *big.Int       // Validity window end (Unix seconds)
	MinPercentageToAsk *big.Int       // Seller net-proceeds floor in basis points
	Params             []byte         // Strategy-specific opaque parameters
}

var makerOrderTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"MakerOrder": []apitypes.Type{
		{Name: "isAsk", Type: "bool"},
		{Name: "signer", Type: "address"},
		{Name: "collection", Type: "address"},
		{Name: "price", Type: "uint256"},
		{Name: "tokenId", Type: "uint256"},
		{Name: "amount", Type: "uint256"},
		{Name: "strategy", Type: "uint8"},
		{Name: "currency", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "startTime", Type: "uint256"},
		{Name: "endTime", Type: "uint256"},
		{Name: "minPercentageToAsk", Type: "uint256"},
		{Name: "params", Type: "bytes"},
	},
}

// TypedSigner computes order hashes and digests under one domain.
type TypedSigner struct {
	domain EIP712Domain
}

func NewTypedSigner(domain EIP712Domain) *TypedSigner {
	return &TypedSigner{domain: domain}
}

func (t *TypedSigner) Domain() EIP712Domain {
	return t.domain
}

func (t *TypedSigner) typedData(order *MakerOrder712) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       makerOrderTypes,
		PrimaryType: "MakerOrder",
		Domain: apitypes.TypedDataDomain{
			Name:              t.domain.Name,
			Version:           t.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(t.domain.ChainID),
			VerifyingContract: t.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"isAsk":              order.IsAsk,
			"signer":             order.Signer.Hex(),
			"collection":         order.Collection.Hex(),
			"price":              order.Price.String(),
			"tokenId":            order.TokenID.String(),
			"amount":             order.Amount.String(),
			"strategy":           fmt.Sprintf("%d", order.Strategy),
			"currency":           order.Currency.Hex(),
			"nonce":              order.Nonce.String(),
			"startTime":          order.StartTime.String(),
			"endTime":            order.EndTime.String(),
			"minPercentageToAsk": order.MinPercentageToAsk.String(),
			"params":             hexutil.Encode(order.Params),
		},
	}
}

// DomainSeparator returns hashStruct(EIP712Domain). Off-chain signer
// libraries must reproduce this bit-for-bit.
func (t *TypedSigner) DomainSeparator() (common.Hash, error) {
	td := t.typedData(&MakerOrder712{
		Price: big.NewInt(0), TokenID: big.NewInt(0), Amount: big.NewInt(0),
		Nonce: big.NewInt(0), StartTime: big.NewInt(0), EndTime: big.NewInt(0),
		MinPercentageToAsk: big.NewInt(0),
	})
	sep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	return common.BytesToHash(sep), nil
}

// HashOrder returns hashStruct(MakerOrder): the order hash recorded in
// settlement events and used to key settlement records.
func (t *TypedSigner) HashOrder(order *MakerOrder712) (common.Hash, error) {
	td := t.typedData(order)
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash order: %w", err)
	}
	return common.BytesToHash(structHash), nil
}

// DigestOrder returns keccak256("\x19\x01" || domainSeparator || orderHash),
// the message the maker actually signs.
func (t *TypedSigner) DigestOrder(order *MakerOrder712) ([]byte, error) {
	td := t.typedData(order)

	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash order: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(structHash)))
	digest := crypto.Keccak256Hash(rawData)

	return digest.Bytes(), nil
}

// SignOrder signs an order and returns the 65-byte signature
func (t *TypedSigner) SignOrder(signer *Signer, order *MakerOrder712) ([]byte, error) {
	digest, err := t.DigestOrder(order)
	if err != nil {
		return nil, err
	}

	signature, err := signer.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}

	return signature, nil
}

// VerifyOrderSignature reports whether signature recovers to the order's
// declared signer. Malformed signatures report false, never an error.
func (t *TypedSigner) VerifyOrderSignature(order *MakerOrder712, signature []byte) (bool, error) {
	digest, err := t.DigestOrder(order)
	if err != nil {
		return false, err
	}

	return VerifySignature(order.Signer, digest, signature), nil
}

// RecoverOrderSigner recovers the address that signed an order
func (t *TypedSigner) RecoverOrderSigner(order *MakerOrder712, signature []byte) (common.Address, error) {
	digest, err := t.DigestOrder(order)
	if err != nil {
		return common.Address{}, err
	}

	return RecoverAddress(digest, signature)
}

// OrderToJSON renders the typed data for wallet signing
// (eth_signTypedData_v4 format)
func (t *TypedSigner) OrderToJSON(order *MakerOrder712) (string, error) {
	typedData := map[string]interface{}{
		"types":       makerOrderTypes,
		"primaryType": "MakerOrder",
		"domain": map[string]interface{}{
			"name":              t.domain.Name,
			"version":           t.domain.Version,
			"chainId":           t.domain.ChainID.String(),
			"verifyingContract": t.domain.VerifyingContract.Hex(),
		},
		"message": map[string]interface{}{
			"isAsk":              order.IsAsk,
			"signer":             order.Signer.Hex(),
			"collection":         order.Collection.Hex(),
			"price":              order.Price.String(),
			"tokenId":            order.TokenID.String(),
			"amount":             order.Amount.String(),
			"strategy":           order.Strategy,
			"currency":           order.Currency.Hex(),
			"nonce":              order.Nonce.String(),
			"startTime":          order.StartTime.String(),
			"endTime":            order.EndTime.String(),
			"minPercentageToAsk": order.MinPercentageToAsk.String(),
			"params":             hexutil.Encode(order.Params),
		},
	}

	jsonBytes, err := json.MarshalIndent(typedData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return string(jsonBytes), nil
}
