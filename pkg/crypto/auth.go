package crypto

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Request digests for caller authentication. Cancellations and taker
// orders are not EIP-712 structs; the caller signs a keccak digest over
// the request fields instead. Every digest folds in the instance's
// domain separator, so a signature captured on one deployment never
// authorizes the same request on another.

const (
	tagCancelNonces = "FLOORSWAP_CANCEL_NONCES"
	tagCancelAll    = "FLOORSWAP_CANCEL_ALL"
	tagTakerOrder   = "FLOORSWAP_TAKER_ORDER"
)

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendUint256(buf []byte, v *big.Int) []byte {
	var b [32]byte
	if v != nil {
		v.FillBytes(b[:])
	}
	return append(buf, b[:]...)
}

// CancelNoncesDigest is the message a sender signs to cancel an explicit
// nonce list. Nonce order is significant.
func CancelNoncesDigest(domainSeparator common.Hash, sender common.Address, nonces []uint64) []byte {
	buf := make([]byte, 0, len(tagCancelNonces)+32+20+8*len(nonces))
	buf = append(buf, tagCancelNonces...)
	buf = append(buf, domainSeparator.Bytes()...)
	buf = append(buf, sender.Bytes()...)
	for _, n := range nonces {
		buf = appendUint64(buf, n)
	}
	return crypto.Keccak256(buf)
}

// CancelAllDigest is the message a sender signs to raise their min-nonce
// floor.
func CancelAllDigest(domainSeparator common.Hash, sender common.Address, minNonce uint64) []byte {
	buf := make([]byte, 0, len(tagCancelAll)+32+20+8)
	buf = append(buf, tagCancelAll...)
	buf = append(buf, domainSeparator.Bytes()...)
	buf = append(buf, sender.Bytes()...)
	buf = appendUint64(buf, minNonce)
	return crypto.Keccak256(buf)
}

// TakerOrderDigest is the message a taker signs to authorize a match
// that moves their funds or assets. It covers every taker field, so a
// relayer cannot alter the terms after signing.
func TakerOrderDigest(domainSeparator common.Hash, isAsk bool, taker common.Address, price, tokenID, amount *big.Int, minPercentageToAsk uint16, params []byte) []byte {
	side := byte(0)
	if isAsk {
		side = 1
	}
	buf := make([]byte, 0, len(tagTakerOrder)+32+1+20+3*32+2+32)
	buf = append(buf, tagTakerOrder...)
	buf = append(buf, domainSeparator.Bytes()...)
	buf = append(buf, side)
	buf = append(buf, taker.Bytes()...)
	buf = appendUint256(buf, price)
	buf = appendUint256(buf, tokenID)
	buf = appendUint256(buf, amount)
	var bps [2]byte
	binary.BigEndian.PutUint16(bps[:], minPercentageToAsk)
	buf = append(buf, bps[:]...)
	buf = append(buf, crypto.Keccak256(params)...)
	return crypto.Keccak256(buf)
}
