package exchange

import "math/big"

const (
	// BpsDenominator is the basis-point scale used for every fee rate and
	// for minPercentageToAsk.
	BpsDenominator uint16 = 10000

	// MaxProtocolFeeBps is the hard ceiling on any strategy's protocol fee
	// rate (25%).
	MaxProtocolFeeBps uint16 = 2500
)

var bpsDenom = big.NewInt(int64(BpsDenominator))

// feePortion returns price × bps / 10000, rounded down. Net proceeds are
// computed by subtraction, so fees plus proceeds always reconstruct the
// execution price exactly.
func feePortion(price *big.Int, bps uint16) *big.Int {
	fee := new(big.Int).Mul(price, big.NewInt(int64(bps)))
	return fee.Div(fee, bpsDenom)
}
