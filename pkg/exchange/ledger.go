package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the payment side of settlement: the currency whitelist, the
// per-currency balance books, and the native asset with its wrapped form.
// One wrapped-native currency is always whitelisted; the bridging match
// path wraps native value into it before paying out.
type Ledger struct {
	wrappedNative common.Address
	whitelist     map[common.Address]bool
	balances      map[common.Address]map[common.Address]*big.Int // currency → holder → balance
	native        map[common.Address]*big.Int
}

func NewLedger(wrappedNative common.Address) *Ledger {
	l := &Ledger{
		wrappedNative: wrappedNative,
		whitelist:     make(map[common.Address]bool),
		balances:      make(map[common.Address]map[common.Address]*big.Int),
		native:        make(map[common.Address]*big.Int),
	}
	l.whitelist[wrappedNative] = true
	return l
}

func (l *Ledger) WrappedNative() common.Address {
	return l.wrappedNative
}

// AddCurrency whitelists a payment currency.
func (l *Ledger) AddCurrency(currency common.Address) {
	l.whitelist[currency] = true
}

func (l *Ledger) IsWhitelisted(currency common.Address) bool {
	return l.whitelist[currency]
}

// Mint credits a holder's balance in a currency. Deposit-side
// bookkeeping, not part of settlement.
func (l *Ledger) Mint(currency, holder common.Address, amount *big.Int) {
	if l.balances[currency] == nil {
		l.balances[currency] = make(map[common.Address]*big.Int)
	}
	bal := l.balances[currency][holder]
	if bal == nil {
		bal = new(big.Int)
	}
	l.balances[currency][holder] = new(big.Int).Add(bal, amount)
}

// MintNative credits a holder's native balance.
func (l *Ledger) MintNative(holder common.Address, amount *big.Int) {
	bal := l.native[holder]
	if bal == nil {
		bal = new(big.Int)
	}
	l.native[holder] = new(big.Int).Add(bal, amount)
}

func (l *Ledger) BalanceOf(currency, holder common.Address) *big.Int {
	bal := l.balances[currency][holder]
	if bal == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(bal)
}

func (l *Ledger) NativeBalanceOf(holder common.Address) *big.Int {
	bal := l.native[holder]
	if bal == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(bal)
}

// Transfer moves currency between holders. Zero-amount transfers are
// no-ops so fee legs that round to zero don't create empty entries.
func (l *Ledger) Transfer(currency, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer amount %s", amount)
	}
	if amount.Sign() == 0 {
		return nil
	}

	fromBal := l.balances[currency][from]
	if fromBal == nil || fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient %s balance for %s", currency.Hex(), from.Hex())
	}

	if l.balances[currency] == nil {
		l.balances[currency] = make(map[common.Address]*big.Int)
	}
	toBal := l.balances[currency][to]
	if toBal == nil {
		toBal = new(big.Int)
	}

	l.balances[currency][from] = new(big.Int).Sub(fromBal, amount)
	l.balances[currency][to] = new(big.Int).Add(toBal, amount)
	return nil
}

// Wrap converts a holder's native balance into wrapped-native currency.
func (l *Ledger) Wrap(holder common.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("non-positive wrap amount %s", amount)
	}
	bal := l.native[holder]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient native balance for %s", holder.Hex())
	}
	l.native[holder] = new(big.Int).Sub(bal, amount)
	l.Mint(l.wrappedNative, holder, amount)
	return nil
}

// Unwrap converts wrapped-native currency back to native balance.
func (l *Ledger) Unwrap(holder common.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("non-positive unwrap amount %s", amount)
	}
	bal := l.balances[l.wrappedNative][holder]
	if bal == nil || bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient wrapped balance for %s", holder.Hex())
	}
	l.balances[l.wrappedNative][holder] = new(big.Int).Sub(bal, amount)
	l.MintNative(holder, amount)
	return nil
}
