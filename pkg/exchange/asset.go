package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TransferManager moves the traded asset between custody accounts for one
// asset class. The engine invokes the manager registered for the order's
// collection; it never moves assets itself.
type TransferManager interface {
	TransferAsset(collection, from, to common.Address, tokenID, amount *big.Int) error
}

// AssetRegistry binds collections to their transfer managers. An
// unregistered collection fails a settlement before any transfer is
// attempted.
type AssetRegistry struct {
	managers map[common.Address]TransferManager
}

func NewAssetRegistry() *AssetRegistry {
	return &AssetRegistry{managers: make(map[common.Address]TransferManager)}
}

func (r *AssetRegistry) Register(collection common.Address, m TransferManager) {
	r.managers[collection] = m
}

func (r *AssetRegistry) ManagerFor(collection common.Address) (TransferManager, bool) {
	m, ok := r.managers[collection]
	return m, ok
}

// ==============================
// Unique-token custody (ERC721-like)
// ==============================

// UniqueTokenManager tracks single-owner tokens: each (collection, id)
// has exactly one owner and transfers carry amount 1.
type UniqueTokenManager struct {
	owners map[common.Address]map[string]common.Address
}

func NewUniqueTokenManager() *UniqueTokenManager {
	return &UniqueTokenManager{owners: make(map[common.Address]map[string]common.Address)}
}

// Mint assigns initial custody of a token. Deposit-side bookkeeping, not
// part of settlement.
func (m *UniqueTokenManager) Mint(collection common.Address, tokenID *big.Int, owner common.Address) {
	if m.owners[collection] == nil {
		m.owners[collection] = make(map[string]common.Address)
	}
	m.owners[collection][tokenID.String()] = owner
}

func (m *UniqueTokenManager) OwnerOf(collection common.Address, tokenID *big.Int) (common.Address, bool) {
	owner, ok := m.owners[collection][tokenID.String()]
	return owner, ok
}

func (m *UniqueTokenManager) TransferAsset(collection, from, to common.Address, tokenID, amount *big.Int) error {
	if amount.Cmp(big.NewInt(1)) != 0 {
		return fmt.Errorf("unique token transfer amount must be 1, got %s", amount)
	}
	owner, ok := m.owners[collection][tokenID.String()]
	if !ok {
		return fmt.Errorf("token %s not in custody", tokenID)
	}
	if owner != from {
		return fmt.Errorf("token %s not owned by %s", tokenID, from.Hex())
	}
	m.owners[collection][tokenID.String()] = to
	return nil
}

// ==============================
// Multi-quantity custody (ERC1155-like)
// ==============================

// MultiTokenManager tracks fungible per-id balances: many holders may own
// units of the same (collection, id).
type MultiTokenManager struct {
	balances map[common.Address]map[string]map[common.Address]*big.Int
}

func NewMultiTokenManager() *MultiTokenManager {
	return &MultiTokenManager{balances: make(map[common.Address]map[string]map[common.Address]*big.Int)}
}

func (m *MultiTokenManager) Mint(collection common.Address, tokenID *big.Int, owner common.Address, amount *big.Int) {
	if m.balances[collection] == nil {
		m.balances[collection] = make(map[string]map[common.Address]*big.Int)
	}
	id := tokenID.String()
	if m.balances[collection][id] == nil {
		m.balances[collection][id] = make(map[common.Address]*big.Int)
	}
	bal := m.balances[collection][id][owner]
	if bal == nil {
		bal = new(big.Int)
	}
	m.balances[collection][id][owner] = new(big.Int).Add(bal, amount)
}

func (m *MultiTokenManager) BalanceOf(collection common.Address, tokenID *big.Int, owner common.Address) *big.Int {
	bal := m.balances[collection][tokenID.String()][owner]
	if bal == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(bal)
}

func (m *MultiTokenManager) TransferAsset(collection, from, to common.Address, tokenID, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("non-positive transfer amount %s", amount)
	}
	id := tokenID.String()
	fromBal := m.balances[collection][id][from]
	if fromBal == nil || fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance of token %s for %s", tokenID, from.Hex())
	}

	if m.balances[collection][id] == nil {
		m.balances[collection][id] = make(map[common.Address]*big.Int)
	}
	toBal := m.balances[collection][id][to]
	if toBal == nil {
		toBal = new(big.Int)
	}

	m.balances[collection][id][from] = new(big.Int).Sub(fromBal, amount)
	m.balances[collection][id][to] = new(big.Int).Add(toBal, amount)
	return nil
}
