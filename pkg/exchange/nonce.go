package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/floorswap/floorswap/pkg/storage"
)

// NonceRegistry is the sole owner of consumption state for (signer, nonce)
// pairs. A nonce is dead once it has been consumed by a match, cancelled
// explicitly, or falls below the signer's min-nonce floor. The floor makes
// cancel-all O(1): no iteration over unseen nonces.
type NonceRegistry struct {
	floors map[common.Address]uint64
	used   map[common.Address]map[uint64]bool
	store  *storage.Store // nil in unit tests without persistence
}

func NewNonceRegistry(store *storage.Store) (*NonceRegistry, error) {
	r := &NonceRegistry{
		floors: make(map[common.Address]uint64),
		used:   make(map[common.Address]map[uint64]bool),
		store:  store,
	}
	if store != nil {
		floors, used, err := store.LoadNonceState()
		if err != nil {
			return nil, fmt.Errorf("failed to load nonce state: %w", err)
		}
		r.floors = floors
		r.used = used
	}
	return r, nil
}

// IsExecutedOrCancelled reports whether the nonce can no longer authorize
// a match for this signer.
func (r *NonceRegistry) IsExecutedOrCancelled(signer common.Address, nonce uint64) bool {
	if nonce < r.floors[signer] {
		return true
	}
	return r.used[signer][nonce]
}

// MinNonce returns the signer's current cancel-all floor.
func (r *NonceRegistry) MinNonce(signer common.Address) uint64 {
	return r.floors[signer]
}

// markExecuted records consumption in memory. The engine calls this only
// after the settlement batch (which carries the same nonce write) has
// committed, so memory never runs ahead of disk.
func (r *NonceRegistry) markExecuted(signer common.Address, nonce uint64) {
	if r.used[signer] == nil {
		r.used[signer] = make(map[uint64]bool)
	}
	r.used[signer][nonce] = true
}

// CancelAllBelow raises the signer's floor, invalidating every nonce
// strictly below minNonce, including ones never seen before.
func (r *NonceRegistry) CancelAllBelow(signer common.Address, minNonce uint64) error {
	if signer == (common.Address{}) {
		return fmt.Errorf("%w: zero sender", ErrUnauthorizedCancellation)
	}
	if minNonce <= r.floors[signer] {
		return fmt.Errorf("%w: min nonce %d not above current floor %d",
			ErrUnauthorizedCancellation, minNonce, r.floors[signer])
	}
	if r.store != nil {
		if err := r.store.SetNonceFloor(signer, minNonce); err != nil {
			return err
		}
	}
	r.floors[signer] = minNonce
	return nil
}

// CancelNonces invalidates an explicit list of the signer's own nonces.
func (r *NonceRegistry) CancelNonces(signer common.Address, nonces []uint64) error {
	if signer == (common.Address{}) {
		return fmt.Errorf("%w: zero sender", ErrUnauthorizedCancellation)
	}
	if len(nonces) == 0 {
		return fmt.Errorf("%w: empty nonce list", ErrUnauthorizedCancellation)
	}
	floor := r.floors[signer]
	for _, n := range nonces {
		if n < floor {
			return fmt.Errorf("%w: nonce %d below floor %d", ErrUnauthorizedCancellation, n, floor)
		}
	}
	// The whole list commits in one batch; a store failure leaves no
	// partially cancelled state, in memory or on disk.
	if r.store != nil {
		batch := r.store.NewBatch()
		defer batch.Close()
		for _, n := range nonces {
			if err := batch.MarkNonceUsed(signer, n); err != nil {
				return err
			}
		}
		if err := batch.Commit(); err != nil {
			return err
		}
	}
	for _, n := range nonces {
		r.markExecuted(signer, n)
	}
	return nil
}
