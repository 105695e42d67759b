package exchange

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/floorswap/floorswap/pkg/crypto"
	"github.com/floorswap/floorswap/pkg/storage"
	"github.com/floorswap/floorswap/pkg/util"
)

// EngineDeps carries the engine's collaborators. Everything is injected;
// the engine owns no process-wide state.
type EngineDeps struct {
	Logger               *zap.SugaredLogger
	Clock                util.Clock
	Typed                *crypto.TypedSigner
	Nonces               *NonceRegistry
	Strategies           *StrategyRegistry
	Assets               *AssetRegistry
	Ledger               *Ledger
	Royalties            RoyaltyLookup
	Store                *storage.Store // nil disables persistence
	ProtocolFeeRecipient common.Address
}

// Engine matches one signed maker order against one taker order and
// settles atomically: signature, expiry, nonce, strategy, fee split,
// asset transfer, payment, nonce consumption. Any failure rolls back
// every staged effect; there is no observable partial state.
type Engine struct {
	mu sync.Mutex

	log        *zap.SugaredLogger
	clock      util.Clock
	typed      *crypto.TypedSigner
	nonces     *NonceRegistry
	strategies *StrategyRegistry
	assets     *AssetRegistry
	ledger     *Ledger
	royalties  RoyaltyLookup
	store      *storage.Store

	protocolFeeRecipient common.Address

	// OnSettlement is invoked after each committed settlement (API layer
	// hooks the websocket hub here).
	OnSettlement func(Settlement)
}

func NewEngine(d EngineDeps) *Engine {
	log := d.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	clock := d.Clock
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Engine{
		log:                  log,
		clock:                clock,
		typed:                d.Typed,
		nonces:               d.Nonces,
		strategies:           d.Strategies,
		assets:               d.Assets,
		ledger:               d.Ledger,
		royalties:            d.Royalties,
		store:                d.Store,
		protocolFeeRecipient: d.ProtocolFeeRecipient,
	}
}

// Typed exposes the hashing module for off-chain order construction.
func (e *Engine) Typed() *crypto.TypedSigner { return e.typed }

// Ledger exposes the payment ledger for deposits and balance queries.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// IsUserOrderNonceExecutedOrCancelled is the read-only nonce query for
// wallets and UIs.
func (e *Engine) IsUserOrderNonceExecutedOrCancelled(signer common.Address, nonce uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nonces.IsExecutedOrCancelled(signer, nonce)
}

// CancelAllOrdersForSender invalidates every nonce below minNonce for the
// sender, including nonces never seen before.
func (e *Engine) CancelAllOrdersForSender(sender common.Address, minNonce uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.nonces.CancelAllBelow(sender, minNonce); err != nil {
		return err
	}
	e.log.Infow("orders_cancelled_below", "sender", sender.Hex(), "min_nonce", minNonce)
	return nil
}

// CancelOrderNonces invalidates an explicit list of the sender's nonces.
func (e *Engine) CancelOrderNonces(sender common.Address, nonces []uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.nonces.CancelNonces(sender, nonces); err != nil {
		return err
	}
	e.log.Infow("order_nonces_cancelled", "sender", sender.Hex(), "count", len(nonces))
	return nil
}

// GetSettlement returns the persisted settlement for an order hash, or
// nil if the order has not settled.
func (e *Engine) GetSettlement(orderHash common.Hash) (*Settlement, error) {
	if e.store == nil {
		return nil, nil
	}
	payload, err := e.store.GetSettlement(orderHash)
	if err != nil || payload == nil {
		return nil, err
	}
	var s Settlement
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settlement: %w", err)
	}
	return &s, nil
}

// RecentSettlements returns up to limit settlements, newest first.
func (e *Engine) RecentSettlements(limit int) ([]*Settlement, error) {
	if e.store == nil {
		return nil, nil
	}
	payloads, err := e.store.RecentSettlements(limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Settlement, 0, len(payloads))
	for _, p := range payloads {
		var s Settlement
		if err := json.Unmarshal(p, &s); err != nil {
			continue // skip invalid entries
		}
		out = append(out, &s)
	}
	return out, nil
}

// ==============================
// Match entry points
// ==============================

// MatchAskWithTakerBid settles a maker ask against a taker bid paid in
// the order's whitelisted currency.
func (e *Engine) MatchAskWithTakerBid(taker *TakerOrder, maker *MakerOrder) (*Settlement, error) {
	if !maker.IsAsk || taker.IsAsk {
		return nil, fmt.Errorf("%w: need maker ask and taker bid", ErrSideMismatch)
	}
	return e.match(taker, maker, SettlementTakerBid, false)
}

// MatchBidWithTakerAsk settles a maker bid against a taker ask: the taker
// is the seller, the maker pays.
func (e *Engine) MatchBidWithTakerAsk(taker *TakerOrder, maker *MakerOrder) (*Settlement, error) {
	if maker.IsAsk || !taker.IsAsk {
		return nil, fmt.Errorf("%w: need maker bid and taker ask", ErrSideMismatch)
	}
	return e.match(taker, maker, SettlementTakerAsk, false)
}

// MatchAskWithTakerBidUsingNative is the currency-bridging variant: the
// taker pays from native balance, which is wrapped before the payment
// step. The maker order must be denominated in the wrapped-native
// currency.
func (e *Engine) MatchAskWithTakerBidUsingNative(taker *TakerOrder, maker *MakerOrder) (*Settlement, error) {
	if !maker.IsAsk || taker.IsAsk {
		return nil, fmt.Errorf("%w: need maker ask and taker bid", ErrSideMismatch)
	}
	if maker.Currency != e.ledger.WrappedNative() {
		return nil, fmt.Errorf("%w: native payment requires wrapped-native order currency", ErrCurrencyNotWhitelisted)
	}
	return e.match(taker, maker, SettlementTakerBid, true)
}

// unitOfWork stages undo closures for every effect applied during a
// match. Rollback runs them in reverse, restoring the pre-match state.
type unitOfWork struct {
	undos []func()
}

func (u *unitOfWork) stage(undo func()) {
	u.undos = append(u.undos, undo)
}

func (u *unitOfWork) rollback() {
	for i := len(u.undos) - 1; i >= 0; i-- {
		u.undos[i]()
	}
}

func (e *Engine) match(taker *TakerOrder, maker *MakerOrder, kind SettlementKind, payWithNative bool) (*Settlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Well-formedness
	if err := maker.Validate(); err != nil {
		return nil, fmt.Errorf("%w: maker: %v", ErrInvalidOrder, err)
	}
	if err := taker.Validate(); err != nil {
		return nil, fmt.Errorf("%w: taker: %v", ErrInvalidOrder, err)
	}
	if maker.TokenID.Cmp(taker.TokenID) != 0 {
		return nil, fmt.Errorf("%w: token id mismatch", ErrInvalidOrder)
	}
	if maker.Amount.Cmp(taker.Amount) != 0 {
		return nil, fmt.Errorf("%w: amount mismatch", ErrInvalidOrder)
	}
	if !e.ledger.IsWhitelisted(maker.Currency) {
		return nil, fmt.Errorf("%w: %s", ErrCurrencyNotWhitelisted, maker.Currency.Hex())
	}

	// Signature
	typedOrder := maker.Typed()
	orderHash, err := e.typed.HashOrder(typedOrder)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	ok, err := e.typed.VerifyOrderSignature(typedOrder, maker.Signature)
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: order %s", ErrInvalidSignature, orderHash.Hex())
	}

	// Validity window: a match exactly at EndTime still succeeds.
	now := uint64(e.clock.Now().Unix())
	if now < maker.StartTime || now > maker.EndTime {
		return nil, fmt.Errorf("%w: now=%d window=[%d,%d]", ErrOrderExpired, now, maker.StartTime, maker.EndTime)
	}

	// Replay protection
	if e.nonces.IsExecutedOrCancelled(maker.Signer, maker.Nonce) {
		return nil, fmt.Errorf("%w: signer %s nonce %d", ErrOrderAlreadyExecuted, maker.Signer.Hex(), maker.Nonce)
	}

	// Strategy
	strategy, found := e.strategies.Lookup(maker.Strategy)
	if !found {
		return nil, fmt.Errorf("%w: id %d", ErrUnsupportedStrategy, maker.Strategy)
	}
	exec, err := strategy.Validate(maker, taker, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStrategyRejected, err)
	}

	feeBps := exec.ProtocolFeeBps
	if feeBps > MaxProtocolFeeBps {
		e.log.Warnw("protocol_fee_clamped", "strategy", maker.Strategy, "declared_bps", feeBps)
		feeBps = MaxProtocolFeeBps
	}

	// Fee split. Royalty lookup failure degrades to zero, never aborts.
	protocolFee := feePortion(exec.Price, feeBps)
	royalty, err := e.royalties.RoyaltyFor(maker.Collection, maker.TokenID)
	if err != nil {
		royalty = RoyaltyInfo{}
	}
	royaltyFee := feePortion(exec.Price, royalty.FeeBps)
	netProceeds := new(big.Int).Sub(exec.Price, protocolFee)
	netProceeds.Sub(netProceeds, royaltyFee)

	// Seller's net-proceeds floor. The seller is whichever side asks.
	var seller, buyer common.Address
	var minToSeller uint16
	if maker.IsAsk {
		seller, buyer = maker.Signer, taker.Taker
		minToSeller = maker.MinPercentageToAsk
	} else {
		seller, buyer = taker.Taker, maker.Signer
		minToSeller = taker.MinPercentageToAsk
	}
	if netProceeds.Cmp(feePortion(exec.Price, minToSeller)) < 0 {
		return nil, fmt.Errorf("%w: net %s below %d bps of %s",
			ErrProceedsBelowMinimum, netProceeds, minToSeller, exec.Price)
	}

	manager, found := e.assets.ManagerFor(maker.Collection)
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCollection, maker.Collection.Hex())
	}

	// Effects. Everything from here is staged and rolled back on failure.
	uow := &unitOfWork{}

	if payWithNative {
		if err := e.ledger.Wrap(buyer, exec.Price); err != nil {
			return nil, fmt.Errorf("%w: wrap: %v", ErrPaymentFailed, err)
		}
		uow.stage(func() { _ = e.ledger.Unwrap(buyer, exec.Price) })
	}

	if err := manager.TransferAsset(maker.Collection, seller, buyer, maker.TokenID, maker.Amount); err != nil {
		uow.rollback()
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	uow.stage(func() {
		_ = manager.TransferAsset(maker.Collection, buyer, seller, maker.TokenID, maker.Amount)
	})

	payments := []struct {
		to     common.Address
		amount *big.Int
	}{
		{seller, netProceeds},
		{e.protocolFeeRecipient, protocolFee},
		{royalty.Recipient, royaltyFee},
	}
	for _, p := range payments {
		if p.amount.Sign() == 0 {
			continue
		}
		to, amount := p.to, p.amount
		if err := e.ledger.Transfer(maker.Currency, buyer, to, amount); err != nil {
			uow.rollback()
			return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
		}
		uow.stage(func() { _ = e.ledger.Transfer(maker.Currency, to, buyer, amount) })
	}

	settlement := Settlement{
		OrderHash:  orderHash,
		OrderNonce: maker.Nonce,
		Taker:      taker.Taker,
		Maker:      maker.Signer,
		Strategy:   maker.Strategy,
		Currency:   maker.Currency,
		Collection: maker.Collection,
		TokenID:    new(big.Int).Set(maker.TokenID),
		Amount:     new(big.Int).Set(maker.Amount),
		Price:      exec.Price,
		Kind:       kind,
		Timestamp:  e.clock.Now().UnixMilli(),
	}

	// Nonce consumption commits in the same batch as the settlement
	// record: either both land or neither does.
	if e.store != nil {
		batch := e.store.NewBatch()
		defer batch.Close()
		payload, err := json.Marshal(&settlement)
		if err != nil {
			uow.rollback()
			return nil, fmt.Errorf("failed to marshal settlement: %w", err)
		}
		if err := batch.MarkNonceUsed(maker.Signer, maker.Nonce); err != nil {
			uow.rollback()
			return nil, fmt.Errorf("failed to stage nonce: %w", err)
		}
		if err := batch.PutSettlement(settlement.Timestamp, orderHash, payload); err != nil {
			uow.rollback()
			return nil, fmt.Errorf("failed to stage settlement: %w", err)
		}
		if err := batch.Commit(); err != nil {
			uow.rollback()
			return nil, fmt.Errorf("failed to commit settlement: %w", err)
		}
	}
	e.nonces.markExecuted(maker.Signer, maker.Nonce)

	e.log.Infow("settlement",
		"kind", string(kind),
		"order_hash", orderHash.Hex(),
		"nonce", maker.Nonce,
		"maker", maker.Signer.Hex(),
		"taker", taker.Taker.Hex(),
		"strategy", maker.Strategy,
		"price", exec.Price.String(),
		"protocol_fee", protocolFee.String(),
		"royalty_fee", royaltyFee.String())

	if e.OnSettlement != nil {
		e.OnSettlement(settlement)
	}

	return &settlement, nil
}
