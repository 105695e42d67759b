package exchange

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/floorswap/floorswap/pkg/crypto"
	"github.com/floorswap/floorswap/pkg/storage"
	"github.com/floorswap/floorswap/pkg/util"
)

var (
	uniqueColl = common.HexToAddress("0x00000000000000000000000000000000000c0002")
	multiColl  = common.HexToAddress("0x00000000000000000000000000000000000c0003")
	feeWallet  = common.HexToAddress("0x000000000000000000000000000000000000fee1")
	artist     = common.HexToAddress("0x0000000000000000000000000000000000a57157")
)

type engineFixture struct {
	engine     *Engine
	clock      *util.FakeClock
	typed      *crypto.TypedSigner
	ledger     *Ledger
	unique     *UniqueTokenManager
	multi      *MultiTokenManager
	strategies *StrategyRegistry
	royalties  *RoyaltyRegistry
	seller     *crypto.Signer
	buyer      *crypto.Signer
}

func newEngineFixture(t *testing.T, store *storage.Store) *engineFixture {
	t.Helper()

	seller, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate seller key: %v", err)
	}
	buyer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate buyer key: %v", err)
	}

	typed := crypto.NewTypedSigner(crypto.EIP712Domain{
		Name:              "FloorSwap",
		Version:           "1",
		ChainID:           big.NewInt(31337),
		VerifyingContract: common.HexToAddress("0x00000000000000000000000000000000000e0001"),
	})

	nonces, err := NewNonceRegistry(store)
	if err != nil {
		t.Fatalf("nonce registry: %v", err)
	}

	strategies := NewStrategyRegistry()
	strategies.Register(&FixedPriceStrategy{FeeBps: 200})
	strategies.Register(&DutchAuctionStrategy{FeeBps: 200, MinAuctionSeconds: 900})

	unique := NewUniqueTokenManager()
	multi := NewMultiTokenManager()
	assets := NewAssetRegistry()
	assets.Register(uniqueColl, unique)
	assets.Register(multiColl, multi)
	unique.Mint(uniqueColl, big.NewInt(7), seller.Address())
	multi.Mint(multiColl, big.NewInt(3), seller.Address(), big.NewInt(10))

	ledger := NewLedger(weth)
	ledger.AddCurrency(usdc)
	ledger.Mint(weth, buyer.Address(), big.NewInt(1_000_000))
	ledger.MintNative(buyer.Address(), big.NewInt(1_000_000))

	royalties := NewRoyaltyRegistry(1000)
	royalties.Set(uniqueColl, RoyaltyInfo{Recipient: artist, FeeBps: 500})
	// multiColl has no royalty entry on purpose

	clock := util.NewFakeClock(time.Unix(1500, 0))

	engine := NewEngine(EngineDeps{
		Clock:                clock,
		Typed:                typed,
		Nonces:               nonces,
		Strategies:           strategies,
		Assets:               assets,
		Ledger:               ledger,
		Royalties:            royalties,
		Store:                store,
		ProtocolFeeRecipient: feeWallet,
	})

	return &engineFixture{
		engine:     engine,
		clock:      clock,
		typed:      typed,
		ledger:     ledger,
		unique:     unique,
		multi:      multi,
		strategies: strategies,
		royalties:  royalties,
		seller:     seller,
		buyer:      buyer,
	}
}

func (f *engineFixture) sign(t *testing.T, order *MakerOrder, key *crypto.Signer) {
	t.Helper()
	sig, err := f.typed.SignOrder(key, order.Typed())
	if err != nil {
		t.Fatalf("sign order: %v", err)
	}
	order.Signature = sig
}

// signedAsk builds a fixed-price ask for the unique token, signed by the
// fixture's seller.
func (f *engineFixture) signedAsk(t *testing.T, nonce uint64, price int64) *MakerOrder {
	t.Helper()
	order := &MakerOrder{
		IsAsk:              true,
		Signer:             f.seller.Address(),
		Collection:         uniqueColl,
		Price:              big.NewInt(price),
		TokenID:            big.NewInt(7),
		Amount:             big.NewInt(1),
		Strategy:           StrategyFixedPrice,
		Currency:           weth,
		Nonce:              nonce,
		StartTime:          1000,
		EndTime:            2000,
		MinPercentageToAsk: 8500,
	}
	f.sign(t, order, f.seller)
	return order
}

func bidFor(order *MakerOrder, taker common.Address) *TakerOrder {
	return &TakerOrder{
		IsAsk:   false,
		Taker:   taker,
		Price:   new(big.Int).Set(order.Price),
		TokenID: new(big.Int).Set(order.TokenID),
		Amount:  new(big.Int).Set(order.Amount),
	}
}

func TestMatchAskWithTakerBidEndToEnd(t *testing.T) {
	store, err := storage.NewStore(t.TempDir() + "/db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	f := newEngineFixture(t, store)

	var emitted []Settlement
	f.engine.OnSettlement = func(s Settlement) { emitted = append(emitted, s) }

	ask := f.signedAsk(t, 1, 10_000)
	wantHash, err := f.typed.HashOrder(ask.Typed())
	if err != nil {
		t.Fatalf("hash order: %v", err)
	}

	s, err := f.engine.MatchAskWithTakerBid(bidFor(ask, f.buyer.Address()), ask)
	if err != nil {
		t.Fatalf("match: %v", err)
	}

	if s.OrderHash != wantHash {
		t.Errorf("order hash = %s, want %s", s.OrderHash.Hex(), wantHash.Hex())
	}
	if s.Kind != SettlementTakerBid {
		t.Errorf("kind = %s, want %s", s.Kind, SettlementTakerBid)
	}
	if s.OrderNonce != 1 || s.Maker != f.seller.Address() || s.Taker != f.buyer.Address() {
		t.Error("settlement parties do not match the orders")
	}
	if s.Price.Cmp(big.NewInt(10_000)) != 0 {
		t.Errorf("price = %s, want 10000", s.Price)
	}

	// Custody moved
	owner, _ := f.unique.OwnerOf(uniqueColl, big.NewInt(7))
	if owner != f.buyer.Address() {
		t.Errorf("owner = %s, want buyer", owner.Hex())
	}

	// 200 bps protocol + 500 bps royalty on 10000: 200 + 500 + 9300
	checks := []struct {
		name string
		who  common.Address
		want int64
	}{
		{"buyer", f.buyer.Address(), 990_000},
		{"seller", f.seller.Address(), 9_300},
		{"protocol", feeWallet, 200},
		{"artist", artist, 500},
	}
	for _, c := range checks {
		if got := f.ledger.BalanceOf(weth, c.who); got.Cmp(big.NewInt(c.want)) != 0 {
			t.Errorf("%s balance = %s, want %d", c.name, got, c.want)
		}
	}

	// Nonce consumed, record persisted, event emitted
	if !f.engine.IsUserOrderNonceExecutedOrCancelled(f.seller.Address(), 1) {
		t.Error("nonce 1 should be consumed")
	}
	persisted, err := f.engine.GetSettlement(wantHash)
	if err != nil || persisted == nil {
		t.Fatalf("persisted settlement missing: %v", err)
	}
	if persisted.OrderHash != wantHash || persisted.OrderNonce != 1 {
		t.Error("persisted settlement does not match")
	}
	if len(emitted) != 1 || emitted[0].OrderHash != wantHash {
		t.Errorf("emitted %d events, want 1 with matching hash", len(emitted))
	}
}

func TestReplayRejected(t *testing.T) {
	f := newEngineFixture(t, nil)
	ask := f.signedAsk(t, 1, 10_000)

	if _, err := f.engine.MatchAskWithTakerBid(bidFor(ask, f.buyer.Address()), ask); err != nil {
		t.Fatalf("first match: %v", err)
	}

	// Give the asset back so only the nonce can block the replay
	if err := f.unique.TransferAsset(uniqueColl, f.buyer.Address(), f.seller.Address(), big.NewInt(7), big.NewInt(1)); err != nil {
		t.Fatalf("return asset: %v", err)
	}

	_, err := f.engine.MatchAskWithTakerBid(bidFor(ask, f.buyer.Address()), ask)
	if !errors.Is(err, ErrOrderAlreadyExecuted) {
		t.Errorf("err = %v, want ErrOrderAlreadyExecuted", err)
	}
}

func TestSignatureBinding(t *testing.T) {
	f := newEngineFixture(t, nil)

	// Tampered field after signing
	ask := f.signedAsk(t, 1, 10_000)
	ask.Price = big.NewInt(9_000)
	taker := bidFor(ask, f.buyer.Address())
	if _, err := f.engine.MatchAskWithTakerBid(taker, ask); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered order: err = %v, want ErrInvalidSignature", err)
	}

	// Signed by a key that is not the declared signer
	ask = f.signedAsk(t, 2, 10_000)
	f.sign(t, ask, f.buyer)
	if _, err := f.engine.MatchAskWithTakerBid(bidFor(ask, f.buyer.Address()), ask); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("wrong key: err = %v, want ErrInvalidSignature", err)
	}

	// No signature at all
	ask = f.signedAsk(t, 3, 10_000)
	ask.Signature = nil
	if _, err := f.engine.MatchAskWithTakerBid(bidFor(ask, f.buyer.Address()), ask); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("missing signature: err = %v, want ErrInvalidSignature", err)
	}
}

func TestValidityWindowBoundaries(t *testing.T) {
	f := newEngineFixture(t, nil)

	f.clock.Set(time.Unix(999, 0))
	ask := f.signedAsk(t, 1, 10_000)
	if _, err := f.engine.MatchAskWithTakerBid(bidFor(ask, f.buyer.Address()), ask); !errors.Is(err, ErrOrderExpired) {
		t.Errorf("before start: err = %v, want ErrOrderExpired", err)
	}

	// A match exactly at the end of the window still succeeds
	f.clock.Set(time.Unix(2000, 0))
	if _, err := f.engine.MatchAskWithTakerBid(bidFor(ask, f.buyer.Address()), ask); err != nil {
		t.Errorf("at end time: %v", err)
	}

	f.clock.Set(time.Unix(2001, 0))
	late := f.signedAsk(t, 2, 10_000)
	if _, err := f.engine.MatchAskWithTakerBid(bidFor(late, f.buyer.Address()), late); !errors.Is(err, ErrOrderExpired) {
		t.Errorf("after end time: err = %v, want ErrOrderExpired", err)
	}
}

func TestFeeConservationWithRounding(t *testing.T) {
	f := newEngineFixture(t, nil)

	// 9999 at 200 bps protocol and 500 bps royalty: both fees round down
	// and the remainder goes to the seller, reconstructing the price.
	ask := f.signedAsk(t, 1, 9_999)
	if _, err := f.engine.MatchAskWithTakerBid(bidFor(ask, f.buyer.Address()), ask); err != nil {
		t.Fatalf("match: %v", err)
	}

	protocol := f.ledger.BalanceOf(weth, feeWallet)
	royalty := f.ledger.BalanceOf(weth, artist)
	net := f.ledger.BalanceOf(weth, f.seller.Address())

	if protocol.Cmp(big.NewInt(199)) != 0 {
		t.Errorf("protocol fee = %s, want 199", protocol)
	}
	if royalty.Cmp(big.NewInt(499)) != 0 {
		t.Errorf("royalty fee = %s, want 499", royalty)
	}
	total := new(big.Int).Add(protocol, royalty)
	total.Add(total, net)
	if total.Cmp(big.NewInt(9_999)) != 0 {
		t.Errorf("fees + proceeds = %s, want 9999", total)
	}
}

func TestMissingRoyaltyEntrySettlesWithZeroRoyalty(t *testing.T) {
	f := newEngineFixture(t, nil)

	ask := f.signedAsk(t, 1, 10_000)
	ask.Collection = multiColl
	ask.TokenID = big.NewInt(3)
	ask.Amount = big.NewInt(4)
	f.sign(t, ask, f.seller)

	if _, err := f.engine.MatchAskWithTakerBid(bidFor(ask, f.buyer.Address()), ask); err != nil {
		t.Fatalf("match: %v", err)
	}

	if got := f.ledger.BalanceOf(weth, f.seller.Address()); got.Cmp(big.NewInt(9_800)) != 0 {
		t.Errorf("seller = %s, want 9800 (price minus protocol fee only)", got)
	}
	if got := f.multi.BalanceOf(multiColl, big.NewInt(3), f.buyer.Address()); got.Cmp(big.NewInt(4)) != 0 {
		t.Errorf("buyer units = %s, want 4", got)
	}
}

func TestProtocolFeeClampedAtCeiling(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.strategies.Register(&FixedPriceStrategy{FeeBps: 3000}) // over the 2500 cap

	ask := f.signedAsk(t, 1, 10_000)
	ask.MinPercentageToAsk = 5000
	f.sign(t, ask, f.seller)

	if _, err := f.engine.MatchAskWithTakerBid(bidFor(ask, f.buyer.Address()), ask); err != nil {
		t.Fatalf("match: %v", err)
	}
	if got := f.ledger.BalanceOf(weth, feeWallet); got.Cmp(big.NewInt(2_500)) != 0 {
		t.Errorf("protocol fee = %s, want 2500 (clamped)", got)
	}
}

func TestMinProceedsGuardBlocksWithoutSideEffects(t *testing.T) {
	f := newEngineFixture(t, nil)

	ask := f.signedAsk(t, 1, 10_000)
	ask.MinPercentageToAsk = 9_900 // net would be 9300
	f.sign(t, ask, f.seller)

	_, err := f.engine.MatchAskWithTakerBid(bidFor(ask, f.buyer.Address()), ask)
	if !errors.Is(err, ErrProceedsBelowMinimum) {
		t.Fatalf("err = %v, want ErrProceedsBelowMinimum", err)
	}

	owner, _ := f.unique.OwnerOf(uniqueColl, big.NewInt(7))
	if owner != f.seller.Address() {
		t.Error("asset must not move on a rejected match")
	}
	if got := f.ledger.BalanceOf(weth, f.buyer.Address()); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("buyer = %s, funds must not move", got)
	}
	if f.engine.IsUserOrderNonceExecutedOrCancelled(f.seller.Address(), 1) {
		t.Error("nonce must stay live after a rejected match")
	}
}

func TestCancelledOrdersCannotMatch(t *testing.T) {
	f := newEngineFixture(t, nil)

	ask := f.signedAsk(t, 5, 10_000)
	if err := f.engine.CancelOrderNonces(f.seller.Address(), []uint64{5}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.engine.MatchAskWithTakerBid(bidFor(ask, f.buyer.Address()), ask); !errors.Is(err, ErrOrderAlreadyExecuted) {
		t.Errorf("cancelled nonce: err = %v, want ErrOrderAlreadyExecuted", err)
	}

	// Bulk cancellation invalidates nonces never seen before
	ask2 := f.signedAsk(t, 8, 10_000)
	if err := f.engine.CancelAllOrdersForSender(f.seller.Address(), 10); err != nil {
		t.Fatalf("cancel all: %v", err)
	}
	if _, err := f.engine.MatchAskWithTakerBid(bidFor(ask2, f.buyer.Address()), ask2); !errors.Is(err, ErrOrderAlreadyExecuted) {
		t.Errorf("below-floor nonce: err = %v, want ErrOrderAlreadyExecuted", err)
	}
}

func TestTransferFailureRollsBack(t *testing.T) {
	f := newEngineFixture(t, nil)

	// Seller no longer owns the token
	other := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	if err := f.unique.TransferAsset(uniqueColl, f.seller.Address(), other, big.NewInt(7), big.NewInt(1)); err != nil {
		t.Fatalf("setup transfer: %v", err)
	}

	ask := f.signedAsk(t, 1, 10_000)
	_, err := f.engine.MatchAskWithTakerBid(bidFor(ask, f.buyer.Address()), ask)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	if got := f.ledger.BalanceOf(weth, f.buyer.Address()); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("buyer = %s, funds must not move", got)
	}
	if f.engine.IsUserOrderNonceExecutedOrCancelled(f.seller.Address(), 1) {
		t.Error("nonce must stay live after a failed match")
	}
}

func TestPaymentFailureReturnsAsset(t *testing.T) {
	f := newEngineFixture(t, nil)

	poor, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	ask := f.signedAsk(t, 1, 10_000)
	_, err = f.engine.MatchAskWithTakerBid(bidFor(ask, poor.Address()), ask)
	if !errors.Is(err, ErrPaymentFailed) {
		t.Fatalf("err = %v, want ErrPaymentFailed", err)
	}

	// The asset transfer happened before the payment and must be undone
	owner, _ := f.unique.OwnerOf(uniqueColl, big.NewInt(7))
	if owner != f.seller.Address() {
		t.Errorf("owner = %s, want seller after rollback", owner.Hex())
	}
	if f.engine.IsUserOrderNonceExecutedOrCancelled(f.seller.Address(), 1) {
		t.Error("nonce must stay live after a failed match")
	}
}

func TestMatchBidWithTakerAsk(t *testing.T) {
	f := newEngineFixture(t, nil)

	// Buyer signs a maker bid; seller takes it with an ask and carries the
	// net-proceeds floor.
	bid := &MakerOrder{
		IsAsk:      false,
		Signer:     f.buyer.Address(),
		Collection: uniqueColl,
		Price:      big.NewInt(10_000),
		TokenID:    big.NewInt(7),
		Amount:     big.NewInt(1),
		Strategy:   StrategyFixedPrice,
		Currency:   weth,
		Nonce:      1,
		StartTime:  1000,
		EndTime:    2000,
	}
	f.sign(t, bid, f.buyer)

	takerAsk := &TakerOrder{
		IsAsk:              true,
		Taker:              f.seller.Address(),
		Price:              big.NewInt(10_000),
		TokenID:            big.NewInt(7),
		Amount:             big.NewInt(1),
		MinPercentageToAsk: 9_000,
	}

	_, err := f.engine.MatchBidWithTakerAsk(takerAsk, bid)
	if err != nil {
		t.Fatalf("match: %v", err)
	}

	owner, _ := f.unique.OwnerOf(uniqueColl, big.NewInt(7))
	if owner != f.buyer.Address() {
		t.Errorf("owner = %s, want buyer", owner.Hex())
	}
	if got := f.ledger.BalanceOf(weth, f.seller.Address()); got.Cmp(big.NewInt(9_300)) != 0 {
		t.Errorf("seller = %s, want 9300", got)
	}

	// The taker's floor applies on this side
	takerAsk.MinPercentageToAsk = 9_900
	bid.Nonce = 2
	f.sign(t, bid, f.buyer)
	if _, err := f.engine.MatchBidWithTakerAsk(takerAsk, bid); !errors.Is(err, ErrProceedsBelowMinimum) {
		t.Errorf("err = %v, want ErrProceedsBelowMinimum", err)
	}
}

func TestNativePaymentBridging(t *testing.T) {
	f := newEngineFixture(t, nil)

	ask := f.signedAsk(t, 1, 10_000)
	if _, err := f.engine.MatchAskWithTakerBidUsingNative(bidFor(ask, f.buyer.Address()), ask); err != nil {
		t.Fatalf("match: %v", err)
	}

	// Price came out of native balance; the wrapped balance is untouched
	// because the wrap and the payment cancel out.
	if got := f.ledger.NativeBalanceOf(f.buyer.Address()); got.Cmp(big.NewInt(990_000)) != 0 {
		t.Errorf("native = %s, want 990000", got)
	}
	if got := f.ledger.BalanceOf(weth, f.buyer.Address()); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("wrapped = %s, want 1000000", got)
	}
	if got := f.ledger.BalanceOf(weth, f.seller.Address()); got.Cmp(big.NewInt(9_300)) != 0 {
		t.Errorf("seller = %s, want 9300", got)
	}
}

func TestNativePaymentRequiresWrappedNativeCurrency(t *testing.T) {
	f := newEngineFixture(t, nil)

	ask := f.signedAsk(t, 1, 10_000)
	ask.Currency = usdc
	f.sign(t, ask, f.seller)

	_, err := f.engine.MatchAskWithTakerBidUsingNative(bidFor(ask, f.buyer.Address()), ask)
	if !errors.Is(err, ErrCurrencyNotWhitelisted) {
		t.Errorf("err = %v, want ErrCurrencyNotWhitelisted", err)
	}
}

func TestNativeWrapRolledBackOnFailure(t *testing.T) {
	f := newEngineFixture(t, nil)

	other := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	if err := f.unique.TransferAsset(uniqueColl, f.seller.Address(), other, big.NewInt(7), big.NewInt(1)); err != nil {
		t.Fatalf("setup transfer: %v", err)
	}

	ask := f.signedAsk(t, 1, 10_000)
	_, err := f.engine.MatchAskWithTakerBidUsingNative(bidFor(ask, f.buyer.Address()), ask)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("err = %v, want ErrTransferFailed", err)
	}
	if got := f.ledger.NativeBalanceOf(f.buyer.Address()); got.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Errorf("native = %s, want full balance restored", got)
	}
}

func TestSideMismatchRejected(t *testing.T) {
	f := newEngineFixture(t, nil)

	bid := f.signedAsk(t, 1, 10_000)
	bid.IsAsk = false
	f.sign(t, bid, f.seller)

	if _, err := f.engine.MatchAskWithTakerBid(bidFor(bid, f.buyer.Address()), bid); !errors.Is(err, ErrSideMismatch) {
		t.Errorf("maker bid on ask path: err = %v, want ErrSideMismatch", err)
	}

	ask := f.signedAsk(t, 2, 10_000)
	takerAsk := bidFor(ask, f.buyer.Address())
	takerAsk.IsAsk = true
	if _, err := f.engine.MatchBidWithTakerAsk(takerAsk, ask); !errors.Is(err, ErrSideMismatch) {
		t.Errorf("maker ask on bid path: err = %v, want ErrSideMismatch", err)
	}
}

func TestUnsupportedStrategyCollectionCurrency(t *testing.T) {
	f := newEngineFixture(t, nil)

	ask := f.signedAsk(t, 1, 10_000)
	ask.Strategy = 9
	f.sign(t, ask, f.seller)
	if _, err := f.engine.MatchAskWithTakerBid(bidFor(ask, f.buyer.Address()), ask); !errors.Is(err, ErrUnsupportedStrategy) {
		t.Errorf("unknown strategy: err = %v, want ErrUnsupportedStrategy", err)
	}

	ask = f.signedAsk(t, 2, 10_000)
	ask.Collection = common.HexToAddress("0x00000000000000000000000000000000000c9999")
	f.sign(t, ask, f.seller)
	if _, err := f.engine.MatchAskWithTakerBid(bidFor(ask, f.buyer.Address()), ask); !errors.Is(err, ErrUnsupportedCollection) {
		t.Errorf("unknown collection: err = %v, want ErrUnsupportedCollection", err)
	}

	ask = f.signedAsk(t, 3, 10_000)
	ask.Currency = common.HexToAddress("0x000000000000000000000000000000000000beef")
	f.sign(t, ask, f.seller)
	if _, err := f.engine.MatchAskWithTakerBid(bidFor(ask, f.buyer.Address()), ask); !errors.Is(err, ErrCurrencyNotWhitelisted) {
		t.Errorf("unlisted currency: err = %v, want ErrCurrencyNotWhitelisted", err)
	}
}

func TestDutchAuctionSettlesAtDecayedPrice(t *testing.T) {
	f := newEngineFixture(t, nil)

	ask := f.signedAsk(t, 1, 1_000)
	ask.Strategy = StrategyDutchAuction
	ask.Params = big.NewInt(2_000).Bytes()
	ask.MinPercentageToAsk = 8_000
	f.sign(t, ask, f.seller)

	// Midpoint of [1000, 2000]: price decayed from 2000 to 1500
	taker := bidFor(ask, f.buyer.Address())
	taker.Price = big.NewInt(1_500)

	s, err := f.engine.MatchAskWithTakerBid(taker, ask)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if s.Price.Cmp(big.NewInt(1_500)) != 0 {
		t.Errorf("settlement price = %s, want 1500 (decayed)", s.Price)
	}

	// 200 bps protocol (30) + 500 bps royalty (75) on 1500
	if got := f.ledger.BalanceOf(weth, f.seller.Address()); got.Cmp(big.NewInt(1_395)) != 0 {
		t.Errorf("seller = %s, want 1395", got)
	}
}

func TestSettlementSurvivesRestart(t *testing.T) {
	dir := t.TempDir() + "/db"

	store, err := storage.NewStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	f := newEngineFixture(t, store)
	ask := f.signedAsk(t, 1, 10_000)
	hash, err := f.typed.HashOrder(ask.Typed())
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if _, err := f.engine.MatchAskWithTakerBid(bidFor(ask, f.buyer.Address()), ask); err != nil {
		t.Fatalf("match: %v", err)
	}
	store.Close()

	store2, err := storage.NewStore(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store2.Close()
	f2 := newEngineFixture(t, store2)

	// The record and the consumed nonce are both durable
	persisted, err := f2.engine.GetSettlement(hash)
	if err != nil || persisted == nil {
		t.Fatalf("settlement lost across restart: %v", err)
	}
	if persisted.OrderNonce != 1 {
		t.Errorf("nonce = %d, want 1", persisted.OrderNonce)
	}
	if !f2.engine.IsUserOrderNonceExecutedOrCancelled(f.seller.Address(), 1) {
		t.Error("consumed nonce lost across restart")
	}

	// Replaying the original order against the restarted engine fails on
	// the nonce even though the new fixture reseeded assets and funds.
	if _, err := f2.engine.MatchAskWithTakerBid(bidFor(ask, f2.buyer.Address()), ask); !errors.Is(err, ErrOrderAlreadyExecuted) {
		t.Errorf("err = %v, want ErrOrderAlreadyExecuted", err)
	}

	recent, err := f2.engine.RecentSettlements(10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].OrderHash != hash {
		t.Errorf("recent settlements = %d records, want the one match", len(recent))
	}
}
