package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/floorswap/floorswap/params"
	"github.com/floorswap/floorswap/pkg/api"
	"github.com/floorswap/floorswap/pkg/crypto"
	"github.com/floorswap/floorswap/pkg/exchange"
	"github.com/floorswap/floorswap/pkg/storage"
	"github.com/floorswap/floorswap/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Persistence ----
	store, err := storage.NewStore(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("store_open_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer store.Close()

	// ---- Collaborators ----
	typed := crypto.NewTypedSigner(crypto.EIP712Domain{
		Name:              cfg.Protocol.Name,
		Version:           cfg.Protocol.Version,
		ChainID:           cfg.Protocol.ChainID,
		VerifyingContract: cfg.Protocol.VerifyingAddr,
	})

	nonces, err := exchange.NewNonceRegistry(store)
	if err != nil {
		sugar.Fatalw("nonce_registry_init_failed", "err", err)
	}

	strategies := exchange.NewStrategyRegistry()
	strategies.Register(&exchange.FixedPriceStrategy{FeeBps: cfg.Fees.FixedPriceFeeBps})
	strategies.Register(&exchange.DutchAuctionStrategy{
		FeeBps:            cfg.Fees.AuctionFeeBps,
		MinAuctionSeconds: cfg.Fees.MinAuctionSeconds,
	})

	ledger := exchange.NewLedger(cfg.Node.WrappedNative)
	for _, addr := range envAddressList("CURRENCIES") {
		ledger.AddCurrency(addr)
	}

	assets := exchange.NewAssetRegistry()
	unique := exchange.NewUniqueTokenManager()
	multi := exchange.NewMultiTokenManager()
	for _, addr := range envAddressList("COLLECTIONS_UNIQUE") {
		assets.Register(addr, unique)
	}
	for _, addr := range envAddressList("COLLECTIONS_MULTI") {
		assets.Register(addr, multi)
	}

	royalties := exchange.NewRoyaltyRegistry(cfg.Fees.RoyaltyCeilingBps)

	engine := exchange.NewEngine(exchange.EngineDeps{
		Logger:               sugar,
		Clock:                util.RealClock{},
		Typed:                typed,
		Nonces:               nonces,
		Strategies:           strategies,
		Assets:               assets,
		Ledger:               ledger,
		Royalties:            royalties,
		Store:                store,
		ProtocolFeeRecipient: cfg.Fees.ProtocolFeeRecipient,
	})

	separator, err := typed.DomainSeparator()
	if err != nil {
		sugar.Fatalw("domain_separator_failed", "err", err)
	}

	sugar.Infow("exchange_starting",
		"protocol", cfg.Protocol.Name,
		"version", cfg.Protocol.Version,
		"chain_id", cfg.Protocol.ChainID.String(),
		"domain_separator", separator.Hex(),
		"fee_recipient", cfg.Fees.ProtocolFeeRecipient.Hex())

	// ---- API server ----
	server := api.NewServer(engine, sugar)
	go func() {
		if err := server.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	sugar.Info("shutting down")
}

// envAddressList parses a comma-separated address list from an env var.
func envAddressList(key string) []common.Address {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []common.Address
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, common.HexToAddress(part))
	}
	return out
}
