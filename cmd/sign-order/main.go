package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/floorswap/floorswap/params"
	"github.com/floorswap/floorswap/pkg/crypto"
	"github.com/floorswap/floorswap/pkg/exchange"
)

func main() {
	// Step 1: Generate or load key
	fmt.Println("Generating new keypair...")
	signer, err := crypto.GenerateKey()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())

	// Step 2: Build a maker ask (fixed price, valid for 24h)
	now := uint64(time.Now().Unix())
	order := &exchange.MakerOrder{
		IsAsk:              true,
		Signer:             signer.Address(),
		Collection:         common.HexToAddress("0x00000000000000000000000000000000000c0001"),
		Price:              big.NewInt(1_000_000_000_000_000_000), // 1 wrapped-native unit
		TokenID:            big.NewInt(42),
		Amount:             big.NewInt(1),
		Strategy:           exchange.StrategyFixedPrice,
		Currency:           common.HexToAddress("0x000000000000000000000000000000000000f00d"),
		Nonce:              1,
		StartTime:          now,
		EndTime:            now + 86400,
		MinPercentageToAsk: 8500, // keep at least 85% after fees
	}

	fmt.Println("Order Details:")
	fmt.Printf("  Collection: %s\n", order.Collection.Hex())
	fmt.Printf("  TokenID: %s\n", order.TokenID.String())
	fmt.Printf("  Price: %s\n", order.Price.String())
	fmt.Printf("  Nonce: %d\n", order.Nonce)
	fmt.Printf("  Valid: [%d, %d]\n\n", order.StartTime, order.EndTime)

	// Step 3: Sign with EIP-712 under the instance domain. The domain
	// comes from the same config the node loads, so signatures produced
	// here verify against the running instance.
	cfg := params.LoadFromEnv("")
	typed := crypto.NewTypedSigner(crypto.EIP712Domain{
		Name:              cfg.Protocol.Name,
		Version:           cfg.Protocol.Version,
		ChainID:           cfg.Protocol.ChainID,
		VerifyingContract: cfg.Protocol.VerifyingAddr,
	})
	fmt.Printf("Domain: %s v%s chainId=%s verifier=%s\n\n",
		cfg.Protocol.Name, cfg.Protocol.Version,
		cfg.Protocol.ChainID.String(), cfg.Protocol.VerifyingAddr.Hex())

	signature, err := typed.SignOrder(signer, order.Typed())
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	order.Signature = signature

	orderHash, err := typed.HashOrder(order.Typed())
	if err != nil {
		fmt.Printf("Error hashing: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Order Hash: %s\n", orderHash.Hex())
	fmt.Printf("Signature: %s\n\n", hexutil.Encode(signature))

	// Step 4: Verify round trip
	fmt.Println("Verifying signature...")
	valid, err := typed.VerifyOrderSignature(order.Typed(), signature)
	if err != nil {
		fmt.Printf("Error verifying: %v\n", err)
		os.Exit(1)
	}
	if !valid {
		fmt.Println("✗ Signature INVALID")
		os.Exit(1)
	}
	fmt.Println("✓ Signature VALID")

	recovered, err := typed.RecoverOrderSigner(order.Typed(), signature)
	if err == nil {
		fmt.Printf("  Signer: %s\n\n", recovered.Hex())
	}

	// Step 5: Show wallet-ready typed data and submission payload
	walletJSON, err := typed.OrderToJSON(order.Typed())
	if err == nil {
		fmt.Println("Typed data (eth_signTypedData_v4):")
		fmt.Println(walletJSON)
		fmt.Println()
	}

	orderJSON, err := json.MarshalIndent(order, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("To settle against this order:")
	fmt.Println("  POST http://localhost:8080/api/v1/match/ask-with-taker-bid")
	fmt.Println("  Content-Type: application/json")
	fmt.Println("  Body (maker side):")
	fmt.Println(string(orderJSON))
}
