package params

import (
	"math/big"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Protocol struct {
	Name    string
	Version string
	// ChainID and VerifyingAddr pin the EIP-712 domain to this instance.
	ChainID       *big.Int
	VerifyingAddr common.Address
}

type Fees struct {
	ProtocolFeeRecipient common.Address
	FixedPriceFeeBps     uint16
	AuctionFeeBps        uint16
	RoyaltyCeilingBps    uint16
	// MinAuctionSeconds is the shortest permitted Dutch-auction window.
	MinAuctionSeconds uint64
}

type Node struct {
	DBPath        string
	APIAddr       string
	LogFile       string
	WrappedNative common.Address
}

type Config struct {
	Protocol Protocol
	Fees     Fees
	Node     Node
}

func Default() Config {
	return Config{
		Protocol: Protocol{
			Name:    "FloorSwap",
			Version: "1",
			ChainID: big.NewInt(1),
		},
		Fees: Fees{
			FixedPriceFeeBps:  200, // 2%
			AuctionFeeBps:     200,
			RoyaltyCeilingBps: 1000, // 10%
			MinAuctionSeconds: 900,  // 15 min
		},
		Node: Node{
			DBPath:  "data/floorswap",
			APIAddr: ":8080",
			LogFile: "data/node.log",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	if v := os.Getenv("CHAIN_ID"); v != "" {
		if id, ok := new(big.Int).SetString(v, 10); ok {
			cfg.Protocol.ChainID = id
		}
	}
	if v := os.Getenv("VERIFYING_ADDR"); v != "" {
		cfg.Protocol.VerifyingAddr = common.HexToAddress(v)
	}
	if v := os.Getenv("PROTOCOL_FEE_RECIPIENT"); v != "" {
		cfg.Fees.ProtocolFeeRecipient = common.HexToAddress(v)
	}
	if v := os.Getenv("WRAPPED_NATIVE_ADDR"); v != "" {
		cfg.Node.WrappedNative = common.HexToAddress(v)
	}
	if v := os.Getenv("FIXED_PRICE_FEE_BPS"); v != "" {
		if bps, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.Fees.FixedPriceFeeBps = uint16(bps)
		}
	}
	if v := os.Getenv("AUCTION_FEE_BPS"); v != "" {
		if bps, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.Fees.AuctionFeeBps = uint16(bps)
		}
	}
	if v := os.Getenv("ROYALTY_CEILING_BPS"); v != "" {
		if bps, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.Fees.RoyaltyCeilingBps = uint16(bps)
		}
	}
	if v := os.Getenv("MIN_AUCTION_SECONDS"); v != "" {
		if secs, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Fees.MinAuctionSeconds = secs
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Node.DBPath = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}

	return cfg
}
