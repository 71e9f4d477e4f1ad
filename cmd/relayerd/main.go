// Command relayerd runs the CroGas gas-abstraction relayer: meta-transaction
// relay through a MinimalForwarder, x402 payment facilitation, and the
// testnet faucet, behind one HTTP API funded by a single relayer account.
package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	relayer "github.com/crogas/relayer"
	"github.com/crogas/relayer/evm"
	"github.com/crogas/relayer/facilitation"
	"github.com/crogas/relayer/faucet"
	"github.com/crogas/relayer/forwarder"
	relayerhttp "github.com/crogas/relayer/http"
)

type config struct {
	rpcURL          string
	privateKey      string
	forwarderAddr   common.Address
	tokenAddr       common.Address
	tokenName       string
	tokenVersion    string
	conversionRate  string
	stableDecimals  int
	faucetStable    *big.Int
	faucetNative    *big.Int
	rateLimitWindow time.Duration
	rpcTimeout      time.Duration
	listenAddr      string
}

func loadConfig() (config, error) {
	cfg := config{
		rpcURL:         envOr("RPC_URL", "https://evm-t3.cronos.org"),
		privateKey:     os.Getenv("RELAYER_PRIVATE_KEY"),
		tokenName:      envOr("USDC_NAME", "USD Coin"),
		tokenVersion:   envOr("USDC_VERSION", "2"),
		conversionRate: envOr("CONVERSION_RATE", "0.10"),
		stableDecimals: 6,
		listenAddr:     ":" + envOr("PORT", "3000"),
	}
	if cfg.privateKey == "" {
		return config{}, fmt.Errorf("RELAYER_PRIVATE_KEY is required")
	}

	var err error
	if cfg.forwarderAddr, err = envAddress("FORWARDER_ADDRESS", "0x523D5F604788a9cFC74CcF81F0DE5B3b5623635F"); err != nil {
		return config{}, err
	}
	if cfg.tokenAddr, err = envAddress("USDC_ADDRESS", "0xF94b01ec5Bdc9F77cB77d4Cb1d5036D0b3f79C92"); err != nil {
		return config{}, err
	}
	// 10 USDC at 6 decimals, 1 native token in wei.
	if cfg.faucetStable, err = envBig("FAUCET_USDC_AMOUNT", "10000000"); err != nil {
		return config{}, err
	}
	if cfg.faucetNative, err = envBig("FAUCET_NATIVE_AMOUNT", "1000000000000000000"); err != nil {
		return config{}, err
	}
	if cfg.rateLimitWindow, err = envSeconds("RATE_LIMIT_WINDOW", 86400); err != nil {
		return config{}, err
	}
	if cfg.rpcTimeout, err = envSeconds("RPC_TIMEOUT", 10); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envAddress(key, def string) (common.Address, error) {
	v := envOr(key, def)
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", key, v)
	}
	return common.HexToAddress(v), nil
}

func envBig(key, def string) (*big.Int, error) {
	v := envOr(key, def)
	n, ok := new(big.Int).SetString(v, 10)
	if !ok || n.Sign() <= 0 {
		return nil, fmt.Errorf("%s: invalid amount %q", key, v)
	}
	return n, nil
}

func envSeconds(key string, def int64) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(def) * time.Second, nil
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil || secs <= 0 {
		return 0, fmt.Errorf("%s: invalid seconds value %q", key, v)
	}
	return time.Duration(secs) * time.Second, nil
}

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("relayerd exited", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway, err := evm.Dial(ctx, cfg.rpcURL, cfg.privateKey, cfg.rpcTimeout, log)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer gateway.Close()

	rate, err := relayer.NewConversionRate(cfg.conversionRate, cfg.stableDecimals)
	if err != nil {
		return err
	}
	pricing := relayer.NewPricingEngine(rate, cfg.stableDecimals)

	relaySvc := forwarder.NewService(gateway, pricing, cfg.forwarderAddr, "MinimalForwarder", "1", log)
	facilitator := facilitation.NewFacilitator(gateway, pricing, cfg.tokenAddr, cfg.tokenName, cfg.tokenVersion, log)
	faucetSvc := faucet.NewService(gateway, cfg.tokenAddr, cfg.faucetStable, cfg.faucetNative,
		faucet.NewWindow(cfg.rateLimitWindow), log)

	gin.SetMode(gin.ReleaseMode)
	server := relayerhttp.NewServer(relaySvc, facilitator, faucetSvc, log)

	httpServer := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("relayerd listening",
			zap.String("addr", cfg.listenAddr),
			zap.String("chainId", gateway.ChainID().String()),
			zap.String("relayer", gateway.RelayerAddress().Hex()),
			zap.String("forwarder", cfg.forwarderAddr.Hex()),
			zap.String("usdc", cfg.tokenAddr.Hex()))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
