package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"willvault/config"
	"willvault/core"
	"willvault/core/state"
	"willvault/crypto"
	nativecommon "willvault/native/common"
	"willvault/observability/logging"
	"willvault/observability/otel"
	"willvault/rpc"
	"willvault/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("WILLVAULT_ENV"))
	logger := logging.Setup("willvaultd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if env == "" {
		env = cfg.Environment
	}

	shutdownTelemetry := func(context.Context) error { return nil }
	if cfg.OTLP.Metrics || cfg.OTLP.Traces {
		shutdownTelemetry, err = otel.Init(context.Background(), otel.Config{
			ServiceName: cfg.ServiceName,
			Environment: env,
			Endpoint:    cfg.OTLP.Endpoint,
			Insecure:    cfg.OTLP.Insecure,
			Metrics:     cfg.OTLP.Metrics,
			Traces:      cfg.OTLP.Traces,
		})
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err), slog.String("dataDir", cfg.DataDir))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)

	pauses := nativecommon.StaticPauses{}
	for _, module := range cfg.PausedModules {
		pauses[strings.TrimSpace(module)] = true
	}

	node := core.NewNode(manager, pauses)
	if err := installTokens(node, manager, cfg.Tokens); err != nil {
		logger.Error("Failed to install token ledgers", slog.Any("error", err))
		os.Exit(1)
	}

	allocs, err := genesisAllocs(cfg.Genesis)
	if err != nil {
		logger.Error("Failed to parse genesis allocations", slog.Any("error", err))
		os.Exit(1)
	}
	if err := node.ApplyGenesis(allocs); err != nil {
		logger.Error("Failed to apply genesis allocations", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(node, rpc.ServerConfig{
		AuthToken:        cfg.RPCToken,
		RateLimitPerMin:  cfg.RateLimitPerMin,
		MutationsPerHour: uint32(cfg.MutationsPerHour),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.RPCAddress)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("RPC server failed", slog.Any("error", err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("RPC shutdown failed", slog.Any("error", err))
	}
	if err := shutdownTelemetry(ctx); err != nil {
		logger.Error("Telemetry shutdown failed", slog.Any("error", err))
	}
}

// installTokens registers the configured token contract ledgers and marks
// their addresses as contract accounts so beneficiary approval checks treat
// them correctly.
func installTokens(node *core.Node, manager *state.Manager, tokens []config.TokenConfig) error {
	for _, tok := range tokens {
		decoded, err := crypto.DecodeAddress(strings.TrimSpace(tok.Address))
		if err != nil {
			return fmt.Errorf("token %s: %w", tok.Symbol, err)
		}
		var addr [20]byte
		copy(addr[:], decoded.Bytes())
		if err := manager.MarkContract(addr); err != nil {
			return fmt.Errorf("token %s: %w", tok.Symbol, err)
		}
		switch strings.ToLower(strings.TrimSpace(tok.Kind)) {
		case "fungible":
			node.Tokens().RegisterFungible(addr, tok.Symbol)
		case "nonfungible":
			node.Tokens().RegisterNonFungible(addr, tok.Symbol)
		default:
			return fmt.Errorf("token %s: unknown kind %q", tok.Symbol, tok.Kind)
		}
	}
	return nil
}

// genesisAllocs decodes the configured first-boot balance allocations.
func genesisAllocs(accounts []config.GenesisAccount) ([]core.GenesisAlloc, error) {
	allocs := make([]core.GenesisAlloc, 0, len(accounts))
	for _, acct := range accounts {
		decoded, err := crypto.DecodeAddress(strings.TrimSpace(acct.Address))
		if err != nil {
			return nil, fmt.Errorf("genesis %s: %w", acct.Address, err)
		}
		var addr [20]byte
		copy(addr[:], decoded.Bytes())
		balance, ok := new(big.Int).SetString(strings.TrimSpace(acct.Balance), 10)
		if !ok || balance.Sign() <= 0 {
			return nil, fmt.Errorf("genesis %s: invalid balance %q", acct.Address, acct.Balance)
		}
		allocs = append(allocs, core.GenesisAlloc{Address: addr, Balance: balance})
	}
	return allocs, nil
}
