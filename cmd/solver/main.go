// Command solver is the cross-chain intent solver's process entrypoint:
// it loads configuration, constructs every plugin registry (chain
// adapters, order standards, settlement mechanisms, a storage backend),
// wires the coordinator, starts the configured discovery sources and a
// minimal health surface, and shuts everything down cooperatively on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/certen/intent-solver/pkg/chainadapter"
	"github.com/certen/intent-solver/pkg/config"
	"github.com/certen/intent-solver/pkg/coordinator"
	"github.com/certen/intent-solver/pkg/delivery"
	"github.com/certen/intent-solver/pkg/discovery"
	"github.com/certen/intent-solver/pkg/eventbus"
	"github.com/certen/intent-solver/pkg/logging"
	"github.com/certen/intent-solver/pkg/monitoring"
	"github.com/certen/intent-solver/pkg/orderstandard"
	"github.com/certen/intent-solver/pkg/settlement"
	"github.com/certen/intent-solver/pkg/solvertypes"
	"github.com/certen/intent-solver/pkg/storage"
	"github.com/certen/intent-solver/pkg/strategy"
)

func main() {
	if len(os.Args) >= 3 && os.Args[1] == "config" && os.Args[2] == "init" {
		runConfigInit(os.Args[3:])
		return
	}
	runSolver(os.Args[1:])
}

func runConfigInit(args []string) {
	fs := flag.NewFlagSet("config init", flag.ExitOnError)
	out := fs.String("out", "solver.yaml", "path to write the example configuration")
	_ = fs.Parse(args)
	if err := config.WriteExample(*out); err != nil {
		logging.Default().Fatal("write example configuration", "error", err)
	}
	fmt.Printf("wrote example configuration to %s\n", *out)
}

func runSolver(args []string) {
	fs := flag.NewFlagSet("solver", flag.ExitOnError)
	configPath := fs.String("config", "", "path to solver configuration (TOML, JSON, or YAML)")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Default().Fatal("load config", "error", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		logging.Default().Fatal("build logger", "error", err)
	}
	logging.SetDefault(logger)
	logger = logger.WithComponent("solver")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build app", "error", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for _, src := range app.sources {
		app.coord.RunSource(ctx, src)
	}

	coordDone := make(chan error, 1)
	go func() { coordDone <- app.coord.Run(ctx) }()

	httpDone := make(chan error, 1)
	go func() { httpDone <- app.health.ListenAndServe() }()

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-coordDone:
		if err != nil {
			logger.WithError(err).Error("coordinator exited")
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.health.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("health server shutdown failed")
	}

	select {
	case <-coordDone:
	case <-time.After(30 * time.Second):
		logger.Warn("coordinator did not stop within deadline")
	}

	if err := app.store.Close(); err != nil {
		logger.WithError(err).Warn("storage close failed")
	}
	logger.Info("solver stopped")
}

// buildLogger turns the monitoring section into the process logger.
// An unknown level string falls back to info rather than refusing to
// start.
func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Monitoring.LogLevel)
	if err != nil {
		logging.Default().Warn("unknown log level, using info", "log_level", cfg.Monitoring.LogLevel)
	}
	return logging.NewLogger(&logging.Config{
		Level:  level,
		Format: cfg.Monitoring.LogFormat,
		Output: "stdout",
	})
}

type app struct {
	coord   *coordinator.Coordinator
	store   storage.Store
	sources []discovery.Source
	health  *http.Server
}

// buildApp wires every registry and the coordinator from cfg, following
// the dependency order the coordinator's constructor requires: storage,
// adapters, standards, mechanisms, delivery, strategy, bus, metrics.
func buildApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	store, err := buildStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	adapters, err := buildAdapters(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("chain adapters: %w", err)
	}

	standards := orderstandard.NewRegistry()
	standards.Register(orderstandard.NewEIP7683Standard())

	mechanisms := buildSettlement(cfg, adapters)

	del := delivery.New(adapters)

	strat := strategy.NewFromConfig(buildStrategyConfig(cfg))

	bus := eventbus.New(256, nil)

	var metrics monitoring.MetricsSink = monitoring.NoopSink{}
	if cfg.Monitoring.Enabled {
		metrics = monitoring.NewPrometheusSink()
	}

	solverAddrStr, err := deriveSolverAddress(cfg)
	if err != nil {
		return nil, fmt.Errorf("solver address: %w", err)
	}
	solverAddr, err := config.ParseAddress(solverAddrStr)
	if err != nil {
		return nil, fmt.Errorf("solver address: %w", err)
	}
	// Claims are finalised against one input settler per solver instance.
	// Pick it from discovery.monitor_chains — the ordered list of origin
	// chains being watched — so the choice is stable across restarts
	// instead of depending on map iteration order.
	originSettler, _ := config.ParseAddress("0x0000000000000000000000000000000000000000")
	for _, id := range cfg.Discovery.MonitorChains {
		chainCfg, ok := cfg.ChainConfig(id)
		if !ok || chainCfg.Contracts.Settler == "" {
			continue
		}
		addr, err := config.ParseAddress(chainCfg.Contracts.Settler)
		if err != nil {
			return nil, fmt.Errorf("chain %d settler address: %w", id, err)
		}
		originSettler = addr
		break
	}

	coordCfg := coordinator.DefaultConfig()
	coordCfg.Solver = solvertypes.Address(solverAddr)
	coordCfg.OriginSettler = solvertypes.Address(originSettler)
	coordCfg.SettlementMechanism = cfg.Settlement.DefaultType
	coordCfg.RecoverOnStartup = cfg.State.RecoverOnStartup
	if cfg.State.MaxQueueSize > 0 {
		coordCfg.IntentQueueSize = cfg.State.MaxQueueSize
	}
	if cfg.Solver.MonitoringTimeoutMinutes > 0 {
		coordCfg.MonitoringTimeout = time.Duration(cfg.Solver.MonitoringTimeoutMinutes) * time.Minute
	}

	coord := coordinator.New(store, standards, mechanisms, adapters, del, strat, bus, metrics, coordCfg)

	sources, err := buildSources(cfg, adapters, store)
	if err != nil {
		return nil, fmt.Errorf("discovery sources: %w", err)
	}

	health := &http.Server{
		Addr:    fmt.Sprintf(":%d", healthPort(cfg)),
		Handler: healthMux(store, adapters),
	}

	return &app{coord: coord, store: store, sources: sources, health: health}, nil
}

func healthPort(cfg *config.Config) int {
	if cfg.Monitoring.HealthPort != 0 {
		return cfg.Monitoring.HealthPort
	}
	return 8090
}

// deriveSolverAddress recovers the wallet address the coordinator stamps
// into fill/claim params (fillerData, finaliseSelf's solver argument)
// from the configured signing key. Each chain adapter derives the same
// key independently for signing; this is the one place the bare address
// is needed without a chain context.
func deriveSolverAddress(cfg *config.Config) (string, error) {
	if cfg.Solver.PrivateKey == "" {
		return "0x0000000000000000000000000000000000000000", nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Solver.PrivateKey, "0x"))
	if err != nil {
		return "", fmt.Errorf("parse solver private key: %w", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

func buildStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.State.StorageBackend {
	case "", "memory":
		return storage.NewMemoryStore(0), nil
	case "file":
		return storage.NewFileStore(storage.FileStoreConfig{Path: cfg.State.StoragePath, SyncOnWrite: false})
	case "postgres":
		return storage.NewPostgresStore(context.Background(), cfg.State.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown state.storage_backend %q", cfg.State.StorageBackend)
	}
}

func buildAdapters(ctx context.Context, cfg *config.Config) (*chainadapter.Registry, error) {
	registry := chainadapter.NewRegistry()
	ids, err := cfg.ChainIDs()
	if err != nil {
		return nil, err
	}
	svc := cfg.DefaultDeliveryService()
	for _, id := range ids {
		chainCfg, _ := cfg.ChainConfig(id)
		adapter, err := chainadapter.NewEVMAdapter(ctx, chainadapter.EVMConfig{
			RPCURL:        chainCfg.RPCURL,
			ChainID:       id,
			Confirmations: chainCfg.Confirmations,
			GasStrategy:   config.GasStrategy(svc.GasStrategy),
			Retry:         chainadapter.RetryConfig{MaxRetries: firstPositive(svc.MaxRetries, 3)},
			PrivateKeyHex: cfg.Solver.PrivateKey,
		})
		if err != nil {
			return nil, fmt.Errorf("chain %d: %w", id, err)
		}
		registry.Register(adapter)
	}
	return registry, nil
}

func firstPositive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func buildSettlement(cfg *config.Config, adapters *chainadapter.Registry) *settlement.Registry {
	registry := settlement.NewRegistry()
	strategies := cfg.Settlement.Strategies
	if len(strategies) == 0 {
		registry.Register(settlement.NewDirect("direct", adapters, ""))
		return registry
	}
	for name, params := range strategies {
		direct := settlement.NewDirect(name, adapters, params.Oracle)
		if params.DisputePeriodSecs > 0 {
			registry.Register(settlement.NewOptimistic(name, direct, settlement.NoDispute{}, params.DisputePeriodSecs, params.ClaimWindowSecs))
		} else {
			registry.Register(direct)
		}
	}
	return registry
}

func buildStrategyConfig(cfg *config.Config) strategy.Config {
	sc := strategy.DefaultConfig()
	sc.MinProfitBPS = cfg.Strategy.Profitability.MinProfitBPS
	if cfg.Strategy.Fallback.DeferSeconds > 0 {
		sc.DeferDuration = time.Duration(cfg.Strategy.Fallback.DeferSeconds) * time.Second
	}
	return sc
}

func buildSources(cfg *config.Config, adapters *chainadapter.Registry, store storage.Store) ([]discovery.Source, error) {
	var sources []discovery.Source
	for _, id := range cfg.Discovery.MonitorChains {
		adapter, err := adapters.Get(id)
		if err != nil {
			return nil, fmt.Errorf("discovery chain %d: %w", id, err)
		}
		chainCfg, _ := cfg.ChainConfig(id)

		var addrs []solvertypes.Address
		if chainCfg.Contracts.Settler != "" {
			addr, err := config.ParseAddress(chainCfg.Contracts.Settler)
			if err != nil {
				return nil, fmt.Errorf("chain %d settler address: %w", id, err)
			}
			addrs = append(addrs, solvertypes.Address(addr))
		}

		var startBlock *uint64
		if raw, ok := cfg.Discovery.StartBlocks[strconv.FormatUint(id, 10)]; ok {
			sb := raw
			startBlock = &sb
		}

		onchain := discovery.NewOnChainSource(discovery.OnChainConfig{
			ChainID:             id,
			Addresses:           addrs,
			StandardBySignature: map[[32]byte]string{orderstandard.OpenEventTopic0: "eip7683"},
			StartBlock:          startBlock,
			PollInterval:        time.Duration(cfg.Discovery.PollIntervalSecs) * time.Second,
			MaxBlocksPerRequest: 2000,
		}, adapter, store, nil)
		sources = append(sources, onchain)
	}

	if cfg.Discovery.EnableOffchain {
		for _, endpoint := range cfg.Discovery.OffchainEndpoints {
			sources = append(sources, discovery.NewOffChainSource(discovery.OffChainConfig{
				Endpoint:     endpoint,
				PollInterval: time.Duration(cfg.Discovery.PollIntervalSecs) * time.Second,
			}))
		}
	}
	return sources, nil
}

func healthMux(store storage.Store, adapters *chainadapter.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if _, err := store.Exists(storage.OrderKey("readyz-probe")); err != nil {
			http.Error(w, "storage unavailable: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		for _, id := range adapters.ChainIDs() {
			adapter, err := adapters.Get(id)
			if err != nil {
				continue
			}
			if _, err := adapter.BlockNumber(ctx); err != nil {
				http.Error(w, fmt.Sprintf("chain %d unreachable: %v", id, err), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}
