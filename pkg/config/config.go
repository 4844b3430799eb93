// Package config loads the solver's operational configuration from a
// TOML, JSON, or YAML file into one struct via spf13/viper, applies the
// SOLVER_PRIVATE_KEY / RPC_URL_{chain} / RPC_API_KEY environment
// overrides, and validates the result.
package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/certen/intent-solver/pkg/chainadapter"
)

// SolverSection is the `[solver]` table.
type SolverSection struct {
	Name                     string `mapstructure:"name" yaml:"name"`
	PrivateKey               string `mapstructure:"private_key" yaml:"private_key"`
	MonitoringTimeoutMinutes int    `mapstructure:"monitoring_timeout_minutes" yaml:"monitoring_timeout_minutes"`
}

// ContractsSection names the settler contracts a chain carries.
type ContractsSection struct {
	Settler string            `mapstructure:"settler" yaml:"settler,omitempty"`
	Filler  string            `mapstructure:"filler" yaml:"filler,omitempty"`
	Custom  map[string]string `mapstructure:"custom" yaml:"custom,omitempty"`
}

// ChainSection is one entry of `[chains.{id}]`.
type ChainSection struct {
	Name          string           `mapstructure:"name" yaml:"name"`
	RPCURL        string           `mapstructure:"rpc_url" yaml:"rpc_url"`
	Confirmations uint64           `mapstructure:"confirmations" yaml:"confirmations"`
	BlockTimeSecs int              `mapstructure:"block_time" yaml:"block_time"`
	Contracts     ContractsSection `mapstructure:"contracts" yaml:"contracts"`
}

// DiscoverySection is the `[discovery]` table.
type DiscoverySection struct {
	MonitorChains     []uint64          `mapstructure:"monitor_chains" yaml:"monitor_chains"`
	StartBlocks       map[string]uint64 `mapstructure:"start_blocks" yaml:"start_blocks,omitempty"`
	PollIntervalSecs  int               `mapstructure:"poll_interval_secs" yaml:"poll_interval_secs"`
	EnableOffchain    bool              `mapstructure:"enable_offchain" yaml:"enable_offchain"`
	OffchainEndpoints []string          `mapstructure:"offchain_endpoints" yaml:"offchain_endpoints,omitempty"`
}

// SettlementStrategyParams configures one named settlement mechanism.
type SettlementStrategyParams struct {
	DisputePeriodSecs uint64 `mapstructure:"dispute_period_secs" yaml:"dispute_period_secs,omitempty"`
	ClaimWindowSecs   uint64 `mapstructure:"claim_window_secs" yaml:"claim_window_secs,omitempty"`
	Oracle            string `mapstructure:"oracle" yaml:"oracle,omitempty"`
}

// SettlementSection is the `[settlement]` table.
type SettlementSection struct {
	DefaultType      string                              `mapstructure:"default_type" yaml:"default_type"`
	Strategies       map[string]SettlementStrategyParams `mapstructure:"strategies" yaml:"strategies,omitempty"`
	PollIntervalSecs int                                 `mapstructure:"poll_interval_secs" yaml:"poll_interval_secs"`
	MaxAttempts      int                                 `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// StateSection is the `[state]` table.
type StateSection struct {
	StorageBackend   string `mapstructure:"storage_backend" yaml:"storage_backend"`
	StoragePath      string `mapstructure:"storage_path" yaml:"storage_path,omitempty"`
	DatabaseURL      string `mapstructure:"database_url" yaml:"database_url,omitempty"`
	MaxQueueSize     int    `mapstructure:"max_queue_size" yaml:"max_queue_size"`
	RecoverOnStartup bool   `mapstructure:"recover_on_startup" yaml:"recover_on_startup"`
}

// GasStrategySection configures one delivery service's gas strategy.
type GasStrategySection struct {
	Type               string  `mapstructure:"type" yaml:"type"`
	Multiplier         float64 `mapstructure:"multiplier" yaml:"multiplier,omitempty"`
	MaxPriorityFeeGwei float64 `mapstructure:"max_priority_fee_gwei" yaml:"max_priority_fee_gwei,omitempty"`
}

// DeliveryServiceSection is one entry of `[delivery.services.{name}]`.
type DeliveryServiceSection struct {
	Endpoints   map[string]string   `mapstructure:"endpoints" yaml:"endpoints"`
	APIKey      string              `mapstructure:"api_key" yaml:"api_key,omitempty"`
	GasStrategy GasStrategySection `mapstructure:"gas_strategy" yaml:"gas_strategy"`
	MaxRetries  int                 `mapstructure:"max_retries" yaml:"max_retries"`
}

// DeliverySection is the `[delivery]` table.
type DeliverySection struct {
	DefaultService string                            `mapstructure:"default_service" yaml:"default_service"`
	Services       map[string]DeliveryServiceSection `mapstructure:"services" yaml:"services,omitempty"`
}

// ProfitabilitySection is `[strategy.profitability]`.
type ProfitabilitySection struct {
	MinProfitBPS int64 `mapstructure:"min_profit_bps" yaml:"min_profit_bps"`
}

// RiskSection is `[strategy.risk]`.
type RiskSection struct {
	MaxFillAmount    string `mapstructure:"max_fill_amount" yaml:"max_fill_amount,omitempty"`
	MinSolverBalance string `mapstructure:"min_solver_balance" yaml:"min_solver_balance,omitempty"`
}

// FallbackSection is `[strategy.fallback]`.
type FallbackSection struct {
	DeferSeconds int `mapstructure:"defer_seconds" yaml:"defer_seconds"`
}

// StrategySection is the `[strategy]` table.
type StrategySection struct {
	Profitability ProfitabilitySection `mapstructure:"profitability" yaml:"profitability"`
	Risk          RiskSection          `mapstructure:"risk" yaml:"risk"`
	Fallback      FallbackSection      `mapstructure:"fallback" yaml:"fallback"`
}

// MonitoringSection is the `[monitoring]` table.
type MonitoringSection struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	MetricsPort int    `mapstructure:"metrics_port" yaml:"metrics_port,omitempty"`
	HealthPort  int    `mapstructure:"health_port" yaml:"health_port"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat   string `mapstructure:"log_format" yaml:"log_format"` // "text" or "json"
}

// Config is the one struct every accepted file format (TOML, JSON, YAML)
// parses into.
type Config struct {
	Solver     SolverSection               `mapstructure:"solver" yaml:"solver"`
	Chains     map[string]ChainSection     `mapstructure:"chains" yaml:"chains"`
	Discovery  DiscoverySection            `mapstructure:"discovery" yaml:"discovery"`
	Settlement SettlementSection           `mapstructure:"settlement" yaml:"settlement"`
	State      StateSection                `mapstructure:"state" yaml:"state"`
	Delivery   DeliverySection             `mapstructure:"delivery" yaml:"delivery"`
	Strategy   StrategySection             `mapstructure:"strategy" yaml:"strategy"`
	Monitoring MonitoringSection           `mapstructure:"monitoring" yaml:"monitoring"`
}

// Default returns the values a file need not specify.
func Default() Config {
	return Config{
		Solver: SolverSection{MonitoringTimeoutMinutes: 60},
		Discovery: DiscoverySection{
			PollIntervalSecs: 15,
		},
		Settlement: SettlementSection{
			DefaultType:      "direct",
			PollIntervalSecs: 60,
			MaxAttempts:      0,
		},
		State: StateSection{
			StorageBackend:   "memory",
			MaxQueueSize:     4096,
			RecoverOnStartup: true,
		},
		Monitoring: MonitoringSection{
			Enabled:    true,
			HealthPort: 8090,
			LogLevel:   "info",
			LogFormat:  "text",
		},
	}
}

// Load reads path (extension selects the viper decoder: .toml, .json,
// .yaml/.yml), applies the environment overrides, and validates the
// result. path may be empty, in which case only defaults and env
// overrides apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
		if ext == "yml" {
			ext = "yaml"
		}
		if ext != "" {
			v.SetConfigType(ext)
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	applyEnvOverrides(v, &cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("solver.monitoring_timeout_minutes", d.Solver.MonitoringTimeoutMinutes)
	v.SetDefault("discovery.poll_interval_secs", d.Discovery.PollIntervalSecs)
	v.SetDefault("settlement.default_type", d.Settlement.DefaultType)
	v.SetDefault("settlement.poll_interval_secs", d.Settlement.PollIntervalSecs)
	v.SetDefault("state.storage_backend", d.State.StorageBackend)
	v.SetDefault("state.max_queue_size", d.State.MaxQueueSize)
	v.SetDefault("state.recover_on_startup", d.State.RecoverOnStartup)
	v.SetDefault("monitoring.enabled", d.Monitoring.Enabled)
	v.SetDefault("monitoring.health_port", d.Monitoring.HealthPort)
	v.SetDefault("monitoring.log_level", d.Monitoring.LogLevel)
	v.SetDefault("monitoring.log_format", d.Monitoring.LogFormat)
}

// bindEnv wires the fixed environment overrides. RPC_URL_*
// is bound lazily per chain id in applyEnvOverrides, since viper.BindEnv
// needs the concrete key ahead of time.
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("solver.private_key", "SOLVER_PRIVATE_KEY")
}

// applyEnvOverrides applies SOLVER_PRIVATE_KEY, RPC_URL_{chain_id}, and
// RPC_API_KEY after the file load and before validation.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if pk := os.Getenv("SOLVER_PRIVATE_KEY"); pk != "" {
		cfg.Solver.PrivateKey = pk
	}
	apiKey := os.Getenv("RPC_API_KEY")
	for id, chain := range cfg.Chains {
		if url := os.Getenv("RPC_URL_" + id); url != "" {
			chain.RPCURL = url
		}
		cfg.Chains[id] = chain
	}
	if apiKey != "" {
		for name, svc := range cfg.Delivery.Services {
			svc.APIKey = apiKey
			cfg.Delivery.Services[name] = svc
		}
	}
}

// Validate enforces the load-time rules: private_key starts
// with 0x, every discovery chain has a chains entry, and the configured
// default settlement/delivery names exist among their siblings when
// siblings are defined at all.
func (c *Config) Validate() error {
	if c.Solver.PrivateKey != "" && !strings.HasPrefix(c.Solver.PrivateKey, "0x") {
		return fmt.Errorf("config: solver.private_key must start with 0x")
	}
	for _, id := range c.Discovery.MonitorChains {
		key := strconv.FormatUint(id, 10)
		if _, ok := c.Chains[key]; !ok {
			return fmt.Errorf("config: discovery.monitor_chains references chain %d with no chains.%s entry", id, key)
		}
	}
	if len(c.Settlement.Strategies) > 0 {
		if _, ok := c.Settlement.Strategies[c.Settlement.DefaultType]; !ok {
			return fmt.Errorf("config: settlement.default_type %q not present in settlement.strategies", c.Settlement.DefaultType)
		}
	}
	if len(c.Delivery.Services) > 0 {
		if _, ok := c.Delivery.Services[c.Delivery.DefaultService]; !ok {
			return fmt.Errorf("config: delivery.default_service %q not present in delivery.services", c.Delivery.DefaultService)
		}
	}
	return nil
}

// WriteExample emits a commented default configuration to path in YAML.
func WriteExample(path string) error {
	cfg := Default()
	cfg.Solver.Name = "example-solver"
	cfg.Solver.PrivateKey = "0x0000000000000000000000000000000000000000000000000000000000000001"
	cfg.Chains = map[string]ChainSection{
		"31337": {Name: "origin-devnet", RPCURL: "http://127.0.0.1:8545", Confirmations: 1, BlockTimeSecs: 12},
		"31338": {Name: "destination-devnet", RPCURL: "http://127.0.0.1:8546", Confirmations: 1, BlockTimeSecs: 12,
			Contracts: ContractsSection{Settler: "0x0000000000000000000000000000000000000000"}},
	}
	cfg.Discovery.MonitorChains = []uint64{31337}
	cfg.Discovery.StartBlocks = map[string]uint64{"31337": 0}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal example: %w", err)
	}
	header := "# Example solver configuration. Every chain id referenced under\n" +
		"# discovery.monitor_chains must have a matching chains.<id> entry.\n" +
		"# SOLVER_PRIVATE_KEY, RPC_URL_<chain_id>, and RPC_API_KEY override\n" +
		"# this file's values at startup.\n"
	return os.WriteFile(path, append([]byte(header), out...), 0o600)
}

// ParseAddress parses a 0x-prefixed hex address into a go-ethereum
// common.Address, the conversion every chain
// and contracts field in this config ultimately needs.
func ParseAddress(hex string) (common.Address, error) {
	if hex == "" || !common.IsHexAddress(hex) {
		return common.Address{}, fmt.Errorf("config: invalid address %q", hex)
	}
	return common.HexToAddress(hex), nil
}

// ChainIDs returns the configured chain ids, parsed from the map's string
// keys.
func (c *Config) ChainIDs() ([]uint64, error) {
	ids := make([]uint64, 0, len(c.Chains))
	for key := range c.Chains {
		id, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: chains key %q is not a numeric chain id: %w", key, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GasStrategy converts a GasStrategySection into the chainadapter.GasStrategy
// the EVM adapter expects.
func GasStrategy(s GasStrategySection) chainadapter.GasStrategy {
	gs := chainadapter.GasStrategy{Kind: chainadapter.GasStrategyKind(s.Type)}
	switch gs.Kind {
	case chainadapter.GasCustom:
		gs.Multiplier = s.Multiplier
	case chainadapter.GasEIP1559:
		if s.MaxPriorityFeeGwei > 0 {
			wei := new(big.Float).Mul(big.NewFloat(s.MaxPriorityFeeGwei), big.NewFloat(1e9))
			gs.MaxPriorityFee, _ = wei.Int(nil)
		}
	}
	if gs.Kind == "" {
		gs.Kind = chainadapter.GasStandard
	}
	return gs
}

// ChainConfig returns the ChainSection for a numeric chain id.
func (c *Config) ChainConfig(id uint64) (ChainSection, bool) {
	cs, ok := c.Chains[strconv.FormatUint(id, 10)]
	return cs, ok
}

// DefaultDeliveryService returns the configured delivery service, or a
// zero-value service using chainadapter defaults if none are configured.
func (c *Config) DefaultDeliveryService() DeliveryServiceSection {
	if svc, ok := c.Delivery.Services[c.Delivery.DefaultService]; ok {
		return svc
	}
	return DeliveryServiceSection{GasStrategy: GasStrategySection{Type: "standard"}, MaxRetries: 3}
}
