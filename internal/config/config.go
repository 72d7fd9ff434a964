package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all copytrader configuration.
type Config struct {
	Wallet     WalletConfig     `mapstructure:"wallet"`
	RPC        RPCConfig        `mapstructure:"rpc"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Breaker    BreakerConfig    `mapstructure:"circuit_breaker"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Storage    StorageConfig    `mapstructure:"storage"`
	StatusView StatusViewConfig `mapstructure:"status_view"`
}

type WalletConfig struct {
	PrivateKeyEnv  string `mapstructure:"private_key_env"`
	UpstreamWallet string `mapstructure:"upstream_wallet"`
	BaseMint       string `mapstructure:"base_mint"`
}

type RPCConfig struct {
	PrimaryURL        string `mapstructure:"primary_url"`
	PrimaryAPIKeyEnv  string `mapstructure:"primary_api_key_env"`
	FallbackURL       string `mapstructure:"fallback_url"`
	FallbackAPIKeyEnv string `mapstructure:"fallback_api_key_env"`
}

type WebSocketConfig struct {
	URL                string `mapstructure:"url"`
	APIKeyEnv          string `mapstructure:"api_key_env"`
	ReconnectDelayMs   int    `mapstructure:"reconnect_delay_ms"`
	HealthCheckSeconds int    `mapstructure:"health_check_seconds"`
}

type AggregatorConfig struct {
	QuoteAPIURL       string `mapstructure:"quote_api_url"`
	SlippageBps       int    `mapstructure:"slippage_bps"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	MaxPriceImpactBps int    `mapstructure:"max_price_impact_bps"`
}

// TradingConfig carries every risk/execution knob from spec.md §6.
type TradingConfig struct {
	CopyRatio                     float64 `mapstructure:"copy_ratio"`
	MaxPerTradeLamports           uint64  `mapstructure:"max_per_trade_lamports"`
	MinPerTradeLamports           uint64  `mapstructure:"min_per_trade_lamports"`
	MaxPerDayLamports             uint64  `mapstructure:"max_per_day_lamports"`
	MaxOpenPositions              int     `mapstructure:"max_open_positions"`
	PriorityFeeLamports           uint64  `mapstructure:"priority_fee_lamports"`
	CooldownSeconds               int     `mapstructure:"cooldown_seconds"`
	BlockIfMintAuthority          bool    `mapstructure:"block_if_mint_authority"`
	BlockIfFreezeAuthority        bool    `mapstructure:"block_if_freeze_authority"`
	MaxFeePct                     float64 `mapstructure:"max_fee_pct"`
	MinReserveLamports            uint64  `mapstructure:"min_reserve_lamports"`
	VirtualStartingBalance        uint64  `mapstructure:"virtual_starting_balance"`
	CompareAlertPct               float64 `mapstructure:"compare_alert_pct"`
	RestrictIntermediateTokens    bool    `mapstructure:"restrict_intermediate_tokens"`
	MaxPriceDriftPct              float64 `mapstructure:"max_price_drift_pct"`
	PendingPositionTimeoutMinutes int     `mapstructure:"pending_position_timeout_minutes"`
	AllowUnsafeParseTrades        bool    `mapstructure:"allow_unsafe_parse_trades"`
	DisableDriftGuardOnUnsafeParse bool   `mapstructure:"disable_drift_guard_on_unsafe_parse"`
	AllowSellOnSentPosition       bool    `mapstructure:"allow_sell_on_sent_position"`
	SellOnSentTimeoutSeconds      int     `mapstructure:"sell_on_sent_timeout_seconds"`
	PauseTrading                  bool    `mapstructure:"pause_trading"`
	DryRun                         bool   `mapstructure:"dry_run"`
}

type BreakerConfig struct {
	FailRatePct       float64 `mapstructure:"fail_rate_pct"`
	FailWindowMinutes int     `mapstructure:"fail_window_minutes"`
	LatencyP99Ms      int64   `mapstructure:"latency_p99_ms"`
	NoPositionSpike   int     `mapstructure:"no_position_spike"`
	AutoResetMinutes  int     `mapstructure:"auto_reset_minutes"`
}

type IngestConfig struct {
	WebhookListenHost      string `mapstructure:"webhook_listen_host"`
	WebhookListenPort      int    `mapstructure:"webhook_listen_port"`
	WebhookRateLimitPerMin int    `mapstructure:"webhook_rate_limit_per_min"`
	PollIntervalSeconds    int    `mapstructure:"poll_interval_seconds"`
	PollSignatureLimit     int    `mapstructure:"poll_signature_limit"`
}

type StorageConfig struct {
	SQLitePath       string `mapstructure:"sqlite_path"`
	LedgerPruneHours int    `mapstructure:"ledger_prune_hours"`
}

type StatusViewConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	RefreshRateMs int  `mapstructure:"refresh_rate_ms"`
	LogLines      int  `mapstructure:"log_lines"`
}

// Manager handles config loading, validation, and hot-reload.
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	viper    *viper.Viper
	onChange func(*Config)
}

// NewManager loads, validates, and watches a YAML config file.
func NewManager(configPath string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := &Manager{
		config: &cfg,
		viper:  v,
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("config file changed, reloading")
		m.reload()
	})

	return m, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("wallet.private_key_env", "WALLET_PRIVATE_KEY")
	v.SetDefault("rpc.primary_api_key_env", "SHYFT_API_KEY")
	v.SetDefault("rpc.fallback_api_key_env", "HELIUS_API_KEY")
	v.SetDefault("rpc.fallback_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("websocket.reconnect_delay_ms", 2000)
	v.SetDefault("websocket.health_check_seconds", 30)
	v.SetDefault("aggregator.quote_api_url", "https://quote-api.jup.ag/v6/quote")
	v.SetDefault("aggregator.slippage_bps", 500)
	v.SetDefault("aggregator.timeout_seconds", 10)
	v.SetDefault("aggregator.max_price_impact_bps", 500)
	v.SetDefault("trading.copy_ratio", 1.0)
	v.SetDefault("trading.max_open_positions", 10)
	v.SetDefault("trading.cooldown_seconds", 60)
	v.SetDefault("trading.max_fee_pct", 5.0)
	v.SetDefault("trading.pending_position_timeout_minutes", 5)
	v.SetDefault("trading.sell_on_sent_timeout_seconds", 30)
	v.SetDefault("trading.restrict_intermediate_tokens", true)
	v.SetDefault("circuit_breaker.fail_rate_pct", 50.0)
	v.SetDefault("circuit_breaker.fail_window_minutes", 10)
	v.SetDefault("circuit_breaker.latency_p99_ms", 8000)
	v.SetDefault("circuit_breaker.no_position_spike", 5)
	v.SetDefault("circuit_breaker.auto_reset_minutes", 15)
	v.SetDefault("ingest.webhook_listen_host", "0.0.0.0")
	v.SetDefault("ingest.webhook_listen_port", 8088)
	v.SetDefault("ingest.webhook_rate_limit_per_min", 120)
	v.SetDefault("ingest.poll_interval_seconds", 5)
	v.SetDefault("ingest.poll_signature_limit", 20)
	v.SetDefault("storage.sqlite_path", "./data/copytrader.db")
	v.SetDefault("storage.ledger_prune_hours", 48)
	v.SetDefault("status_view.refresh_rate_ms", 250)
	v.SetDefault("status_view.log_lines", 100)
}

// Validate enforces spec.md §6's bounds; invalid configuration must abort
// startup.
func (c *Config) Validate() error {
	var errs []string

	if c.Trading.CopyRatio <= 0 || c.Trading.CopyRatio > 1 {
		errs = append(errs, "trading.copy_ratio must be in (0,1]")
	}
	if c.Aggregator.SlippageBps < 1 || c.Aggregator.SlippageBps > 5000 {
		errs = append(errs, "aggregator.slippage_bps must be in [1,5000]")
	}
	if c.Trading.MaxFeePct < 0 || c.Trading.MaxFeePct > 100 {
		errs = append(errs, "trading.max_fee_pct must be in [0,100]")
	}
	if c.Trading.MaxPriceDriftPct < 0 || c.Trading.MaxPriceDriftPct > 1 {
		errs = append(errs, "trading.max_price_drift_pct must be in [0,1] (0 disables)")
	}
	if c.Trading.MaxOpenPositions < 0 {
		errs = append(errs, "trading.max_open_positions must be >= 0")
	}
	if c.Trading.MinPerTradeLamports > 0 && c.Trading.MaxPerTradeLamports > 0 &&
		c.Trading.MinPerTradeLamports > c.Trading.MaxPerTradeLamports {
		errs = append(errs, "trading.min_per_trade_lamports must be <= max_per_trade_lamports")
	}
	if c.Breaker.FailRatePct < 0 || c.Breaker.FailRatePct > 100 {
		errs = append(errs, "circuit_breaker.fail_rate_pct must be in [0,100]")
	}
	if c.Wallet.UpstreamWallet == "" {
		errs = append(errs, "wallet.upstream_wallet is required")
	}
	if c.RPC.PrimaryURL == "" {
		errs = append(errs, "rpc.primary_url is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Get returns the current config (thread-safe).
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetTrading returns the trading config (most frequently accessed).
func (m *Manager) GetTrading() TradingConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Trading
}

// SetOnChange registers a callback fired after a successful hot-reload.
func (m *Manager) SetOnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Update mutates the in-memory config and persists it back to the file.
func (m *Manager) Update(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fn(m.config)

	if err := m.config.Validate(); err != nil {
		return fmt.Errorf("invalid config after update: %w", err)
	}

	m.viper.Set("trading.pause_trading", m.config.Trading.PauseTrading)
	m.viper.Set("trading.copy_ratio", m.config.Trading.CopyRatio)
	m.viper.Set("trading.max_open_positions", m.config.Trading.MaxOpenPositions)
	m.viper.Set("trading.dry_run", m.config.Trading.DryRun)

	if err := m.viper.WriteConfig(); err != nil {
		return err
	}

	if m.onChange != nil {
		m.onChange(m.config)
	}
	return nil
}

func (m *Manager) reload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal config on reload")
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("reloaded config failed validation, keeping previous config")
		return
	}

	m.config = &cfg
	if m.onChange != nil {
		m.onChange(&cfg)
	}
}

// GetPrivateKey loads the wallet private key from its configured env var.
func (m *Manager) GetPrivateKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.Wallet.PrivateKeyEnv)
}

// GetPrimaryRPCURL returns the primary RPC URL with its API key injected.
func (m *Manager) GetPrimaryRPCURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return injectAPIKey(m.config.RPC.PrimaryURL, os.Getenv(m.config.RPC.PrimaryAPIKeyEnv), "api_key")
}

// GetFallbackRPCURL returns the fallback RPC URL with its API key injected.
func (m *Manager) GetFallbackRPCURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	param := "api_key"
	if strings.Contains(m.config.RPC.FallbackURL, "helius") {
		param = "api-key"
	}
	return injectAPIKey(m.config.RPC.FallbackURL, os.Getenv(m.config.RPC.FallbackAPIKeyEnv), param)
}

// GetWebSocketURL returns the websocket URL with its API key injected.
func (m *Manager) GetWebSocketURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return injectAPIKey(m.config.WebSocket.URL, os.Getenv(m.config.WebSocket.APIKeyEnv), "api_key")
}

func injectAPIKey(url, key, param string) string {
	if key == "" {
		return url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + param + "=" + key
}

// GetReconnectDelay returns the websocket reconnect delay as a duration.
func (m *Manager) GetReconnectDelay() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.WebSocket.ReconnectDelayMs) * time.Millisecond
}

// GetPollInterval returns the poll-source interval as a duration.
func (m *Manager) GetPollInterval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.Ingest.PollIntervalSeconds) * time.Second
}
