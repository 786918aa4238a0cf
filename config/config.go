package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/acp0/acp0/libs/log"
)

const (
	// TransportMemory runs every agent in one process over the in-memory
	// mediator.
	TransportMemory = "memory"
	// TransportRedis uses Redis Pub/Sub channels as the broadcast medium.
	TransportRedis = "redis"
	// TransportWebsocket connects to an acp0 relay over WebSocket.
	TransportWebsocket = "websocket"
)

// NOTE: libs/cli must know to look in the config dir!
var (
	DefaultACPDir    = ".acp0"
	defaultConfigDir = "config"
	defaultDataDir   = "data"

	defaultConfigFileName = "config.toml"
	defaultKeyFileName    = "agent_key.json"

	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName)
	defaultKeyFilePath    = filepath.Join(defaultConfigDir, defaultKeyFileName)
)

// Config defines the top level configuration for an acp0 agent process.
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	Negotiation     *NegotiationConfig     `mapstructure:"negotiation" toml:"negotiation"`
	Transport       *TransportConfig       `mapstructure:"transport" toml:"transport"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation" toml:"instrumentation"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		Negotiation:     DefaultNegotiationConfig(),
		Transport:       DefaultTransportConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		Negotiation:     TestNegotiationConfig(),
		Transport:       DefaultTransportConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Negotiation.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [negotiation] section: %w", err)
	}
	if err := cfg.Transport.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [transport] section: %w", err)
	}
	if err := cfg.Instrumentation.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [instrumentation] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for an agent process.
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home" toml:"-"`

	// A custom human readable name for this agent
	Moniker string `mapstructure:"moniker" toml:"moniker"`

	// Output level for logging
	LogLevel string `mapstructure:"log_level" toml:"log_level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log_format" toml:"log_format"`

	// Path to the JSON file holding the agent's armored secp256k1 key
	KeyFile string `mapstructure:"key_file" toml:"key_file"`
}

// DefaultBaseConfig returns a default base configuration.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Moniker:   defaultMoniker,
		LogLevel:  log.LogLevelInfo,
		LogFormat: log.LogFormatPlain,
		KeyFile:   defaultKeyFilePath,
	}
}

// TestBaseConfig returns a base configuration for testing.
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.Moniker = "test-agent"
	cfg.LogLevel = log.LogLevelDebug
	return cfg
}

// KeyFilePath returns the full path to the agent key file.
func (cfg BaseConfig) KeyFilePath() string {
	return rootify(cfg.KeyFile, cfg.RootDir)
}

// DataDir returns the directory holding persistent agent data.
func (cfg BaseConfig) DataDir() string {
	return filepath.Join(cfg.RootDir, defaultDataDir)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case log.LogFormatPlain, log.LogFormatText, log.LogFormatJSON:
	default:
		return errors.New("unknown log format (must be 'plain', 'text' or 'json')")
	}
	switch cfg.LogLevel {
	case log.LogLevelDebug, log.LogLevelInfo, log.LogLevelWarn, log.LogLevelError:
	default:
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	return nil
}

//-----------------------------------------------------------------------------
// NegotiationConfig

// NegotiationConfig holds the buyer and seller protocol parameters.
type NegotiationConfig struct {
	// Accepted clock skew for inbound messages, in both directions. It is
	// also the window in which a captured message can be replayed.
	TimestampTolerance time.Duration `mapstructure:"timestamp_tolerance" toml:"timestamp_tolerance"`

	// How long a buyer collects offers after broadcasting an intent.
	CollectWindow time.Duration `mapstructure:"collect_window" toml:"collect_window"`

	// Lifetime stamped on outgoing intents and offers as expires_at.
	// Zero leaves expires_at absent.
	IntentTTL time.Duration `mapstructure:"intent_ttl" toml:"intent_ttl"`
	OfferTTL  time.Duration `mapstructure:"offer_ttl" toml:"offer_ttl"`

	// Payment method written into deals.
	PaymentMethod string `mapstructure:"payment_method" toml:"payment_method"`

	// Size of the recently-seen nonce cache. Zero disables nonce
	// deduplication.
	NonceCacheSize int `mapstructure:"nonce_cache_size" toml:"nonce_cache_size"`

	// Maximum number of sent offers a seller keeps listening for deals on.
	// The oldest is released when the limit is reached.
	MaxPendingOffers int `mapstructure:"max_pending_offers" toml:"max_pending_offers"`
}

// DefaultNegotiationConfig returns the default ACP0 negotiation parameters.
func DefaultNegotiationConfig() *NegotiationConfig {
	return &NegotiationConfig{
		TimestampTolerance: 60 * time.Second,
		CollectWindow:      time.Second,
		PaymentMethod:      "mock",
		MaxPendingOffers:   1000,
	}
}

// TestNegotiationConfig shortens the collection window for tests.
func TestNegotiationConfig() *NegotiationConfig {
	cfg := DefaultNegotiationConfig()
	cfg.CollectWindow = 200 * time.Millisecond
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *NegotiationConfig) ValidateBasic() error {
	if cfg.TimestampTolerance <= 0 {
		return errors.New("timestamp_tolerance must be positive")
	}
	if cfg.CollectWindow <= 0 {
		return errors.New("collect_window must be positive")
	}
	if cfg.IntentTTL < 0 {
		return errors.New("intent_ttl can't be negative")
	}
	if cfg.OfferTTL < 0 {
		return errors.New("offer_ttl can't be negative")
	}
	if cfg.PaymentMethod == "" {
		return errors.New("payment_method can't be empty")
	}
	if cfg.NonceCacheSize < 0 {
		return errors.New("nonce_cache_size can't be negative")
	}
	if cfg.MaxPendingOffers <= 0 {
		return errors.New("max_pending_offers must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// TransportConfig

// TransportConfig selects and configures the broadcast medium.
type TransportConfig struct {
	// memory | redis | websocket
	Backend string `mapstructure:"backend" toml:"backend"`

	// Per-subscriber queue length. Messages arriving at a full queue are
	// dropped for that subscriber.
	MailboxCapacity int `mapstructure:"mailbox_capacity" toml:"mailbox_capacity"`

	RedisAddr     string `mapstructure:"redis_addr" toml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" toml:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" toml:"redis_db"`

	// Address the relay server listens on.
	RelayListenAddr string `mapstructure:"relay_listen_addr" toml:"relay_listen_addr"`
	// Maximum number of simultaneous relay connections. 0 means unlimited.
	RelayMaxConnections int `mapstructure:"relay_max_connections" toml:"relay_max_connections"`
	// URL agents dial to reach the relay.
	RelayURL string `mapstructure:"relay_url" toml:"relay_url"`
	// Origins allowed to open relay connections from a browser. Empty
	// disables CORS handling.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins" toml:"cors_allowed_origins"`
}

// DefaultTransportConfig returns an in-memory transport configuration.
func DefaultTransportConfig() *TransportConfig {
	return &TransportConfig{
		Backend:             TransportMemory,
		MailboxCapacity:     100,
		RedisAddr:           "localhost:6379",
		RelayListenAddr:     "tcp://127.0.0.1:26680",
		RelayMaxConnections: 900,
		RelayURL:            "ws://127.0.0.1:26680/ws",
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *TransportConfig) ValidateBasic() error {
	switch cfg.Backend {
	case TransportMemory:
	case TransportRedis:
		if cfg.RedisAddr == "" {
			return errors.New("redis_addr is required for the redis backend")
		}
	case TransportWebsocket:
		if cfg.RelayURL == "" {
			return errors.New("relay_url is required for the websocket backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if cfg.MailboxCapacity <= 0 {
		return errors.New("mailbox_capacity must be positive")
	}
	if cfg.RedisDB < 0 {
		return errors.New("redis_db can't be negative")
	}
	if cfg.RelayMaxConnections < 0 {
		return errors.New("relay_max_connections can't be negative")
	}
	return nil
}

// IsCorsEnabled returns true if cross-origin resource sharing is enabled on
// the relay.
func (cfg *TransportConfig) IsCorsEnabled() bool {
	return len(cfg.CORSAllowedOrigins) != 0
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	Prometheus bool `mapstructure:"prometheus" toml:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus_listen_addr" toml:"prometheus_listen_addr"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace" toml:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26690",
		Namespace:            "acp0",
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.Prometheus && cfg.PrometheusListenAddr == "" {
		return errors.New("prometheus_listen_addr can't be empty when prometheus is enabled")
	}
	if cfg.Namespace == "" {
		return errors.New("namespace can't be empty")
	}
	return nil
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

var defaultMoniker = getDefaultMoniker()

// getDefaultMoniker returns a default moniker, which is the host name. If runtime
// fails to get the host name, "anonymous" will be returned.
func getDefaultMoniker() string {
	moniker, err := hostname()
	if err != nil {
		moniker = "anonymous"
	}
	return moniker
}
