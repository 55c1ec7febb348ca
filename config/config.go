package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"arbflow/models"
)

type Config struct {
	Arbflow    ArbflowConfig    `yaml:"arbflow"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Exchanges  []ExchangeConfig `yaml:"exchanges"`
	MarketData MarketDataConfig `yaml:"market_data"`
	Detectors  DetectorsConfig  `yaml:"detectors"`
	Risk       RiskConfig       `yaml:"risk"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Feed       FeedConfig       `yaml:"feed"`
}

type ArbflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Address    string `yaml:"address"`
	CloudWatch bool   `yaml:"cloudwatch"`
	Region     string `yaml:"region"`
	Namespace  string `yaml:"namespace"`
}

type ChannelsConfig struct {
	QuoteBuffer       int `yaml:"quote_buffer"`
	OpportunityBuffer int `yaml:"opportunity_buffer"`
}

type ExchangeConfig struct {
	ID          string             `yaml:"id"`
	Markets     []string           `yaml:"markets"`
	Fees        models.FeeSchedule `yaml:"fees"`
	RateBudget  int                `yaml:"rate_budget"`
	WSURL       string             `yaml:"ws_url"`
	RESTURL     string             `yaml:"rest_url"`
	Heartbeat   time.Duration      `yaml:"heartbeat"`
	GracePeriod time.Duration      `yaml:"grace_period"`
}

type MarketDataConfig struct {
	QuoteCurrencies []string      `yaml:"quote_currencies"`
	MarketTypes     []string      `yaml:"market_types"`
	StalenessBound  time.Duration `yaml:"staleness_bound"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	StoreShards     int           `yaml:"store_shards"`
}

type BackoffConfig struct {
	Base   time.Duration `yaml:"base"`
	Max    time.Duration `yaml:"max"`
	Jitter float64       `yaml:"jitter"`
}

type DetectorsConfig struct {
	Triangular  TriangularConfig  `yaml:"triangular"`
	Spread      SpreadConfig      `yaml:"spread"`
	Statistical StatisticalConfig `yaml:"statistical"`
	Basis       BasisConfig       `yaml:"basis"`
	Backoff     BackoffConfig     `yaml:"backoff"`
}

type TriangularConfig struct {
	Enabled            bool          `yaml:"enabled"`
	TickInterval       time.Duration `yaml:"tick_interval"`
	BaseCurrencies     []string      `yaml:"base_currencies"`
	MaxCycleLen        int           `yaml:"max_cycle_len"`
	MinProfitThreshold float64       `yaml:"min_profit_threshold"`
	SlippageBuffer     float64       `yaml:"slippage_buffer"`
	TradeAmount        float64       `yaml:"trade_amount"`
}

type SpreadConfig struct {
	Enabled       bool          `yaml:"enabled"`
	TickInterval  time.Duration `yaml:"tick_interval"`
	MinSpreadRate float64       `yaml:"min_spread_rate"`
	TradeAmount   float64       `yaml:"trade_amount"`
}

type StatisticalPair struct {
	First  string `yaml:"first"`
	Second string `yaml:"second"`
}

type StatisticalConfig struct {
	Enabled              bool              `yaml:"enabled"`
	TickInterval         time.Duration     `yaml:"tick_interval"`
	Pairs                []StatisticalPair `yaml:"pairs"`
	WindowSize           int               `yaml:"window_size"`
	ZScoreThreshold      float64           `yaml:"z_score_threshold"`
	CorrelationThreshold float64           `yaml:"correlation_threshold"`
	TradeAmount          float64           `yaml:"trade_amount"`
}

type BasisConfig struct {
	Enabled              bool          `yaml:"enabled"`
	TickInterval         time.Duration `yaml:"tick_interval"`
	MinBasisRate         float64       `yaml:"min_basis_rate"`
	FundingRateThreshold float64       `yaml:"funding_rate_threshold"`
	TradeAmount          float64       `yaml:"trade_amount"`
}

type RiskConfig struct {
	MaxPositionPerSymbol float64 `yaml:"max_position_per_symbol"`
	MaxConcurrent        int     `yaml:"max_concurrent"`
	MaxDailyLoss         float64 `yaml:"max_daily_loss"`
	StopLossRate         float64 `yaml:"stop_loss_rate"`
}

type ExecutionConfig struct {
	AckTimeout     time.Duration `yaml:"ack_timeout"`
	OpportunityTTL time.Duration `yaml:"opportunity_ttl"`
}

type FeedConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// LoadConfig reads and validates the YAML configuration. Validation rejects
// missing or out-of-range fields at startup instead of failing deep inside a
// detector pass.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Metrics: MetricsConfig{Enabled: true, Address: "0.0.0.0:2112"},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if v := os.Getenv("AWS_REGION"); v != "" {
		config.Metrics.Region = strings.TrimSpace(v)
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyDefaults(cfg *Config) {
	if cfg.MarketData.StalenessBound <= 0 {
		cfg.MarketData.StalenessBound = 5 * time.Second
	}
	if cfg.MarketData.RefreshInterval <= 0 {
		cfg.MarketData.RefreshInterval = 30 * time.Minute
	}
	if cfg.MarketData.StoreShards <= 0 {
		cfg.MarketData.StoreShards = 16
	}
	if cfg.Detectors.Backoff.Base <= 0 {
		cfg.Detectors.Backoff.Base = time.Second
	}
	if cfg.Detectors.Backoff.Max <= 0 {
		cfg.Detectors.Backoff.Max = time.Minute
	}
	if cfg.Detectors.Backoff.Jitter <= 0 {
		cfg.Detectors.Backoff.Jitter = 0.2
	}
	if cfg.Detectors.Triangular.MaxCycleLen == 0 {
		cfg.Detectors.Triangular.MaxCycleLen = 4
	}
	if cfg.Execution.AckTimeout <= 0 {
		cfg.Execution.AckTimeout = 5 * time.Second
	}
	if cfg.Execution.OpportunityTTL <= 0 {
		cfg.Execution.OpportunityTTL = 2 * time.Second
	}
	for i := range cfg.Exchanges {
		if cfg.Exchanges[i].Heartbeat <= 0 {
			cfg.Exchanges[i].Heartbeat = 15 * time.Second
		}
		if cfg.Exchanges[i].GracePeriod <= 0 {
			cfg.Exchanges[i].GracePeriod = 30 * time.Second
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Arbflow.Name == "" {
		return fmt.Errorf("arbflow.name is required")
	}
	if cfg.Arbflow.Version == "" {
		return fmt.Errorf("arbflow.version is required")
	}
	if len(cfg.Exchanges) == 0 {
		return fmt.Errorf("at least one exchange must be configured")
	}
	seen := make(map[string]struct{}, len(cfg.Exchanges))
	for _, ex := range cfg.Exchanges {
		id := strings.ToLower(strings.TrimSpace(ex.ID))
		if id == "" {
			return fmt.Errorf("exchange id must not be empty")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate exchange id %q", id)
		}
		seen[id] = struct{}{}
		if ex.Fees.Taker < 0 || ex.Fees.Maker < 0 {
			return fmt.Errorf("exchange %q: fee rates must not be negative", id)
		}
		if ex.Fees.Taker > 0.05 {
			return fmt.Errorf("exchange %q: taker fee %.4f looks implausible", id, ex.Fees.Taker)
		}
	}
	if cfg.Channels.QuoteBuffer <= 0 {
		return fmt.Errorf("channels.quote_buffer must be greater than 0")
	}
	if cfg.Channels.OpportunityBuffer <= 0 {
		return fmt.Errorf("channels.opportunity_buffer must be greater than 0")
	}
	if len(cfg.MarketData.MarketTypes) == 0 {
		return fmt.Errorf("market_data.market_types must name at least one market type")
	}
	for _, mt := range cfg.MarketData.MarketTypes {
		switch models.MarketType(mt) {
		case models.MarketSpot, models.MarketFutures, models.MarketMargin:
		default:
			return fmt.Errorf("market_data.market_types: unknown market type %q", mt)
		}
	}
	if len(cfg.MarketData.QuoteCurrencies) == 0 {
		return fmt.Errorf("market_data.quote_currencies must name at least one currency")
	}

	if t := cfg.Detectors.Triangular; t.Enabled {
		if t.TickInterval <= 0 {
			return fmt.Errorf("detectors.triangular.tick_interval must be greater than 0")
		}
		if t.MinProfitThreshold <= 0 {
			return fmt.Errorf("detectors.triangular.min_profit_threshold must be greater than 0")
		}
		if t.MaxCycleLen < 3 || t.MaxCycleLen > 4 {
			return fmt.Errorf("detectors.triangular.max_cycle_len must be 3 or 4")
		}
		if len(t.BaseCurrencies) == 0 {
			return fmt.Errorf("detectors.triangular.base_currencies must name at least one currency")
		}
	}
	if s := cfg.Detectors.Spread; s.Enabled {
		if s.TickInterval <= 0 {
			return fmt.Errorf("detectors.spread.tick_interval must be greater than 0")
		}
		if s.MinSpreadRate <= 0 {
			return fmt.Errorf("detectors.spread.min_spread_rate must be greater than 0")
		}
	}
	if s := cfg.Detectors.Statistical; s.Enabled {
		if s.TickInterval <= 0 {
			return fmt.Errorf("detectors.statistical.tick_interval must be greater than 0")
		}
		if s.WindowSize < 2 {
			return fmt.Errorf("detectors.statistical.window_size must be at least 2")
		}
		if s.ZScoreThreshold <= 0 {
			return fmt.Errorf("detectors.statistical.z_score_threshold must be greater than 0")
		}
		if s.CorrelationThreshold <= 0 || s.CorrelationThreshold > 1 {
			return fmt.Errorf("detectors.statistical.correlation_threshold must be in (0, 1]")
		}
		if len(s.Pairs) == 0 {
			return fmt.Errorf("detectors.statistical.pairs must name at least one pair")
		}
	}
	if b := cfg.Detectors.Basis; b.Enabled {
		if b.TickInterval <= 0 {
			return fmt.Errorf("detectors.basis.tick_interval must be greater than 0")
		}
		if b.MinBasisRate <= 0 {
			return fmt.Errorf("detectors.basis.min_basis_rate must be greater than 0")
		}
	}

	if cfg.Risk.MaxConcurrent <= 0 {
		return fmt.Errorf("risk.max_concurrent must be greater than 0")
	}
	if cfg.Risk.MaxPositionPerSymbol <= 0 {
		return fmt.Errorf("risk.max_position_per_symbol must be greater than 0")
	}
	if cfg.Risk.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be greater than 0")
	}

	return nil
}

// ExchangeInfo converts the static exchange entry into the immutable model
// handed to resolvers and detectors.
func (e ExchangeConfig) ExchangeInfo() models.ExchangeInfo {
	markets := make([]models.MarketType, 0, len(e.Markets))
	for _, m := range e.Markets {
		markets = append(markets, models.MarketType(m))
	}
	return models.ExchangeInfo{
		ID:         strings.ToLower(e.ID),
		Markets:    markets,
		Fees:       e.Fees,
		RateBudget: e.RateBudget,
	}
}
