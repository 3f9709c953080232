// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tradebot-go/internal/indicator"
	"tradebot-go/internal/risk"
	"tradebot-go/internal/strategy"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name          string `yaml:"name" default:"tradebot"`
	Env           string `yaml:"env" default:"dev" validate:"oneof=dev staging prod test"`
	MetricsAddr   string `yaml:"metrics_addr" default:":9102"`
	APIAddr       string `yaml:"api_addr" default:":8080"`
	LogLevel      string `yaml:"log_level" default:"info"`
	LogFormat     string `yaml:"log_format" default:"json" validate:"oneof=json console"`
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb" default:"50" validate:"gte=1"`
	LogMaxBackups int    `yaml:"log_max_backups" default:"7" validate:"gte=0"`
	LogMaxAgeDays int    `yaml:"log_max_age_days" default:"30" validate:"gte=0"`
}

// Exchange describes the centralized exchange connectivity parameters the bot expects.
type Exchange struct {
	Name              string   `yaml:"name" default:"binance"`
	Feed              string   `yaml:"feed" default:"stub" validate:"oneof=stub binance"`
	Symbols           []string `yaml:"symbols" default:"[\"BTCUSDT\"]" validate:"min=1,dive,required"`
	Timeframe         string   `yaml:"timeframe" default:"1m" validate:"required"`
	APIKey            string   `yaml:"api_key"`
	APISecret         string   `yaml:"api_secret"`
	BaseURL           string   `yaml:"base_url"`
	StreamURL         string   `yaml:"stream_url"`
	Testnet           bool     `yaml:"testnet"`
	RequestsPerSecond float64  `yaml:"requests_per_second" default:"10" validate:"gt=0"`
	TimeoutMs         int      `yaml:"timeout_ms" default:"10000" validate:"gte=100"`
	WarmupBars        int      `yaml:"warmup_bars" default:"200" validate:"gte=0,lte=5000"`
	QuoteAsset        string   `yaml:"quote_asset" default:"USDT"`
}

// Execution selects the executor variant and its retry behaviour.
type Execution struct {
	Mode              string  `yaml:"mode" default:"simulated" validate:"oneof=simulated paper dry_run live"`
	Venue             string  `yaml:"venue" default:"binance" validate:"oneof=binance jupiter"`
	SlippageBps       float64 `yaml:"slippage_bps" default:"5" validate:"gte=0,lte=1000"`
	MaxRetries        int     `yaml:"max_retries" default:"3" validate:"gte=0,lte=20"`
	RetryMinMs        int     `yaml:"retry_min_ms" default:"200" validate:"gte=1"`
	RetryMaxMs        int     `yaml:"retry_max_ms" default:"5000" validate:"gtefield=RetryMinMs"`
	FlattenOnShutdown bool    `yaml:"flatten_on_shutdown"`
}

// Risk encodes guard-rails for how much size the executor may take on.
type Risk struct {
	StopLossPercent     float64 `yaml:"stop_loss_percent" default:"2" validate:"gte=0,lt=100"`
	TakeProfitPercent   float64 `yaml:"take_profit_percent" default:"5" validate:"gte=0"`
	PositionSizePercent float64 `yaml:"position_size_percent" default:"10" validate:"gt=0,lte=100"`
	MaxDailyLossPercent float64 `yaml:"max_daily_loss_percent" default:"5" validate:"gt=0,lte=100"`
	MaxTradesPerDay     int     `yaml:"max_trades_per_day" default:"10" validate:"gte=1"`
	AllowShort          bool    `yaml:"allow_short"`
	MaxNotionalPerTrade float64 `yaml:"max_notional_per_trade" validate:"gte=0"`
}

// Strategy specifies which strategy is active along with the parameter bundle.
type Strategy struct {
	Mode              string   `yaml:"mode" default:"fusion" validate:"oneof=fusion advanced sma_cross simple"`
	Voters            []string `yaml:"voters" validate:"dive,oneof=rsi macd bollinger ma_cross ma_trend momentum"`
	MinAgree          int      `yaml:"min_agree" validate:"gte=0"`
	RSIPeriod         int      `yaml:"rsi_period" default:"14"`
	RSIOverbought     float64  `yaml:"rsi_overbought" default:"70" validate:"gt=0,lte=100"`
	RSIOversold       float64  `yaml:"rsi_oversold" default:"30" validate:"gte=0,ltfield=RSIOverbought"`
	MACDFast          int      `yaml:"macd_fast" default:"12"`
	MACDSlow          int      `yaml:"macd_slow" default:"26"`
	MACDSignal        int      `yaml:"macd_signal" default:"9"`
	BBPeriod          int      `yaml:"bb_period" default:"20"`
	BBStdDev          float64  `yaml:"bb_std_dev" default:"2"`
	EMAFast           int      `yaml:"ema_fast" default:"12"`
	EMASlow           int      `yaml:"ema_slow" default:"26"`
	SMAFast           int      `yaml:"sma_fast" default:"5"`
	SMASlow           int      `yaml:"sma_slow" default:"20"`
	MomentumThreshold float64  `yaml:"momentum_threshold" default:"1" validate:"gte=0"`
	MomentumLookback  int      `yaml:"momentum_lookback" default:"1" validate:"gte=1"`
}

// Backtest configures historical replays.
type Backtest struct {
	InitialBalance float64 `yaml:"initial_balance" default:"10000" validate:"gt=0"`
	SlippageBps    float64 `yaml:"slippage_bps" validate:"gte=0,lte=1000"`
	Annualization  float64 `yaml:"annualization" validate:"gte=0"`
	DataPath       string  `yaml:"data_path"`
	TradesCSV      string  `yaml:"trades_csv"`
	ChartPath      string  `yaml:"chart_path"`
}

// Paper captures paper-trading account settings such as starting cash and trade logs.
type Paper struct {
	StartingCash float64 `yaml:"starting_cash" default:"10000" validate:"gt=0"`
	FillsPath    string  `yaml:"fills_path" default:"data/trades.jsonl"`
	CSVPath      string  `yaml:"csv_path" default:"data/trades.csv"`
}

// Store configures SQLite persistence.
type Store struct {
	Disabled bool   `yaml:"disabled"`
	Path     string `yaml:"path" default:"data/tradebot.db"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App       App       `yaml:"app"`
	Exchange  Exchange  `yaml:"exchange"`
	Execution Execution `yaml:"execution"`
	Risk      Risk      `yaml:"risk"`
	Strategy  Strategy  `yaml:"strategy"`
	Backtest  Backtest  `yaml:"backtest"`
	Paper     Paper     `yaml:"paper"`
	Store     Store     `yaml:"store"`
	Dex       Dex       `yaml:"dex"`
	Wallet    Wallet    `yaml:"wallet"`
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

var validate = validator.New()

// Default returns a Config with every default applied.
func Default() *Config {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &cfg
}

// Load reads a YAML file from disk, applies defaults and environment secrets,
// and validates the result.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := defaults.Set(&config); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	config.applyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyEnv overlays exchange credentials and DEX endpoints from the environment (.env is optional).
func (c *Config) applyEnv() {
	_ = godotenv.Load()
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		c.Exchange.APISecret = v
	}
	if v := os.Getenv("SOLANA_RPC_URL"); v != "" {
		c.Dex.RpcURL = v
	}
	if v := os.Getenv("JUPITER_BASE_URL"); v != "" {
		c.Dex.JupiterBase = v
	}
}

// Validate runs struct tag rules and the cross-field checks of the risk and
// indicator settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := c.RiskConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := c.StrategyParams().Indicators.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	voters := len(c.Strategy.Voters)
	if voters == 0 {
		voters = len(strategy.DefaultVoters())
	}
	if c.Strategy.MinAgree > voters {
		return fmt.Errorf("%w: min_agree %d exceeds %d voters", ErrInvalid, c.Strategy.MinAgree, voters)
	}
	if c.Execution.Mode == "live" && c.Execution.Venue == "binance" && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return fmt.Errorf("%w: live execution needs BINANCE_API_KEY and BINANCE_API_SECRET", ErrInvalid)
	}
	if c.Execution.Venue == "jupiter" && len(c.Dex.Pairs) == 0 {
		return fmt.Errorf("%w: jupiter venue needs dex.pairs", ErrInvalid)
	}
	return nil
}

// RiskConfig converts the risk section into gate thresholds.
func (c *Config) RiskConfig() risk.Config {
	r := c.Risk
	return risk.Config{
		StopLossPercent:     r.StopLossPercent,
		TakeProfitPercent:   r.TakeProfitPercent,
		PositionSizePercent: r.PositionSizePercent,
		MaxDailyLossPercent: r.MaxDailyLossPercent,
		MaxTradesPerDay:     r.MaxTradesPerDay,
		AllowShort:          r.AllowShort,
		Limits:              risk.Limits{MaxNotionalPerTrade: r.MaxNotionalPerTrade},
	}
}

// StrategyParams converts the strategy section into constructor parameters.
func (c *Config) StrategyParams() strategy.Params {
	s := c.Strategy
	return strategy.Params{
		Indicators: indicator.Params{
			RSIPeriod:  s.RSIPeriod,
			MACDFast:   s.MACDFast,
			MACDSlow:   s.MACDSlow,
			MACDSignal: s.MACDSignal,
			BBPeriod:   s.BBPeriod,
			BBStdDev:   s.BBStdDev,
			EMAFast:    s.EMAFast,
			EMASlow:    s.EMASlow,
			SMAFast:    s.SMAFast,
			SMASlow:    s.SMASlow,
		},
		Voters:            s.Voters,
		MinAgree:          s.MinAgree,
		RSIOversold:       s.RSIOversold,
		RSIOverbought:     s.RSIOverbought,
		MomentumThreshold: s.MomentumThreshold,
		MomentumLookback:  s.MomentumLookback,
	}
}

// RetryBounds returns the executor backoff window.
func (e Execution) RetryBounds() (time.Duration, time.Duration) {
	return time.Duration(e.RetryMinMs) * time.Millisecond, time.Duration(e.RetryMaxMs) * time.Millisecond
}

// Timeout returns the REST timeout.
func (e Exchange) Timeout() time.Duration { return time.Duration(e.TimeoutMs) * time.Millisecond }

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
