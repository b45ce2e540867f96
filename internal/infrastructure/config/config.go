package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// KnownExchanges is the default comparison order; ties in the aggregation cycle
// go to the exchange listed first.
var KnownExchanges = []string{"binance", "bybit", "okx", "bitget", "mexc"}

// ConnectorConfig 连接器参数，[connector] 为默认值，[exchanges.<name>] 可逐项覆盖
type ConnectorConfig struct {
	FetchIntervalMs      int     `toml:"fetch_interval_ms"`
	FundingIntervalMs    int     `toml:"funding_interval_ms"`
	RetryAttempts        int     `toml:"retry_attempts"`
	TimeoutMs            int     `toml:"timeout_ms"`
	BatchSize            int     `toml:"batch_size"`
	SubscribeBatchSize   int     `toml:"subscribe_batch_size"`
	SubscribePauseMs     int     `toml:"subscribe_pause_ms"`
	Concurrency          int     `toml:"concurrency"`
	BatchPauseMs         int     `toml:"batch_pause_ms"`
	RequestsPerSecond    float64 `toml:"requests_per_second"`
	ReconnectBaseMs      int     `toml:"reconnect_base_ms"`
	ReconnectMaxMs       int     `toml:"reconnect_max_ms"`
	ReconnectJitterMs    int     `toml:"reconnect_jitter_ms"`
	MaxReconnectAttempts int     `toml:"max_reconnect_attempts"`
	MessageTimeoutMs     int     `toml:"message_timeout_ms"`
	MalformedThreshold   int     `toml:"malformed_threshold"`
	MaxConnLifetimeMin   int     `toml:"max_conn_lifetime_min"`
	ProxyURL             string  `toml:"proxy_url"`
}

type ExchangeConfig struct {
	Enabled bool   `toml:"enabled"`
	WsURL   string `toml:"ws_url"`
	RestURL string `toml:"rest_url"`
	ConnectorConfig
}

type Config struct {
	App struct {
		PrintEveryMin      int     `toml:"print_every_min"`
		TopN               int     `toml:"top_n"`
		SummaryIntervalSec int     `toml:"summary_interval_sec"`
		HighlightSpreadPct float64 `toml:"highlight_spread_pct"` // console: spreads at or above are green
		Live               bool    `toml:"live"`                 // console: redraw a one-line status every cycle
	} `toml:"app"`

	Symbols struct {
		List         []string          `toml:"list"`   // base assets
		Quotes       []string          `toml:"quotes"` // subscribed quote assets
		PrimaryQuote string            `toml:"primary_quote"`
		QuoteAliases map[string]string `toml:"quote_aliases"`
	} `toml:"symbols"`

	Aggregation struct {
		IntervalMs      int    `toml:"interval_ms"`
		PriceGrouping   string `toml:"price_grouping"`
		FundingGrouping string `toml:"funding_grouping"`
	} `toml:"aggregation"`

	Connector ConnectorConfig           `toml:"connector"`
	Exchanges map[string]ExchangeConfig `toml:"exchanges"`

	HTTP struct {
		Enabled         bool   `toml:"enabled"`
		Addr            string `toml:"addr"`
		ReadTimeoutSec  int    `toml:"read_timeout_sec"`
		WriteTimeoutSec int    `toml:"write_timeout_sec"`
	} `toml:"http"`

	Metrics struct {
		Enabled   bool   `toml:"enabled"`
		Namespace string `toml:"namespace"`
	} `toml:"metrics"`

	Log struct {
		Level      string `toml:"level"`
		File       string `toml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
		MaxAgeDays int    `toml:"max_age_days"`
		Compress   bool   `toml:"compress"`
	} `toml:"log"`

	Storage struct {
		Redis struct {
			Enabled    bool   `toml:"enabled"`
			Addr       string `toml:"addr"`
			Password   string `toml:"password"`
			DB         int    `toml:"db"`
			Prefix     string `toml:"prefix"`
			TTLSeconds int    `toml:"ttl_seconds"`
		} `toml:"redis"`
		SQLite struct {
			Enabled bool   `toml:"enabled"`
			Path    string `toml:"path"`
		} `toml:"sqlite"`
		Postgres struct {
			Enabled bool   `toml:"enabled"`
			DSN     string `toml:"dsn"`
		} `toml:"postgres"`
	} `toml:"storage"`
}

// Load reads an optional .env next to the working directory, then the toml file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("ignoring unreadable .env")
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets secrets stay out of the toml file.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("PERPARB_REDIS_PASSWORD"); ok {
		cfg.Storage.Redis.Password = v
	}
	if v, ok := os.LookupEnv("PERPARB_POSTGRES_DSN"); ok {
		cfg.Storage.Postgres.DSN = v
	}
	if v, ok := os.LookupEnv("PERPARB_HTTP_ADDR"); ok {
		cfg.HTTP.Addr = v
	}
	if v, ok := os.LookupEnv("PERPARB_LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.PrintEveryMin <= 0 {
		cfg.App.PrintEveryMin = 5
	}
	if cfg.App.TopN <= 0 {
		cfg.App.TopN = 10
	}
	if cfg.App.SummaryIntervalSec <= 0 {
		cfg.App.SummaryIntervalSec = 60
	}
	if cfg.App.HighlightSpreadPct <= 0 {
		cfg.App.HighlightSpreadPct = 0.5
	}
	if len(cfg.Symbols.Quotes) == 0 {
		cfg.Symbols.Quotes = []string{"USDT"}
	}
	if cfg.Aggregation.IntervalMs <= 0 {
		cfg.Aggregation.IntervalMs = 5000
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.ReadTimeoutSec <= 0 {
		cfg.HTTP.ReadTimeoutSec = 10
	}
	if cfg.HTTP.WriteTimeoutSec <= 0 {
		cfg.HTTP.WriteTimeoutSec = 10
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "perparb"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Storage.Redis.Prefix == "" {
		cfg.Storage.Redis.Prefix = "perparb"
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "data/perparb.db"
	}

	c := &cfg.Connector
	def := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	def(&c.FetchIntervalMs, 2000)
	def(&c.FundingIntervalMs, 60_000)
	def(&c.RetryAttempts, 3)
	def(&c.TimeoutMs, 10_000)
	def(&c.BatchSize, 20)
	def(&c.SubscribePauseMs, 200)
	def(&c.Concurrency, 4)
	def(&c.BatchPauseMs, 500)
	def(&c.ReconnectBaseMs, 1000)
	def(&c.ReconnectMaxMs, 120_000)
	def(&c.ReconnectJitterMs, 1000)
	def(&c.MaxReconnectAttempts, 10)
	def(&c.MessageTimeoutMs, 30_000)
	def(&c.MalformedThreshold, 20)
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 10
	}
}

func validate(cfg *Config) error {
	cfg.Symbols.List = normalizeList(cfg.Symbols.List)
	if len(cfg.Symbols.List) == 0 {
		return errors.New("symbols.list is empty")
	}
	cfg.Symbols.Quotes = normalizeList(cfg.Symbols.Quotes)
	cfg.Symbols.PrimaryQuote = strings.ToUpper(strings.TrimSpace(cfg.Symbols.PrimaryQuote))
	if cfg.Symbols.PrimaryQuote == "" {
		cfg.Symbols.PrimaryQuote = cfg.Symbols.Quotes[0]
	}
	aliases := make(map[string]string, len(cfg.Symbols.QuoteAliases))
	for k, v := range cfg.Symbols.QuoteAliases {
		k, v = strings.ToUpper(strings.TrimSpace(k)), strings.ToUpper(strings.TrimSpace(v))
		if k == "" || v == "" {
			return fmt.Errorf("symbols.quote_aliases: empty entry %q=%q", k, v)
		}
		aliases[k] = v
	}
	cfg.Symbols.QuoteAliases = aliases

	for _, g := range []string{cfg.Aggregation.PriceGrouping, cfg.Aggregation.FundingGrouping} {
		switch strings.ToLower(strings.TrimSpace(g)) {
		case "", "base", "settlement", "settle":
		default:
			return fmt.Errorf("aggregation grouping %q: want base or settlement", g)
		}
	}

	normalized := make(map[string]ExchangeConfig, len(cfg.Exchanges))
	for name, ex := range cfg.Exchanges {
		normalized[strings.ToLower(strings.TrimSpace(name))] = ex
	}
	cfg.Exchanges = normalized
	if len(cfg.GetEnabledExchanges()) == 0 {
		return errors.New("no exchange enabled")
	}

	if cfg.Storage.Postgres.Enabled && strings.TrimSpace(cfg.Storage.Postgres.DSN) == "" {
		return errors.New("storage.postgres.dsn empty but enabled")
	}
	if cfg.Storage.Redis.Enabled && strings.TrimSpace(cfg.Storage.Redis.Addr) == "" {
		return errors.New("storage.redis.addr empty but enabled")
	}
	return nil
}

// GetEnabledExchanges returns enabled exchanges, known ones in KnownExchanges
// order and any others sorted after them.
func (c *Config) GetEnabledExchanges() []string {
	var out []string
	seen := make(map[string]struct{})
	for _, name := range KnownExchanges {
		if ex, ok := c.Exchanges[name]; ok && ex.Enabled {
			out = append(out, name)
			seen[name] = struct{}{}
		}
	}
	var extra []string
	for name, ex := range c.Exchanges {
		if _, ok := seen[name]; !ok && ex.Enabled {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// Connector merges [connector] defaults with the exchange's own overrides.
func (c *Config) ConnectorFor(name string) ConnectorConfig {
	out := c.Connector
	ov := c.Exchanges[name].ConnectorConfig
	pick := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	pick(&out.FetchIntervalMs, ov.FetchIntervalMs)
	pick(&out.FundingIntervalMs, ov.FundingIntervalMs)
	pick(&out.RetryAttempts, ov.RetryAttempts)
	pick(&out.TimeoutMs, ov.TimeoutMs)
	pick(&out.BatchSize, ov.BatchSize)
	pick(&out.SubscribeBatchSize, ov.SubscribeBatchSize)
	pick(&out.SubscribePauseMs, ov.SubscribePauseMs)
	pick(&out.Concurrency, ov.Concurrency)
	pick(&out.BatchPauseMs, ov.BatchPauseMs)
	pick(&out.ReconnectBaseMs, ov.ReconnectBaseMs)
	pick(&out.ReconnectMaxMs, ov.ReconnectMaxMs)
	pick(&out.ReconnectJitterMs, ov.ReconnectJitterMs)
	pick(&out.MaxReconnectAttempts, ov.MaxReconnectAttempts)
	pick(&out.MessageTimeoutMs, ov.MessageTimeoutMs)
	pick(&out.MalformedThreshold, ov.MalformedThreshold)
	pick(&out.MaxConnLifetimeMin, ov.MaxConnLifetimeMin)
	if ov.RequestsPerSecond > 0 {
		out.RequestsPerSecond = ov.RequestsPerSecond
	}
	if ov.ProxyURL != "" {
		out.ProxyURL = ov.ProxyURL
	}
	return out
}

func (c *Config) AggregationInterval() time.Duration {
	return time.Duration(c.Aggregation.IntervalMs) * time.Millisecond
}

func Ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
