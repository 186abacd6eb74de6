package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeTestnet Mode = "testnet"
	ModeLive    Mode = "live"
)

// Environment variables consulted after the YAML document is decoded; a
// non-empty value wins over the file. godotenv in cmd populates these from
// .env so secrets stay out of the config file.
const (
	EnvAPIKey        = "LADDERBOT_API_KEY"
	EnvAPISecret     = "LADDERBOT_API_SECRET"
	EnvTelegramToken = "LADDERBOT_TELEGRAM_BOT_TOKEN"
	EnvEmailPassword = "LADDERBOT_EMAIL_PASSWORD"
)

type Config struct {
	Mode           Mode                 `yaml:"mode"`
	Symbol         string               `yaml:"symbol"`
	QuoteAsset     string               `yaml:"quote_asset"`
	InstanceID     string               `yaml:"instance_id"`
	Ladder         LadderConfig         `yaml:"ladder"`
	Rules          RulesConfig          `yaml:"rules"`
	Engine         EngineConfig         `yaml:"engine"`
	Exchange       ExchangeConfig       `yaml:"exchange"`
	State          StateConfig          `yaml:"state"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Observability  ObservabilityConfig  `yaml:"observability"`
}

type LadderConfig struct {
	Budget       Decimal   `yaml:"budget"`
	Offsets      []Decimal `yaml:"offsets"`
	SafetyMargin Decimal   `yaml:"safety_margin"`
	PriceStep    Decimal   `yaml:"price_step"`
}

type RulesConfig struct {
	MinQty      Decimal `yaml:"min_qty"`
	MinNotional Decimal `yaml:"min_notional"`
	PriceTick   Decimal `yaml:"price_tick"`
	QtyStep     Decimal `yaml:"qty_step"`
}

type EngineConfig struct {
	TickIntervalSec int64 `yaml:"tick_interval_sec"`
	// Pointer so an explicit 0 (pre-filter disabled, every pass queries
	// every order) survives defaulting; nil means unset.
	FullScanOneIn *int64 `yaml:"full_scan_one_in"`
	GuardMaxSteps int64  `yaml:"guard_max_steps"`
}

type ExchangeConfig struct {
	APIKey         string `yaml:"api_key"`
	APISecret      string `yaml:"api_secret"`
	RestBaseURL    string `yaml:"rest_base_url"`
	WSBaseURL      string `yaml:"ws_base_url"`
	RecvWindowMs   int64  `yaml:"recv_window_ms"`
	HTTPTimeoutSec int64  `yaml:"http_timeout_sec"`
	ReadRetries    int    `yaml:"read_retries"`
}

type StateConfig struct {
	Dir          string `yaml:"dir"`
	LockTakeover *bool  `yaml:"lock_takeover"`
	LockStaleSec int64  `yaml:"lock_stale_sec"`
}

type CircuitBreakerConfig struct {
	Enabled           bool  `yaml:"enabled"`
	MaxSubmitFailures int   `yaml:"max_submit_failures"`
	MaxQueryFailures  int   `yaml:"max_query_failures"`
	CooldownSec       int64 `yaml:"cooldown_sec"`
}

type ObservabilityConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Email    EmailConfig    `yaml:"email"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
}

type TelegramConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BotToken   string `yaml:"bot_token"`
	ChatID     string `yaml:"chat_id"`
	APIBaseURL string `yaml:"api_base_url"`
	TimeoutSec int64  `yaml:"timeout_sec"`
}

type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Password string `yaml:"password"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type RuntimeConfig struct {
	AlertDropReportSec int64 `yaml:"alert_drop_report_sec"`
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return Config{}, fmt.Errorf("config must contain a single YAML document")
		}
		return Config{}, err
	}
	cfg.normalize()
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Mode = Mode(strings.ToLower(strings.TrimSpace(string(c.Mode))))
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	c.QuoteAsset = strings.ToUpper(strings.TrimSpace(c.QuoteAsset))
	c.InstanceID = strings.ToLower(strings.TrimSpace(c.InstanceID))
	c.Exchange.APIKey = strings.TrimSpace(c.Exchange.APIKey)
	c.Exchange.APISecret = strings.TrimSpace(c.Exchange.APISecret)
	c.Exchange.RestBaseURL = strings.TrimSpace(c.Exchange.RestBaseURL)
	c.Exchange.WSBaseURL = strings.TrimSpace(c.Exchange.WSBaseURL)
	c.State.Dir = strings.TrimSpace(c.State.Dir)
	c.Observability.Telegram.BotToken = strings.TrimSpace(c.Observability.Telegram.BotToken)
	c.Observability.Telegram.ChatID = strings.TrimSpace(c.Observability.Telegram.ChatID)
	c.Observability.Telegram.APIBaseURL = strings.TrimSpace(c.Observability.Telegram.APIBaseURL)
	c.Observability.Email.SMTPHost = strings.TrimSpace(c.Observability.Email.SMTPHost)
	c.Observability.Email.From = strings.TrimSpace(c.Observability.Email.From)
	c.Observability.Email.To = strings.TrimSpace(c.Observability.Email.To)
	c.Observability.Metrics.ListenAddr = strings.TrimSpace(c.Observability.Metrics.ListenAddr)
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvAPIKey)); v != "" {
		c.Exchange.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAPISecret)); v != "" {
		c.Exchange.APISecret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelegramToken)); v != "" {
		c.Observability.Telegram.BotToken = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvEmailPassword)); v != "" {
		c.Observability.Email.Password = v
	}
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeTestnet
	}
	if c.InstanceID == "" {
		c.InstanceID = "default"
	}
	if c.Ladder.Budget.Cmp(decimal.Zero) == 0 {
		c.Ladder.Budget = Decimal{decimal.NewFromInt(200)}
	}
	if len(c.Ladder.Offsets) == 0 {
		for _, v := range []string{"0.5", "1.0", "1.5", "2.5", "5", "7.5", "10"} {
			c.Ladder.Offsets = append(c.Ladder.Offsets, Decimal{decimal.RequireFromString(v)})
		}
	}
	if c.Ladder.SafetyMargin.Cmp(decimal.Zero) == 0 {
		c.Ladder.SafetyMargin = Decimal{decimal.RequireFromString("0.05")}
	}
	if c.Ladder.PriceStep.Cmp(decimal.Zero) == 0 {
		c.Ladder.PriceStep = Decimal{decimal.NewFromInt(3)}
	}
	if c.Rules.MinNotional.Cmp(decimal.Zero) == 0 {
		c.Rules.MinNotional = Decimal{decimal.NewFromInt(15)}
	}
	if c.Rules.PriceTick.Cmp(decimal.Zero) == 0 {
		c.Rules.PriceTick = Decimal{decimal.RequireFromString("0.01")}
	}
	if c.Rules.QtyStep.Cmp(decimal.Zero) == 0 {
		c.Rules.QtyStep = Decimal{decimal.RequireFromString("0.0001")}
	}
	if c.Engine.TickIntervalSec == 0 {
		c.Engine.TickIntervalSec = 20
	}
	if c.Engine.FullScanOneIn == nil {
		oneIn := int64(1000)
		c.Engine.FullScanOneIn = &oneIn
	}
	if c.Engine.GuardMaxSteps == 0 {
		c.Engine.GuardMaxSteps = 10000
	}
	if c.Exchange.RecvWindowMs == 0 {
		c.Exchange.RecvWindowMs = 5000
	}
	if c.Exchange.HTTPTimeoutSec == 0 {
		c.Exchange.HTTPTimeoutSec = 15
	}
	if c.Exchange.ReadRetries == 0 {
		c.Exchange.ReadRetries = 3
	}
	if c.Exchange.RestBaseURL == "" {
		switch c.Mode {
		case ModeTestnet:
			c.Exchange.RestBaseURL = "https://testnet.binance.vision"
		case ModeLive:
			c.Exchange.RestBaseURL = "https://api.binance.com"
		}
	}
	if c.Exchange.WSBaseURL == "" {
		switch c.Mode {
		case ModeTestnet:
			c.Exchange.WSBaseURL = "wss://stream.testnet.binance.vision/ws"
		case ModeLive:
			c.Exchange.WSBaseURL = "wss://stream.binance.com:9443/ws"
		}
	}
	if c.State.Dir == "" {
		c.State.Dir = "state"
	}
	if c.State.LockTakeover == nil {
		enabled := true
		c.State.LockTakeover = &enabled
	}
	if c.State.LockStaleSec == 0 {
		c.State.LockStaleSec = 600
	}
	if c.CircuitBreaker.MaxSubmitFailures == 0 {
		c.CircuitBreaker.MaxSubmitFailures = 5
	}
	if c.CircuitBreaker.MaxQueryFailures == 0 {
		c.CircuitBreaker.MaxQueryFailures = 10
	}
	if c.CircuitBreaker.CooldownSec == 0 {
		c.CircuitBreaker.CooldownSec = 60
	}
	if c.Observability.Telegram.APIBaseURL == "" {
		c.Observability.Telegram.APIBaseURL = "https://api.telegram.org"
	}
	if c.Observability.Telegram.TimeoutSec == 0 {
		c.Observability.Telegram.TimeoutSec = 10
	}
	if c.Observability.Email.SMTPHost == "" {
		c.Observability.Email.SMTPHost = "smtp.gmail.com"
	}
	if c.Observability.Email.SMTPPort == 0 {
		c.Observability.Email.SMTPPort = 587
	}
	if c.Observability.Runtime.AlertDropReportSec == 0 {
		c.Observability.Runtime.AlertDropReportSec = 60
	}
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeTestnet, ModeLive:
	default:
		return fmt.Errorf("mode must be testnet or live")
	}
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if !isValidSymbol(c.Symbol) {
		return fmt.Errorf("symbol must match [A-Z0-9], length 6..20")
	}
	if c.QuoteAsset == "" {
		return fmt.Errorf("quote_asset is required")
	}
	if !isValidInstanceID(c.InstanceID) {
		return fmt.Errorf("instance_id must match [a-z0-9_-], length 1..24")
	}
	if c.Ladder.Budget.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("ladder budget must be > 0")
	}
	if len(c.Ladder.Offsets) < 1 {
		return fmt.Errorf("ladder offsets must not be empty")
	}
	for _, off := range c.Ladder.Offsets {
		if off.Cmp(decimal.Zero) <= 0 || off.Cmp(decimal.NewFromInt(100)) >= 0 {
			return fmt.Errorf("ladder offsets must be between 0 and 100 exclusive")
		}
	}
	if c.Ladder.SafetyMargin.Cmp(decimal.Zero) < 0 || c.Ladder.SafetyMargin.Cmp(decimal.NewFromInt(1)) >= 0 {
		return fmt.Errorf("ladder safety_margin must be in [0, 1)")
	}
	if c.Ladder.PriceStep.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("ladder price_step must be > 0")
	}
	if c.Rules.MinQty.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("rules.min_qty must be >= 0")
	}
	if c.Rules.MinNotional.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("rules.min_notional must be >= 0")
	}
	if c.Rules.PriceTick.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("rules.price_tick must be >= 0")
	}
	if c.Rules.QtyStep.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("rules.qty_step must be >= 0")
	}
	if c.Engine.TickIntervalSec < 5 || c.Engine.TickIntervalSec > 3600 {
		return fmt.Errorf("engine.tick_interval_sec must be between 5 and 3600")
	}
	if c.Engine.FullScanOneIn != nil && *c.Engine.FullScanOneIn < 0 {
		return fmt.Errorf("engine.full_scan_one_in must be >= 0")
	}
	if c.Engine.GuardMaxSteps < 1 {
		return fmt.Errorf("engine.guard_max_steps must be >= 1")
	}
	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		return fmt.Errorf("exchange api_key/api_secret are required for %s mode", c.Mode)
	}
	if c.Exchange.RecvWindowMs < 1 || c.Exchange.RecvWindowMs > 60000 {
		return fmt.Errorf("exchange recv_window_ms must be between 1 and 60000")
	}
	if c.Exchange.HTTPTimeoutSec < 1 || c.Exchange.HTTPTimeoutSec > 120 {
		return fmt.Errorf("exchange http_timeout_sec must be between 1 and 120")
	}
	if c.Exchange.ReadRetries < 1 || c.Exchange.ReadRetries > 10 {
		return fmt.Errorf("exchange read_retries must be between 1 and 10")
	}
	if err := validateURL(c.Exchange.RestBaseURL, "http", "https"); err != nil {
		return fmt.Errorf("exchange rest_base_url %v", err)
	}
	if err := validateURL(c.Exchange.WSBaseURL, "ws", "wss"); err != nil {
		return fmt.Errorf("exchange ws_base_url %v", err)
	}
	if c.State.Dir == "" {
		return fmt.Errorf("state dir is required")
	}
	if c.State.LockStaleSec < 0 || c.State.LockStaleSec > 86400 {
		return fmt.Errorf("state.lock_stale_sec must be between 0 and 86400")
	}
	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.MaxSubmitFailures < 1 {
			return fmt.Errorf("circuit_breaker.max_submit_failures must be >= 1")
		}
		if c.CircuitBreaker.MaxQueryFailures < 1 {
			return fmt.Errorf("circuit_breaker.max_query_failures must be >= 1")
		}
		if c.CircuitBreaker.CooldownSec < 1 || c.CircuitBreaker.CooldownSec > 3600 {
			return fmt.Errorf("circuit_breaker.cooldown_sec must be between 1 and 3600")
		}
	}
	if c.Observability.Telegram.Enabled {
		if c.Observability.Telegram.BotToken == "" {
			return fmt.Errorf("observability.telegram.bot_token is required when telegram enabled")
		}
		if c.Observability.Telegram.ChatID == "" {
			return fmt.Errorf("observability.telegram.chat_id is required when telegram enabled")
		}
		if c.Observability.Telegram.TimeoutSec < 1 || c.Observability.Telegram.TimeoutSec > 120 {
			return fmt.Errorf("observability.telegram.timeout_sec must be between 1 and 120")
		}
		if err := validateURL(c.Observability.Telegram.APIBaseURL, "http", "https"); err != nil {
			return fmt.Errorf("observability.telegram.api_base_url %v", err)
		}
	}
	if c.Observability.Email.Enabled {
		if c.Observability.Email.From == "" || c.Observability.Email.To == "" {
			return fmt.Errorf("observability.email.from/to are required when email enabled")
		}
		if c.Observability.Email.Password == "" {
			return fmt.Errorf("observability.email.password is required when email enabled")
		}
		if c.Observability.Email.SMTPPort < 1 || c.Observability.Email.SMTPPort > 65535 {
			return fmt.Errorf("observability.email.smtp_port must be a valid port")
		}
	}
	if c.Observability.Runtime.AlertDropReportSec < 0 || c.Observability.Runtime.AlertDropReportSec > 3600 {
		return fmt.Errorf("observability.runtime.alert_drop_report_sec must be between 0 and 3600")
	}
	return nil
}

// Offsets unwraps the ladder offsets into plain decimals.
func (c Config) Offsets() []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(c.Ladder.Offsets))
	for _, off := range c.Ladder.Offsets {
		out = append(out, off.Decimal)
	}
	return out
}

func isValidInstanceID(v string) bool {
	if len(v) < 1 || len(v) > 24 {
		return false
	}
	for _, r := range v {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

func isValidSymbol(v string) bool {
	if len(v) < 6 || len(v) > 20 {
		return false
	}
	for _, r := range v {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be %s", strings.Join(schemes, " or "))
}
