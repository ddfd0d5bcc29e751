package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"grid_bot/internal/models"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
	exchangeKeyENV    = "EXCHANGE_API_KEY"
	exchangeSecretENV = "EXCHANGE_API_SECRET"

	defaultConfigFile = "values_local.yaml"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	ExchangeBinance = "binance"
	ExchangePaper   = "paper"
)

// Config ...
type Config struct {
	Service struct {
		Host      string `mapstructure:"host"`
		AdminPort int    `mapstructure:"admin_port"`
	} `mapstructure:"service"`
	DB    string `mapstructure:"db_dsn"`
	Store string `mapstructure:"store"`

	Exchange Exchange `mapstructure:"exchange"`
	Engine   Engine   `mapstructure:"engine"`
	Telegram struct {
		Token  string `mapstructure:"token"`
		ChatID int64  `mapstructure:"chat_id"`
	} `mapstructure:"telegram"`
	Tracing struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
	} `mapstructure:"tracing"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Symbols []models.SymbolConfig `mapstructure:"symbols"`
}

type Exchange struct {
	Name       string        `mapstructure:"name"`
	BaseURL    string        `mapstructure:"base_url"`
	WSURL      string        `mapstructure:"ws_url"`
	APIKey     string        `mapstructure:"api_key"`
	APISecret  string        `mapstructure:"api_secret"`
	RecvWindow time.Duration `mapstructure:"recv_window"`
	Timeout    time.Duration `mapstructure:"timeout"`
	FeeRate    float64       `mapstructure:"fee_rate"`
	// Stream держать websocket-кеш цен.
	Stream bool `mapstructure:"stream"`
	// PaperLive бумажная биржа берёт цены с публичного REST.
	PaperLive     bool               `mapstructure:"paper_live"`
	PaperBalances map[string]float64 `mapstructure:"paper_balances"`
}

type Engine struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	ExchangeRetryDelay time.Duration `mapstructure:"exchange_retry_delay"`
	NetworkBackoffMin  time.Duration `mapstructure:"network_backoff_min"`
	NetworkBackoffMax  time.Duration `mapstructure:"network_backoff_max"`
	RestartCooldown    time.Duration `mapstructure:"restart_cooldown"`
	LedgerRetries      int           `mapstructure:"ledger_retries"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.host", "0.0.0.0")
	v.SetDefault("service.admin_port", 8080)
	v.SetDefault("store", StorePostgres)

	v.SetDefault("exchange.name", ExchangeBinance)
	v.SetDefault("exchange.recv_window", "5s")
	v.SetDefault("exchange.timeout", "10s")
	v.SetDefault("exchange.fee_rate", 0.001)
	v.SetDefault("exchange.paper_balances", map[string]float64{"USDT": 10000})

	v.SetDefault("engine.tick_interval", "5s")
	v.SetDefault("engine.exchange_retry_delay", "7s")
	v.SetDefault("engine.network_backoff_min", "10s")
	v.SetDefault("engine.network_backoff_max", "60s")
	v.SetDefault("engine.restart_cooldown", "30s")
	v.SetDefault("engine.ledger_retries", 3)

	v.SetDefault("tracing.host", "localhost")
	v.SetDefault("tracing.port", 6831)
	v.SetDefault("log.level", "info")
}

func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = defaultConfigFile
	}
	return Load(filepath.Join("configs", configFileName))
}

// Load читает конфиг из файла и накладывает env.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	if token := os.Getenv(tokenTelegramENV); token != "" {
		cfg.Telegram.Token = token
	}
	if dsn := os.Getenv(databaseDSN); dsn != "" {
		cfg.DB = dsn
	}
	if key := os.Getenv(exchangeKeyENV); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv(exchangeSecretENV); secret != "" {
		cfg.Exchange.APISecret = secret
	}

	for i := range cfg.Symbols {
		cfg.Symbols[i].Normalize()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols: empty list")
	}
	seen := make(map[string]struct{}, len(c.Symbols))
	for _, s := range c.Symbols {
		if err := s.Validate(); err != nil {
			return err
		}
		if _, ok := seen[s.Symbol]; ok {
			return fmt.Errorf("symbols: duplicate %s", s.Symbol)
		}
		seen[s.Symbol] = struct{}{}
	}

	switch c.Store {
	case StorePostgres:
		if c.DB == "" {
			return fmt.Errorf("store postgres: db_dsn is empty")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	switch c.Exchange.Name {
	case ExchangeBinance:
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			return fmt.Errorf("exchange binance: api_key/api_secret are required")
		}
	case ExchangePaper:
	default:
		return fmt.Errorf("unknown exchange %q", c.Exchange.Name)
	}

	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be > 0")
	}
	if c.Engine.LedgerRetries < 1 {
		return fmt.Errorf("engine.ledger_retries must be >= 1")
	}
	return nil
}

// AdminAddr адрес служебного http.
func (c *Config) AdminAddr() string {
	return fmt.Sprintf("%s:%d", c.Service.Host, c.Service.AdminPort)
}
