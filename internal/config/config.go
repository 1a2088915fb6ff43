package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Binance  Binance  `mapstructure:"binance"`
	Trading  Trading  `mapstructure:"trading"`
	Risk     Risk     `mapstructure:"risk"`
	Monitor  Monitor  `mapstructure:"monitor"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Binance holds the configuration for the Binance ticker used as price oracle.
type Binance struct {
	Enabled        bool    `mapstructure:"enabled"`
	Testnet        bool    `mapstructure:"testnet"`
	QuoteAsset     string  `mapstructure:"quote_asset" validate:"required_if=Enabled true"`
	RateLimit      float64 `mapstructure:"rate_limit" validate:"gte=0"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" validate:"gte=0"`

	// PriceMaxAge bounds how old a last known price may be when the ticker
	// is unreachable. Zero serves it regardless of age.
	PriceMaxAge time.Duration `mapstructure:"price_max_age" validate:"gte=0"`
}

// Server holds the configuration for the HTTP servers.
type Server struct {
	Port        int `mapstructure:"port" validate:"gte=0,lte=65535"`
	ControlPort int `mapstructure:"control_port" validate:"gte=0,lte=65535"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn" validate:"required"`
}

// Trading holds the configuration for wallets and trade execution.
// Money values are decoded straight into decimals.
type Trading struct {
	Symbols        []string        `mapstructure:"symbols" validate:"min=1,dive,required"`
	FeeRate        decimal.Decimal `mapstructure:"fee_rate" validate:"gte=0,lt=1"`
	InitialBalance decimal.Decimal `mapstructure:"initial_balance" validate:"gt=0"`
}

// Risk holds the pre-trade risk limits, all expressed in percent.
type Risk struct {
	MaxPositionPct            decimal.Decimal `mapstructure:"max_position_pct" validate:"gt=0,lte=100"`
	MaxDailyLossPct           decimal.Decimal `mapstructure:"max_daily_loss_pct" validate:"gt=0,lte=100"`
	MaxTotalLossPct           decimal.Decimal `mapstructure:"max_total_loss_pct" validate:"gt=0,lte=100"`
	MinCashReservePct         decimal.Decimal `mapstructure:"min_cash_reserve_pct" validate:"gte=0,lt=100"`
	MaxCorrelationExposurePct decimal.Decimal `mapstructure:"max_correlation_exposure_pct" validate:"gt=0,lte=100"`
}

// Monitor holds the configuration for the conditional order monitor.
type Monitor struct {
	Interval      time.Duration `mapstructure:"interval" validate:"gt=0"`
	AutoStart     bool          `mapstructure:"auto_start"`
	EnforceExpiry bool          `mapstructure:"enforce_expiry"`

	// RevalueInterval is how often every active wallet is marked to market.
	// Zero disables the sweep.
	RevalueInterval time.Duration `mapstructure:"revalue_interval" validate:"gte=0"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json console"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	SetDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		return
	}
	if err = v.Unmarshal(&config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		DecimalHookFunc(),
	))); err != nil {
		return
	}
	err = Validate(&config)
	return
}

// SetDefaults registers the default value of every tunable.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("binance.enabled", true)
	v.SetDefault("binance.quote_asset", "USDT")
	v.SetDefault("binance.rate_limit", 20)      // requests per second
	v.SetDefault("binance.rate_limit_burst", 5) // burst size
	v.SetDefault("binance.price_max_age", 5*time.Minute)

	v.SetDefault("trading.symbols", []string{"BTC", "ETH", "BNB", "SOL", "ADA", "XRP", "DOT", "DOGE", "AVAX", "MATIC"})
	v.SetDefault("trading.fee_rate", "0.001")
	v.SetDefault("trading.initial_balance", "10000")

	v.SetDefault("risk.max_position_pct", "20")
	v.SetDefault("risk.max_daily_loss_pct", "5")
	v.SetDefault("risk.max_total_loss_pct", "25")
	v.SetDefault("risk.min_cash_reserve_pct", "10")
	v.SetDefault("risk.max_correlation_exposure_pct", "50")

	v.SetDefault("monitor.interval", time.Second)
	v.SetDefault("monitor.auto_start", true)
	v.SetDefault("monitor.enforce_expiry", false)
	v.SetDefault("monitor.revalue_interval", time.Minute)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.control_port", 8081)
	v.SetDefault("database.dsn", "trader.db")
}

// Validate checks the struct tags on the loaded configuration. Decimal
// fields are compared by their float value, which is only used for the
// range checks.
func Validate(cfg *Config) error {
	validate := validator.New()
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})

	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// DecimalHookFunc decodes strings and numbers into decimal.Decimal. Strings
// are parsed exactly; YAML numbers arrive as float64 and are converted via
// their shortest decimal representation.
func DecimalHookFunc() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(decimal.Decimal{})
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != target {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(strings.TrimSpace(v))
		case float64:
			return decimal.NewFromString(strconv.FormatFloat(v, 'f', -1, 64))
		case float32:
			return decimal.NewFromString(strconv.FormatFloat(float64(v), 'f', -1, 32))
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case uint64:
			return decimal.NewFromString(strconv.FormatUint(v, 10))
		}
		return data, nil
	}
}
