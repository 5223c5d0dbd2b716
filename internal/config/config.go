package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	base "github.com/onboarding92/exchange-core/libs/config"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type KafkaTopics struct {
	OrdersAccepted       string
	OrdersCancelled      string
	TradesExecuted       string
	WithdrawalsRequested string
	WithdrawalsDecided   string
}

// KafkaConfig with no brokers disables event publishing entirely.
type KafkaConfig struct {
	Brokers []string
	Topics  KafkaTopics
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// WithdrawalPolicy is the per-asset withdrawal rule set. Assets without a
// policy cannot be withdrawn.
type WithdrawalPolicy struct {
	Enabled   bool
	MinAmount decimal.Decimal
	Fee       decimal.Decimal
}

type Config struct {
	App                  base.AppConfig
	DB                   DBConfig
	Kafka                KafkaConfig
	JWTSecret            string
	MarketBuySlippageBps int
	Withdrawals          map[string]WithdrawalPolicy
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("EXC_CONFIG"))
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("EXC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := os.Getenv("EXC_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetDefault("kafka.topics.orders_accepted", "orders.accepted")
	v.SetDefault("kafka.topics.orders_cancelled", "orders.cancelled")
	v.SetDefault("kafka.topics.trades_executed", "trades.executed")
	v.SetDefault("kafka.topics.withdrawals_requested", "withdrawals.requested")
	v.SetDefault("kafka.topics.withdrawals_decided", "withdrawals.decided")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("market_buy_slippage_bps", 50)

	withdrawals, err := loadWithdrawalPolicies(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     envString("DB_HOST", envString("POSTGRES_HOST", "localhost")),
			Port:     envInt("DB_PORT", envInt("POSTGRES_PORT", 5432)),
			Name:     envString("DB_NAME", envString("POSTGRES_DB", "exchange_core")),
			User:     envString("DB_USER", envString("POSTGRES_USER", "exchange")),
			Password: envString("DB_PASSWORD", envString("POSTGRES_PASSWORD", "exchange")),
			SSLMode:  envString("DB_SSLMODE", envString("POSTGRES_SSLMODE", "disable")),
		},
		Kafka: KafkaConfig{
			Brokers: envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			Topics: KafkaTopics{
				OrdersAccepted:       envString("KAFKA_ORDERS_ACCEPTED_TOPIC", v.GetString("kafka.topics.orders_accepted")),
				OrdersCancelled:      envString("KAFKA_ORDERS_CANCELLED_TOPIC", v.GetString("kafka.topics.orders_cancelled")),
				TradesExecuted:       envString("KAFKA_TRADES_TOPIC", v.GetString("kafka.topics.trades_executed")),
				WithdrawalsRequested: envString("KAFKA_WITHDRAWALS_REQUESTED_TOPIC", v.GetString("kafka.topics.withdrawals_requested")),
				WithdrawalsDecided:   envString("KAFKA_WITHDRAWALS_DECIDED_TOPIC", v.GetString("kafka.topics.withdrawals_decided")),
			},
		},
		JWTSecret:            envString("JWT_SECRET", v.GetString("jwt_secret")),
		MarketBuySlippageBps: envInt("MARKET_BUY_SLIPPAGE_BPS", v.GetInt("market_buy_slippage_bps")),
		Withdrawals:          withdrawals,
	}

	if cfg.App.HTTP.Port <= 0 {
		return nil, fmt.Errorf("EXC_HTTP_PORT must be positive")
	}
	if cfg.MarketBuySlippageBps < 0 {
		return nil, fmt.Errorf("market_buy_slippage_bps must be non-negative")
	}
	if cfg.Kafka.Enabled() {
		t := cfg.Kafka.Topics
		if t.OrdersAccepted == "" || t.OrdersCancelled == "" || t.TradesExecuted == "" {
			return nil, fmt.Errorf("kafka topics required when brokers are set")
		}
	}
	return cfg, nil
}

type rawPolicy struct {
	Enabled   bool   `mapstructure:"enabled"`
	MinAmount string `mapstructure:"min_amount"`
	Fee       string `mapstructure:"fee"`
}

func loadWithdrawalPolicies(v *viper.Viper) (map[string]WithdrawalPolicy, error) {
	v.SetDefault("withdrawals.assets", map[string]any{
		"BTC":  map[string]any{"enabled": true, "min_amount": "0.001", "fee": "0.0005"},
		"ETH":  map[string]any{"enabled": true, "min_amount": "0.01", "fee": "0.003"},
		"USDT": map[string]any{"enabled": true, "min_amount": "10", "fee": "1"},
	})

	var raw map[string]rawPolicy
	if err := v.UnmarshalKey("withdrawals.assets", &raw); err != nil {
		return nil, fmt.Errorf("unmarshal withdrawal policies: %w", err)
	}

	policies := make(map[string]WithdrawalPolicy, len(raw))
	for asset, p := range raw {
		minAmount, err := decimal.NewFromString(p.MinAmount)
		if err != nil {
			return nil, fmt.Errorf("withdrawal policy %s: min_amount: %w", asset, err)
		}
		fee, err := decimal.NewFromString(p.Fee)
		if err != nil {
			return nil, fmt.Errorf("withdrawal policy %s: fee: %w", asset, err)
		}
		if minAmount.IsNegative() || fee.IsNegative() {
			return nil, fmt.Errorf("withdrawal policy %s: negative amounts", asset)
		}
		policies[strings.ToUpper(asset)] = WithdrawalPolicy{
			Enabled:   p.Enabled,
			MinAmount: minAmount,
			Fee:       fee,
		}
	}
	return policies, nil
}

func envString(key, def string) string {
	if v := os.Getenv("EXC_" + key); v != "" {
		return v
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv("EXC_" + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	for _, name := range []string{"EXC_" + key, key} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
