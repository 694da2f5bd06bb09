package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Units     UnitsConfig     `mapstructure:"units"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Submitter SubmitterConfig `mapstructure:"submitter"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
}

type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

// UnitsConfig describes the settlement asset. Amounts on the ledger are
// integers in the asset's smallest unit.
type UnitsConfig struct {
	Decimals int32 `mapstructure:"decimals"`
}

type LedgerConfig struct {
	Admin      string `mapstructure:"admin"`
	Settler    string `mapstructure:"settler"` // empty: admin settles
	APRBps     uint64 `mapstructure:"apr_bps"`
	Volatility uint64 `mapstructure:"volatility"`
}

type PricingConfig struct {
	BaseBps             uint64 `mapstructure:"base_bps"`
	LeverageFactorBps   uint64 `mapstructure:"leverage_factor_bps"`
	VolatilityFactorBps uint64 `mapstructure:"volatility_factor_bps"`
}

type MonitorConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Schedule     string        `mapstructure:"schedule"`
	CheckTimeout time.Duration `mapstructure:"check_timeout"`
	Concurrency  int           `mapstructure:"concurrency"`
}

type OracleConfig struct {
	Mode        string        `mapstructure:"mode"` // static | http
	URL         string        `mapstructure:"url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	StaticPrice string        `mapstructure:"static_price"`
}

type SubmitterConfig struct {
	Mode string `mapstructure:"mode"` // live | simulated
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"` // empty: in-memory store
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"` // empty: no cache
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"` // empty: disabled
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// Load reads path (if non-empty) and overlays LIQ_-prefixed environment
// variables, e.g. LIQ_LEDGER_ADMIN or LIQ_MONITOR_SCHEDULE.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LIQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.development", false)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("units.decimals", 6)

	// AutomaticEnv only resolves keys viper already knows about, so every
	// env-overridable key needs a default, even an empty one.
	v.SetDefault("ledger.admin", "")
	v.SetDefault("ledger.settler", "")
	v.SetDefault("ledger.apr_bps", 500)
	v.SetDefault("ledger.volatility", 0)

	v.SetDefault("pricing.base_bps", 50)
	v.SetDefault("pricing.leverage_factor_bps", 10)
	v.SetDefault("pricing.volatility_factor_bps", 5)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.schedule", "@every 10s")
	v.SetDefault("monitor.check_timeout", "3s")
	v.SetDefault("monitor.concurrency", 8)

	v.SetDefault("oracle.mode", "static")
	v.SetDefault("oracle.url", "")
	v.SetDefault("oracle.timeout", "5s")
	v.SetDefault("oracle.static_price", "")

	v.SetDefault("submitter.mode", "live")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "30s")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "liqguard")
}
