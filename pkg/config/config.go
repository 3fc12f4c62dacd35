// Package config loads process configuration from an optional file and
// LEDGER_* environment variables.
package config

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"

	"github.com/goliatone/go-ledger-cache/cache"
	"github.com/goliatone/go-ledger-cache/notify"
	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
)

// EnvPrefix prefixes every environment override, e.g. LEDGER_DB_DSN.
const EnvPrefix = "LEDGER"

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

type DBConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// NotifyConfig enables cross-process invalidation over Postgres LISTEN/NOTIFY.
type NotifyConfig struct {
	Enabled bool            `mapstructure:"enabled"`
	PQ      notify.PQConfig `mapstructure:"pq"`
}

type Config struct {
	DB     DBConfig            `mapstructure:"db"`
	Cache  cache.Config        `mapstructure:"cache"`
	Audit  cache.ServiceConfig `mapstructure:"audit"`
	Notify NotifyConfig        `mapstructure:"notify"`
	Log    LogConfig           `mapstructure:"log"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func DefaultConfig() Config {
	return Config{
		DB: DBConfig{
			Driver:       DriverSQLite,
			DSN:          "file:ledger.db?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000",
			MaxOpenConns: 1,
		},
		Cache:  cache.DefaultConfig(),
		Audit:  cache.DefaultServiceConfig(),
		Notify: NotifyConfig{PQ: notify.DefaultPQConfig()},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads path when it is not empty, applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, dataerr.Validation("read config %s: %v", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, dataerr.Validation("decode config: %v", err)
	}
	if cfg.Notify.Enabled && cfg.Notify.PQ.DSN == "" {
		cfg.Notify.PQ.DSN = cfg.DB.DSN
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment variables can override keys
// absent from the file.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("db.driver", d.DB.Driver)
	v.SetDefault("db.dsn", d.DB.DSN)
	v.SetDefault("db.max_open_conns", d.DB.MaxOpenConns)
	v.SetDefault("db.conn_max_lifetime", d.DB.ConnMaxLifetime)

	v.SetDefault("cache.max_entries", d.Cache.MaxEntries)
	v.SetDefault("cache.policy", string(d.Cache.Policy))
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.num_shards", d.Cache.NumShards)
	v.SetDefault("cache.eviction_percentage", d.Cache.EvictionPercentage)

	v.SetDefault("audit.capacity", d.Audit.Capacity)
	v.SetDefault("audit.num_shards", d.Audit.NumShards)
	v.SetDefault("audit.ttl", d.Audit.TTL)
	v.SetDefault("audit.eviction_percentage", d.Audit.EvictionPercentage)
	v.SetDefault("audit.eviction_interval", d.Audit.EvictionInterval)

	v.SetDefault("notify.enabled", d.Notify.Enabled)
	v.SetDefault("notify.pq.dsn", d.Notify.PQ.DSN)
	v.SetDefault("notify.pq.channel", d.Notify.PQ.Channel)
	v.SetDefault("notify.pq.min_reconnect_interval", d.Notify.PQ.MinReconnectInterval)
	v.SetDefault("notify.pq.max_reconnect_interval", d.Notify.PQ.MaxReconnectInterval)
	v.SetDefault("notify.pq.ping_interval", d.Notify.PQ.PingInterval)
	v.SetDefault("notify.pq.buffer", d.Notify.PQ.Buffer)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}

func (c Config) Validate() error {
	err := validation.ValidateStruct(&c.DB,
		validation.Field(&c.DB.Driver, validation.Required, validation.In(DriverPostgres, DriverSQLite)),
		validation.Field(&c.DB.DSN, validation.Required),
		validation.Field(&c.DB.MaxOpenConns, validation.Min(0)),
	)
	if err != nil {
		return dataerr.FromValidation(err, "invalid db config")
	}

	err = validation.Validate(c.Log.Level, validation.Required, validation.In("debug", "info", "warn", "error"))
	if err != nil {
		return dataerr.FromValidation(err, "invalid log level")
	}

	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Audit.Validate(); err != nil {
		return err
	}

	if c.Notify.Enabled {
		if c.DB.Driver != DriverPostgres {
			return dataerr.Validation("change notifications require the %s driver", DriverPostgres)
		}
		return c.Notify.PQ.Validate()
	}
	return nil
}
