package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	StoreSupabase = "supabase"
	StoreDatabase = "database"
)

type Configuration struct {
	ApiPort string `mapstructure:"api_port" json:"api_port"`
	LogPath string `mapstructure:"log_path" json:"log_path"`

	Store struct {
		Driver string `mapstructure:"driver" json:"driver"` // "supabase" ou "database"
	} `mapstructure:"store" json:"store"`

	Supabase struct {
		URL            string `mapstructure:"url" json:"url"`
		ServiceRoleKey string `mapstructure:"service_role_key" json:"-"`
		RPCFunction    string `mapstructure:"rpc_function" json:"rpc_function"`
		AttemptsTable  string `mapstructure:"attempts_table" json:"attempts_table"`
		Schema         string `mapstructure:"schema" json:"schema"`
	} `mapstructure:"supabase" json:"supabase"`

	Database      string `mapstructure:"database" json:"database"` // "sqlite3" ou "postgres"
	DbHost        string `mapstructure:"db_host" json:"db_host"`
	DbPort        string `mapstructure:"db_port" json:"db_port"`
	DbUser        string `mapstructure:"db_user" json:"db_user"`
	DbName        string `mapstructure:"db_name" json:"db_name"`
	DbPass        string `mapstructure:"db_pass" json:"-"`
	DbPath        string `mapstructure:"db_path" json:"db_path"`
	DbAutoMigrate bool   `mapstructure:"db_automigrate" json:"db_automigrate"`

	Delivery struct {
		TimeoutMS    int    `mapstructure:"timeout_ms" json:"timeout_ms"`
		ProviderID   string `mapstructure:"provider_id" json:"provider_id"`
		ProviderName string `mapstructure:"provider_name" json:"provider_name"`
		UserAgent    string `mapstructure:"user_agent" json:"user_agent"`
	} `mapstructure:"delivery" json:"delivery"`

	Audit struct {
		Detached  bool `mapstructure:"detached" json:"detached"`
		TimeoutMS int  `mapstructure:"timeout_ms" json:"timeout_ms"`
	} `mapstructure:"audit" json:"audit"`

	Intake struct {
		LegacyKindAliases bool `mapstructure:"legacy_kind_aliases" json:"legacy_kind_aliases"`
	} `mapstructure:"intake" json:"intake"`

	RateLimit struct {
		RequestsPerMinute int `mapstructure:"requests_per_minute" json:"requests_per_minute"`
		Burst             int `mapstructure:"burst" json:"burst"`
	} `mapstructure:"rate_limit" json:"rate_limit"`

	// Proxies whose X-Forwarded-For is believed. Empty means the peer
	// address is the client.
	TrustedProxies []string `mapstructure:"trusted_proxies" json:"trusted_proxies"`

	Cors struct {
		AllowedOrigins []string `mapstructure:"allowed_origins" json:"allowed_origins"`
	} `mapstructure:"cors" json:"cors"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled" json:"enabled"`
	} `mapstructure:"metrics" json:"metrics"`
}

var envBindings = map[string]string{
	"api_port":                  "PORT",
	"log_path":                  "LOG_PATH",
	"store.driver":              "INTEGRATOR_STORE_DRIVER",
	"supabase.url":              "SUPABASE_URL",
	"supabase.service_role_key": "SUPABASE_SERVICE_ROLE_KEY",
	"supabase.schema":           "SUPABASE_SCHEMA",
	"database":                  "DATABASE",
	"db_host":                   "DB_HOST",
	"db_port":                   "DB_PORT",
	"db_user":                   "DB_USER",
	"db_name":                   "DB_NAME",
	"db_pass":                   "DB_PASS",
	"db_automigrate":            "AUTOMIGRATE",
	"trusted_proxies":           "TRUSTED_PROXIES",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_port", "8080")
	v.SetDefault("log_path", "")
	v.SetDefault("store.driver", StoreSupabase)
	v.SetDefault("supabase.rpc_function", "submit_integrator_request")
	v.SetDefault("supabase.attempts_table", "integrator_delivery_attempts")
	v.SetDefault("database", "sqlite3")
	v.SetDefault("db_path", "db/database.db")
	v.SetDefault("delivery.timeout_ms", 12000)
	v.SetDefault("delivery.provider_id", "wire.fundamentals.so")
	v.SetDefault("delivery.provider_name", "Fundamentals Wire")
	v.SetDefault("delivery.user_agent", "FundamentalsWireHTTPSPushTest/1.0")
	v.SetDefault("audit.detached", false)
	v.SetDefault("audit.timeout_ms", 5000)
	v.SetDefault("intake.legacy_kind_aliases", true)
	v.SetDefault("rate_limit.requests_per_minute", 30)
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("trusted_proxies", []string{})
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("metrics.enabled", true)
}

// Get loads the configuration file at path (JSON), if it exists, and overlays
// the environment. A missing file is not an error: env + defaults are enough
// for the serverless-style deployment.
func Get(path string) (Configuration, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Configuration{}, errors.Wrapf(err, "bind %s", env)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("json")
			if err := v.ReadInConfig(); err != nil {
				return Configuration{}, errors.Wrapf(err, "read config %s", path)
			}
		} else if !os.IsNotExist(err) {
			return Configuration{}, errors.Wrapf(err, "stat config %s", path)
		}
	}

	var c Configuration
	if err := v.Unmarshal(&c); err != nil {
		return Configuration{}, errors.Wrap(err, "decode config")
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Supabase.URL = strings.TrimRight(strings.TrimSpace(c.Supabase.URL), "/")
	c.Supabase.ServiceRoleKey = strings.TrimSpace(c.Supabase.ServiceRoleKey)

	// defaults que o viper não cobre (valores zerados no arquivo)
	if c.ApiPort == "" {
		c.ApiPort = "8080"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreSupabase
	}
	if c.Delivery.TimeoutMS <= 0 {
		c.Delivery.TimeoutMS = 12000
	}
	if c.Audit.TimeoutMS <= 0 {
		c.Audit.TimeoutMS = 5000
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 1
	}

	return c, nil
}

// MissingEnv lists the required values absent for the selected store driver.
func (c Configuration) MissingEnv() []string {
	var missing []string
	switch c.Store.Driver {
	case StoreDatabase:
		if c.Database == "postgres" || c.Database == "postgresql" {
			if c.DbHost == "" {
				missing = append(missing, "DB_HOST")
			}
			if c.DbName == "" {
				missing = append(missing, "DB_NAME")
			}
		}
	default:
		if c.Supabase.URL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		if c.Supabase.ServiceRoleKey == "" {
			missing = append(missing, "SUPABASE_SERVICE_ROLE_KEY")
		}
	}
	return missing
}
