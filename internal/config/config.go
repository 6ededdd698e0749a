// Package config loads servicebox executable configuration from defaults, an
// optional config file, an optional .env file and SERVICEBOX_* environment
// variables, in increasing order of precedence.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mnehpets/servicebox/internal/logging"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SERVICEBOX_LOG_LEVEL.
const EnvPrefix = "SERVICEBOX"

type Config struct {
	Addr         string         `mapstructure:"addr"`
	MaxBodyBytes int64          `mapstructure:"max_body_bytes"`
	SessionIDs   string         `mapstructure:"session_ids"`
	Log          logging.Config `mapstructure:"log"`
	Metrics      Metrics        `mapstructure:"metrics"`
	Session      Session        `mapstructure:"session"`
	OIDC         OIDC           `mapstructure:"oidc"`
	CORS         CORS           `mapstructure:"cors"`
}

type Metrics struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Session configures the session cookie processor. Key is the base64
// (standard encoding) 32-byte sealing key.
type Session struct {
	CookieName string `mapstructure:"cookie_name"`
	KeyID      string `mapstructure:"key_id"`
	Key        string `mapstructure:"key"`
	Secure     bool   `mapstructure:"secure"`
}

// CORS lists origins allowed to call the RPC endpoint from a browser. HSTS is
// sent unless the session cookie is configured as insecure.
type CORS struct {
	Origins     []string `mapstructure:"origins"`
	Credentials bool     `mapstructure:"credentials"`
}

type OIDC struct {
	Issuer   string `mapstructure:"issuer"`
	ClientID string `mapstructure:"client_id"`
}

func setDefaults(v *viper.Viper) {
	def := logging.DefaultConfig()
	v.SetDefault("addr", ":8080")
	v.SetDefault("max_body_bytes", 1<<20)
	v.SetDefault("session_ids", "uuid")
	v.SetDefault("log.level", def.Level)
	v.SetDefault("log.format", def.Format)
	v.SetDefault("log.time_format", def.TimeFormat)
	v.SetDefault("log.output", def.Output)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("session.cookie_name", "SBX")
	v.SetDefault("session.key_id", "1")
	v.SetDefault("session.key", "")
	v.SetDefault("session.secure", true)
	v.SetDefault("oidc.issuer", "")
	v.SetDefault("oidc.client_id", "")
	v.SetDefault("cors.origins", []string{})
	v.SetDefault("cors.credentials", false)
}

// Load reads configuration. envFile and configFile are optional; a missing
// envFile is ignored, a missing configFile is an error.
func Load(envFile, configFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.MaxBodyBytes <= 0 {
		return nil, fmt.Errorf("config: max_body_bytes must be positive")
	}
	return &cfg, nil
}

// SessionKeys decodes the configured session key into the keyID -> key map
// expected by the session processor. ok is false when no key is configured.
func (c *Config) SessionKeys() (keys map[string][]byte, ok bool, err error) {
	if c.Session.Key == "" {
		return nil, false, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.Session.Key)
	if err != nil {
		return nil, false, fmt.Errorf("config: session.key: %w", err)
	}
	return map[string][]byte{c.Session.KeyID: key}, true, nil
}
