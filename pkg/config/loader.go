package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

const EnvPrefix = "GORELAY"

// New returns a viper instance with every default and the env binding in place.
// Callers may bind command-line flags onto it before calling Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.auth.jwtSecret", "")
	v.SetDefault("server.auth.required", false)
	v.SetDefault("server.connectionLimit.maxPerUser", 0)
	v.SetDefault("server.connectionLimit.mode", "reject")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.trustProxy", false)
	v.SetDefault("transport.readTimeout", "60s")
	v.SetDefault("transport.writeTimeout", "10s")
	v.SetDefault("transport.sendBuffer", 256)
	v.SetDefault("transport.pingInterval", "30s")
	v.SetDefault("transport.maxMessageBytes", 64*1024)
	v.SetDefault("router.eventsPerSecond", 50)
	v.SetDefault("router.fixedRoom", "discussion")
	v.SetDefault("pairing.ttl", "2m")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.migrate", true)
	v.SetDefault("presence.redisAddr", "")
	v.SetDefault("presence.redisPassword", "")
	v.SetDefault("presence.redisDB", 0)
	v.SetDefault("presence.keyTTL", "24h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v and unmarshals the result.
// fileName is either a bare name searched in the working directory or a path.
func Load(logger *slog.Logger, v *viper.Viper, fileName string) (*Config, error) {
	if strings.ContainsAny(fileName, "/\\") || strings.HasSuffix(fileName, ".yaml") || strings.HasSuffix(fileName, ".yml") {
		v.SetConfigFile(fileName)
	} else {
		v.SetConfigName(fileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Server.ConnectionLimit.Mode {
	case "reject", "cycle":
	default:
		return fmt.Errorf("invalid connection limit mode '%s'", c.Server.ConnectionLimit.Mode)
	}
	if c.Server.Auth.Required && c.Server.Auth.JWTSecret == "" {
		return errors.New("server.auth.required is set but server.auth.jwtSecret is empty")
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver '%s'", c.Store.Driver)
	}
	if c.Transport.SendBuffer <= 0 {
		return errors.New("transport.sendBuffer must be positive")
	}
	if c.Pairing.TTL <= 0 {
		return errors.New("pairing.ttl must be positive")
	}
	if c.Router.FixedRoom == "" {
		return errors.New("router.fixedRoom cannot be empty")
	}
	return nil
}
