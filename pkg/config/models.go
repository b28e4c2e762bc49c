package config

import "time"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Transport TransportConfig `mapstructure:"transport"`
	Router    RouterConfig    `mapstructure:"router"`
	Pairing   PairingConfig   `mapstructure:"pairing"`
	Store     StoreConfig     `mapstructure:"store"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Address         string                `mapstructure:"address"`
	Auth            AuthConfig            `mapstructure:"auth"`
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
	ShutdownTimeout time.Duration         `mapstructure:"shutdownTimeout"`
	// TrustProxy takes the client address from X-Forwarded-For when set.
	TrustProxy bool `mapstructure:"trustProxy"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
	// Required rejects upgrades and announces that carry no valid token.
	Required bool `mapstructure:"required"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	SendBuffer      int           `mapstructure:"sendBuffer"`
	PingInterval    time.Duration `mapstructure:"pingInterval"`
	MaxMessageBytes int64         `mapstructure:"maxMessageBytes"`
}

type RouterConfig struct {
	// EventsPerSecond paces each connection's inbound stream; 0 disables pacing.
	EventsPerSecond int    `mapstructure:"eventsPerSecond"`
	FixedRoom       string `mapstructure:"fixedRoom"`
}

type PairingConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type StoreConfig struct {
	Driver  string `mapstructure:"driver"` // "memory" or "postgres"
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

type PresenceConfig struct {
	RedisAddr     string        `mapstructure:"redisAddr"`
	RedisPassword string        `mapstructure:"redisPassword"`
	RedisDB       int           `mapstructure:"redisDB"`
	KeyTTL        time.Duration `mapstructure:"keyTTL"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
