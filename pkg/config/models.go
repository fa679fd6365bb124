package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Storage   StorageConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Address string
	Auth    AuthConfig
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

type StorageConfig struct {
	Path string
}

type LoggingConfig struct {
	Level string
}
