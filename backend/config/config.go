package config

import (
	"github.com/spf13/viper"
)

// Config holds the process configuration, resolved from defaults and
// environment variables. Command line flags may override it on top.
type Config struct {
	APIListenAddr string `mapstructure:"api_listen_addr"`
	WSListenAddr  string `mapstructure:"ws_listen_addr"`
	LogLevel      string `mapstructure:"log_level"`
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("api_listen_addr", ":8080")
	v.SetDefault("ws_listen_addr", ":8888")
	v.SetDefault("log_level", "debug")

	_ = v.BindEnv("api_listen_addr", "API_LISTEN_ADDR")
	_ = v.BindEnv("ws_listen_addr", "WS_LISTEN_ADDR")
	_ = v.BindEnv("log_level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
