// Package config loads the application configuration from a YAML file
// and GEOWATCH_-prefixed environment variables, with sane defaults for
// local runs.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Bocha    BochaConfig    `mapstructure:"bocha"`
}

type ServerConfig struct {
	ListenAddress string        `mapstructure:"listen_address"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type BrowserConfig struct {
	ChromePath     string        `mapstructure:"chrome_path"`
	Headless       bool          `mapstructure:"headless"`
	ProfileRoot    string        `mapstructure:"profile_root"`
	Timeout        time.Duration `mapstructure:"timeout"`
	StableInterval time.Duration `mapstructure:"stable_interval"`
	StableTimeout  time.Duration `mapstructure:"stable_timeout"`
}

type BochaConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Count   int    `mapstructure:"count"`
}

// Load reads the config file named by GEOWATCH_CONFIG_FILE (default
// configs/geowatch.yaml) and applies environment overrides. A missing
// file is fine when the environment carries everything needed.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	configFile := os.Getenv("GEOWATCH_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/geowatch.yaml"
	}
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("GEOWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "geowatch")
	v.SetDefault("database.user", "geowatch")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.profile_root", "./browser_data")
	v.SetDefault("browser.timeout", 120*time.Second)
	v.SetDefault("browser.stable_interval", 2*time.Second)
	v.SetDefault("browser.stable_timeout", 180*time.Second)

	v.SetDefault("bocha.base_url", "https://api.bocha.cn")
	v.SetDefault("bocha.count", 10)
}
