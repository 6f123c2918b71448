package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	APIKey   string `mapstructure:"api_key"`
	Secret   string `mapstructure:"secret"`
	LogLevel string `mapstructure:"log_level"`

	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`

	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`

	EventRate      float64 `mapstructure:"event_rate"`
	EventBurst     int     `mapstructure:"event_burst"`
	DeliveryPolicy string  `mapstructure:"delivery_policy"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 3000)
	v.SetDefault("api_key", "")
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("sweep_interval", "5m")
	v.SetDefault("inactivity_timeout", "10m")
	v.SetDefault("event_rate", 20)
	v.SetDefault("event_burst", 40)
	v.SetDefault("delivery_policy", "count")
}

// Load reads config/config.<CONFIG_ENV>.yaml, falling back to defaults.
// VIDEOSYNC_* environment variables override the file.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFrom(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFrom(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("VIDEOSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("delivery_policy", cfg.DeliveryPolicy).Bool("api_key_set", cfg.APIKey != "").Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("ping_period (%s) must be shorter than pong_wait (%s)", c.PingPeriod, c.PongWait)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	if c.SweepInterval <= 0 || c.InactivityTimeout <= 0 {
		return fmt.Errorf("sweep_interval and inactivity_timeout must be positive")
	}
	if c.APIKey == "" {
		log.Warn().Str("module", "config").Msg("api_key is empty: every authenticate will fail")
	}
	return nil
}
