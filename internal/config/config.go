// Package config loads process configuration from an optional YAML file and
// CHATSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "CHATSYNC"

type Config struct {
	Table       string
	ParamPrefix string `mapstructure:"param_prefix"`
	Log         LogConfig
	Send        SendConfig
	Summary     SummaryConfig
	Translation TranslationConfig
	Attachments AttachmentsConfig
	Redis       RedisConfig
	Live        LiveConfig
}

type LogConfig struct {
	Level string
}

type SendConfig struct {
	MaxTextLength int `mapstructure:"max_text_length"`
}

type SummaryConfig struct {
	WriteMode  string `mapstructure:"write_mode"`
	MaxRetries int    `mapstructure:"max_retries"`
}

type TranslationConfig struct {
	Model           string
	DefaultLanguage string        `mapstructure:"default_language"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type AttachmentsConfig struct {
	Bucket    string
	Prefix    string
	PublicURL string        `mapstructure:"public_url"`
	URLExpiry time.Duration `mapstructure:"url_expiry"`
}

// Enabled reports whether raw attachment uploads are accepted.
func (c AttachmentsConfig) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

type RedisConfig struct {
	Address       string
	Password      string
	DB            int
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// Enabled reports whether cross-process change notification is configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Address) != ""
}

type LiveConfig struct {
	Addr           string
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`

	// PollInterval paces re-reads of watched conversations when Redis is
	// not configured.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Load reads config.yaml from configPath, ".", or "./config" when present,
// then applies environment overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Deployments that predate the prefixed names.
	_ = v.BindEnv("table", EnvPrefix+"_TABLE", "STATE_TABLE")
	_ = v.BindEnv("param_prefix", EnvPrefix+"_PARAM_PREFIX", "PARAM_PREFIX")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("table", "")
	v.SetDefault("param_prefix", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("send.max_text_length", 4000)
	v.SetDefault("summary.write_mode", "overwrite")
	v.SetDefault("summary.max_retries", 3)
	v.SetDefault("translation.model", "gpt-3.5-turbo")
	v.SetDefault("translation.default_language", "English")
	v.SetDefault("translation.timeout", "20s")
	v.SetDefault("attachments.bucket", "")
	v.SetDefault("attachments.prefix", "images")
	v.SetDefault("attachments.public_url", "")
	v.SetDefault("attachments.url_expiry", "168h")
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel_prefix", "chatsync:conversation")
	v.SetDefault("live.addr", ":8090")
	v.SetDefault("live.ping_interval", "30s")
	v.SetDefault("live.pong_wait", "60s")
	v.SetDefault("live.write_wait", "10s")
	v.SetDefault("live.max_message_size", 4096)
	v.SetDefault("live.poll_interval", "2s")
}

// ValidateAPI checks the settings the Lambda API cannot start without.
func (c *Config) ValidateAPI() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	if strings.TrimSpace(c.ParamPrefix) == "" {
		return errors.New("config: param_prefix is required")
	}
	if c.Translation.Timeout <= 0 {
		return errors.New("config: translation.timeout must be positive")
	}
	return nil
}

// ValidateLive checks the settings the WebSocket server cannot start without.
func (c *Config) ValidateLive() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Live.Addr) == "" {
		return errors.New("config: live.addr is required")
	}
	if c.Live.PingInterval >= c.Live.PongWait {
		return fmt.Errorf("config: live.ping_interval (%s) must be shorter than live.pong_wait (%s)", c.Live.PingInterval, c.Live.PongWait)
	}
	if !c.Redis.Enabled() && c.Live.PollInterval <= 0 {
		return errors.New("config: live.poll_interval must be positive when redis.address is empty")
	}
	return nil
}

func (c *Config) validateCommon() error {
	if strings.TrimSpace(c.Table) == "" {
		return errors.New("config: table is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Summary.WriteMode)) {
	case "", "overwrite", "versioned":
	default:
		return fmt.Errorf("config: unknown summary.write_mode %q", c.Summary.WriteMode)
	}
	return nil
}
