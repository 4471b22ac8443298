package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

type Config struct {
	Mode          string        `mapstructure:"mode"`
	LogLevel      string        `mapstructure:"log_level"`
	SignalURL     string        `mapstructure:"signal_url"`
	Room          string        `mapstructure:"room"`
	DisplayName   string        `mapstructure:"display_name"`
	ParticipantID string        `mapstructure:"participant_id"`
	Codec         string        `mapstructure:"codec"`
	ViewAddr      string        `mapstructure:"view_addr"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	SendBuffer    int           `mapstructure:"send_buffer"`

	Negotiation NegotiationConfig `mapstructure:"negotiation"`
	Chat        ChatConfig        `mapstructure:"chat"`
	ICE         ICEConfig         `mapstructure:"ice"`
	Media       MediaConfig       `mapstructure:"media"`
}

type NegotiationConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

type ChatConfig struct {
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

// flagAliases maps CLI flag names that do not spell their config key.
var flagAliases = map[string]string{
	"name":        "display_name",
	"id":          "participant_id",
	"max-retries": "negotiation.max_retries",
	"retry-delay": "negotiation.retry_delay",
	"turn-url":    "ice.turn_url",
	"turn-user":   "ice.turn_username",
	"turn-pass":   "ice.turn_credential",
	"relay":       "ice.force_relay",
	"video-file":  "media.video_file",
	"audio-file":  "media.audio_file",
	"screen-file": "media.screen_file",
}

// FlagKey returns the config key a flag named name overrides.
func FlagKey(name string) string {
	if key, ok := flagAliases[name]; ok {
		return key
	}
	return strings.ReplaceAll(name, "-", "_")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeDevelopment)
	v.SetDefault("log_level", "info")
	v.SetDefault("signal_url", "ws://localhost:8080/ws")
	v.SetDefault("room", "main")
	v.SetDefault("display_name", "guest")
	v.SetDefault("participant_id", "")
	v.SetDefault("codec", "json")
	v.SetDefault("view_addr", "127.0.0.1:7070")
	v.SetDefault("ping_period", "54s")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("send_buffer", 64)

	v.SetDefault("negotiation.max_retries", 1)
	v.SetDefault("negotiation.retry_delay", "1s")
	v.SetDefault("chat.rate_limit", 5)
	v.SetDefault("chat.rate_interval", "5s")

	v.SetDefault("ice.stun_production", DefaultProductionSTUN)
	v.SetDefault("ice.stun_development", DefaultDevelopmentSTUN)
	v.SetDefault("ice.turn_url", "")
	v.SetDefault("ice.turn_username", "")
	v.SetDefault("ice.turn_credential", "")
	v.SetDefault("ice.force_relay", false)

	v.SetDefault("media.width", DefaultWidth)
	v.SetDefault("media.height", DefaultHeight)
	v.SetDefault("media.frame_rate", DefaultFrameRate)
	v.SetDefault("media.echo_cancellation", true)
	v.SetDefault("media.noise_suppression", true)
	v.SetDefault("media.auto_gain_control", true)
	v.SetDefault("media.video_file", "")
	v.SetDefault("media.audio_file", "")
	v.SetDefault("media.screen_file", "")
}

// Load reads config/config.<CONFIG_ENV>.yaml, then MEET_* environment
// variables, then any flags bound from fs. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("MEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			bindErr = errors.Join(bindErr, v.BindPFlag(FlagKey(f.Name), f))
		})
		if bindErr != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.ParticipantID == "" {
		cfg.ParticipantID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Str("signal", cfg.SignalURL).
		Str("room", cfg.Room).
		Str("codec", cfg.Codec).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	switch c.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("unknown codec %q", c.Codec)
	}
	if c.SignalURL == "" {
		return fmt.Errorf("signal_url is empty")
	}
	if c.Negotiation.MaxRetries < 0 {
		return fmt.Errorf("negotiation.max_retries must not be negative")
	}
	return nil
}
