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
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	Redis     RedisConfig     `mapstructure:"redis"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Peer      PeerConfig      `mapstructure:"peer"`
}

// RedisConfig selects the shared directory. An empty Addr keeps ids in memory.
type RedisConfig struct {
	Addr   string        `mapstructure:"addr"`
	Prefix string        `mapstructure:"prefix"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type DiscoveryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Service string `mapstructure:"service"`
}

type RateLimitConfig struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

type PeerConfig struct {
	SignalURL     string         `mapstructure:"signal_url"`
	ICEServers    []string       `mapstructure:"ice_servers"`
	RoomPrefix    string         `mapstructure:"room_prefix"`
	Name          string         `mapstructure:"name"`
	MaxGuests     int            `mapstructure:"max_guests"`
	JoinTimeout   time.Duration  `mapstructure:"join_timeout"`
	RejectGrace   time.Duration  `mapstructure:"reject_grace"`
	FlushInterval time.Duration  `mapstructure:"flush_interval"`
	SyncMode      string         `mapstructure:"sync_mode"`
	Sections      int            `mapstructure:"sections"`
	CreateRetries uint64         `mapstructure:"create_retries"`
	Backpressure  string         `mapstructure:"backpressure"`
	Talkback      TalkbackConfig `mapstructure:"talkback"`
}

type TalkbackConfig struct {
	MicAddr    string `mapstructure:"mic_addr"`
	PlayerAddr string `mapstructure:"player_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "patchroom-dev-secret")
	v.SetDefault("log_level", "info")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.prefix", "patchroom:")
	v.SetDefault("redis.ttl", "90s")

	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.service", "_patchroom._tcp")

	v.SetDefault("rate_limit.limit", 20)
	v.SetDefault("rate_limit.interval", "1m")

	v.SetDefault("peer.signal_url", "")
	v.SetDefault("peer.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("peer.room_prefix", "patchroom-")
	v.SetDefault("peer.name", "Player")
	v.SetDefault("peer.max_guests", 2)
	v.SetDefault("peer.join_timeout", "10s")
	v.SetDefault("peer.reject_grace", "1s")
	v.SetDefault("peer.flush_interval", "33ms")
	v.SetDefault("peer.sync_mode", "batch")
	v.SetDefault("peer.sections", 0)
	v.SetDefault("peer.create_retries", 10)
	v.SetDefault("peer.backpressure", "drop")
	v.SetDefault("peer.talkback.mic_addr", "127.0.0.1:5004")
	v.SetDefault("peer.talkback.player_addr", "")
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev when unset). Every key can be
// overridden from the environment, e.g. PATCHROOM_PEER_SYNC_MODE=full.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("PATCHROOM")
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
	log.Debug().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("sync_mode", cfg.Peer.SyncMode).Msg("config")
	return &cfg, nil
}
