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

	// ServerURL is the rendezvous server a peer talks to.
	ServerURL  string        `mapstructure:"server_url"`
	ICEServers []ICEServer   `mapstructure:"ice_servers"`
	Store      StoreConfig   `mapstructure:"store"`
	Media      MediaConfig   `mapstructure:"media"`
	Cleanup    CleanupConfig `mapstructure:"cleanup"`
	RateLimit  RateConfig    `mapstructure:"rate_limit"`
}

// ICEServer is one STUN or TURN entry.
type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type StoreConfig struct {
	Backend       string        `mapstructure:"backend"` // memory | mongo
	MongoURI      string        `mapstructure:"mongo_uri"`
	MongoDatabase string        `mapstructure:"mongo_database"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type MediaConfig struct {
	Allow         bool          `mapstructure:"allow"`
	Audio         bool          `mapstructure:"audio"`
	Video         bool          `mapstructure:"video"`
	FrameInterval time.Duration `mapstructure:"frame_interval"`
}

type CleanupConfig struct {
	Attempts uint64        `mapstructure:"attempts"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RateConfig bounds writes per client on the rendezvous server. Zero disables it.
type RateConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("log_level", "info")

	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo_database", "videocall")
	v.SetDefault("store.timeout", "5s")
	v.SetDefault("media.allow", true)
	v.SetDefault("media.audio", true)
	v.SetDefault("media.video", true)
	v.SetDefault("media.frame_interval", "20ms")
	v.SetDefault("cleanup.attempts", 3)
	v.SetDefault("cleanup.interval", "200ms")
	v.SetDefault("cleanup.timeout", "10s")
	v.SetDefault("rate_limit.requests", 120)
	v.SetDefault("rate_limit.window", "10s")
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) over the defaults.
// VIDEOCALL_* environment variables override both.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load with an explicit file. A missing file falls back to defaults.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("videocall")
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
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("store", cfg.Store.Backend).
		Msg("config ready")
	return &cfg, nil
}
