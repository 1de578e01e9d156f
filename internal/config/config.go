package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "CANTIO"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "cantio.db"
	defaultLogLevel       = "info"
	defaultTokenTTL       = 24 * time.Hour
	defaultLyricsBaseURL  = "https://lrclib.net/api"
	defaultLyricsTimeout  = 10 * time.Second
	defaultSignedURLTTL   = 24 * time.Hour
	defaultMaxSongs       = 10
	defaultMaxAudioBytes  = 100 * 1024 * 1024
	defaultMaxVideoBytes  = 50 * 1024 * 1024
	defaultPreviewLines   = 4
	defaultEmbedDailyHits = 1000
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string

	SigningSecret string
	TokenTTL      time.Duration

	LyricsBaseURL string
	LyricsTimeout time.Duration

	ObjectStoreBucket   string
	ObjectStoreRegion   string
	ObjectStoreEndpoint string
	SignedURLTTL        time.Duration

	MaxSongsPerOwner int
	MaxAudioBytes    int64
	MaxVideoBytes    int64
	PreviewLines     int
	EmbedDailyLimit  int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl", defaultTokenTTL)
	configViper.SetDefault("lyrics.base_url", defaultLyricsBaseURL)
	configViper.SetDefault("lyrics.timeout", defaultLyricsTimeout)
	configViper.SetDefault("storage.signed_url_ttl", defaultSignedURLTTL)
	configViper.SetDefault("limits.max_songs_per_owner", defaultMaxSongs)
	configViper.SetDefault("limits.max_audio_bytes", defaultMaxAudioBytes)
	configViper.SetDefault("limits.max_video_bytes", defaultMaxVideoBytes)
	configViper.SetDefault("limits.preview_lines", defaultPreviewLines)
	configViper.SetDefault("limits.embed_daily_limit", defaultEmbedDailyHits)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:  configViper.GetString("http.address"),
		DatabasePath: configViper.GetString("database.path"),
		LogLevel:     configViper.GetString("log.level"),

		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenTTL:      configViper.GetDuration("auth.token_ttl"),

		LyricsBaseURL: configViper.GetString("lyrics.base_url"),
		LyricsTimeout: configViper.GetDuration("lyrics.timeout"),

		ObjectStoreBucket:   configViper.GetString("storage.bucket"),
		ObjectStoreRegion:   configViper.GetString("storage.region"),
		ObjectStoreEndpoint: configViper.GetString("storage.endpoint"),
		SignedURLTTL:        configViper.GetDuration("storage.signed_url_ttl"),

		MaxSongsPerOwner: configViper.GetInt("limits.max_songs_per_owner"),
		MaxAudioBytes:    configViper.GetInt64("limits.max_audio_bytes"),
		MaxVideoBytes:    configViper.GetInt64("limits.max_video_bytes"),
		PreviewLines:     configViper.GetInt("limits.preview_lines"),
		EmbedDailyLimit:  configViper.GetInt("limits.embed_daily_limit"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.ObjectStoreBucket) == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.SignedURLTTL <= 0 {
		return fmt.Errorf("storage.signed_url_ttl must be positive")
	}
	if c.MaxSongsPerOwner <= 0 {
		return fmt.Errorf("limits.max_songs_per_owner must be positive")
	}
	if c.EmbedDailyLimit <= 0 {
		return fmt.Errorf("limits.embed_daily_limit must be positive")
	}
	return nil
}
