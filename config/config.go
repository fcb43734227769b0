package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendVLC   = "vlc"
	BackendBasic = "basic"

	SaveDelaysAuto = "auto"
	SaveDelaysYes  = "yes"
	SaveDelaysNo   = "no"
)

type Config struct {
	DownloadPath string
	LogLevel     string

	PlayerBackend   string
	VLCPath         string
	VLCPort         int
	BasicPlayerPath string
	FFmpegPath      string
	YTDLPPath       string

	HighQuality        bool
	CookiesFromBrowser string
	UseDNN             bool
	NormalizeVolume    bool
	SaveDelays         string
	SplitterProcess    string

	SplashDelay         time.Duration
	SyncInterval        time.Duration
	RunLoopInterval     time.Duration
	BackendReadyTimeout time.Duration

	HTTPAddr string

	DiscordToken  string
	ApplicationID string
	GuildID       string

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DownloadPath: expandHome(getEnvWithDefault("KARAOKE_DOWNLOAD_PATH", "~/pikaraoke-songs")),
		LogLevel:     getEnvWithDefault("LOG_LEVEL", "info"),

		PlayerBackend:   strings.ToLower(getEnvWithDefault("KARAOKE_PLAYER", BackendVLC)),
		VLCPath:         getEnvWithDefault("VLC_PATH", "cvlc"),
		VLCPort:         getEnvAsIntWithDefault("VLC_PORT", 5002),
		BasicPlayerPath: getEnvWithDefault("BASIC_PLAYER_PATH", "omxplayer"),
		FFmpegPath:      getEnvWithDefault("FFMPEG_PATH", "ffmpeg"),
		YTDLPPath:       getEnvWithDefault("YTDLP_PATH", "yt-dlp"),

		HighQuality:        getEnvAsBool("KARAOKE_HIGH_QUALITY"),
		CookiesFromBrowser: os.Getenv("KARAOKE_COOKIES_FROM_BROWSER"),
		UseDNN:             getEnvAsBoolWithDefault("KARAOKE_USE_DNN", true),
		NormalizeVolume:    getEnvAsBool("KARAOKE_NORMALIZE_VOLUME"),
		SaveDelays:         getEnvWithDefault("KARAOKE_SAVE_DELAYS", SaveDelaysAuto),
		SplitterProcess:    getEnvWithDefault("KARAOKE_SPLITTER_PROCESS", "vocal_splitter"),

		SplashDelay:         getEnvAsDurationWithDefault("KARAOKE_SPLASH_DELAY", 3*time.Second),
		SyncInterval:        getEnvAsDurationWithDefault("KARAOKE_SYNC_INTERVAL", time.Second),
		RunLoopInterval:     getEnvAsDurationWithDefault("KARAOKE_LOOP_INTERVAL", 500*time.Millisecond),
		BackendReadyTimeout: getEnvAsDurationWithDefault("KARAOKE_BACKEND_TIMEOUT", 10*time.Second),

		HTTPAddr: getEnvWithDefault("HTTP_ADDR", ":5555"),

		DiscordToken:  os.Getenv("DISCORD_TOKEN"),
		ApplicationID: os.Getenv("DISCORD_APPLICATION_ID"),
		GuildID:       os.Getenv("DISCORD_GUILD_ID"),

		DBHost:     os.Getenv("DB_HOST"),
		DBPort:     getEnvAsInt("DB_PORT"),
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
		DBSSLMode:  getEnvWithDefault("DB_SSLMODE", "disable"),

		RedisHost:     os.Getenv("REDIS_HOST"),
		RedisPort:     getEnvAsIntWithDefault("REDIS_PORT", 6379),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvAsIntWithDefault("REDIS_DB", 0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DownloadPath == "" {
		return errors.New("KARAOKE_DOWNLOAD_PATH is required")
	}

	if c.PlayerBackend != BackendVLC && c.PlayerBackend != BackendBasic {
		return errors.New("KARAOKE_PLAYER must be vlc or basic")
	}

	if c.PlayerBackend == BackendVLC && (c.VLCPort < 1 || c.VLCPort > 65535) {
		return errors.New("VLC_PORT must be between 1 and 65535")
	}

	if c.SaveDelays == "" {
		return errors.New("KARAOKE_SAVE_DELAYS must not be empty")
	}

	if c.SyncInterval <= 0 || c.RunLoopInterval <= 0 {
		return errors.New("sync and loop intervals must be positive")
	}

	if c.DiscordToken != "" && c.ApplicationID == "" {
		return errors.New("DISCORD_APPLICATION_ID is required when DISCORD_TOKEN is set")
	}

	return nil
}

func (c *Config) DiscordEnabled() bool {
	return c.DiscordToken != ""
}

func (c *Config) DatabaseEnabled() bool {
	return c.DBHost != ""
}

func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

// DelaysFile resolves the delay file location for the current SaveDelays mode.
// An empty result means delays are not persisted.
func (c *Config) DelaysFile() string {
	return c.DelaysFileFor(c.SaveDelays)
}

// DelaysFileFor maps a save-delays mode to the delays file path; "" disables saving.
func (c *Config) DelaysFileFor(mode string) string {
	switch strings.ToLower(mode) {
	case SaveDelaysNo:
		return ""
	case SaveDelaysYes:
		return filepath.Join(c.DownloadPath, ".delays")
	case SaveDelaysAuto:
		// Saving stays off until someone creates the file.
		path := filepath.Join(c.DownloadPath, ".delays")
		if _, err := os.Stat(path); err != nil {
			return ""
		}
		return path
	default:
		return expandHome(mode)
	}
}

func getEnvAsInt(key string) int {
	return getEnvAsIntWithDefault(key, 0)
}

func getEnvAsIntWithDefault(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvWithDefault(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string) bool {
	return getEnvAsBoolWithDefault(key, false)
}

func getEnvAsBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (c *Config) GetDBConfig() *DBConfig {
	return &DBConfig{
		Host:     c.DBHost,
		Port:     c.DBPort,
		User:     c.DBUser,
		Password: c.DBPassword,
		Name:     c.DBName,
		SSLMode:  c.DBSSLMode,
	}
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c *Config) GetRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}
