package config

import (
	"fmt"     // DSN formatting
	"strings" // Key normalization
	"time"    // Durations

	"github.com/joho/godotenv" // For loading .env files
	"github.com/spf13/viper"   // Environment lookup with defaults
)

// Config holds the application configuration
type Config struct {
	AppPort    string // Application port
	DBDriver   string // mysql or sqlite
	DBUser     string // Database user
	DBPassword string // Database password
	DBHost     string // Database host
	DBPort     string // Database port
	DBName     string // Database name
	DBPath     string // SQLite file path
	DBLogMode  bool   // Verbose GORM logging
	JWTSecret  string // JWT secret key
	JWTTTL     time.Duration
	RedisAddr  string // Redis server address, empty selects the in-memory cache
	RedisPass  string // Redis password
	RedisDB    int    // Redis database number
	CacheTTL   time.Duration
	IsProd     bool   // Is production environment
	LogLevel   string // logrus level name
	LogFormat  string // text or json

	DefaultPageSize int // Page size when the client sends none
	MaxPageSize     int // Upper bound for page size

	TranscriberURL        string // Base URL of the speech-to-text engine, empty disables it
	TranscriberModel      string // Model name sent to the engine
	MaxAudioSeconds       int    // Hard ceiling on clip duration
	MaxAudioMB            int    // Hard ceiling on upload size
	TranscriptionLanguage string // Default language hint
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	_ = godotenv.Load() // Load .env file if present

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return &Config{
		AppPort:               v.GetString("APP_PORT"),
		DBDriver:              strings.ToLower(v.GetString("DB_DRIVER")),
		DBUser:                v.GetString("DB_USER"),
		DBPassword:            v.GetString("DB_PASSWORD"),
		DBHost:                v.GetString("DB_HOST"),
		DBPort:                v.GetString("DB_PORT"),
		DBName:                v.GetString("DB_NAME"),
		DBPath:                v.GetString("DB_PATH"),
		DBLogMode:             v.GetBool("DB_LOG_MODE"),
		JWTSecret:             v.GetString("JWT_SECRET"),
		JWTTTL:                time.Duration(v.GetInt("JWT_TTL_MINUTES")) * time.Minute,
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPass:             v.GetString("REDIS_PASS"),
		RedisDB:               v.GetInt("REDIS_DB"),
		CacheTTL:              time.Duration(v.GetInt("CACHE_TTL_MINUTES")) * time.Minute,
		IsProd:                v.GetBool("IS_PROD"),
		LogLevel:              v.GetString("LOG_LEVEL"),
		LogFormat:             v.GetString("LOG_FORMAT"),
		DefaultPageSize:       v.GetInt("DEFAULT_PAGE_SIZE"),
		MaxPageSize:           v.GetInt("MAX_PAGE_SIZE"),
		TranscriberURL:        v.GetString("TRANSCRIBER_URL"),
		TranscriberModel:      v.GetString("TRANSCRIBER_MODEL"),
		MaxAudioSeconds:       v.GetInt("MAX_AUDIO_SECONDS"),
		MaxAudioMB:            v.GetInt("MAX_AUDIO_MB"),
		TranscriptionLanguage: v.GetString("TRANSCRIPTION_LANGUAGE"),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("DB_DRIVER", "mysql")
	v.SetDefault("DB_HOST", "127.0.0.1")
	v.SetDefault("DB_PORT", "3306")
	v.SetDefault("DB_PATH", "data/budget.db")
	v.SetDefault("JWT_TTL_MINUTES", 60*24)
	v.SetDefault("CACHE_TTL_MINUTES", 15)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("DEFAULT_PAGE_SIZE", 10)
	v.SetDefault("MAX_PAGE_SIZE", 100)
	v.SetDefault("TRANSCRIBER_MODEL", "whisper-base")
	v.SetDefault("MAX_AUDIO_SECONDS", 60)
	v.SetDefault("MAX_AUDIO_MB", 10)
	v.SetDefault("TRANSCRIPTION_LANGUAGE", "es")
}

// DSN returns the connection string for the configured driver
func (c *Config) DSN() string {
	if c.DBDriver == "sqlite" {
		return c.DBPath + "?_foreign_keys=on&_busy_timeout=5000"
	}
	// Setup Data Source Name (DSN) for MySQL
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// MaxAudioBytes returns the upload ceiling in bytes
func (c *Config) MaxAudioBytes() int64 {
	return int64(c.MaxAudioMB) * 1024 * 1024
}
