package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Attendance AttendanceConfig
	Realtime   RealtimeConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// AttendanceConfig carries the domain knobs for token issuance and scan
// classification. QRExpiryMinutes and LateThresholdMinutes are fallbacks;
// the settings store may override them per deployment.
type AttendanceConfig struct {
	QRExpiryMinutes      int
	LateThresholdMinutes int
	ClassStartTime       string
	QRImageDir           string
	QRImageSize          int
	QRImageRetention     time.Duration
	TokenRetention       time.Duration
	CleanupInterval      time.Duration
	SettingsCacheTTL     time.Duration
}

// RealtimeConfig tunes the websocket gateway.
type RealtimeConfig struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	PingInterval time.Duration
	MaxFrameSize int64
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Attendance = AttendanceConfig{
		QRExpiryMinutes:      v.GetInt("QR_EXPIRY_MINUTES"),
		LateThresholdMinutes: v.GetInt("LATE_THRESHOLD_MINUTES"),
		ClassStartTime:       v.GetString("CLASS_START_TIME"),
		QRImageDir:           v.GetString("QR_IMAGE_DIR"),
		QRImageSize:          v.GetInt("QR_IMAGE_SIZE"),
		QRImageRetention:     parseDuration(v.GetString("QR_IMAGE_RETENTION"), 24*time.Hour),
		TokenRetention:       parseDuration(v.GetString("QR_TOKEN_RETENTION"), 7*24*time.Hour),
		CleanupInterval:      parseDuration(v.GetString("QR_CLEANUP_INTERVAL"), 10*time.Minute),
		SettingsCacheTTL:     parseDuration(v.GetString("SETTINGS_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Realtime = RealtimeConfig{
		SendBuffer:   v.GetInt("WS_SEND_BUFFER"),
		WriteTimeout: parseDuration(v.GetString("WS_WRITE_TIMEOUT"), 10*time.Second),
		PongTimeout:  parseDuration(v.GetString("WS_PONG_TIMEOUT"), 60*time.Second),
		PingInterval: parseDuration(v.GetString("WS_PING_INTERVAL"), 54*time.Second),
		MaxFrameSize: v.GetInt64("WS_MAX_FRAME_SIZE"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "presensia")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "presensia-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("QR_EXPIRY_MINUTES", 15)
	v.SetDefault("LATE_THRESHOLD_MINUTES", 10)
	v.SetDefault("CLASS_START_TIME", "08:00:00")
	v.SetDefault("QR_IMAGE_DIR", "./qr-images")
	v.SetDefault("QR_IMAGE_SIZE", 300)
	v.SetDefault("QR_IMAGE_RETENTION", "24h")
	v.SetDefault("QR_TOKEN_RETENTION", "168h")
	v.SetDefault("QR_CLEANUP_INTERVAL", "10m")
	v.SetDefault("SETTINGS_CACHE_TTL", "5m")

	v.SetDefault("WS_SEND_BUFFER", 32)
	v.SetDefault("WS_WRITE_TIMEOUT", "10s")
	v.SetDefault("WS_PONG_TIMEOUT", "60s")
	v.SetDefault("WS_PING_INTERVAL", "54s")
	v.SetDefault("WS_MAX_FRAME_SIZE", 4096)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
