package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string // Redis Key 前缀

	JWTSecret         string
	JWTExpiryHours    int
	ServerPort        string
	LogLevel          string
	AppEnv            string // 应用环境 (development/production)
	CORSAllowedOrigin string
	RateLimitMax      int
	RateLimitWindow   time.Duration

	MaxRoomMembers         int
	MinPortalMembers       int
	DestroyPortalWhenEmpty bool
	EmptyRoomDestroyDelay  time.Duration
	UndeliveredQueueCap    int
	SessionStaleAfter      time.Duration
	SessionSweepSchedule   string

	PortalsAPIURL     string
	PortalsAPIKey     string
	PortalsAPITimeout time.Duration
	ApertureWSURL     string
	ApertureWSKey     string
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:            os.Getenv("DB_USER"),
		DBPassword:        os.Getenv("DB_PASSWORD"),
		DBHost:            envOr("DB_HOST", "127.0.0.1"),
		DBPort:            envOr("DB_PORT", "3306"),
		DBName:            os.Getenv("DB_NAME"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           envInt("REDIS_DB", 0),
		KeyPrefix:         os.Getenv("REDIS_KEY_PREFIX"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		JWTExpiryHours:    envInt("JWT_EXPIRY_HOURS", 24),
		ServerPort:        envOr("SERVER_PORT", "8080"),
		LogLevel:          envOr("LOG_LEVEL", "info"),
		AppEnv:            envOr("APP_ENV", "development"),
		CORSAllowedOrigin: envOr("CORS_ALLOWED_ORIGIN", "http://localhost:3000"),
		RateLimitMax:      envInt("RATE_LIMIT_MAX", 100),
		RateLimitWindow:   envDuration("RATE_LIMIT_WINDOW", time.Second),

		MaxRoomMembers:         envInt("MAX_ROOM_MEMBER_COUNT", 10),
		MinPortalMembers:       envInt("MIN_MEMBER_PORTAL_CREATION_COUNT", 2),
		DestroyPortalWhenEmpty: envBool("DESTROY_PORTAL_WHEN_EMPTY", false),
		EmptyRoomDestroyDelay:  time.Duration(envInt("EMPTY_ROOM_PORTAL_DESTROY_SECONDS", 60)) * time.Second,
		UndeliveredQueueCap:    envInt("UNDELIVERED_QUEUE_CAP", 100),
		SessionStaleAfter:      envDuration("SESSION_STALE_AFTER", 2*time.Minute),
		SessionSweepSchedule:   envOr("SESSION_SWEEP_SCHEDULE", "@every 1m"),

		PortalsAPIURL:     os.Getenv("PORTALS_API_URL"),
		PortalsAPIKey:     os.Getenv("PORTALS_API_KEY"),
		PortalsAPITimeout: envDuration("PORTALS_API_TIMEOUT", 10*time.Second),
		ApertureWSURL:     os.Getenv("APERTURE_WS_URL"),
		ApertureWSKey:     os.Getenv("APERTURE_WS_KEY"),
	}

	required := map[string]string{
		"REDIS_ADDR":      cfg.RedisAddr,
		"JWT_SECRET":      cfg.JWTSecret,
		"PORTALS_API_URL": cfg.PortalsAPIURL,
		"PORTALS_API_KEY": cfg.PortalsAPIKey,
		"APERTURE_WS_KEY": cfg.ApertureWSKey,
	}
	for name, value := range required {
		if value == "" {
			return nil, fmt.Errorf("environment variable %s must be set", name)
		}
	}
	if cfg.MinPortalMembers > cfg.MaxRoomMembers {
		return nil, fmt.Errorf("MIN_MEMBER_PORTAL_CREATION_COUNT (%d) cannot exceed MAX_ROOM_MEMBER_COUNT (%d)", cfg.MinPortalMembers, cfg.MaxRoomMembers)
	}

	// 验证日志级别
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.Warnf("Invalid %s '%s', using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logrus.Warnf("Invalid %s '%s', using default %t", key, v, fallback)
		return fallback
	}
	return b
}

// envDuration 接受 time.ParseDuration 格式或纯秒数
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	logrus.Warnf("Invalid %s '%s', using default %s", key, v, fallback)
	return fallback
}
