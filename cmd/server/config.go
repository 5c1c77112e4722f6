package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/buzkaaclicker/chatgate/transport/rest"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type config struct {
	listenAddr string
	debug      bool
	syslog     bool
	pgDsn      string

	sessionBackend string
	buntPath       string
	redisAddr      string
	redisPassword  string

	sessionTTL  time.Duration
	maxSessions int

	rateLimitWindow  time.Duration
	rateLimitMax     int64
	rateLimitBackend string

	trustedProxies []string
	allowOrigins   string
}

func envOr(key string, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func requireEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		logrus.Fatalln("Environment variable " + key + " is not set!")
	}
	return value
}

func envInt(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		logrus.WithField("value", raw).Fatalln("Environment variable " + key + " must be a positive integer.")
	}
	return value
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		logrus.WithField("value", raw).Fatalln("Environment variable " + key + " must be a positive duration.")
	}
	return value
}

func envChoice(key string, fallback string, choices ...string) string {
	value := envOr(key, fallback)
	for _, choice := range choices {
		if value == choice {
			return value
		}
	}
	logrus.WithField("value", value).
		WithField("choices", choices).
		Fatalln("Invalid value of environment variable " + key + ".")
	return ""
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	list := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			list = append(list, part)
		}
	}
	return list
}

func configFromEnv() config {
	cfg := config{
		listenAddr: envOr("LISTEN_ADDR", ":2137"),
		debug:      os.Getenv("DEBUG") == "true",
		syslog:     os.Getenv("SYSLOG") == "true",
		pgDsn:      requireEnv("POSTGRES_DSN"),

		sessionBackend: envChoice("SESSION_BACKEND", "bunt", "bunt", "redis"),
		buntPath:       envOr("BUNT_PATH", "kv.db"),
		redisAddr:      os.Getenv("REDIS_ADDR"),
		redisPassword:  os.Getenv("REDIS_PASSWORD"),

		sessionTTL:  envDuration("SESSION_TTL", 720*time.Hour),
		maxSessions: int(envInt("MAX_SESSIONS_PER_USER", 5)),

		rateLimitWindow:  time.Duration(envInt("RATE_LIMIT_WINDOW_MS", 10000)) * time.Millisecond,
		rateLimitMax:     envInt("RATE_LIMIT_MAX", 100),
		rateLimitBackend: envChoice("RATE_LIMIT_BACKEND", "memory", "memory", "redis"),

		trustedProxies: splitList(os.Getenv("TRUSTED_PROXIES")),
		allowOrigins:   envOr("ALLOW_ORIGINS", "*"),
	}
	if (cfg.sessionBackend == "redis" || cfg.rateLimitBackend == "redis") && cfg.redisAddr == "" {
		logrus.Fatalln("Environment variable REDIS_ADDR is required by the redis backend!")
	}
	return cfg
}

func (c config) wsOrigins() []string {
	if c.allowOrigins == "*" {
		return nil
	}
	return splitList(c.allowOrigins)
}

// serverConfig resolves client addresses from X-Forwarded-For only for
// requests coming from one of the trusted proxies. Without trusted proxies the
// header is ignored.
func serverConfig(cfg config) fiber.Config {
	fiberConfig := fiber.Config{
		ReadTimeout:             10 * time.Second,
		ErrorHandler:            rest.ErrorHandler,
		EnableTrustedProxyCheck: true,
		TrustedProxies:          cfg.trustedProxies,
		DisableStartupMessage:   !cfg.debug,
	}
	if len(cfg.trustedProxies) > 0 {
		fiberConfig.ProxyHeader = fiber.HeaderXForwardedFor
		fiberConfig.EnableIPValidation = true
	}
	return fiberConfig
}
