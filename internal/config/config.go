package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AnshRaj112/trialguard-backend/internal/services"
)

const (
	BackendMongo  = "mongo"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	MongoURI       string
	PostgresURI    string
	RedisURI       string
	JWTSecret      string
	JWTIssuer      string
	Port           string
	FrontendURL    string
	AllowedOrigins []string // CORS: from ALLOWED_ORIGINS or FRONTEND_URL(s)
	Host           string   // Raw HOST env (e.g. https://api.trialguard.io)
	AllowedHost    string   // Hostname only for strict host check (production only)
	Environment    string   // ENV: production, development, etc.
	TrustProxy     bool

	StoreBackend         string
	TrialLimit           int
	MaxLinkedAccounts    int
	GracePeriod          time.Duration
	EnforceNetworkLimit  bool
	NetworkPolicyFile    string
	AdminDeviceListLimit int
	StoreTimeout         time.Duration
	RecordMaxAttempts    int
}

func Load() *Config {
	env := strings.ToLower(strings.TrimSpace(getEnv("ENV", "development")))
	host := getEnv("HOST", "http://localhost:8080")

	// AllowedHost is only set in production; host check is skipped in development
	var allowedHost string
	if env == "production" {
		allowedHost = hostname(host)
	}

	allowedOrigins := parseOrigins(getEnv("ALLOWED_ORIGINS", ""))
	if len(allowedOrigins) == 0 {
		for _, u := range []string{getEnv("FRONTEND_URL", "http://localhost:3000"), getEnv("FRONTEND_URL_2", ""), getEnv("FRONTEND_URL_3", "")} {
			u = strings.TrimSpace(u)
			if u != "" {
				allowedOrigins = append(allowedOrigins, u)
			}
		}
	}
	// When HOST is a backend host (e.g. api.trialguard.io), always add https://domain and https://www.domain
	// so OPTIONS preflight gets 200 even if ENV isn't set on the server
	if h := hostname(host); h != "" && h != "localhost" {
		parts := strings.Split(h, ".")
		if len(parts) >= 2 {
			domain := strings.Join(parts[1:], ".")
			for _, origin := range []string{"https://" + domain, "https://www." + domain} {
				if !containsOrigin(allowedOrigins, origin) {
					allowedOrigins = append(allowedOrigins, origin)
				}
			}
		}
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}

	defaults := services.DefaultPolicy()
	return &Config{
		MongoURI:       getEnv("MONGODB_URI", getEnv("MONGO_URI", "mongodb://localhost:27017/trialguard")),
		PostgresURI:    getEnv("POSTGRES_URI", "postgres://localhost:5432/trialguard?sslmode=disable"),
		RedisURI:       getEnv("REDIS_URI", "redis://localhost:6379/0"),
		JWTSecret:      getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		JWTIssuer:      getEnv("JWT_ISSUER", "trialguard"),
		Host:           host,
		AllowedHost:    allowedHost,
		Environment:    env,
		TrustProxy:     getBool("TRUST_PROXY", false),
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", "http://localhost:3000"),
		AllowedOrigins: allowedOrigins,

		StoreBackend:         strings.ToLower(strings.TrimSpace(getEnv("STORE_BACKEND", BackendMongo))),
		TrialLimit:           getInt("TRIAL_LIMIT", defaults.TrialLimit),
		MaxLinkedAccounts:    getInt("MAX_LINKED_ACCOUNTS", defaults.MaxLinkedAccounts),
		GracePeriod:          getDuration("GRACE_PERIOD", defaults.GracePeriod),
		EnforceNetworkLimit:  getBool("ENFORCE_NETWORK_LIMIT", false),
		NetworkPolicyFile:    getEnv("NETWORK_POLICY_FILE", ""),
		AdminDeviceListLimit: getInt("ADMIN_DEVICE_LIST_LIMIT", 50),
		StoreTimeout:         getDuration("STORE_TIMEOUT", 5*time.Second),
		RecordMaxAttempts:    getInt("RECORD_MAX_ATTEMPTS", 5),
	}
}

// Policy returns the trial thresholds the evaluator and admin listing use.
func (c *Config) Policy() services.Policy {
	return services.Policy{
		TrialLimit:          c.TrialLimit,
		MaxLinkedAccounts:   c.MaxLinkedAccounts,
		GracePeriod:         c.GracePeriod,
		EnforceNetworkLimit: c.EnforceNetworkLimit,
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.TrialLimit <= 0 {
		errs = append(errs, fmt.Errorf("TRIAL_LIMIT must be positive, got %d", c.TrialLimit))
	}
	if c.MaxLinkedAccounts <= 0 {
		errs = append(errs, fmt.Errorf("MAX_LINKED_ACCOUNTS must be positive, got %d", c.MaxLinkedAccounts))
	}
	if c.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("GRACE_PERIOD must not be negative, got %s", c.GracePeriod))
	}
	switch c.StoreBackend {
	case BackendMongo, BackendRedis, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be one of mongo, redis, memory, got %q", c.StoreBackend))
	}
	if c.IsProduction() && c.JWTSecret == "your-secret-key-change-in-production" {
		errs = append(errs, errors.New("JWT_SECRET must be set in production"))
	}
	return errors.Join(errs...)
}

func hostname(host string) string {
	for _, prefix := range []string{"https://", "http://"} {
		host = strings.TrimPrefix(host, prefix)
	}
	if idx := strings.Index(host, "/"); idx != -1 {
		host = host[:idx]
	}
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return strings.TrimSpace(host)
}

func parseOrigins(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func containsOrigin(list []string, o string) bool {
	o = strings.TrimSpace(strings.ToLower(o))
	for _, v := range list {
		if strings.TrimSpace(strings.ToLower(v)) == o {
			return true
		}
	}
	return false
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return strings.ToLower(strings.TrimSpace(c.Environment)) == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("⚠️  invalid %s=%q, using %d", key, raw, defaultValue)
		return defaultValue
	}
	return v
}

func getBool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("⚠️  invalid %s=%q, using %t", key, raw, defaultValue)
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("⚠️  invalid %s=%q, using %s", key, raw, defaultValue)
		return defaultValue
	}
	return v
}
