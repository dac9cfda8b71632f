package config

import (
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrConfigMissing is returned by Validate when a required value is absent.
// It is fatal at startup.
var ErrConfigMissing = errors.New("config: required value missing")

// Store backends accepted by STORE_BACKEND.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Cipher modes accepted by CIPHER_MODE.
const (
	CipherXOR    = "xor"
	CipherAESGCM = "aesgcm"
)

type Config struct {
	// Security policy
	SessionTimeout   time.Duration
	MaxLoginAttempts int
	LockoutDuration  time.Duration
	AdminEmails      []string

	// Identity provider (required)
	IdentityDatabaseURL string

	// Persistence
	StoreBackend     string
	StorePath        string // sqlite file
	RedisURI         string
	KeyPrefix        string // redis, postgres and mongo share servers
	StoreDatabaseURL string // postgres kv
	MongoURI         string

	// Cipher and event integrity
	CipherMode       string
	EncryptionKey    string // base64, 32 bytes; aesgcm only
	EventChecksumKey string // HMAC key for event checksums; sha256 when empty

	// Local API
	Port           string
	Host           string
	AllowedOrigins []string
	Environment    string
	LogLevel       string
	LogFormat      string
	DevMode        bool
	DebugMode      bool

	CleanupInterval time.Duration
}

func Load() *Config {
	env := strings.ToLower(strings.TrimSpace(getEnv("ENV", "development")))

	allowedOrigins := parseList(getEnv("ALLOWED_ORIGINS", ""))
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:8081", "http://localhost:19006"}
	}

	return &Config{
		SessionTimeout:      time.Duration(getEnvInt("SESSION_TIMEOUT_MINUTES", 60)) * time.Minute,
		MaxLoginAttempts:    getEnvInt("MAX_LOGIN_ATTEMPTS", 5),
		LockoutDuration:     time.Duration(getEnvInt("LOCKOUT_DURATION_MINUTES", 15)) * time.Minute,
		AdminEmails:         parseList(strings.ToLower(getEnv("ADMIN_EMAILS", ""))),
		IdentityDatabaseURL: getEnv("IDENTITY_DATABASE_URL", ""),
		StoreBackend:        strings.ToLower(getEnv("STORE_BACKEND", StoreSQLite)),
		StorePath:           getEnv("STORE_PATH", "techphono-security.db"),
		RedisURI:            getEnv("REDIS_URI", "redis://localhost:6379/0"),
		KeyPrefix:           getEnv("STORE_KEY_PREFIX", "techphono:"),
		StoreDatabaseURL:    getEnv("STORE_DATABASE_URL", getEnv("IDENTITY_DATABASE_URL", "")),
		MongoURI:            getEnv("MONGODB_URI", getEnv("MONGO_URI", "mongodb://localhost:27017/techphono")),
		CipherMode:          strings.ToLower(getEnv("CIPHER_MODE", CipherXOR)),
		EncryptionKey:       getEnv("ENCRYPTION_KEY", ""),
		EventChecksumKey:    getEnv("EVENT_CHECKSUM_KEY", ""),
		Port:                getEnv("PORT", "8787"),
		Host:                getEnv("HOST", "127.0.0.1"),
		AllowedOrigins:      allowedOrigins,
		Environment:         env,
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(getEnv("LOG_FORMAT", "text")),
		DevMode:             getEnvBool("DEV_MODE", env != "production"),
		DebugMode:           getEnvBool("DEBUG_MODE", false),
		CleanupInterval:     time.Duration(getEnvInt("CLEANUP_INTERVAL_MINUTES", 60)) * time.Minute,
	}
}

// Validate checks required values and policy bounds. Errors wrapping
// ErrConfigMissing must stop the process.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.IdentityDatabaseURL) == "" {
		return fmt.Errorf("%w: IDENTITY_DATABASE_URL", ErrConfigMissing)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("config: SESSION_TIMEOUT_MINUTES must be positive")
	}
	if c.MaxLoginAttempts <= 0 {
		return fmt.Errorf("config: MAX_LOGIN_ATTEMPTS must be positive")
	}
	if c.LockoutDuration <= 0 {
		return fmt.Errorf("config: LOCKOUT_DURATION_MINUTES must be positive")
	}
	for _, email := range c.AdminEmails {
		if _, err := mail.ParseAddress(email); err != nil {
			return fmt.Errorf("config: invalid admin email %q", email)
		}
	}

	switch c.StoreBackend {
	case StoreMemory:
	case StoreSQLite:
		if c.StorePath == "" {
			return fmt.Errorf("%w: STORE_PATH", ErrConfigMissing)
		}
	case StoreRedis:
		if c.RedisURI == "" {
			return fmt.Errorf("%w: REDIS_URI", ErrConfigMissing)
		}
	case StorePostgres:
		if c.StoreDatabaseURL == "" {
			return fmt.Errorf("%w: STORE_DATABASE_URL", ErrConfigMissing)
		}
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("%w: MONGODB_URI", ErrConfigMissing)
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.CipherMode {
	case CipherXOR:
	case CipherAESGCM:
		if c.EncryptionKey == "" {
			return fmt.Errorf("%w: ENCRYPTION_KEY (required for CIPHER_MODE=aesgcm)", ErrConfigMissing)
		}
	default:
		return fmt.Errorf("config: unknown CIPHER_MODE %q", c.CipherMode)
	}
	return nil
}

// IsProduction returns true when ENV is set to "production".
func (c *Config) IsProduction() bool {
	return strings.ToLower(strings.TrimSpace(c.Environment)) == "production"
}

// IsAdmin reports whether email is listed in ADMIN_EMAILS.
func (c *Config) IsAdmin(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, admin := range c.AdminEmails {
		if admin == email {
			return true
		}
	}
	return false
}

// Addr is the listen address for the local API.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

func parseList(s string) []string {
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

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}
