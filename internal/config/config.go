package config

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/futura-app/coauth-service/internal/utils"
)

// Config holds all application configuration, including secrets.
type Config struct {
	AppName string
	AppPort string
	AppUrl  string
	Env     string
	DBUrl   string

	// Keyed-hash secret for nonce hashing. Required outside development:
	// a deployed instance must fail closed rather than fall back to a
	// known value.
	NonceHMACSecret []byte

	// Public key used to validate the primary provider's session tokens.
	SessionJWTPublicKey *rsa.PublicKey

	// Co-auth assertion lifecycle.
	CoAuthTTL              time.Duration
	CoAuthGracePeriod      time.Duration
	CoAuthWarningThreshold time.Duration

	// Nonce TTL clamp bounds and default.
	NonceMinTTL     time.Duration
	NonceMaxTTL     time.Duration
	NonceDefaultTTL time.Duration

	// Issuance rate limiting per origin IP.
	RateLimitWindow      time.Duration
	RateLimitMaxRequests int
}

// Defaults. The env overrides below exist mainly so integration tests
// can shrink the windows.
const (
	DefaultCoAuthTTL              = 15 * time.Minute
	DefaultCoAuthGracePeriod      = 1 * time.Minute
	DefaultCoAuthWarningThreshold = 2 * time.Minute
	DefaultNonceMinTTL            = 60 * time.Second
	DefaultNonceMaxTTL            = 600 * time.Second
	DefaultNonceDefaultTTL        = 180 * time.Second
	DefaultRateLimitWindow        = 60 * time.Second
	DefaultRateLimitMaxRequests   = 10

	// Used records are kept this long for auditing before cleanup.
	UsedNonceRetention = 24 * time.Hour

	EnvDevelopment = "development"
)

// AppName is overridden with ldflags at build time.
var AppName string

// LoadConfig reads the environment, validates required values, and
// returns a *Config. Missing required values are fatal.
func LoadConfig() *Config {
	if AppName == "" {
		utils.Logger.Fatal("AppName was not overridden with ldflags at build time (or is empty)")
	}

	utils.Logger.Info("Loading config for app: ", AppName)

	env := os.Getenv("ENV")
	if env == "" {
		utils.Logger.Fatal("ENV env var is missing")
	}
	appUrl := os.Getenv("APP_URL_FROM_ANYWHERE")
	if appUrl == "" {
		utils.Logger.Fatal("APP_URL_FROM_ANYWHERE env var is missing")
	}
	appPort := os.Getenv("APP_PORT")
	if appPort == "" {
		utils.Logger.Fatal("APP_PORT env var is missing")
	}
	dbUrl := os.Getenv("DB_URL")
	if dbUrl == "" {
		utils.Logger.Fatal("DB_URL env var is missing")
	}

	utils.Logger.Debugf("App can be accessed at: %s", appUrl)

	//----------------------------------------------------------------------
	// Nonce HMAC secret. Fail closed when deployed; development may run
	// with an ephemeral secret (every restart invalidates open challenges).
	//----------------------------------------------------------------------
	var hmacSecret []byte
	secretBase64 := os.Getenv("NONCE_HMAC_SECRET_BASE64")
	switch {
	case secretBase64 != "":
		decoded, err := base64.StdEncoding.DecodeString(secretBase64)
		if err != nil {
			utils.Logger.WithError(err).Fatal("Failed to decode NONCE_HMAC_SECRET_BASE64")
		}
		if len(decoded) < 32 {
			utils.Logger.Fatal("NONCE_HMAC_SECRET_BASE64 must decode to at least 32 bytes")
		}
		hmacSecret = decoded
	case env == EnvDevelopment:
		hmacSecret = make([]byte, 32)
		if _, err := rand.Read(hmacSecret); err != nil {
			utils.Logger.WithError(err).Fatal("Failed to generate ephemeral HMAC secret")
		}
		utils.Logger.Warn("NONCE_HMAC_SECRET_BASE64 not set; using an EPHEMERAL secret (development only)")
	default:
		utils.Logger.Fatal("NONCE_HMAC_SECRET_BASE64 env var is missing (required outside development)")
	}

	//----------------------------------------------------------------------
	// Session JWT public key (primary provider's signing key).
	//----------------------------------------------------------------------
	publicKeyBase64 := os.Getenv("SESSION_JWT_PUBLIC_KEY_BASE64")
	if publicKeyBase64 == "" {
		utils.Logger.Fatal("SESSION_JWT_PUBLIC_KEY_BASE64 env var is missing")
	}
	publicKeyPEM, err := base64.StdEncoding.DecodeString(publicKeyBase64)
	if err != nil {
		utils.Logger.WithError(err).Fatal("Failed to decode base64 session public key")
	}
	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		utils.Logger.WithError(err).Fatal("Failed to parse RSA session public key")
	}

	return &Config{
		AppName:                AppName,
		AppPort:                appPort,
		AppUrl:                 appUrl,
		Env:                    env,
		DBUrl:                  dbUrl,
		NonceHMACSecret:        hmacSecret,
		SessionJWTPublicKey:    publicKey,
		CoAuthTTL:              envMinutes("COAUTH_TTL_MINUTES", DefaultCoAuthTTL),
		CoAuthGracePeriod:      envMinutes("COAUTH_GRACE_PERIOD_MINUTES", DefaultCoAuthGracePeriod),
		CoAuthWarningThreshold: envMinutes("COAUTH_WARNING_THRESHOLD_MINUTES", DefaultCoAuthWarningThreshold),
		NonceMinTTL:            envSeconds("NONCE_MIN_TTL_SECONDS", DefaultNonceMinTTL),
		NonceMaxTTL:            envSeconds("NONCE_MAX_TTL_SECONDS", DefaultNonceMaxTTL),
		NonceDefaultTTL:        envSeconds("NONCE_DEFAULT_TTL_SECONDS", DefaultNonceDefaultTTL),
		RateLimitWindow:        envMillis("RATE_LIMIT_WINDOW_MS", DefaultRateLimitWindow),
		RateLimitMaxRequests:   envInt("RATE_LIMIT_MAX_REQUESTS", DefaultRateLimitMaxRequests),
	}
}

func envInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		utils.Logger.Fatalf("%s must be a positive integer, got %q", name, raw)
	}
	return v
}

func envMinutes(name string, def time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	return time.Duration(envInt(name, 0)) * time.Minute
}

func envSeconds(name string, def time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	return time.Duration(envInt(name, 0)) * time.Second
}

func envMillis(name string, def time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	return time.Duration(envInt(name, 0)) * time.Millisecond
}
