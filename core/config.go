package core

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/coinwatch/walletauth/policy"
	"github.com/coinwatch/walletauth/wallet"
)

// Config carries everything the daemon reads from the environment.
type Config struct {
	ListenAddr string
	Domain     string
	Chains     []wallet.Chain

	ChallengeTTL time.Duration
	AccessTTL    time.Duration
	RefreshTTL   time.Duration

	RedisURL    string
	DatabaseURL string

	// SigningKeyPEM holds the ES256 private key. Empty means generate
	// an ephemeral development key at startup.
	SigningKeyPEM string

	SweepSchedule string
	LogLevel      slog.Level
}

// ConfigFromEnv reads configuration from the process environment.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:    getEnv("LISTEN_ADDR", ":8080"),
		Domain:        os.Getenv("ORIGIN_DOMAIN"),
		RedisURL:      os.Getenv("REDIS_URL"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SigningKeyPEM: os.Getenv("SIGNING_KEY_PEM"),
		SweepSchedule: getEnv("CHALLENGE_SWEEP_SCHEDULE", "@every 1m"),
	}
	if cfg.Domain == "" {
		return Config{}, errors.New("ORIGIN_DOMAIN is required")
	}

	chains, err := policy.ParseChainList(getEnv("CHAIN_ALLOWLIST", "eip155:1,solana:mainnet"))
	if err != nil {
		return Config{}, err
	}
	cfg.Chains = chains

	if cfg.ChallengeTTL, err = durationEnv("CHALLENGE_TTL", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.AccessTTL, err = durationEnv("ACCESS_TOKEN_TTL", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = durationEnv("REFRESH_TOKEN_TTL", 720*time.Hour); err != nil {
		return Config{}, err
	}

	switch strings.ToLower(getEnv("LOG_LEVEL", "info")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	return cfg, nil
}

// SigningKey parses the configured PEM key, or generates an ephemeral
// one when none is configured.
func (c Config) SigningKey() (*ecdsa.PrivateKey, error) {
	if c.SigningKeyPEM == "" {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral signing key: %w", err)
		}
		return key, nil
	}

	block, _ := pem.Decode([]byte(c.SigningKeyPEM))
	if block == nil {
		return nil, errors.New("SIGNING_KEY_PEM is not valid PEM")
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("signing key must be an ECDSA P-256 key")
	}
	return key, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
