package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"golang.org/x/time/rate"

	"launchpad/internal/business"
	launchsolana "launchpad/pkg/solana"
)

const (
	defaultPort            = "8080"
	defaultFinalityTimeout = 90 * time.Second
	defaultTaskTimeout     = 3 * time.Minute
	defaultIssueTimeout    = 2 * time.Minute
	defaultSettleTimeout   = 30 * time.Second
	defaultMintRateLimit   = 1.0
	defaultMintRateBurst   = 3
	defaultStatusSyncCron  = "0 * * * * *"
)

// AppConfig is the process configuration read from the environment
type AppConfig struct {
	Port           string
	AllowedOrigins []string

	// SolanaRPC lists the endpoints from the comma separated SOLANA_RPC
	SolanaRPC []string
	FeeWallet string
	// LaunchFee is LAUNCH_FEE converted from SOL to lamports
	LaunchFee uint64

	HotWalletSecret  string
	HotWalletAddress string
	KeystorePassword string
	KeystoreDir      string

	FinalityTimeout time.Duration
	TaskTimeout     time.Duration
	// IssueTimeout and SettleTimeout bound the steps after payment is
	// verified. They are not cut short by TaskTimeout.
	IssueTimeout  time.Duration
	SettleTimeout time.Duration

	// MintRateLimit is purchase submissions per second per wallet
	MintRateLimit rate.Limit
	MintRateBurst int

	StatusSyncCron string
}

// LoadAppConfig reads and validates the environment
func LoadAppConfig() (*AppConfig, error) {
	cfg := &AppConfig{
		Port:             envOr("PORT", defaultPort),
		FeeWallet:        os.Getenv("FEE_WALLET_ADDRESS"),
		HotWalletSecret:  os.Getenv("HOT_WALLET_SECRET"),
		HotWalletAddress: os.Getenv("HOT_WALLET_ADDRESS"),
		KeystorePassword: os.Getenv("KEYSTORE_PASSWORD"),
		KeystoreDir:      envOr("KEYSTORE_DIR", launchsolana.DefaultKeystoreDir),
		StatusSyncCron:   envOr("STATUS_SYNC_CRON", defaultStatusSyncCron),
	}

	cfg.AllowedOrigins = envList("ALLOWED_ORIGINS")
	cfg.SolanaRPC = envList("SOLANA_RPC")

	if len(cfg.SolanaRPC) == 0 {
		return nil, errors.New("SOLANA_RPC is required")
	}
	if _, err := solanago.PublicKeyFromBase58(cfg.FeeWallet); err != nil {
		return nil, fmt.Errorf("FEE_WALLET_ADDRESS is invalid: %w", err)
	}

	fee, err := strconv.ParseFloat(os.Getenv("LAUNCH_FEE"), 64)
	if err != nil || fee < 0 {
		return nil, fmt.Errorf("LAUNCH_FEE must be a non-negative SOL amount, got %q", os.Getenv("LAUNCH_FEE"))
	}
	cfg.LaunchFee = business.SOLToLamports(fee)

	if cfg.FinalityTimeout, err = envDuration("FINALITY_TIMEOUT", defaultFinalityTimeout); err != nil {
		return nil, err
	}
	if cfg.TaskTimeout, err = envDuration("TASK_TIMEOUT", defaultTaskTimeout); err != nil {
		return nil, err
	}
	if cfg.TaskTimeout <= cfg.FinalityTimeout {
		return nil, fmt.Errorf("TASK_TIMEOUT (%s) must exceed FINALITY_TIMEOUT (%s)", cfg.TaskTimeout, cfg.FinalityTimeout)
	}
	if cfg.IssueTimeout, err = envDuration("ISSUE_TIMEOUT", defaultIssueTimeout); err != nil {
		return nil, err
	}
	if cfg.SettleTimeout, err = envDuration("SETTLE_TIMEOUT", defaultSettleTimeout); err != nil {
		return nil, err
	}

	limit := defaultMintRateLimit
	if v := os.Getenv("MINT_RATE_LIMIT"); v != "" {
		if limit, err = strconv.ParseFloat(v, 64); err != nil || limit <= 0 {
			return nil, fmt.Errorf("MINT_RATE_LIMIT must be a positive number, got %q", v)
		}
	}
	cfg.MintRateLimit = rate.Limit(limit)
	cfg.MintRateBurst = defaultMintRateBurst
	if v := os.Getenv("MINT_RATE_BURST"); v != "" {
		if cfg.MintRateBurst, err = strconv.Atoi(v); err != nil || cfg.MintRateBurst <= 0 {
			return nil, fmt.Errorf("MINT_RATE_BURST must be a positive integer, got %q", v)
		}
	}

	if cfg.HotWalletSecret == "" && (cfg.HotWalletAddress == "" || cfg.KeystorePassword == "") {
		return nil, errors.New("set HOT_WALLET_SECRET or HOT_WALLET_ADDRESS with KEYSTORE_PASSWORD")
	}

	return cfg, nil
}

// HotWallet loads the issuance signing key, preferring HOT_WALLET_SECRET
// over the encrypted keystore.
func (c *AppConfig) HotWallet() (solanago.PrivateKey, error) {
	if c.HotWalletSecret != "" {
		key, err := solanago.PrivateKeyFromBase58(c.HotWalletSecret)
		if err != nil {
			return nil, fmt.Errorf("HOT_WALLET_SECRET is invalid: %w", err)
		}
		return key, nil
	}
	return launchsolana.NewKeyManager(c.KeystoreDir).LoadHotWallet(c.HotWalletAddress, c.KeystorePassword)
}

func envList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}
