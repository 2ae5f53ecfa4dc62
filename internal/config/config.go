package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/tonkeeper/tongo/ton"

	"github.com/kl456123/reward-vault-ton/internal/sigverify"
)

type Config struct {
	Vault   VaultConfig
	Redis   RedisConfig
	Store   StoreConfig
	Ledger  LedgerConfig
	Server  ServerConfig
	Settler SettlerConfig
}

type VaultConfig struct {
	Admin           string `mapstructure:"admin"`
	SignerPublicKey string `mapstructure:"signer_public_key"`
	SignatureScheme string `mapstructure:"signature_scheme"`
	Timeout         uint32 `mapstructure:"timeout"`
	TimeoutMutable  bool   `mapstructure:"timeout_mutable"`
	TokenWallet     string `mapstructure:"token_wallet"`
	// Address is the vault's own account, used by the in-memory ledger to
	// route notifications.
	Address string `mapstructure:"address"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	Prefix   string `mapstructure:"prefix"`
}

type StoreConfig struct {
	Mode string `mapstructure:"mode"` // "redis" | "memory"
}

type LedgerConfig struct {
	Mode   string `mapstructure:"mode"` // "http" | "memory"
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	GRPCPort  int    `mapstructure:"grpc_port"`
	HostToken string `mapstructure:"host_token"`
}

type SettlerConfig struct {
	MaxAttempts    int   `mapstructure:"max_attempts"`
	PollTimeoutSec int64 `mapstructure:"poll_timeout_sec"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 0)
	v.SetDefault("vault.signature_scheme", string(sigverify.Ed25519))
	v.SetDefault("vault.timeout", 3600)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("redis.prefix", "vault")
	v.SetDefault("store.mode", "redis")
	v.SetDefault("ledger.mode", "http")
	v.SetDefault("settler.max_attempts", 2)
	v.SetDefault("settler.poll_timeout_sec", 5)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"vault.admin":              "VAULT_ADMIN",
		"vault.signer_public_key":  "VAULT_SIGNER_PUBLIC_KEY",
		"vault.signature_scheme":   "VAULT_SIGNATURE_SCHEME",
		"vault.timeout":            "VAULT_TIMEOUT",
		"vault.timeout_mutable":    "VAULT_TIMEOUT_MUTABLE",
		"vault.token_wallet":       "VAULT_TOKEN_WALLET",
		"vault.address":            "VAULT_ADDRESS",
		"redis.addr":               "REDIS_ADDR",
		"redis.password":           "REDIS_PASSWORD",
		"redis.prefix":             "REDIS_PREFIX",
		"store.mode":               "STORE_MODE",
		"ledger.mode":              "LEDGER_MODE",
		"ledger.url":               "LEDGER_URL",
		"ledger.api_key":           "LEDGER_API_KEY",
		"server.port":              "PORT",
		"server.grpc_port":         "GRPC_PORT",
		"server.host_token":        "HOST_TOKEN",
		"settler.max_attempts":     "SETTLER_MAX_ATTEMPTS",
		"settler.poll_timeout_sec": "SETTLER_POLL_TIMEOUT_SEC",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Vault.Admin, "VAULT_ADMIN"},
		{c.Vault.SignerPublicKey, "VAULT_SIGNER_PUBLIC_KEY"},
		{c.Server.HostToken, "HOST_TOKEN"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if _, err := ton.ParseAccountID(c.Vault.Admin); err != nil {
		return fmt.Errorf("invalid VAULT_ADMIN: %w", err)
	}
	if c.Vault.TokenWallet != "" {
		if _, err := ton.ParseAccountID(c.Vault.TokenWallet); err != nil {
			return fmt.Errorf("invalid VAULT_TOKEN_WALLET: %w", err)
		}
	}
	if _, err := sigverify.ParseScheme(c.Vault.SignatureScheme); err != nil {
		return fmt.Errorf("invalid VAULT_SIGNATURE_SCHEME: %w", err)
	}
	if c.Vault.Timeout == 0 {
		return fmt.Errorf("required config missing: VAULT_TIMEOUT")
	}

	switch c.Store.Mode {
	case "redis", "memory":
	default:
		return fmt.Errorf("invalid STORE_MODE %q", c.Store.Mode)
	}
	switch c.Ledger.Mode {
	case "http":
		if c.Ledger.URL == "" {
			return fmt.Errorf("required config missing: LEDGER_URL")
		}
		// Only the in-memory ledger can derive the vault's token wallet.
		if c.Vault.TokenWallet == "" {
			return fmt.Errorf("required config missing: VAULT_TOKEN_WALLET")
		}
	case "memory":
		if c.Vault.Address == "" {
			return fmt.Errorf("required config missing: VAULT_ADDRESS")
		}
		if _, err := ton.ParseAccountID(c.Vault.Address); err != nil {
			return fmt.Errorf("invalid VAULT_ADDRESS: %w", err)
		}
	default:
		return fmt.Errorf("invalid LEDGER_MODE %q", c.Ledger.Mode)
	}
	return nil
}
