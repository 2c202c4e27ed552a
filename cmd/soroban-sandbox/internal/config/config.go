// Package config loads the sandbox configuration from defaults, a TOML file,
// environment variables and command line flags, in increasing precedence.
package config

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
)

const (
	TransactionStoreMemory = "memory"
	TransactionStoreSQLite = "sqlite"
)

// Config represents the configuration of a soroban-sandbox server
type Config struct {
	ConfigPath string
	Strict     bool

	Endpoint                    string
	AdminEndpoint               string
	CorsAllowedOrigins          []string
	MaxRequestExecutionDuration time.Duration

	NetworkPassphrase     string
	ProtocolVersion       uint32
	LedgerSequence        uint32
	LedgerTimestamp       uint64
	BaseReserve           uint32
	MinTemporaryEntryTTL  uint32
	MinPersistentEntryTTL uint32
	MaxEntryTTL           uint32

	EnableDiagnosticEvents bool
	TransactionStore       string
	FeeStatsWindow         uint32
	MaxEventsLimit         uint32
	DefaultEventsLimit     uint32

	LogFormat LogFormat
	LogLevel  logrus.Level

	flagset *pflag.FlagSet
}

// LedgerInfo is the initial ledger context described by the configuration.
func (cfg *Config) LedgerInfo() ledger.Info {
	info := ledger.NewInfo(cfg.NetworkPassphrase, cfg.ProtocolVersion, cfg.LedgerSequence, cfg.LedgerTimestamp)
	info.BaseReserve = cfg.BaseReserve
	info.MinTemporaryEntryTTL = cfg.MinTemporaryEntryTTL
	info.MinPersistentEntryTTL = cfg.MinPersistentEntryTTL
	info.MaxEntryTTL = cfg.MaxEntryTTL
	return info
}

func (cfg *Config) SetValues(lookupEnv func(string) (string, bool)) error {
	// We start with the defaults
	if err := cfg.loadDefaults(); err != nil {
		return err
	}

	// Then we load from the flags, to find out if there is a config file
	if err := cfg.loadFlags(); err != nil {
		return err
	}

	// If we specified a config file, we load that
	if cfg.ConfigPath != "" {
		// Merge in the config file flags
		if err := cfg.loadConfigPath(); err != nil {
			return err
		}
	}

	// Load from env vars
	if err := cfg.loadEnv(lookupEnv); err != nil {
		return err
	}

	// Finally, load the flags again, so they override the config file and env
	return cfg.loadFlags()
}

// loadDefaults populates the config with default values
func (cfg *Config) loadDefaults() error {
	for _, option := range cfg.options() {
		if option.DefaultValue != nil {
			if err := option.setValue(option.DefaultValue); err != nil {
				return err
			}
		}
	}
	return nil
}

func (cfg *Config) loadEnv(lookupEnv func(string) (string, bool)) error {
	for _, option := range cfg.options() {
		if option.EnvVar == "" {
			continue
		}
		value, ok := lookupEnv(option.EnvVar)
		if !ok {
			continue
		}
		if err := option.setValue(value); err != nil {
			return err
		}
	}
	return nil
}

// loadFlags copies the explicitly set command line flags into the config.
func (cfg *Config) loadFlags() error {
	if cfg.flagset == nil {
		return nil
	}
	for _, option := range cfg.options() {
		flag := cfg.flagset.Lookup(option.Name)
		if flag == nil || !flag.Changed {
			continue
		}
		val, err := option.GetFlag(cfg.flagset)
		if err != nil {
			return err
		}
		if err := option.setValue(val); err != nil {
			return err
		}
	}
	return nil
}

// loadConfigPath loads a new config from a toml file at the given path. Strict
// mode will return an error if there are any unknown toml variables set. Note,
// strict-mode can also be set by putting `STRICT=true` in the config.toml file
// itself.
func (cfg *Config) loadConfigPath() error {
	file, err := os.Open(cfg.ConfigPath)
	if err != nil {
		return err
	}
	defer file.Close()
	return parseToml(file, cfg.Strict, cfg)
}

func (cfg *Config) Validate() error {
	for _, option := range cfg.options() {
		if option.Validate == nil {
			continue
		}
		if err := option.Validate(option); err != nil {
			return err
		}
	}
	return nil
}
