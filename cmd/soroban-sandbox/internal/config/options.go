package config

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/stellar/soroban-sandbox/cmd/soroban-sandbox/internal/ledger"
)

const (
	defaultHTTPEndpoint = "localhost:8000"

	// StandaloneNetworkPassphrase identifies a local, single node network.
	StandaloneNetworkPassphrase = "Standalone Network ; February 2017"

	defaultFeeStatsWindow uint32 = 50
	maxFeeStatsWindow     uint32 = 10_000

	defaultMaxEventsLimit     uint32 = 10_000
	defaultDefaultEventsLimit uint32 = 100
)

//nolint:funlen
func (cfg *Config) options() Options {
	return Options{
		{
			Name:      "config-path",
			EnvVar:    "SOROBAN_SANDBOX_CONFIG_PATH",
			TomlKey:   "-",
			Usage:     "File path to the toml configuration file",
			ConfigKey: &cfg.ConfigPath,
		},
		{
			Name:         "config-strict",
			EnvVar:       "SOROBAN_SANDBOX_CONFIG_STRICT",
			TomlKey:      "STRICT",
			Usage:        "Enable strict toml configuration file parsing. This will prevent unknown fields in the config toml from being parsed.",
			ConfigKey:    &cfg.Strict,
			DefaultValue: false,
		},
		{
			Name:         "endpoint",
			EnvVar:       "ENDPOINT",
			Usage:        "Endpoint to listen and serve on",
			ConfigKey:    &cfg.Endpoint,
			DefaultValue: defaultHTTPEndpoint,
		},
		{
			Name:      "admin-endpoint",
			EnvVar:    "ADMIN_ENDPOINT",
			Usage:     "Admin endpoint to listen and serve on. WARNING: this should not be accessible from the Internet and does not use TLS. \"\" (default) disables the admin server",
			ConfigKey: &cfg.AdminEndpoint,
		},
		{
			Name:      "cors-allowed-origins",
			EnvVar:    "CORS_ALLOWED_ORIGINS",
			Usage:     "Origins allowed to make cross-origin requests to the endpoint. Empty allows all origins",
			ConfigKey: &cfg.CorsAllowedOrigins,
		},
		{
			TomlKey:      "MAX_REQUEST_EXECUTION_DURATION",
			Name:         "max-request-execution-duration",
			EnvVar:       "MAX_REQUEST_EXECUTION_DURATION",
			Usage:        "The max request execution duration. Longer requests are cancelled",
			ConfigKey:    &cfg.MaxRequestExecutionDuration,
			DefaultValue: 25 * time.Second,
			Validate:     positive,
		},
		{
			Name:         "network-passphrase",
			EnvVar:       "NETWORK_PASSPHRASE",
			Usage:        "Network passphrase of the sandbox network; its sha256 is the network id transactions are signed for",
			ConfigKey:    &cfg.NetworkPassphrase,
			DefaultValue: StandaloneNetworkPassphrase,
			Validate:     required,
		},
		{
			Name:         "protocol-version",
			EnvVar:       "PROTOCOL_VERSION",
			Usage:        "Ledger protocol version reported to the execution engine",
			ConfigKey:    &cfg.ProtocolVersion,
			DefaultValue: ledger.DefaultProtocolVersion,
			Validate:     positive,
		},
		{
			Name:         "ledger-sequence",
			EnvVar:       "LEDGER_SEQUENCE",
			Usage:        "Initial ledger sequence number",
			ConfigKey:    &cfg.LedgerSequence,
			DefaultValue: uint32(1),
		},
		{
			Name:         "ledger-timestamp",
			EnvVar:       "LEDGER_TIMESTAMP",
			Usage:        "Initial ledger close time, in seconds since the unix epoch",
			ConfigKey:    &cfg.LedgerTimestamp,
			DefaultValue: uint64(0),
		},
		{
			Name:         "base-reserve",
			EnvVar:       "BASE_RESERVE",
			Usage:        "Base reserve, in stroops",
			ConfigKey:    &cfg.BaseReserve,
			DefaultValue: ledger.DefaultBaseReserve,
		},
		{
			Name:         "min-temporary-entry-ttl",
			EnvVar:       "MIN_TEMPORARY_ENTRY_TTL",
			Usage:        "Minimum number of ledgers a new temporary contract data entry lives for",
			ConfigKey:    &cfg.MinTemporaryEntryTTL,
			DefaultValue: ledger.DefaultMinTemporaryEntryTTL,
			Validate:     positive,
		},
		{
			Name:         "min-persistent-entry-ttl",
			EnvVar:       "MIN_PERSISTENT_ENTRY_TTL",
			Usage:        "Minimum number of ledgers a new persistent entry or contract code lives for",
			ConfigKey:    &cfg.MinPersistentEntryTTL,
			DefaultValue: ledger.DefaultMinPersistentEntryTTL,
			Validate:     positive,
		},
		{
			Name:         "max-entry-ttl",
			EnvVar:       "MAX_ENTRY_TTL",
			Usage:        "Maximum number of ledgers an entry can be extended to live for",
			ConfigKey:    &cfg.MaxEntryTTL,
			DefaultValue: ledger.DefaultMaxEntryTTL,
			Validate: func(option *Option) error {
				if cfg.MaxEntryTTL < cfg.MinPersistentEntryTTL || cfg.MaxEntryTTL < cfg.MinTemporaryEntryTTL {
					return fmt.Errorf("%s must not be below the minimum entry TTLs", option.Name)
				}
				return nil
			},
		},
		{
			Name:         "enable-diagnostic-events",
			EnvVar:       "ENABLE_DIAGNOSTIC_EVENTS",
			Usage:        "Record diagnostic events emitted during execution",
			ConfigKey:    &cfg.EnableDiagnosticEvents,
			DefaultValue: false,
		},
		{
			Name:         "transaction-store",
			EnvVar:       "TRANSACTION_STORE",
			Usage:        "Where transaction records are kept: \"memory\" or \"sqlite\" (an in-memory sqlite database)",
			ConfigKey:    &cfg.TransactionStore,
			DefaultValue: TransactionStoreMemory,
			Validate: func(option *Option) error {
				switch cfg.TransactionStore {
				case TransactionStoreMemory, TransactionStoreSQLite:
					return nil
				default:
					return fmt.Errorf("invalid %s: %q", option.Name, cfg.TransactionStore)
				}
			},
		},
		{
			Name:         "fee-stats-window",
			EnvVar:       "FEE_STATS_WINDOW",
			Usage:        "Number of most recent submissions the fee statistics are computed over",
			ConfigKey:    &cfg.FeeStatsWindow,
			DefaultValue: defaultFeeStatsWindow,
			Validate: func(option *Option) error {
				if cfg.FeeStatsWindow == 0 || cfg.FeeStatsWindow > maxFeeStatsWindow {
					return fmt.Errorf("%s must be between 1 and %d", option.Name, maxFeeStatsWindow)
				}
				return nil
			},
		},
		{
			Name:         "max-events-limit",
			EnvVar:       "MAX_EVENTS_LIMIT",
			Usage:        "Maximum amount of events allowed in a single getEvents response",
			ConfigKey:    &cfg.MaxEventsLimit,
			DefaultValue: defaultMaxEventsLimit,
		},
		{
			Name:         "default-events-limit",
			EnvVar:       "DEFAULT_EVENTS_LIMIT",
			Usage:        "Default cap on the amount of events included in a single getEvents response",
			ConfigKey:    &cfg.DefaultEventsLimit,
			DefaultValue: defaultDefaultEventsLimit,
			Validate: func(option *Option) error {
				if cfg.DefaultEventsLimit == 0 {
					return fmt.Errorf("%s must be positive", option.Name)
				}
				if cfg.DefaultEventsLimit > cfg.MaxEventsLimit {
					return fmt.Errorf(
						"%s (%d) cannot exceed max-events-limit (%d)",
						option.Name,
						cfg.DefaultEventsLimit,
						cfg.MaxEventsLimit,
					)
				}
				return nil
			},
		},
		{
			Name:         "log-level",
			EnvVar:       "LOG_LEVEL",
			Usage:        "minimum log severity (debug, info, warn, error) to log",
			ConfigKey:    &cfg.LogLevel,
			DefaultValue: logrus.InfoLevel,
		},
		{
			Name:         "log-format",
			EnvVar:       "LOG_FORMAT",
			Usage:        "format used for output logs (json or text)",
			ConfigKey:    &cfg.LogFormat,
			DefaultValue: LogFormatText,
		},
	}
}

func required(option *Option) error {
	switch v := option.ConfigKey.(type) {
	case *string:
		if *v != "" {
			return nil
		}
	default:
		return errors.Errorf("required check not implemented for %T", option.ConfigKey)
	}
	var waysToSet []string
	if option.Name != "" {
		waysToSet = append(waysToSet, fmt.Sprintf("specify --%s on the command line", option.Name))
	}
	if option.EnvVar != "" {
		waysToSet = append(waysToSet, fmt.Sprintf("set the %s environment variable", option.EnvVar))
	}
	if tomlKey, ok := option.getTomlKey(); ok {
		waysToSet = append(waysToSet, fmt.Sprintf("set %s in the config file", tomlKey))
	}
	advice := ""
	if len(waysToSet) > 0 {
		advice = " Please " + waysToSet[0]
		for _, way := range waysToSet[1:] {
			advice += " or " + way
		}
		advice += "."
	}
	return errors.Errorf("%s is required.%s", option.Name, advice)
}

func positive(option *Option) error {
	switch v := option.ConfigKey.(type) {
	case *time.Duration:
		if *v <= 0 {
			return fmt.Errorf("%s must be positive", option.Name)
		}
	case *uint32:
		if *v == 0 {
			return fmt.Errorf("%s must be positive", option.Name)
		}
	default:
		return errors.Errorf("positive check not implemented for %T", option.ConfigKey)
	}
	return nil
}
