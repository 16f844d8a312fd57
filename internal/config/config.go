/**
 * @description
 * This package handles the configuration management for the settlement-service. It uses the
 * Viper library to read configuration from environment variables and an optional .env file,
 * then normalises the values the rest of the service relies on.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultOffRampAddress             = "0x0477cA0a35eE05D3f9f424d88bC0977ceCf339D4"
	defaultDestinationChainSelector   = uint64(14767482510784806043)
	defaultLockPrefix                 = "settlement:lock"
	defaultPollIntervalSeconds        = 5
	defaultPollMaxAttempts            = 60
	defaultManualOverrideSeconds      = 180
	defaultOracleEndpointTimeoutMs    = 4000
	defaultOracleRequestsPerSecond    = 5.0
	defaultReceiptTimeoutSeconds      = 120
	defaultTokenDecimals              = 6
	defaultReconcileSchedule          = "@every 1m"
	defaultMessageExplorerBaseURL     = "https://ccip.chain.link/msg"
	defaultTransactionExplorerBaseURL = "https://sepolia.basescan.org/tx"
)

// ErrMissingRequired is returned by Validate when a mandatory setting is empty.
var ErrMissingRequired = errors.New("missing required configuration")

// Config holds all the configuration variables for the settlement-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort         string `mapstructure:"SERVER_PORT"`
	DatabaseURL        string `mapstructure:"DATABASE_URL"`
	RunMigrations      bool   `mapstructure:"RUN_MIGRATIONS"`
	RedisURL           string `mapstructure:"REDIS_URL"`
	RedisLockPrefix    string `mapstructure:"REDIS_LOCK_PREFIX"`
	RabbitMQURL        string `mapstructure:"RABBITMQ_URL"`
	SettlementExchange string `mapstructure:"SETTLEMENT_EXCHANGE"`
	ResumeQueue        string `mapstructure:"RESUME_QUEUE"`
	JWKSURL            string `mapstructure:"JWKS_URL"`
	JWTAudience        string `mapstructure:"JWT_AUDIENCE"`
	JWTIssuer          string `mapstructure:"JWT_ISSUER"`
	InternalAPIKey     string `mapstructure:"INTERNAL_API_KEY"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	SourceRPCURL             string `mapstructure:"SOURCE_RPC_URL"`
	SourceChainID            int64  `mapstructure:"SOURCE_CHAIN_ID"`
	SenderContractAddress    string `mapstructure:"SENDER_CONTRACT_ADDRESS"`
	SignerPrivateKey         string `mapstructure:"SIGNER_PRIVATE_KEY"`
	DestinationRPCURL        string `mapstructure:"DESTINATION_RPC_URL"`
	OffRampContractAddress   string `mapstructure:"OFFRAMP_CONTRACT_ADDRESS"`
	DestinationEscrowAddress string `mapstructure:"DESTINATION_ESCROW_ADDRESS"`
	DestinationChainSelector uint64 `mapstructure:"DESTINATION_CHAIN_SELECTOR"`
	TokenDecimals            int32  `mapstructure:"TOKEN_DECIMALS"`
	ReceiptTimeoutSeconds    int    `mapstructure:"RECEIPT_TIMEOUT_SECONDS"`

	OracleStatusEndpointsRaw string   `mapstructure:"ORACLE_STATUS_ENDPOINTS"`
	OracleStatusEndpoints    []string `mapstructure:"-"`
	OracleEndpointTimeoutMs  int      `mapstructure:"ORACLE_ENDPOINT_TIMEOUT_MS"`
	OracleRequestsPerSecond  float64  `mapstructure:"ORACLE_REQUESTS_PER_SECOND"`

	PollIntervalSeconds        int    `mapstructure:"POLL_INTERVAL_SECONDS"`
	PollMaxAttempts            int    `mapstructure:"POLL_MAX_ATTEMPTS"`
	ManualOverrideAfterSeconds int    `mapstructure:"MANUAL_OVERRIDE_AFTER_SECONDS"`
	ReconcileSchedule          string `mapstructure:"RECONCILE_SCHEDULE"`

	MessageExplorerBaseURL     string `mapstructure:"MESSAGE_EXPLORER_BASE_URL"`
	TransactionExplorerBaseURL string `mapstructure:"TRANSACTION_EXPLORER_BASE_URL"`
}

// LoadConfig reads configuration from environment variables and an optional .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8090")
	viper.SetDefault("RUN_MIGRATIONS", true)
	viper.SetDefault("REDIS_LOCK_PREFIX", defaultLockPrefix)
	viper.SetDefault("SETTLEMENT_EXCHANGE", "settlement.events")
	viper.SetDefault("RESUME_QUEUE", "settlement_service.resume_requests")
	viper.SetDefault("OFFRAMP_CONTRACT_ADDRESS", defaultOffRampAddress)
	viper.SetDefault("DESTINATION_CHAIN_SELECTOR", defaultDestinationChainSelector)
	viper.SetDefault("TOKEN_DECIMALS", defaultTokenDecimals)
	viper.SetDefault("RECEIPT_TIMEOUT_SECONDS", defaultReceiptTimeoutSeconds)
	viper.SetDefault("ORACLE_ENDPOINT_TIMEOUT_MS", defaultOracleEndpointTimeoutMs)
	viper.SetDefault("ORACLE_REQUESTS_PER_SECOND", defaultOracleRequestsPerSecond)
	viper.SetDefault("POLL_INTERVAL_SECONDS", defaultPollIntervalSeconds)
	viper.SetDefault("POLL_MAX_ATTEMPTS", defaultPollMaxAttempts)
	viper.SetDefault("MANUAL_OVERRIDE_AFTER_SECONDS", defaultManualOverrideSeconds)
	viper.SetDefault("RECONCILE_SCHEDULE", defaultReconcileSchedule)
	viper.SetDefault("MESSAGE_EXPLORER_BASE_URL", defaultMessageExplorerBaseURL)
	viper.SetDefault("TRANSACTION_EXPLORER_BASE_URL", defaultTransactionExplorerBaseURL)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RUN_MIGRATIONS")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "SETTLEMENT_REDIS_URL")
	_ = viper.BindEnv("REDIS_LOCK_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("SETTLEMENT_EXCHANGE")
	_ = viper.BindEnv("RESUME_QUEUE")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("JWT_AUDIENCE")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "SETTLEMENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("SOURCE_RPC_URL")
	_ = viper.BindEnv("SOURCE_CHAIN_ID")
	_ = viper.BindEnv("SENDER_CONTRACT_ADDRESS")
	_ = viper.BindEnv("SIGNER_PRIVATE_KEY")
	_ = viper.BindEnv("DESTINATION_RPC_URL")
	_ = viper.BindEnv("OFFRAMP_CONTRACT_ADDRESS")
	_ = viper.BindEnv("DESTINATION_ESCROW_ADDRESS")
	_ = viper.BindEnv("DESTINATION_CHAIN_SELECTOR")
	_ = viper.BindEnv("TOKEN_DECIMALS")
	_ = viper.BindEnv("RECEIPT_TIMEOUT_SECONDS")
	_ = viper.BindEnv("ORACLE_STATUS_ENDPOINTS")
	_ = viper.BindEnv("ORACLE_ENDPOINT_TIMEOUT_MS")
	_ = viper.BindEnv("ORACLE_REQUESTS_PER_SECOND")
	_ = viper.BindEnv("POLL_INTERVAL_SECONDS")
	_ = viper.BindEnv("POLL_MAX_ATTEMPTS")
	_ = viper.BindEnv("MANUAL_OVERRIDE_AFTER_SECONDS")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("MESSAGE_EXPLORER_BASE_URL")
	_ = viper.BindEnv("TRANSACTION_EXPLORER_BASE_URL")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("SETTLEMENT_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisLockPrefix = strings.TrimSuffix(strings.TrimSpace(config.RedisLockPrefix), ":")
	if config.RedisLockPrefix == "" {
		config.RedisLockPrefix = defaultLockPrefix
	}
	config.SenderContractAddress = strings.TrimSpace(config.SenderContractAddress)
	config.OffRampContractAddress = strings.TrimSpace(config.OffRampContractAddress)
	if config.OffRampContractAddress == "" {
		config.OffRampContractAddress = defaultOffRampAddress
	}
	config.DestinationEscrowAddress = strings.TrimSpace(config.DestinationEscrowAddress)
	config.SignerPrivateKey = strings.TrimPrefix(strings.TrimSpace(config.SignerPrivateKey), "0x")
	if config.DestinationChainSelector == 0 {
		config.DestinationChainSelector = defaultDestinationChainSelector
	}
	if config.TokenDecimals <= 0 {
		config.TokenDecimals = defaultTokenDecimals
	}
	if config.ReceiptTimeoutSeconds <= 0 {
		config.ReceiptTimeoutSeconds = defaultReceiptTimeoutSeconds
	}

	config.OracleStatusEndpoints = splitList(config.OracleStatusEndpointsRaw)
	if config.OracleEndpointTimeoutMs <= 0 {
		config.OracleEndpointTimeoutMs = defaultOracleEndpointTimeoutMs
	}
	if config.OracleRequestsPerSecond <= 0 {
		config.OracleRequestsPerSecond = defaultOracleRequestsPerSecond
	}

	if config.PollIntervalSeconds <= 0 {
		config.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if config.PollMaxAttempts <= 0 {
		config.PollMaxAttempts = defaultPollMaxAttempts
	}
	if config.ManualOverrideAfterSeconds <= 0 {
		config.ManualOverrideAfterSeconds = defaultManualOverrideSeconds
	}
	// A single poll must finish inside one polling interval.
	maxTimeoutMs := config.PollIntervalSeconds * 1000
	if config.OracleEndpointTimeoutMs > maxTimeoutMs {
		log.Printf("level=warn component=config msg=\"oracle endpoint timeout exceeds poll interval; clamping\" timeout_ms=%d interval_s=%d", config.OracleEndpointTimeoutMs, config.PollIntervalSeconds)
		config.OracleEndpointTimeoutMs = maxTimeoutMs
	}
	config.ReconcileSchedule = strings.TrimSpace(config.ReconcileSchedule)
	if config.ReconcileSchedule == "" {
		config.ReconcileSchedule = defaultReconcileSchedule
	}
	config.MessageExplorerBaseURL = strings.TrimRight(strings.TrimSpace(config.MessageExplorerBaseURL), "/")
	config.TransactionExplorerBaseURL = strings.TrimRight(strings.TrimSpace(config.TransactionExplorerBaseURL), "/")

	return
}

// Validate checks the settings the service cannot boot without.
func (c Config) Validate() error {
	required := map[string]string{
		"DATABASE_URL":               c.DatabaseURL,
		"INTERNAL_API_KEY":           c.InternalAPIKey,
		"JWKS_URL":                   c.JWKSURL,
		"SOURCE_RPC_URL":             c.SourceRPCURL,
		"SENDER_CONTRACT_ADDRESS":    c.SenderContractAddress,
		"SIGNER_PRIVATE_KEY":         c.SignerPrivateKey,
		"DESTINATION_RPC_URL":        c.DestinationRPCURL,
		"DESTINATION_ESCROW_ADDRESS": c.DestinationEscrowAddress,
	}
	var missing []string
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ","))
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		item := strings.TrimRight(strings.TrimSpace(part), "/")
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

