package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: every environment variable is read here and nowhere else
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Chain
	Chain ChainConfig

	// Seller
	Seller SellerConfig

	// Event publishing
	Kafka KafkaConfig

	// External quote venue (aggregator)
	QuoteAPI QuoteAPIConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
	MetricsPort    string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	URL      string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// ChainConfig holds the RPC endpoint and protocol contract addresses
type ChainConfig struct {
	RPCURL            string
	ChainID           int64
	SettlementAddress string // GPv2Settlement
	VaultRelayer      string // GPv2VaultRelayer
	WETHAddress       string
	TreasuryAddress   string // DAO agent receiving proceeds and refunds
	RouterAddress     string // Uniswap V2 style router quoted by the swap probe; empty disables it
	SellerPrivateKey  string // hex, owner of pre-signed orders
	ReceiptTimeout    time.Duration
}

// SellerConfig holds order validation and ledger settings
type SellerConfig struct {
	MaxFeeBps          int
	NetFee             bool // subtract feeAmount before applying the price bound
	UnwrapNative       bool // unwrap WETH before returning canceled funds
	OracleMaxStaleness time.Duration
	OracleRPS          float64
	PairsFile          string
	StoreBackend       string // memory, postgres, pebble
	PebbleDir          string
	Network            string
	DeployStateDir     string
	PollSchedule       string
	QuoteCacheTTL      time.Duration
}

// KafkaConfig holds event publisher settings
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Enabled bool
}

// QuoteAPIConfig holds the off-chain quote endpoints used as price probes
type QuoteAPIConfig struct {
	BaseURL      string // aggregator GET /quote
	OrderBookURL string // CoW order book, POST /api/v1/quote
	RateLimit    int    // requests per second, shared by both
	Timeout      time.Duration
	Retries      int // 0 disables retry
}

// Load reads configuration from environment variables
// ⭐ SSOT: the only function calling os.Getenv()
func Load() (*Config, error) {
	// Try multiple paths for .env file
	loadEnvFile()

	cfg := &Config{
		// Server
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		// Database
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			Name:            getEnv("DB_NAME", "otcseller"),
			User:            getEnv("DB_USER", "otcseller"),
			Password:        getEnv("DB_PASSWORD", ""),
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		// Redis
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Chain: ChainConfig{
			RPCURL:            getEnv("ETH_RPC_URL", "http://127.0.0.1:8545"),
			ChainID:           int64(getEnvAsInt("CHAIN_ID", 1)),
			SettlementAddress: getEnv("SETTLEMENT_ADDRESS", "0x9008D19f58AAbD9eD0D60971565AA8510560ab41"),
			VaultRelayer:      getEnv("VAULT_RELAYER_ADDRESS", "0xC92E8bdf79f0507f65a392b0ab4667716BFE0110"),
			WETHAddress:       getEnv("WETH_ADDRESS", "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
			TreasuryAddress:   getEnv("TREASURY_ADDRESS", "0x3e40D73EB977Dc6a537aF587D48316feE66E9C8c"),
			RouterAddress:     getEnv("ROUTER_ADDRESS", "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"),
			SellerPrivateKey:  getEnv("SELLER_PRIVATE_KEY", ""),
			ReceiptTimeout:    getEnvAsDuration("RECEIPT_TIMEOUT", "3m"),
		},

		Seller: SellerConfig{
			MaxFeeBps:          getEnvAsInt("MAX_FEE_BPS", 1000),
			NetFee:             getEnvAsBool("NET_FEE", true),
			UnwrapNative:       getEnvAsBool("UNWRAP_NATIVE", true),
			OracleMaxStaleness: getEnvAsDuration("ORACLE_MAX_STALENESS", "25h"),
			OracleRPS:          getEnvAsFloat("ORACLE_RPS", 5),
			PairsFile:          getEnv("PAIRS_FILE", "pairs.yaml"),
			StoreBackend:       getEnv("STORE_BACKEND", "memory"),
			PebbleDir:          getEnv("PEBBLE_DIR", "data/ledger"),
			Network:            getEnv("NETWORK", "mainnet"),
			DeployStateDir:     getEnv("DEPLOY_STATE_DIR", "."),
			PollSchedule:       getEnv("POLL_SCHEDULE", "0 */2 * * * *"),
			QuoteCacheTTL:      getEnvAsDuration("QUOTE_CACHE_TTL", "15s"),
		},

		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_TOPIC", "otcseller.events"),
			Enabled: getEnvAsBool("KAFKA_ENABLED", false),
		},

		QuoteAPI: QuoteAPIConfig{
			BaseURL:      getEnv("QUOTE_API_URL", ""),
			OrderBookURL: getEnv("ORDERBOOK_API_URL", ""),
			RateLimit:    getEnvAsInt("QUOTE_API_RPS", 2),
			Timeout:      getEnvAsDuration("QUOTE_API_TIMEOUT", "5s"),
			Retries:      getEnvAsInt("QUOTE_API_RETRIES", 1),
		},

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Monitoring
		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		MetricsPort:    getEnv("METRICS_PORT", "9090"),
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	// Validate environment
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	switch c.Seller.StoreBackend {
	case "memory", "pebble":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of: memory, postgres, pebble")
	}

	if c.Seller.MaxFeeBps < 0 || c.Seller.MaxFeeBps > 10000 {
		return fmt.Errorf("MAX_FEE_BPS must be within [0, 10000]")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED=true")
	}

	if c.Env == "production" && c.Seller.StoreBackend == "memory" {
		return fmt.Errorf("STORE_BACKEND=memory is not allowed in production")
	}

	// api, poller and one-shot commands share a postgres ledger from separate
	// processes; only the redis locker keeps their transitions on one order exclusive
	if c.Env != "development" && c.Seller.StoreBackend == "postgres" && !c.Redis.Enabled {
		return fmt.Errorf("REDIS_ENABLED=true is required for STORE_BACKEND=postgres outside development")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{".env"}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		// Fallback to default
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}

// getEnvAsList splits a comma separated value, dropping empty items
func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
