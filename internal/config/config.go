package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	SeedDemoData bool

	Settlement SettlementConfig
}

// SettlementConfig controls the periodic metering and settlement jobs.
type SettlementConfig struct {
	RunInterval          time.Duration
	BatchSize            int
	RequireEnoughBalance bool
	PayerAppID           string
	EnabledJobs          []string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_SERVICE", "meterwise")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("OTLP_ENDPOINT", "localhost:4317")

	v.SetDefault("DATABASE_TYPE", "postgres")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", "5432")
	v.SetDefault("DATABASE_NAME", "meterwise")
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE_MAX_OPEN_CONN", 25)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", 1800)
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", 300)

	v.SetDefault("SEED_DEMO_DATA", false)

	v.SetDefault("SETTLEMENT_RUN_INTERVAL", "1m")
	v.SetDefault("SETTLEMENT_BATCH_SIZE", 100)
	v.SetDefault("SETTLEMENT_REQUIRE_ENOUGH_BALANCE", false)
	v.SetDefault("SETTLEMENT_PAYER_APP_ID", "meterwise")
	v.SetDefault("SETTLEMENT_ENABLED_JOBS", "")

	return Config{
		AppName:     v.GetString("APP_SERVICE"),
		AppVersion:  v.GetString("APP_VERSION"),
		Environment: v.GetString("ENVIRONMENT"),
		HTTPAddr:    v.GetString("HTTP_ADDR"),

		OTLPEndpoint: v.GetString("OTLP_ENDPOINT"),

		DBType:            v.GetString("DATABASE_TYPE"),
		DBHost:            v.GetString("DATABASE_HOST"),
		DBPort:            v.GetString("DATABASE_PORT"),
		DBName:            v.GetString("DATABASE_NAME"),
		DBUser:            v.GetString("DATABASE_USER"),
		DBPassword:        v.GetString("DATABASE_PASSWORD"),
		DBSSLMode:         v.GetString("DATABASE_SSLMODE"),
		DBMaxIdleConn:     v.GetInt("DATABASE_MAX_IDLE_CONN"),
		DBMaxOpenConn:     v.GetInt("DATABASE_MAX_OPEN_CONN"),
		DBConnMaxLifetime: v.GetInt("DATABASE_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTime: v.GetInt("DATABASE_CONN_MAX_IDLE_TIME"),

		SeedDemoData: v.GetBool("SEED_DEMO_DATA"),

		Settlement: SettlementConfig{
			RunInterval:          v.GetDuration("SETTLEMENT_RUN_INTERVAL"),
			BatchSize:            v.GetInt("SETTLEMENT_BATCH_SIZE"),
			RequireEnoughBalance: v.GetBool("SETTLEMENT_REQUIRE_ENOUGH_BALANCE"),
			PayerAppID:           v.GetString("SETTLEMENT_PAYER_APP_ID"),
			EnabledJobs:          splitList(v.GetString("SETTLEMENT_ENABLED_JOBS")),
		},
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
