package config

import (
	"os"
	"strconv"

	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Server ServerConfig
	Redis  RedisConfig
	MySQL  MySQLConfig
	Ledger LedgerConfig
}

type ServerConfig struct {
	Port string
	Host string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	PoolSize int
}

type MySQLConfig struct {
	Host     string
	User     string
	Password string
	Database string
}

type LedgerConfig struct {
	// AllocationOrder selects the waterfall walk order:
	// "oldest_due_first" (default) or "sequence".
	AllocationOrder string
	// LockRetries is how many times a debt unit of work is retried after a
	// serialization failure before ErrConcurrencyConflict surfaces.
	LockRetries int
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8072"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 100),
		},
		MySQL: MySQLConfig{
			Host:     getEnv("MYSQL_HOST", "localhost:3306"),
			User:     getEnv("MYSQL_USER", "debtflow"),
			Password: getEnv("MYSQL_PASSWORD", "debtflow123"),
			Database: getEnv("MYSQL_DATABASE", "debtflow"),
		},
		Ledger: LedgerConfig{
			AllocationOrder: getEnv("ALLOCATION_ORDER", "oldest_due_first"),
			LockRetries:     getEnvAsInt("LEDGER_LOCK_RETRIES", 3),
		},
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
