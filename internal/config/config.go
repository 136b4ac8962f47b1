package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env               string        `mapstructure:"ENV"`
	Port              string        `mapstructure:"PORT"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	AdminKey          string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed       string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	TickInterval      time.Duration `mapstructure:"TICK_INTERVAL"`
	DBTimeout         time.Duration `mapstructure:"DB_TIMEOUT"`
	DBRetryAttempts   int           `mapstructure:"DB_RETRY_ATTEMPTS"`
	DBRetryBaseDelay  time.Duration `mapstructure:"DB_RETRY_BASE_DELAY"`
	CommitRetries     int           `mapstructure:"COMMIT_RETRIES"`
	MaxPoolAttempts   int           `mapstructure:"MAX_POOL_ATTEMPTS"`
	StallThreshold    time.Duration `mapstructure:"STALL_THRESHOLD"`
	CorruptionGrace   time.Duration `mapstructure:"CORRUPTION_GRACE"`
	PoolSizeWarnLimit int           `mapstructure:"POOL_SIZE_WARN_LIMIT"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("TICK_INTERVAL", "30s")
	v.SetDefault("DB_TIMEOUT", "5s")
	v.SetDefault("DB_RETRY_ATTEMPTS", 3)
	v.SetDefault("DB_RETRY_BASE_DELAY", "100ms")
	v.SetDefault("COMMIT_RETRIES", 3)
	v.SetDefault("MAX_POOL_ATTEMPTS", 5)
	v.SetDefault("STALL_THRESHOLD", "10m")
	v.SetDefault("CORRUPTION_GRACE", "15m")
	v.SetDefault("POOL_SIZE_WARN_LIMIT", 500)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
