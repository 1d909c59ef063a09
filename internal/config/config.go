package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Paystack  PaystackConfig  `yaml:"paystack"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type PaystackConfig struct {
	BaseURL   string `yaml:"base_url"`
	SecretKey string `yaml:"secret_key"`
}

// LedgerConfig bounds how long a mutation may wait on wallet locks.
type LedgerConfig struct {
	OperationTimeoutSeconds int `yaml:"operation_timeout_seconds"`
}

func (l LedgerConfig) OperationTimeout() time.Duration {
	return time.Duration(l.OperationTimeoutSeconds) * time.Second
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// Load reads yaml file; secrets may be overridden from the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if sk := os.Getenv("PAYSTACK_SECRET_KEY"); sk != "" {
		cfg.Paystack.SecretKey = sk
	}
	if cfg.Ledger.OperationTimeoutSeconds <= 0 {
		cfg.Ledger.OperationTimeoutSeconds = 10
	}
	return &cfg, nil
}
