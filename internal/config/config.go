package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	RabbitMQ   RabbitMQConfig   `mapstructure:"rabbitmq"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Assignment AssignmentConfig `mapstructure:"assignment"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	MaxConns int    `mapstructure:"max_conns"`
}

type RabbitMQConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AssignmentConfig struct {
	// ConflictWindow is the minimum gap between two delivery commitments of
	// one runner.
	ConflictWindow  time.Duration `mapstructure:"conflict_window"`
	ActivationBatch int           `mapstructure:"activation_batch"`
	SelectRetries   int           `mapstructure:"select_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	Prefetch        int           `mapstructure:"prefetch"`
	DedupTTL        time.Duration `mapstructure:"dedup_ttl"`
}

type SchedulerConfig struct {
	DailyReset   string        `mapstructure:"daily_reset"`
	MonthlyReset string        `mapstructure:"monthly_reset"`
	WaitingSweep string        `mapstructure:"waiting_sweep"`
	WaitingAge   time.Duration `mapstructure:"waiting_age"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.vhost", "/")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("assignment.conflict_window", time.Hour)
	v.SetDefault("assignment.activation_batch", 1)
	v.SetDefault("assignment.select_retries", 3)
	v.SetDefault("assignment.retry_backoff", 200*time.Millisecond)
	v.SetDefault("assignment.prefetch", 1)
	v.SetDefault("assignment.dedup_ttl", 24*time.Hour)
	v.SetDefault("scheduler.daily_reset", "0 0 * * *")
	v.SetDefault("scheduler.monthly_reset", "0 0 1 * *")
	v.SetDefault("scheduler.waiting_sweep", "@every 1h")
	v.SetDefault("scheduler.waiting_age", time.Hour)

	v.SetEnvPrefix("DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.Host == "" || c.Database.User == "" || c.Database.Database == "" {
		return fmt.Errorf("database config incomplete")
	}
	if c.RabbitMQ.Host == "" || c.RabbitMQ.User == "" {
		return fmt.Errorf("rabbitmq config incomplete")
	}
	if c.Assignment.ConflictWindow <= 0 {
		return fmt.Errorf("assignment.conflict_window must be positive")
	}
	if c.Assignment.ActivationBatch < 1 {
		return fmt.Errorf("assignment.activation_batch must be at least 1")
	}
	return nil
}
