package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Log      LogConfig      `mapstructure:"log"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port     int   `mapstructure:"port" validate:"gt=0,lt=65536"`
	WorkerID int64 `mapstructure:"worker_id" validate:"gte=0,lte=1023"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host" validate:"required"`
	Port         int    `mapstructure:"port" validate:"gt=0"`
	User         string `mapstructure:"user" validate:"required"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database" validate:"required"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"gt=0"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers" validate:"min=1"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	CardEvent string `mapstructure:"card_event" validate:"required"`
}

// LogConfig 日志配置，File 为空时只输出到标准输出
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=text json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

type BusinessConfig struct {
	ExclusionLockTTLSeconds   int    `mapstructure:"exclusion_lock_ttl_seconds" validate:"gt=0"`
	IdempotencyTTLHours       int    `mapstructure:"idempotency_ttl_hours" validate:"gt=0"`
	MaxLockTTLSeconds         int    `mapstructure:"max_lock_ttl_seconds" validate:"gt=0"`
	MaxIssueQuantity          int    `mapstructure:"max_issue_quantity" validate:"gt=0"`
	CardNoPrefix              string `mapstructure:"card_no_prefix" validate:"required,numeric"`
	CardNoLength              int    `mapstructure:"card_no_length" validate:"gt=0"`
	CardNoMaxAttempts         int    `mapstructure:"card_no_max_attempts" validate:"gt=0"`
	LockExpiryIntervalSeconds int    `mapstructure:"lock_expiry_interval_seconds" validate:"gt=0"`
	LockExpiryBatchSize       int    `mapstructure:"lock_expiry_batch_size" validate:"gt=0"`
	OutboxIntervalMillis      int    `mapstructure:"outbox_interval_ms" validate:"gt=0"`
	OutboxBatchSize           int    `mapstructure:"outbox_batch_size" validate:"gt=0"`
	MaxRetryCount             int    `mapstructure:"max_retry_count" validate:"gt=0"`
}

func (b BusinessConfig) ExclusionLockTTL() time.Duration {
	return time.Duration(b.ExclusionLockTTLSeconds) * time.Second
}

func (b BusinessConfig) IdempotencyTTL() time.Duration {
	return time.Duration(b.IdempotencyTTLHours) * time.Hour
}

func (b BusinessConfig) LockExpiryInterval() time.Duration {
	return time.Duration(b.LockExpiryIntervalSeconds) * time.Second
}

func (b BusinessConfig) OutboxInterval() time.Duration {
	return time.Duration(b.OutboxIntervalMillis) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)

	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.password", "")
	v.SetDefault("mysql.database", "giftcard")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.card_event", "giftcard_event")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("business.exclusion_lock_ttl_seconds", 30)
	v.SetDefault("business.idempotency_ttl_hours", 24)
	v.SetDefault("business.max_lock_ttl_seconds", 86400)
	v.SetDefault("business.max_issue_quantity", 100)
	v.SetDefault("business.card_no_prefix", "8600")
	v.SetDefault("business.card_no_length", 16)
	v.SetDefault("business.card_no_max_attempts", 5)
	v.SetDefault("business.lock_expiry_interval_seconds", 10)
	v.SetDefault("business.lock_expiry_batch_size", 100)
	v.SetDefault("business.outbox_interval_ms", 100)
	v.SetDefault("business.outbox_batch_size", 100)
	v.SetDefault("business.max_retry_count", 5)
}

// LoadConfig 加载配置文件
// 环境变量优先级高于配置文件，例如 GIFTCARD_MYSQL_PASSWORD 覆盖 mysql.password
// configPath 为空时只使用默认值和环境变量
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GIFTCARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("配置校验失败: %w", err)
	}

	return config, nil
}
