package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config 服务器配置
type Config struct {
	ServerPort  string
	Environment string

	// 数据库
	DBDriver   string // sqlite 或 mysql
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string
	SQLitePath string

	// Redis，地址为空时不启用分布式锁、Redis限流和Redis队列
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// 投票规则
	AdminAddresses       []string
	DefaultDurationHours int
	CreatorMayDeletePast bool
	BallotVerifier       string // format 或 none

	// 限流
	RateLimitEnabled bool
	GlobalRateLimit  int
	UserRateLimit    int

	// 事件队列
	MQBackend          string // none、redis 或 rocketmq
	RocketMQNameServer []string
	RocketMQTopic      string
	RocketMQGroup      string
}

// Load 从环境变量加载配置，存在 .env 文件时先加载它
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("加载.env文件失败: %v", err)
	}

	cfg := &Config{
		ServerPort:    getEnv("SERVER_PORT", "8090"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		DBDriver:      getEnv("DB_DRIVER", "sqlite"),
		DBUser:        getEnv("DB_USER", "voteuser"),
		DBPassword:    getEnv("DB_PASSWORD", "votepassword"),
		DBHost:        getEnv("DB_HOST", "mysql"),
		DBPort:        getEnv("DB_PORT", "3306"),
		DBName:        getEnv("DB_NAME", "votingdb"),
		SQLitePath:    getEnv("SQLITE_PATH", "voting.db"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		AdminAddresses: splitList(getEnv("ADMIN_ADDRESSES", "")),
		BallotVerifier: getEnv("BALLOT_VERIFIER", "format"),

		MQBackend:          getEnv("MQ_BACKEND", "none"),
		RocketMQNameServer: splitList(getEnv("ROCKETMQ_NAMESERVERS", "localhost:9876")),
		RocketMQTopic:      getEnv("ROCKETMQ_TOPIC", "poll_events"),
		RocketMQGroup:      getEnv("ROCKETMQ_GROUP", "poll_event_producer"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.DefaultDurationHours, err = getEnvInt("DEFAULT_DURATION_HOURS", 24); err != nil {
		return nil, err
	}
	if cfg.GlobalRateLimit, err = getEnvInt("GLOBAL_RATE_LIMIT", 100); err != nil {
		return nil, err
	}
	if cfg.UserRateLimit, err = getEnvInt("USER_RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	cfg.CreatorMayDeletePast = getEnv("CREATOR_MAY_DELETE_PAST", "false") == "true"
	cfg.RateLimitEnabled = getEnv("ENABLE_RATE_LIMIT", "false") == "true"

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("不支持的数据库驱动: %s", c.DBDriver)
	}
	switch c.MQBackend {
	case "none", "redis", "rocketmq":
	default:
		return fmt.Errorf("不支持的消息队列: %s", c.MQBackend)
	}
	switch c.BallotVerifier {
	case "format", "none":
	default:
		return fmt.Errorf("不支持的选票校验方式: %s", c.BallotVerifier)
	}
	if c.DefaultDurationHours <= 0 {
		return errors.New("DEFAULT_DURATION_HOURS必须大于0")
	}
	if c.MQBackend == "redis" && c.RedisAddr == "" {
		return errors.New("MQ_BACKEND=redis需要设置REDIS_ADDR")
	}
	return nil
}

// MySQLDSN 构建MySQL连接串
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// getEnv 获取环境变量值或使用默认值
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("环境变量%s不是整数: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
