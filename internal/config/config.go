package config

import (
	"time"

	"github.com/blues/svs/internal/logger"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Database  DatabaseConfig            `mapstructure:"database"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Payment   PaymentConfig             `mapstructure:"payment"`
	Task      TaskConfig                `mapstructure:"task"`
	Log       LogConfig                 `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ProviderConfig 单个接码服务商配置
type ProviderConfig struct {
	BaseURL       string `mapstructure:"base_url"`       // 上游API地址
	APIKey        string `mapstructure:"api_key"`        // API密钥
	WebhookSecret string `mapstructure:"webhook_secret"` // webhook签名密钥
	// SignatureEncoding webhook签名编码: hex 或 base64，因服务商而异
	SignatureEncoding string `mapstructure:"signature_encoding"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"` // 上游调用超时
	Enabled           bool   `mapstructure:"enabled"`         // 是否启用该服务商
}

// Timeout 上游调用超时时间
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// PaymentConfig 支付处理商配置
type PaymentConfig struct {
	BaseURL        string `mapstructure:"base_url"`        // 处理商API地址
	SecretKey      string `mapstructure:"secret_key"`      // API密钥
	WebhookSecret  string `mapstructure:"webhook_secret"`  // webhook签名密钥
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // 查证调用超时
}

// Timeout 查证调用超时时间
func (p PaymentConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

type TaskConfig struct {
	PollInterval    int `mapstructure:"poll_interval"`    // 秒，验证记录轮询间隔
	SettleInterval  int `mapstructure:"settle_interval"`  // 秒，退款补账间隔
	DepositInterval int `mapstructure:"deposit_interval"` // 秒，充值对账间隔
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/svs")

	// 设置默认值
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.dbname", "svs")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("task.poll_interval", 5)
	viper.SetDefault("task.settle_interval", 30)
	viper.SetDefault("task.deposit_interval", 60)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.file", "logs/app.log")

	// 自动读取环境变量
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		logger.Warn("Warning: Could not read config file: %v", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		logger.Fatal("Unable to decode config into struct: %v", err)
	}

	return &config
}
