package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int        `mapstructure:"port"`
	Mode         string     `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int        `mapstructure:"read_timeout"`
	WriteTimeout int        `mapstructure:"write_timeout"`
	CORS         CORSConfig `mapstructure:"cors"`
}

// CORSConfig 跨域配置
// allow_origins 为空表示允许任意来源（仅建议开发环境）。
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
	AllowHeaders []string `mapstructure:"allow_headers"`
	AllowMethods []string `mapstructure:"allow_methods"`
}

// OriginAllowed 判断来源是否在允许列表内
func (c *CORSConfig) OriginAllowed(origin string) bool {
	for _, allowed := range c.AllowOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

// AllowHeadersOrDefault 允许的请求头，未配置时返回默认集合
func (c *CORSConfig) AllowHeadersOrDefault() []string {
	if len(c.AllowHeaders) > 0 {
		return c.AllowHeaders
	}
	return []string{
		"Content-Type", "Content-Length", "Accept-Encoding", "X-CSRF-Token", "Authorization",
		"Accept", "Origin", "Cache-Control", "X-Requested-With",
	}
}

// AllowMethodsOrDefault 允许的请求方法，未配置时返回默认集合
func (c *CORSConfig) AllowMethodsOrDefault() []string {
	if len(c.AllowMethods) > 0 {
		return c.AllowMethods
	}
	return []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`      // 是否自动迁移表结构
}

// RedisConfig Redis 配置（asynq 任务队列与健康检查使用）
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`      // 连接池大小
	MinIdleConns int    `mapstructure:"min_idle_conns"` // 最小空闲连接数
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// AuthConfig 认证配置
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// PaymentConfig 支付网关配置
// 显式注入结算引擎，不使用包级全局客户端
type PaymentConfig struct {
	Provider       string `mapstructure:"provider"`        // 目前仅 wechat
	AppID          string `mapstructure:"app_id"`          // 应用 AppID
	MchID          string `mapstructure:"mch_id"`          // 商户号
	APIKey         string `mapstructure:"api_key"`         // 商户 API 密钥
	BaseURL        string `mapstructure:"base_url"`        // 网关地址，测试环境可指向 mock
	NotifyURL      string `mapstructure:"notify_url"`      // 回调通知地址
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // 网关请求超时（秒）
}

// Timeout 网关请求超时时间，默认 10 秒
func (c *PaymentConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WorkerConfig 后台任务配置
type WorkerConfig struct {
	Concurrency      int `mapstructure:"concurrency"`        // 并发 worker 数
	SweepIntervalMin int `mapstructure:"sweep_interval_min"` // 对账扫描间隔（分钟）
	PendingStaleMin  int `mapstructure:"pending_stale_min"`  // 待支付订单多久进入对账范围（分钟）
	SweepBatchSize   int `mapstructure:"sweep_batch_size"`   // 单次扫描订单数上限
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件名和路径
	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 读取环境变量（优先级高于配置文件）
	v.SetEnvPrefix("APP") // 环境变量前缀：APP_
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 支持嵌套配置：APP_DATABASE_HOST

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}
