// =============================================================================
// 📦 ImageFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("IMAGEFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 ImageFlow 的完整配置结构
type Config struct {
	// DefaultProvider 未指定服务商时使用的适配器标识
	DefaultProvider string `yaml:"default_provider" env:"DEFAULT_PROVIDER"`

	// Providers 各服务商配置，键为注册表标识
	Providers map[string]ProviderConfig `yaml:"providers" env:"-"`

	// RateLimit 准入限流配置
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`

	// Cache 去重缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Storage 图像落盘配置
	Storage StorageConfig `yaml:"storage" env:"STORAGE"`

	// Pool 后台工作池配置
	Pool PoolConfig `yaml:"pool" env:"POOL"`

	// Retry 重试配置
	Retry RetryConfig `yaml:"retry" env:"RETRY"`

	// Redis 持久化配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// ProviderConfig 单个服务商配置
type ProviderConfig struct {
	// 适配器类型: openai, google, glm, zai, doubao, whatai
	Type string `yaml:"type" env:"TYPE"`
	// API 密钥（单密钥）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// API 密钥列表（多密钥轮换，优先于 api_key）
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 密钥冷却时长（配额耗尽后多久归队）
	KeyCooldown time.Duration `yaml:"key_cooldown" env:"KEY_COOLDOWN"`
	// API 基础地址
	APIBase string `yaml:"api_base" env:"API_BASE"`
	// 默认模型
	Model string `yaml:"model" env:"MODEL"`
	// 默认分辨率: 1K/2K/4K 或 WxH
	Resolution string `yaml:"resolution" env:"RESOLUTION"`
	// 默认长宽比，如 16:9
	AspectRatio string `yaml:"aspect_ratio" env:"ASPECT_RATIO"`
	// 出图水印（doubao）
	Watermark bool `yaml:"watermark" env:"WATERMARK"`
	// 提示词优化模式: standard / fast（doubao）
	OptimizePromptMode string `yaml:"optimize_prompt_mode" env:"OPTIMIZE_PROMPT_MODE"`
	// 组图模式: auto 开启（doubao）
	SequentialMode string `yaml:"sequential_mode" env:"SEQUENTIAL_MODE"`
	// 单次组图上限 2-15（doubao）
	SequentialMaxImages int `yaml:"sequential_max_images" env:"SEQUENTIAL_MAX_IMAGES"`
	// 出站 QPS 平滑，0 不限
	QPS float64 `yaml:"qps" env:"QPS"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 窗口时长
	Window time.Duration `yaml:"window" env:"WINDOW"`
	// 窗口内最大请求数
	MaxRequests int `yaml:"max_requests" env:"MAX_REQUESTS"`
	// 是否持久化到 Redis
	Persist bool `yaml:"persist" env:"PERSIST"`
}

// CacheConfig 去重缓存配置
type CacheConfig struct {
	// 缓存容量（指纹条数）
	Capacity int `yaml:"capacity" env:"CAPACITY"`
}

// StorageConfig 图像存储配置
type StorageConfig struct {
	// 存储目录，空则用系统临时目录
	Dir string `yaml:"dir" env:"DIR"`
	// 文件最长保留时间，0 不清理
	MaxAge time.Duration `yaml:"max_age" env:"MAX_AGE"`
}

// PoolConfig 后台工作池配置
type PoolConfig struct {
	// 最大 worker 数
	MaxWorkers int `yaml:"max_workers" env:"MAX_WORKERS"`
	// 队列长度
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
	// 空闲 worker 回收时间
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
}

// RetryConfig 重试配置
type RetryConfig struct {
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 初始退避延迟
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	// 最大退避延迟
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址，空则不用 Redis
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "IMAGEFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
