package config

import "time"

// DefaultConfig 返回带默认值的完整配置
func DefaultConfig() *Config {
	return &Config{
		DefaultProvider: "openai",
		Providers:       make(map[string]ProviderConfig),
		RateLimit:       DefaultRateLimitConfig(),
		Cache:           DefaultCacheConfig(),
		Storage:         DefaultStorageConfig(),
		Pool:            DefaultPoolConfig(),
		Retry:           DefaultRetryConfig(),
		Redis:           DefaultRedisConfig(),
		Log:             DefaultLogConfig(),
		Metrics:         DefaultMetricsConfig(),
	}
}

// DefaultRateLimitConfig 限流默认值：每用户每小时 10 次
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:     true,
		Window:      time.Hour,
		MaxRequests: 10,
		Persist:     true,
	}
}

// DefaultCacheConfig 去重缓存默认值
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Capacity: 256,
	}
}

// DefaultStorageConfig 存储默认值
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Dir:    "",
		MaxAge: 24 * time.Hour,
	}
}

// DefaultPoolConfig 工作池默认值
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxWorkers:  8,
		QueueSize:   64,
		IdleTimeout: 60 * time.Second,
	}
}

// DefaultRetryConfig 重试默认值
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: 1 * time.Second,
		MaxDelay:     15 * time.Second,
	}
}

// DefaultRedisConfig Redis 默认值
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "",
		DB:        0,
		KeyPrefix: "imageflow:",
	}
}

// DefaultLogConfig 日志默认值
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "console",
	}
}

// DefaultMetricsConfig 指标默认值
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Namespace: "imageflow",
	}
}
