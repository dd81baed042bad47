// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 生图指标收集器
type Collector struct {
	// 生成指标
	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	generationFailures *prometheus.CounterVec
	imagesProduced     *prometheus.CounterVec

	// 去重缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 限流指标
	limiterRejections *prometheus.CounterVec

	// 投递指标
	deliveriesTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。registerer 为 nil 时使用默认注册表。
func NewCollector(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(registerer)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.generationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Total number of image generation requests",
		},
		[]string{"provider", "status"}, // status: success, error
	)

	c.generationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Image generation duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider"},
	)

	c.generationFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "Image generation failures by error code",
		},
		[]string{"provider", "code"},
	)

	c.imagesProduced = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_produced_total",
			Help:      "Total number of images produced",
		},
		[]string{"provider"},
	)

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.limiterRejections = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_rejections_total",
			Help:      "Requests rejected by the rate limiter",
		},
		[]string{"scope"},
	)

	c.deliveriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Background result deliveries",
		},
		[]string{"status"}, // status: success, error
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordGeneration 记录一次生成请求的结果
func (c *Collector) RecordGeneration(provider, status string, duration time.Duration, images int) {
	c.generationsTotal.WithLabelValues(provider, status).Inc()
	c.generationDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if images > 0 {
		c.imagesProduced.WithLabelValues(provider).Add(float64(images))
	}
}

// RecordFailure 记录一次按错误码分类的失败
func (c *Collector) RecordFailure(provider, code string) {
	c.generationFailures.WithLabelValues(provider, code).Inc()
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordLimiterRejection 记录限流拒绝
func (c *Collector) RecordLimiterRejection(scope string) {
	c.limiterRejections.WithLabelValues(scope).Inc()
}

// RecordDelivery 记录一次后台投递
func (c *Collector) RecordDelivery(status string) {
	c.deliveriesTotal.WithLabelValues(status).Inc()
}
