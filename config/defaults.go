// =============================================================================
// 📦 FlowForge 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Engine:    DefaultEngineConfig(),
		Parser:    DefaultParserConfig(),
		Optimizer: DefaultOptimizerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
	}
}

// DefaultEngineConfig 返回默认执行引擎配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		FailurePolicy:    "skip_dependents",
		LevelConcurrency: 0,
		StepTimeout:      5 * time.Minute,
		RunRetention:     24 * time.Hour,
		RateLimitRPS:     0,
		RateLimitBurst:   10,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:           true,
			FailureThreshold:  5,
			RecoveryTimeout:   30 * time.Second,
			HalfOpenMaxProbes: 3,
			SuccessThreshold:  2,
		},
	}
}

// DefaultParserConfig 返回默认解析器配置
func DefaultParserConfig() ParserConfig {
	return ParserConfig{
		CacheSize:    256,
		SummaryStore: "memory",
		SummaryTTL:   24 * time.Hour,
	}
}

// DefaultOptimizerConfig 返回默认优化器配置
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		LongChainThreshold: 4,
		DefaultTimeout:     300,
		RetryMaxAttempts:   3,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "flowforge",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "flowforge",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		KeyPrefix:    "flowforge:",
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置，默认使用本地 sqlite 文件
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "flowforge",
		Password:        "",
		Name:            "flowforge.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}
