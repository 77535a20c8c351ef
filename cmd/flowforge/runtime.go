package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/flowforge/config"
	"github.com/BaSui01/flowforge/internal/cache"
	"github.com/BaSui01/flowforge/internal/database"
	"github.com/BaSui01/flowforge/internal/metrics"
	"github.com/BaSui01/flowforge/internal/telemetry"
	"github.com/BaSui01/flowforge/workflow"
	"github.com/BaSui01/flowforge/workflow/archive"
	"github.com/BaSui01/flowforge/workflow/dsl"
)

// =============================================================================
// 🧩 组件装配
// =============================================================================

// runtime 持有一次命令执行所需的全部组件，由 close 统一释放
type runtime struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	collector *metrics.Collector
	otel      *telemetry.Providers
	cache     *cache.Manager
	pool      *database.PoolManager
	archive   *archive.GormArchive
	parser    *dsl.Parser
	optimizer *workflow.Optimizer
	breakers  *workflow.CircuitBreakerRegistry
}

type runtimeOptions struct {
	// withArchive 打开数据库并迁移 execution_records
	withArchive bool
}

func newRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts runtimeOptions) (*runtime, error) {
	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	rt.collector = metrics.NewCollector(cfg.Metrics.Namespace, rt.registry, logger)

	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	rt.otel = providers

	parserOpts := []dsl.Option{
		dsl.WithCacheSize(cfg.Parser.CacheSize),
		dsl.WithCacheRecorder(rt.collector),
	}
	if cfg.Parser.SummaryStore == "redis" {
		manager, err := cache.NewManager(ctx, cache.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			KeyPrefix:    cfg.Redis.KeyPrefix,
			DefaultTTL:   cfg.Parser.SummaryTTL,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, logger)
		if err != nil {
			logger.Warn("redis not available, workflow summaries stay in memory", zap.Error(err))
		} else {
			rt.cache = manager
			parserOpts = append(parserOpts, dsl.WithSummaryStore(dsl.NewRedisSummaryStore(manager, cfg.Parser.SummaryTTL)))
		}
	}
	rt.parser = dsl.NewParser(logger, parserOpts...)

	retryPolicy := workflow.DefaultRetryPolicy()
	retryPolicy.MaxAttempts = cfg.Optimizer.RetryMaxAttempts
	rt.optimizer = workflow.NewOptimizer(workflow.OptimizerConfig{
		LongChainThreshold: cfg.Optimizer.LongChainThreshold,
		DefaultTimeout:     cfg.Optimizer.DefaultTimeout,
		RetryPolicy:        *retryPolicy,
	}, rt.collector, logger)

	if opts.withArchive {
		if err := rt.openArchive(ctx); err != nil {
			rt.close(ctx)
			return nil, err
		}
	}
	return rt, nil
}

func (rt *runtime) openArchive(ctx context.Context) error {
	dbCfg := rt.cfg.Database
	driver, err := database.ParseDriver(dbCfg.Driver)
	if err != nil {
		return err
	}
	pool, err := database.Open(ctx, driver, dbCfg.DSN(), database.PoolConfig{
		MaxOpenConns:    dbCfg.MaxOpenConns,
		MaxIdleConns:    dbCfg.MaxIdleConns,
		ConnMaxLifetime: dbCfg.ConnMaxLifetime,
	}, rt.logger, database.WithStatsRecorder(rt.collector))
	if err != nil {
		return err
	}
	rt.pool = pool

	rt.archive, err = archive.NewGormArchive(ctx, pool, rt.logger, archive.WithQueryRecorder(rt.collector))
	if err != nil {
		return err
	}
	rt.logger.Info("run archive ready", zap.String("driver", string(driver)))
	return nil
}

// executors 构建带装饰链的执行器注册表：限流 → 熔断 → 重试 → 单次超时
func (rt *runtime) executors() *workflow.ExecutorRegistry {
	engineCfg := rt.cfg.Engine
	registry := workflow.NewExecutorRegistry().SetFallback(&workflow.EchoExecutor{})

	var middlewares []workflow.ExecutorMiddleware
	if engineCfg.RateLimitRPS > 0 {
		middlewares = append(middlewares,
			workflow.WithRateLimit(rate.NewLimiter(rate.Limit(engineCfg.RateLimitRPS), engineCfg.RateLimitBurst)))
	}
	if cb := engineCfg.CircuitBreaker; cb.Enabled {
		rt.breakers = workflow.NewCircuitBreakerRegistry(workflow.CircuitBreakerConfig{
			FailureThreshold:  cb.FailureThreshold,
			RecoveryTimeout:   cb.RecoveryTimeout,
			HalfOpenMaxProbes: cb.HalfOpenMaxProbes,
			SuccessThreshold:  cb.SuccessThreshold,
		}, func(change workflow.CircuitStateChange) {
			rt.logger.Warn("circuit breaker state changed",
				zap.String("key", change.Key),
				zap.Stringer("from", change.From),
				zap.Stringer("to", change.To),
			)
		}, rt.logger)
		middlewares = append(middlewares, workflow.WithCircuitBreaker(rt.breakers))
	}
	middlewares = append(middlewares,
		workflow.WithRetry(rt.logger),
		workflow.WithTimeout(engineCfg.StepTimeout),
	)
	return registry.Wrap(middlewares...)
}

func (rt *runtime) engine(emitter workflow.RunEventEmitter) *workflow.Engine {
	opts := []workflow.EngineOption{
		workflow.WithFailurePolicy(workflow.FailurePolicy(rt.cfg.Engine.FailurePolicy)),
		workflow.WithLevelConcurrency(rt.cfg.Engine.LevelConcurrency),
		workflow.WithMetricsRecorder(rt.collector),
	}
	if rt.archive != nil {
		opts = append(opts, workflow.WithRunArchive(rt.archive))
	}
	if emitter != nil {
		opts = append(opts, workflow.WithEventEmitter(emitter))
	}
	return workflow.NewEngine(rt.executors(), rt.logger, opts...)
}

// reportCircuits 记录 run 结束时仍未关闭的熔断器
func (rt *runtime) reportCircuits() {
	if rt.breakers == nil {
		return
	}
	for key, state := range rt.breakers.States() {
		if state != workflow.CircuitClosed {
			rt.logger.Warn("circuit not closed after run", zap.String("key", key), zap.Stringer("state", state))
		}
	}
}

// pruneArchive 删除超过保留期的归档运行
func (rt *runtime) pruneArchive(ctx context.Context) {
	if rt.archive == nil || rt.cfg.Engine.RunRetention <= 0 {
		return
	}
	if _, err := rt.archive.DeleteBefore(ctx, time.Now().Add(-rt.cfg.Engine.RunRetention)); err != nil {
		rt.logger.Warn("failed to prune archived runs", zap.Error(err))
	}
}

func (rt *runtime) writeMetrics(path string) error {
	if path == "" {
		return nil
	}
	if rt.pool != nil {
		rt.pool.ReportStats()
	}
	if err := prometheus.WriteToTextfile(path, rt.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

func (rt *runtime) close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var errs []error
	if rt.otel != nil {
		errs = append(errs, rt.otel.ForceFlush(shutdownCtx), rt.otel.Shutdown(shutdownCtx))
	}
	if rt.pool != nil {
		errs = append(errs, rt.pool.Close())
	}
	if rt.cache != nil {
		errs = append(errs, rt.cache.Close())
	}
	if err := errors.Join(errs...); err != nil {
		rt.logger.Warn("shutdown finished with errors", zap.Error(err))
	}
}
