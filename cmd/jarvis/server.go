package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/comigor/jarvis-go/agent"
	"github.com/comigor/jarvis-go/agent/persistence"
	"github.com/comigor/jarvis-go/agent/protocol/mcp"
	"github.com/comigor/jarvis-go/api/handlers"
	"github.com/comigor/jarvis-go/config"
	"github.com/comigor/jarvis-go/internal/metrics"
	"github.com/comigor/jarvis-go/internal/server"
	"github.com/comigor/jarvis-go/internal/telemetry"
	"github.com/comigor/jarvis-go/llm"
	"github.com/comigor/jarvis-go/llm/providers/openaicompat"
	"github.com/comigor/jarvis-go/llm/tokenizer"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装并持有 jarvis 的全部运行时组件
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	telemetry *telemetry.Providers
	collector *metrics.Collector
	store     persistence.HistoryStore
	tools     *mcp.ToolExecutor
	provider  llm.Provider
	driver    *agent.Driver

	healthHandler  *handlers.HealthHandler
	historyHandler *handlers.HistoryHandler
	chatHandler    *handlers.ChatHandler

	httpManager    *server.Manager
	metricsManager *server.Manager

	// 限流器清理 goroutine 的生命周期
	limiterCtx    context.Context
	limiterCancel context.CancelFunc
}

// NewServer 按依赖顺序构建组件；任一步失败时释放已建立的资源
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Server, err error) {
	s := &Server{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = s.closeComponents(context.Background())
		}
	}()

	// 1. 遥测（失败不阻塞启动）
	s.telemetry, err = telemetry.Init(ctx, cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Warn("telemetry disabled", zap.Error(err))
		err = nil
	}

	// 2. 指标
	s.collector = metrics.NewCollector("jarvis", logger)

	// 3. 历史存储
	s.store, err = persistence.NewHistoryStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("history store: %w", err)
	}
	if gs, ok := s.store.(*persistence.GormHistoryStore); ok {
		pool := gs.Pool()
		if regErr := s.collector.RegisterDBStats(cfg.History.Backend, func() metrics.DBStats {
			st := pool.GetStats()
			return metrics.DBStats{
				Open:         st.OpenConnections,
				Idle:         st.Idle,
				InUse:        st.InUse,
				WaitCount:    st.WaitCount,
				WaitDuration: st.WaitDuration,
				TxRetries:    st.TxRetries,
			}
		}); regErr != nil {
			logger.Warn("db stats not exported", zap.Error(regErr))
		}
	}

	// 4. MCP 工具
	s.tools, err = mcp.DialAll(ctx, cfg.MCPServers, logger)
	if err != nil {
		return nil, fmt.Errorf("mcp: %w", err)
	}

	// 5. LLM provider -> retry -> metrics -> ChatModel
	s.provider = newProvider(cfg.LLM, s.collector, logger)
	model := llm.NewChatModel(s.provider, llm.ChatModelConfig{
		Model:        cfg.LLM.Model,
		SystemPrompt: cfg.LLM.SystemPrompt,
		MaxTokens:    cfg.LLM.MaxTokens,
		Temperature:  float32(cfg.LLM.Temperature),
	}, logger, llm.WithTokenizer(tokenizer.ForModel(cfg.LLM.Model)))

	// 6. 会话驱动
	s.driver, err = agent.NewDriver(model, s.tools, agent.DriverConfig{
		MaxIterations:      cfg.Agent.MaxIterations,
		ModelTimeout:       cfg.Agent.ModelTimeout,
		ToolTimeout:        cfg.Agent.ToolTimeout,
		MaxConcurrentTools: cfg.Agent.MaxConcurrentTools,
	}, agent.WithLogger(logger), agent.WithObserver(s.collector),
		agent.WithTracer(s.telemetry.Tracer("jarvis/agent")))
	if err != nil {
		return nil, fmt.Errorf("driver: %w", err)
	}

	// 7. Handlers
	s.healthHandler = handlers.NewHealthHandler(logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("history", s.store.Ping))
	s.historyHandler = handlers.NewHistoryHandler(s.store, logger)
	s.chatHandler = handlers.NewChatHandler(s.driver, s.tools, s.store, cfg.LLM.SystemPrompt, logger)

	// 8. 服务器
	s.limiterCtx, s.limiterCancel = context.WithCancel(context.Background())
	s.httpManager = server.NewManager("api", s.Handler(), server.Config{
		Addr:            cfg.Server.Addr(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxConnections:  cfg.Server.MaxConnections,
		TLSCertFile:     cfg.Server.TLSCertFile,
		TLSKeyFile:      cfg.Server.TLSKeyFile,
	}, logger)

	if cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.collector.Handler())
		s.metricsManager = server.NewManager("metrics", mux, server.Config{
			Addr:            cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.MetricsPort),
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.ReadTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, logger)
	}

	logger.Info("server components ready",
		zap.String("history_backend", cfg.History.Backend),
		zap.Strings("mcp_servers", s.tools.Servers()),
		zap.Int("tools", len(s.tools.Tools())),
		zap.String("llm_provider", s.provider.Name()),
		zap.String("llm_model", cfg.LLM.Model),
		zap.Bool("telemetry", s.telemetry.Enabled()),
		zap.Bool("auth", cfg.Auth.Enabled()),
	)
	return s, nil
}

// newProvider 组装 openaicompat -> RetryProvider -> 指标包装
func newProvider(cfg config.LLMConfig, collector *metrics.Collector, logger *zap.Logger) llm.Provider {
	base := openaicompat.New(openaicompat.Config{
		ProviderName: cfg.Provider,
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		DefaultModel: cfg.Model,
		Timeout:      cfg.Timeout,
	}, logger)

	retryCfg := llm.DefaultRetryConfig()
	retryCfg.MaxRetries = cfg.MaxRetries
	return metrics.InstrumentProvider(llm.NewRetryProvider(base, retryCfg, logger), collector)
}

// =============================================================================
// 🌐 路由与中间件
// =============================================================================

// Handler 返回套好中间件链的 API 路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	mux.Handle("/{$}", methodOnly(http.MethodPost, s.historyHandler.HandleAppend))
	mux.Handle("/v1/chat", handlers.WithTimeout(
		methodOnly(http.MethodPost, s.chatHandler.HandleChat),
		s.cfg.Server.WriteTimeout,
	))

	ctx := s.limiterCtx
	if ctx == nil {
		ctx = context.Background()
	}
	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(s.telemetry.Tracer("jarvis/http")),
		CORS(s.cfg.Server.CORSOrigins),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		Auth(s.cfg.Auth, s.logger),
	)
}

// =============================================================================
// 🚀 生命周期
// =============================================================================

// Start 启动 API 与 Metrics 服务器（非阻塞）
func (s *Server) Start() error {
	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("start api server: %w", err)
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Start(); err != nil {
			_ = s.httpManager.Shutdown(context.Background())
			return fmt.Errorf("start metrics server: %w", err)
		}
	}
	s.logger.Info("All servers started",
		zap.String("api_addr", s.httpManager.ListenAddr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// Run 启动服务，阻塞到 ctx 结束或服务器出错，然后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return errors.Join(err, s.closeComponents(context.Background()))
	}

	var cause error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown requested")
	case err := <-s.httpManager.Errors():
		cause = fmt.Errorf("api server: %w", err)
	case err := <-s.metricsErrors():
		cause = fmt.Errorf("metrics server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(cause, s.Shutdown(shutdownCtx))
}

func (s *Server) metricsErrors() <-chan error {
	if s.metricsManager == nil {
		return nil
	}
	return s.metricsManager.Errors()
}

// Shutdown 先停止接收请求，再关闭下游组件
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Starting graceful shutdown...")
	var errs []error

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("api server: %w", err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	errs = append(errs, s.closeComponents(ctx))

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("shutdown completed with errors", zap.Error(err))
	} else {
		s.logger.Info("Graceful shutdown completed")
	}
	return err
}

// closeComponents 释放工具连接、存储与遥测；可重复调用
func (s *Server) closeComponents(ctx context.Context) error {
	var errs []error
	if s.limiterCancel != nil {
		s.limiterCancel()
	}
	if s.tools != nil {
		if err := s.tools.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcp: %w", err))
		}
		s.tools = nil
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history store: %w", err))
		}
		s.store = nil
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
		s.telemetry = nil
	}
	return errors.Join(errs...)
}
