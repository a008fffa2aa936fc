package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/comigor/jarvis-go/agent"
	"github.com/comigor/jarvis-go/llm"
)

// =============================================================================
// 指标收集器
// =============================================================================

// Collector 指标收集器，持有独立的 Registry
type Collector struct {
	registry *prometheus.Registry

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// LLM 指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	// 会话驱动指标
	stateTransitions     *prometheus.CounterVec
	modelCallsTotal      *prometheus.CounterVec
	modelCallDuration    *prometheus.HistogramVec
	toolCallsTotal       *prometheus.CounterVec
	toolCallDuration     *prometheus.HistogramVec
	conversationsTotal   *prometheus.CounterVec
	conversationDuration *prometheus.HistogramVec
	conversationCycles   prometheus.Histogram

	namespace string
	logger    *zap.Logger
}

var _ agent.Observer = (*Collector)(nil)

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	c := &Collector{
		registry:  reg,
		namespace: namespace,
		logger:    logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// LLM 指标
	c.llmRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.llmRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	c.llmTokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	// 会话驱动指标
	c.stateTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_state_transitions_total",
			Help:      "Total number of conversation state transitions",
		},
		[]string{"from_state", "to_state", "event"},
	)

	c.modelCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_model_calls_total",
			Help:      "Total number of model turns requested by the driver",
		},
		[]string{"status"},
	)

	c.modelCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_model_call_duration_seconds",
			Help:      "Model turn duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	c.toolCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_tool_calls_total",
			Help:      "Total number of tool invocations",
		},
		[]string{"tool", "status"},
	)

	c.toolCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_tool_call_duration_seconds",
			Help:      "Tool invocation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	c.conversationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_conversations_total",
			Help:      "Total number of conversations by terminal state",
		},
		[]string{"state"},
	)

	c.conversationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_conversation_duration_seconds",
			Help:      "Conversation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"state"},
	)

	c.conversationCycles = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_conversation_tool_cycles",
			Help:      "Tool cycles per conversation",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// Registry 返回底层 Registry
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler 返回 /metrics 处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// DBStats 连接池快照，由调用方在采集时提供
type DBStats struct {
	Open         int
	Idle         int
	InUse        int
	WaitCount    int64
	WaitDuration time.Duration
	TxRetries    int64
}

// RegisterDBStats 以 GaugeFunc/CounterFunc 暴露连接池状态，采集时调用 stats
func (c *Collector) RegisterDBStats(database string, stats func() DBStats) error {
	labels := prometheus.Labels{"database": database}
	gauge := func(name, help string, v func(DBStats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: c.namespace, Name: name, Help: help, ConstLabels: labels,
		}, func() float64 { return v(stats()) })
	}
	counter := func(name, help string, v func(DBStats) float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: c.namespace, Name: name, Help: help, ConstLabels: labels,
		}, func() float64 { return v(stats()) })
	}

	collectors := []prometheus.Collector{
		gauge("db_connections_open", "Number of open database connections",
			func(s DBStats) float64 { return float64(s.Open) }),
		gauge("db_connections_idle", "Number of idle database connections",
			func(s DBStats) float64 { return float64(s.Idle) }),
		gauge("db_connections_in_use", "Number of in-use database connections",
			func(s DBStats) float64 { return float64(s.InUse) }),
		counter("db_wait_total", "Connections waited for because the pool was exhausted",
			func(s DBStats) float64 { return float64(s.WaitCount) }),
		counter("db_wait_duration_seconds_total", "Total time blocked waiting for a connection",
			func(s DBStats) float64 { return s.WaitDuration.Seconds() }),
		counter("db_transaction_retries_total", "Transactions retried after a transient failure",
			func(s DBStats) float64 { return float64(s.TxRetries) }),
	}
	for _, col := range collectors {
		if err := c.registry.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// LLM 指标记录
// =============================================================================

// RecordLLMRequest 记录 LLM 请求
func (c *Collector) RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if promptTokens > 0 {
		c.llmTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		c.llmTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// =============================================================================
// agent.Observer
// =============================================================================

func (c *Collector) ObserveTransition(from, to, event string) {
	c.stateTransitions.WithLabelValues(from, to, event).Inc()
}

func (c *Collector) ObserveModelCall(status string, duration time.Duration) {
	c.modelCallsTotal.WithLabelValues(status).Inc()
	c.modelCallDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (c *Collector) ObserveToolCall(tool, status string, duration time.Duration) {
	c.toolCallsTotal.WithLabelValues(tool, status).Inc()
	c.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func (c *Collector) ObserveConversation(state string, toolCycles int, duration time.Duration) {
	c.conversationsTotal.WithLabelValues(state).Inc()
	c.conversationDuration.WithLabelValues(state).Observe(duration.Seconds())
	c.conversationCycles.Observe(float64(toolCycles))
}

// =============================================================================
// Provider 包装
// =============================================================================

type instrumentedProvider struct {
	llm.Provider
	collector *Collector
}

// InstrumentProvider 记录每次 Completion 的耗时、状态与 token 用量
func InstrumentProvider(p llm.Provider, c *Collector) llm.Provider {
	return &instrumentedProvider{Provider: p, collector: c}
}

func (p *instrumentedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	start := time.Now()
	resp, err := p.Provider.Completion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		p.collector.RecordLLMRequest(p.Name(), req.Model, "error", duration, 0, 0)
		return nil, err
	}
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	p.collector.RecordLLMRequest(p.Name(), model, "success", duration,
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp, nil
}

// =============================================================================
// 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码归类
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
