// =============================================================================
// jarvis 配置加载器
// =============================================================================
// 优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 环境变量默认前缀
const DefaultEnvPrefix = "JARVIS"

// HistoryDBPathEnv 直接覆盖 history.path 的环境变量
const HistoryDBPathEnv = "HISTORY_DB_PATH"

// ConfigPathEnv CLI 读取配置文件路径的环境变量
const ConfigPathEnv = "JARVIS_CONFIG"

// Config 主配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// LLM 模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Agent 会话驱动配置
	Agent AgentConfig `yaml:"agent" env:"AGENT"`

	// History 历史记录存储
	History HistoryConfig `yaml:"history" env:"HISTORY"`

	// Database postgres/mysql 连接，history 与 migrate 共用
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis 历史记录后端
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Mongo 历史记录后端
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`

	// MCPServers 工具服务器，仅支持 YAML
	MCPServers []MCPServerConfig `yaml:"mcp_servers"`

	// Auth API 认证
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 最大并发连接数，0 表示不限制
	MaxConnections int `yaml:"max_connections" env:"MAX_CONNECTIONS"`
	// 每个客户端的限流
	RateLimitRPS   float64  `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	CORSOrigins    []string `yaml:"cors_origins" env:"CORS_ORIGINS"`
	// TLS，两者都设置时启用
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// Addr 返回监听地址
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LLMConfig LLM 配置
type LLMConfig struct {
	// Provider 名称，用于日志与指标
	Provider     string        `yaml:"provider" env:"PROVIDER"`
	BaseURL      string        `yaml:"base_url" env:"BASE_URL"`
	APIKey       string        `yaml:"api_key" env:"API_KEY"`
	Model        string        `yaml:"model" env:"MODEL"`
	SystemPrompt string        `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"`
	Temperature  float64       `yaml:"temperature" env:"TEMPERATURE"`
	MaxTokens    int           `yaml:"max_tokens" env:"MAX_TOKENS"`
}

// AgentConfig 会话驱动边界
type AgentConfig struct {
	MaxIterations      int           `yaml:"max_iterations" env:"MAX_ITERATIONS"`
	ModelTimeout       time.Duration `yaml:"model_timeout" env:"MODEL_TIMEOUT"`
	ToolTimeout        time.Duration `yaml:"tool_timeout" env:"TOOL_TIMEOUT"`
	MaxConcurrentTools int           `yaml:"max_concurrent_tools" env:"MAX_CONCURRENT_TOOLS"`
}

// 历史记录后端
const (
	HistoryBackendMemory   = "memory"
	HistoryBackendSQLite   = "sqlite"
	HistoryBackendPostgres = "postgres"
	HistoryBackendMySQL    = "mysql"
	HistoryBackendRedis    = "redis"
	HistoryBackendMongo    = "mongo"
)

// HistoryConfig 历史记录存储配置
type HistoryConfig struct {
	// Backend: memory, sqlite, postgres, mysql, redis, mongo
	Backend string `yaml:"backend" env:"BACKEND"`
	// Path sqlite 文件路径，允许 :memory:
	Path string `yaml:"path" env:"PATH"`
	// AutoMigrate 启动时自动建表（gorm 后端）
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名；sqlite 时为文件路径
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI        string        `yaml:"uri" env:"URI"`
	Database   string        `yaml:"database" env:"DATABASE"`
	Collection string        `yaml:"collection" env:"COLLECTION"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// MCPServerConfig 一个 MCP 工具服务器
type MCPServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // stdio, sse, websocket
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
}

// AuthConfig API 认证；全部为空时不启用
type AuthConfig struct {
	APIKeys     []string `yaml:"api_keys" env:"API_KEYS"`
	JWTSecret   string   `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer   string   `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	JWTAudience string   `yaml:"jwt_audience" env:"JWT_AUDIENCE"`
}

// Enabled 是否配置了任一认证方式
func (a AuthConfig) Enabled() bool {
	return len(a.APIKeys) > 0 || a.JWTSecret != ""
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	lookup     func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		lookup:     os.LookupEnv,
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

// WithLookup 替换环境变量来源，测试用
func (l *Loader) WithLookup(fn func(string) (string, bool)) *Loader {
	l.lookup = fn
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
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

// loadFromFile 从 YAML 文件加载配置，文件不存在时沿用默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
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
	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix, "_"); err != nil {
		return err
	}
	if path, ok := l.lookup(HistoryDBPathEnv); ok && path != "" {
		cfg.History.Path = path
	}
	return nil
}

// setFieldsFromEnv 递归设置结构体字段。顶层用 "_" 连接前缀，更深层级用 "__"
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix, sep string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + sep + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey, "__"); err != nil {
				return err
			}
			continue
		}

		envValue, ok := l.lookup(envKey)
		if !ok || envValue == "" {
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
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := parts[:0]
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}

	return nil
}

// =============================================================================
// 辅助函数
// =============================================================================

// ResolvePath 按 -config 参数、JARVIS_CONFIG、config.yaml 的顺序选择配置文件
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(ConfigPathEnv); p != "" {
		return p
	}
	return "config.yaml"
}

// Load 使用默认前缀加载并校验配置
func Load(path string) (*Config, error) {
	return NewLoader().
		WithConfigPath(path).
		WithValidator(func(c *Config) error { return c.Validate() }).
		Load()
}

// Validate 校验配置，收集全部问题后一次返回
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, errors.New("server.port must be in 1..65535"))
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, errors.New("server.metrics_port must be in 0..65535"))
	}
	if c.Server.MaxConnections < 0 {
		errs = append(errs, errors.New("server.max_connections must not be negative"))
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, errors.New("server rate limits must not be negative"))
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("server.tls_cert_file and server.tls_key_file must be set together"))
	}

	if c.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, errors.New("llm.max_retries must not be negative"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, errors.New("llm.temperature must be between 0 and 2"))
	}

	if c.Agent.MaxIterations <= 0 {
		errs = append(errs, errors.New("agent.max_iterations must be positive"))
	}
	if c.Agent.ModelTimeout <= 0 || c.Agent.ToolTimeout <= 0 {
		errs = append(errs, errors.New("agent timeouts must be positive"))
	}
	if c.Agent.MaxConcurrentTools <= 0 {
		errs = append(errs, errors.New("agent.max_concurrent_tools must be positive"))
	}

	switch c.History.Backend {
	case HistoryBackendMemory:
	case HistoryBackendSQLite:
		if c.History.Path == "" {
			errs = append(errs, errors.New("history.path is required for sqlite"))
		}
	case HistoryBackendPostgres, HistoryBackendMySQL:
		if c.Database.Host == "" || c.Database.Name == "" {
			errs = append(errs, fmt.Errorf("database.host and database.name are required for %s", c.History.Backend))
		}
	case HistoryBackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for redis history"))
		}
	case HistoryBackendMongo:
		if c.Mongo.URI == "" {
			errs = append(errs, errors.New("mongo.uri is required for mongo history"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown history.backend %q", c.History.Backend))
	}

	seen := make(map[string]struct{}, len(c.MCPServers))
	for i, s := range c.MCPServers {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("mcp_servers[%d].name is required", i))
		} else if _, dup := seen[s.Name]; dup {
			errs = append(errs, fmt.Errorf("mcp_servers[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = struct{}{}
		switch s.Transport {
		case "", "stdio":
			if s.Command == "" {
				errs = append(errs, fmt.Errorf("mcp_servers[%d].command is required for stdio", i))
			}
		case "sse", "websocket":
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("mcp_servers[%d].url is required for %s", i, s.Transport))
			}
		default:
			errs = append(errs, fmt.Errorf("mcp_servers[%d]: unknown transport %q", i, s.Transport))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log.level %q", c.Log.Level))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, errors.New("telemetry.sample_rate must be between 0 and 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// MigrationDSN 返回迁移使用的连接字符串；mysql 需要开启多语句
func (d *DatabaseConfig) MigrationDSN() string {
	dsn := d.DSN()
	if d.Driver == "mysql" {
		dsn += "&multiStatements=true"
	}
	return dsn
}
