// 配置加载器与默认配置测试。
package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 0, cfg.Server.MaxConnections)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())

	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 2*time.Minute, cfg.LLM.Timeout)
	assert.Equal(t, 2, cfg.LLM.MaxRetries)

	assert.Equal(t, 10, cfg.Agent.MaxIterations)
	assert.Equal(t, 2*time.Minute, cfg.Agent.ModelTimeout)
	assert.Equal(t, 30*time.Second, cfg.Agent.ToolTimeout)
	assert.Equal(t, 8, cfg.Agent.MaxConcurrentTools)

	assert.Equal(t, HistoryBackendSQLite, cfg.History.Backend)
	assert.Equal(t, "history.db", cfg.History.Path)
	assert.True(t, cfg.History.AutoMigrate)

	assert.Equal(t, "jarvis:", cfg.Redis.KeyPrefix)
	assert.Equal(t, "jarvis", cfg.Mongo.Database)
	assert.Equal(t, "messages", cfg.Mongo.Collection)
	assert.Equal(t, "jarvis", cfg.Telemetry.ServiceName)
	assert.False(t, cfg.Auth.Enabled())

	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().WithLookup(envMap(nil)).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
server:
  port: 8888
  read_timeout: 60s
  max_connections: 200
  cors_origins: ["https://a.example", "https://b.example"]

llm:
  base_url: "http://localhost:11434"
  model: "llama3"
  system_prompt: "You are Jarvis."

agent:
  max_iterations: 4

history:
  backend: memory

mcp_servers:
  - name: weather
    transport: stdio
    command: weather-mcp
    args: ["--units", "metric"]
    env:
      API_KEY: abc
  - name: search
    transport: sse
    url: http://localhost:9000/sse

auth:
  api_keys: ["k1", "k2"]

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).WithLookup(envMap(nil)).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 200, cfg.Server.MaxConnections)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	// 未在 YAML 中出现的字段保留默认值
	assert.Equal(t, 9091, cfg.Server.MetricsPort)

	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, "You are Jarvis.", cfg.LLM.SystemPrompt)
	assert.Equal(t, 4, cfg.Agent.MaxIterations)
	assert.Equal(t, HistoryBackendMemory, cfg.History.Backend)

	require.Len(t, cfg.MCPServers, 2)
	assert.Equal(t, MCPServerConfig{
		Name:      "weather",
		Transport: "stdio",
		Command:   "weather-mcp",
		Args:      []string{"--units", "metric"},
		Env:       map[string]string{"API_KEY": "abc"},
	}, cfg.MCPServers[0])
	assert.Equal(t, "http://localhost:9000/sse", cfg.MCPServers[1].URL)

	assert.True(t, cfg.Auth.Enabled())
	assert.Equal(t, "debug", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	env := map[string]string{
		"JARVIS_SERVER__PORT":           "7777",
		"JARVIS_SERVER__CORS_ORIGINS":   "https://x.example, https://y.example,",
		"JARVIS_SERVER__RATE_LIMIT_RPS": "2.5",
		"JARVIS_LLM__API_KEY":           "sk-env",
		"JARVIS_LLM__TEMPERATURE":       "0.3",
		"JARVIS_AGENT__MAX_ITERATIONS":  "15",
		"JARVIS_AGENT__TOOL_TIMEOUT":    "5s",
		"JARVIS_HISTORY__AUTO_MIGRATE":  "false",
		"JARVIS_AUTH__JWT_SECRET":       "shh",
		"JARVIS_TELEMETRY__ENABLED":     "true",
		"JARVIS_LOG__ENABLE_STACKTRACE": "true",
		"JARVIS_SERVER_PORT":            "1", // 单下划线不是嵌套分隔符
		"JARVIS_REDIS__KEY_PREFIX":      "",  // 空值不覆盖
	}

	cfg, err := NewLoader().WithLookup(envMap(env)).Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, []string{"https://x.example", "https://y.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 2.5, cfg.Server.RateLimitRPS)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, 0.3, cfg.LLM.Temperature)
	assert.Equal(t, 15, cfg.Agent.MaxIterations)
	assert.Equal(t, 5*time.Second, cfg.Agent.ToolTimeout)
	assert.False(t, cfg.History.AutoMigrate)
	assert.Equal(t, "shh", cfg.Auth.JWTSecret)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.True(t, cfg.Log.EnableStacktrace)
	assert.Equal(t, "jarvis:", cfg.Redis.KeyPrefix)
}

func TestLoader_HistoryDBPathOverride(t *testing.T) {
	env := map[string]string{
		"JARVIS_HISTORY__PATH": "/var/lib/jarvis/a.db",
		HistoryDBPathEnv:       "/data/history.db",
	}
	cfg, err := NewLoader().WithLookup(envMap(env)).Load()
	require.NoError(t, err)
	assert.Equal(t, "/data/history.db", cfg.History.Path)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("llm:\n  model: from-yaml\n  max_retries: 5\n"), 0o644))

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		WithLookup(envMap(map[string]string{"JARVIS_LLM__MODEL": "from-env"})).
		Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.LLM.Model)
	assert.Equal(t, 5, cfg.LLM.MaxRetries)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		WithLookup(envMap(map[string]string{"MYAPP_SERVER__PORT": "9999", "JARVIS_SERVER__PORT": "1111"})).
		Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestLoader_RealEnvironment(t *testing.T) {
	t.Setenv("JARVIS_LLM__MODEL", "from-process-env")
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "from-process-env", cfg.LLM.Model)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	_, err := NewLoader().WithLookup(envMap(map[string]string{"JARVIS_SERVER__PORT": "eighty"})).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JARVIS_SERVER__PORT")
}

func TestLoader_WithValidator(t *testing.T) {
	sentinel := errors.New("nope")
	_, err := NewLoader().
		WithLookup(envMap(nil)).
		WithValidator(func(*Config) error { return sentinel }).
		Load()
	require.ErrorIs(t, err, sentinel)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")).
		WithLookup(envMap(nil)).
		Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0o644))

	_, err := NewLoader().WithConfigPath(configPath).WithLookup(envMap(nil)).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoad_RunsValidate(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("agent:\n  max_iterations: 0\n"), 0o644))

	_, err := Load(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent.max_iterations")
}

func TestResolvePath(t *testing.T) {
	t.Setenv(ConfigPathEnv, "")
	assert.Equal(t, "config.yaml", ResolvePath(""))

	t.Setenv(ConfigPathEnv, "/etc/jarvis.yaml")
	assert.Equal(t, "/etc/jarvis.yaml", ResolvePath(""))
	assert.Equal(t, "flag.yaml", ResolvePath("flag.yaml"))
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"tls half set", func(c *Config) { c.Server.TLSCertFile = "cert.pem" }, "tls_cert_file"},
		{"negative max connections", func(c *Config) { c.Server.MaxConnections = -1 }, "max_connections"},
		{"empty model", func(c *Config) { c.LLM.Model = "" }, "llm.model"},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "temperature"},
		{"iterations", func(c *Config) { c.Agent.MaxIterations = 0 }, "max_iterations"},
		{"concurrency", func(c *Config) { c.Agent.MaxConcurrentTools = 0 }, "max_concurrent_tools"},
		{"unknown backend", func(c *Config) { c.History.Backend = "cassandra" }, "history.backend"},
		{"sqlite path", func(c *Config) { c.History.Path = "" }, "history.path"},
		{"redis addr", func(c *Config) { c.History.Backend = HistoryBackendRedis; c.Redis.Addr = "" }, "redis.addr"},
		{"mongo uri", func(c *Config) { c.History.Backend = HistoryBackendMongo; c.Mongo.URI = "" }, "mongo.uri"},
		{"postgres host", func(c *Config) { c.History.Backend = HistoryBackendPostgres; c.Database.Host = "" }, "database.host"},
		{"mcp stdio command", func(c *Config) { c.MCPServers = []MCPServerConfig{{Name: "a"}} }, "command is required"},
		{"mcp url", func(c *Config) { c.MCPServers = []MCPServerConfig{{Name: "a", Transport: "sse"}} }, "url is required"},
		{"mcp transport", func(c *Config) { c.MCPServers = []MCPServerConfig{{Name: "a", Transport: "grpc"}} }, "unknown transport"},
		{"mcp duplicate", func(c *Config) {
			c.MCPServers = []MCPServerConfig{{Name: "a", Command: "x"}, {Name: "a", Command: "y"}}
		}, "duplicate name"},
		{"log level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = -1
	cfg.LLM.Model = ""
	cfg.Agent.MaxIterations = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "llm.model")
	assert.Contains(t, err.Error(), "agent.max_iterations")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "require"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=require", pg.DSN())
	assert.Equal(t, pg.DSN(), pg.MigrationDSN())

	my := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "n"}
	assert.Equal(t, "u:p@tcp(db:3306)/n?parseTime=true", my.DSN())
	assert.Equal(t, "u:p@tcp(db:3306)/n?parseTime=true&multiStatements=true", my.MigrationDSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "history.db"}
	assert.Equal(t, "history.db", lite.DSN())
	assert.Equal(t, "history.db", lite.MigrationDSN())

	assert.Empty(t, (&DatabaseConfig{Driver: "oracle"}).DSN())
}
