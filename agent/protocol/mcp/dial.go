package mcp

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/comigor/jarvis-go/config"
)

// 传输类型，对应 mcp_servers[].transport
const (
	TransportStdio     = "stdio"
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// Dial 按配置建立传输并完成 initialize 握手
func Dial(ctx context.Context, cfg config.MCPServerConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		return nil, errors.New("mcp: server name is required")
	}

	var transport Transport
	switch cfg.Transport {
	case TransportStdio, "":
		t, err := NewCommandTransport(context.WithoutCancel(ctx), cfg.Command, cfg.Args, cfg.Env, logger)
		if err != nil {
			return nil, fmt.Errorf("mcp %s: %w", cfg.Name, err)
		}
		transport = t
	case TransportSSE:
		t := NewSSETransport(cfg.URL, cfg.Headers, logger)
		if err := t.Connect(ctx); err != nil {
			return nil, fmt.Errorf("mcp %s: %w", cfg.Name, err)
		}
		transport = t
	case TransportWebSocket:
		wsCfg := DefaultWSTransportConfig()
		wsCfg.Headers = cfg.Headers
		t := NewWebSocketTransportWithConfig(cfg.URL, wsCfg, logger)
		if err := t.Connect(ctx); err != nil {
			return nil, fmt.Errorf("mcp %s: %w", cfg.Name, err)
		}
		transport = t
	default:
		return nil, fmt.Errorf("mcp %s: unsupported transport %q", cfg.Name, cfg.Transport)
	}

	client := NewClient(cfg.Name, transport, logger)
	if _, err := client.Initialize(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("mcp %s: %w", cfg.Name, err)
	}
	return client, nil
}

// DialAll 连接全部 server 并执行一次 Discover。
// 任意 server 失败时关闭已建立的连接并返回错误。
func DialAll(ctx context.Context, servers []config.MCPServerConfig, logger *zap.Logger) (*ToolExecutor, error) {
	exec := NewToolExecutor(logger)
	for _, s := range servers {
		c, err := Dial(ctx, s, logger)
		if err != nil {
			_ = exec.Close()
			return nil, err
		}
		exec.AddClient(c)
	}
	if _, err := exec.Discover(ctx); err != nil {
		_ = exec.Close()
		return nil, err
	}
	return exec, nil
}
