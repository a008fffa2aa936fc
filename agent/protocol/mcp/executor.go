package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/comigor/jarvis-go/agent"
	"github.com/comigor/jarvis-go/types"
)

// ToolClient 是 ToolExecutor 依赖的最小客户端能力
type ToolClient interface {
	Name() string
	ListTools(ctx context.Context) ([]Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error)
	Close() error
}

var _ ToolClient = (*Client)(nil)

// ToolExecutor 聚合多个 MCP server，按工具名路由调用
type ToolExecutor struct {
	mu      sync.RWMutex
	clients map[string]ToolClient
	routes  map[string]ToolClient
	tools   []types.ToolDefinition
	logger  *zap.Logger
}

var _ agent.ToolExecutor = (*ToolExecutor)(nil)

// NewToolExecutor 创建空的执行器
func NewToolExecutor(logger *zap.Logger) *ToolExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolExecutor{
		clients: make(map[string]ToolClient),
		routes:  make(map[string]ToolClient),
		logger:  logger.With(zap.String("component", "mcp_executor")),
	}
}

// AddClient 注册一个 server 客户端；同名会替换旧客户端
func (e *ToolExecutor) AddClient(c ToolClient) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clients[c.Name()] = c
}

// Servers 返回已注册的 server 名称（排序）
func (e *ToolExecutor) Servers() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sortedNames()
}

func (e *ToolExecutor) sortedNames() []string {
	names := make([]string, 0, len(e.clients))
	for name := range e.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Discover 向每个 server 拉取工具列表并重建路由表。
// 按 server 名排序遍历，工具重名时先注册者胜出。
func (e *ToolExecutor) Discover(ctx context.Context) ([]types.ToolDefinition, error) {
	e.mu.RLock()
	names := e.sortedNames()
	clients := make([]ToolClient, 0, len(names))
	for _, n := range names {
		clients = append(clients, e.clients[n])
	}
	e.mu.RUnlock()

	routes := make(map[string]ToolClient)
	var defs []types.ToolDefinition
	for _, c := range clients {
		tools, err := c.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("discover tools on %s: %w", c.Name(), err)
		}
		for _, t := range tools {
			if t.Name == "" {
				continue
			}
			if owner, dup := routes[t.Name]; dup {
				e.logger.Warn("duplicate tool name, keeping first",
					zap.String("tool", t.Name),
					zap.String("kept", owner.Name()),
					zap.String("skipped", c.Name()))
				continue
			}
			routes[t.Name] = c
			defs = append(defs, types.NewFunctionTool(t.Name, t.Description, t.InputSchema))
		}
	}

	e.mu.Lock()
	e.routes = routes
	e.tools = defs
	e.mu.Unlock()

	e.logger.Info("tools discovered", zap.Int("servers", len(clients)), zap.Int("tools", len(defs)))
	return copyDefs(defs), nil
}

// Tools 返回最近一次 Discover 的结果
func (e *ToolExecutor) Tools() []types.ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return copyDefs(e.tools)
}

func copyDefs(defs []types.ToolDefinition) []types.ToolDefinition {
	out := make([]types.ToolDefinition, len(defs))
	copy(out, defs)
	return out
}

// Execute 执行一次工具调用。
// 未知工具返回 IsError 结果；协议或传输失败返回 error。
func (e *ToolExecutor) Execute(ctx context.Context, req types.ToolCallRequest) (types.ToolCallResult, error) {
	e.mu.RLock()
	c, ok := e.routes[req.Name]
	e.mu.RUnlock()
	if !ok {
		res := types.NewErrorResult("unknown tool: " + req.Name)
		res.ToolCallID = req.ID
		return res, nil
	}

	out, err := c.CallTool(ctx, req.Name, req.Arguments)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return types.ToolCallResult{}, fmt.Errorf("%s/%s protocol error: %w", c.Name(), req.Name, err)
		}
		return types.ToolCallResult{}, fmt.Errorf("%s/%s: %w", c.Name(), req.Name, err)
	}

	res := ConvertResult(out)
	res.ToolCallID = req.ID
	return res, nil
}

// Close 关闭全部客户端
func (e *ToolExecutor) Close() error {
	e.mu.Lock()
	clients := e.clients
	e.clients = make(map[string]ToolClient)
	e.routes = make(map[string]ToolClient)
	e.tools = nil
	e.mu.Unlock()

	var errs []error
	for name, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// ConvertResult 将 MCP 内容块转换为 types.ToolCallResult
func ConvertResult(r *CallToolResult) types.ToolCallResult {
	if r == nil {
		return types.ToolCallResult{Content: []types.ContentBlock{}}
	}
	blocks := make([]types.ContentBlock, 0, len(r.Content))
	for _, c := range r.Content {
		switch c.Type {
		case "text":
			blocks = append(blocks, types.ContentBlock{Type: types.ContentText, Text: c.Text})
		case "image":
			blocks = append(blocks, types.ContentBlock{Type: types.ContentImage, Data: c.Data, MimeType: c.MimeType})
		case "audio":
			blocks = append(blocks, types.ContentBlock{Type: types.ContentAudio, Data: c.Data, MimeType: c.MimeType})
		case "resource":
			b := types.ContentBlock{Type: types.ContentResource}
			if c.Resource != nil {
				b.URI = c.Resource.URI
				b.MimeType = c.Resource.MimeType
				b.Data = c.Resource.Blob
				b.Text = c.Resource.Text
			}
			blocks = append(blocks, b)
		default:
			blocks = append(blocks, types.ContentBlock{Type: strings.ToLower(c.Type), Text: c.Text, Data: c.Data, MimeType: c.MimeType})
		}
	}
	return types.ToolCallResult{Content: blocks, IsError: r.IsError}
}
