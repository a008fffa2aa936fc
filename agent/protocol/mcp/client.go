package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrClientClosed 客户端已关闭或读循环已退出
var ErrClientClosed = errors.New("mcp: client closed")

// ClientInfo 本客户端在 initialize 中上报的身份
var ClientInfo = Implementation{Name: "jarvis", Version: "1.0.0"}

// Client MCP 客户端：请求按自增 id 关联响应，由单一读循环分发
type Client struct {
	name      string
	transport Transport
	logger    *zap.Logger

	nextID    atomic.Int64
	pending   map[int64]chan *Message
	pendingMu sync.Mutex

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	cancel    context.CancelFunc

	errMu   sync.Mutex
	loopErr error

	serverInfo *InitializeResult
}

// NewClient 创建客户端；调用 Start 后才会读取响应
func NewClient(name string, transport Transport, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		name:      name,
		transport: transport,
		logger:    logger.With(zap.String("component", "mcp_client"), zap.String("server", name)),
		pending:   make(map[int64]chan *Message),
		done:      make(chan struct{}),
	}
}

// Name 返回配置中的 server 名称
func (c *Client) Name() string { return c.name }

// ServerInfo 返回 initialize 的结果；未初始化时为 nil
func (c *Client) ServerInfo() *InitializeResult { return c.serverInfo }

// Start 启动后台读循环，可重复调用
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c.cancel = cancel
		go c.readLoop(loopCtx)
	})
}

// Initialize 完成 initialize 握手并发送 initialized 通知
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	c.Start(ctx)

	var result InitializeResult
	err := c.call(ctx, MethodInitialize, InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      ClientInfo,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	note, err := NewNotification(MethodInitialized, nil)
	if err != nil {
		return nil, err
	}
	if err := c.transport.Send(ctx, note); err != nil {
		return nil, fmt.Errorf("send initialized: %w", err)
	}

	c.serverInfo = &result
	c.logger.Info("connected to MCP server",
		zap.String("server_name", result.ServerInfo.Name),
		zap.String("server_version", result.ServerInfo.Version),
		zap.String("protocol", result.ProtocolVersion))
	return &result, nil
}

// ListTools 列出全部工具，自动翻页
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	cursor := ""
	for {
		var page ListToolsResult
		var params any
		if cursor != "" {
			params = ListToolsParams{Cursor: cursor}
		}
		if err := c.call(ctx, MethodToolsList, params, &page); err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" || page.NextCursor == cursor {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool 调用工具。工具自身失败体现在 IsError，协议或传输失败返回 error
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	var result CallToolResult
	if err := c.call(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Ping 发送 MCP ping
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, MethodPing, nil, nil)
}

// Close 停止读循环并关闭传输
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		err = c.transport.Close()
		c.finish(ErrClientClosed)
	})
	return err
}

// call 发送请求并等待对应 id 的响应
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	select {
	case <-c.done:
		return c.closedErr()
	default:
	}

	id := c.nextID.Add(1)
	req, err := NewRequest(id, method, params)
	if err != nil {
		return err
	}

	respChan := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.transport.Send(ctx, req); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.closedErr()
	case resp := <-respChan:
		if resp.Error != nil {
			return resp.Error
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	}
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		msg, err := c.transport.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || errors.Is(err, ErrTransportClosed) {
				c.finish(ErrClientClosed)
			} else {
				c.logger.Warn("mcp read loop stopped", zap.Error(err))
				c.finish(fmt.Errorf("%w: %v", ErrClientClosed, err))
			}
			return
		}
		c.handle(ctx, msg)
	}
}

func (c *Client) handle(ctx context.Context, msg *Message) {
	switch {
	case msg.IsResponse():
		id, ok := msg.NumericID()
		if !ok {
			c.logger.Warn("response with non-numeric id", zap.Any("id", msg.ID))
			return
		}
		c.pendingMu.Lock()
		ch, exists := c.pending[id]
		c.pendingMu.Unlock()
		if !exists {
			c.logger.Debug("response for unknown request", zap.Int64("id", id))
			return
		}
		select {
		case ch <- msg:
		default:
			c.logger.Warn("duplicate response", zap.Int64("id", id))
		}

	case msg.IsRequest():
		// 服务端发来的请求：只支持 ping
		var reply *Message
		if msg.Method == MethodPing {
			reply, _ = NewResponse(msg.ID, struct{}{})
		} else {
			reply = NewErrorResponse(msg.ID, ErrorCodeMethodNotFound, "method not found: "+msg.Method)
		}
		if err := c.transport.Send(ctx, reply); err != nil {
			c.logger.Warn("failed to answer server request", zap.String("method", msg.Method), zap.Error(err))
		}

	default:
		c.logger.Debug("mcp notification", zap.String("method", msg.Method))
	}
}

// finish 记录读循环退出原因并唤醒所有等待者
func (c *Client) finish(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	c.loopErr = err
	close(c.done)
}

func (c *Client) closedErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.loopErr != nil {
		return c.loopErr
	}
	return ErrClientClosed
}
