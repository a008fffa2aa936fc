package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/comigor/jarvis-go/internal/tlsutil"
)

// ErrTransportClosed 传输已关闭
var ErrTransportClosed = errors.New("mcp: transport closed")

// Transport MCP 传输层接口
type Transport interface {
	// Send 发送消息
	Send(ctx context.Context, msg *Message) error
	// Receive 接收消息（阻塞）
	Receive(ctx context.Context) (*Message, error)
	// Close 关闭传输
	Close() error
}

// ---------------------------------------------------------------------------
// StdioTransport 换行分隔的 JSON 消息
// ---------------------------------------------------------------------------

// maxLineSize 单条 stdio 消息上限
const maxLineSize = 8 << 20

// StdioTransport 基于 reader/writer 的 stdio 传输，每行一条 JSON-RPC 消息
type StdioTransport struct {
	reader  *bufio.Reader
	writer  io.Writer
	writeMu sync.Mutex
	closer  func() error
	logger  *zap.Logger
}

// NewStdioTransport 创建 stdio 传输
func NewStdioTransport(reader io.Reader, writer io.Writer, logger *zap.Logger) *StdioTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StdioTransport{
		reader: bufio.NewReaderSize(reader, 64<<10),
		writer: writer,
		logger: logger,
	}
}

// NewCommandTransport 启动子进程并通过其 stdin/stdout 通信
// 子进程 stderr 写入日志
func NewCommandTransport(ctx context.Context, command string, args []string, env map[string]string, logger *zap.Logger) (*StdioTransport, error) {
	if command == "" {
		return nil, errors.New("mcp: stdio transport requires a command")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", command, err)
	}

	procLogger := logger.With(zap.String("command", command), zap.Int("pid", cmd.Process.Pid))
	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			procLogger.Debug("mcp server stderr", zap.String("line", sc.Text()))
		}
	}()

	t := NewStdioTransport(stdout, stdin, procLogger)
	t.closer = func() error {
		_ = stdin.Close()
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		err := cmd.Wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// 被我们 kill 的进程以非零状态退出，这是预期的
			return nil
		}
		return err
	}
	return t, nil
}

// Send 写入一行 JSON
func (t *StdioTransport) Send(_ context.Context, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	body = append(body, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.writer.Write(body); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Receive 读取下一行非空 JSON
func (t *StdioTransport) Receive(_ context.Context) (*Message, error) {
	for {
		line, err := t.readLine()
		if err != nil {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		return &msg, nil
	}
}

func (t *StdioTransport) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := t.reader.ReadLine()
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
		if len(buf) > maxLineSize {
			return nil, fmt.Errorf("mcp: message exceeds %d bytes", maxLineSize)
		}
		if !isPrefix {
			return buf, nil
		}
	}
}

// Close 关闭 stdio 传输；子进程会被终止
func (t *StdioTransport) Close() error {
	if t.closer != nil {
		return t.closer()
	}
	return nil
}

// ---------------------------------------------------------------------------
// SSETransport Server-Sent Events 传输（HTTP SSE 客户端）
// ---------------------------------------------------------------------------

// SSETransport GET 建立事件流，服务端先推送 endpoint 事件告知 POST 地址，
// 之后响应以 message 事件返回
type SSETransport struct {
	endpoint   string
	headers    map[string]string
	httpClient *http.Client
	eventChan  chan *Message
	logger     *zap.Logger

	mu       sync.RWMutex
	sendURL  string
	ready    chan struct{}
	readyErr error
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSSETransport 创建 SSE 传输
func NewSSETransport(endpoint string, headers map[string]string, logger *zap.Logger) *SSETransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSETransport{
		endpoint:   endpoint,
		headers:    headers,
		httpClient: tlsutil.SecureHTTPClient(0), // SSE 长连接不设超时
		eventChan:  make(chan *Message, 100),
		logger:     logger.With(zap.String("component", "mcp_sse_transport")),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Connect 建立 SSE 连接并等待 endpoint 事件
func (t *SSETransport) Connect(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.endpoint, nil)
	if err != nil {
		cancel()
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	t.applyHeaders(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("SSE connect failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("SSE connect: unexpected status %d", resp.StatusCode)
	}

	go t.readEvents(resp.Body)

	select {
	case <-t.ready:
		t.mu.RLock()
		defer t.mu.RUnlock()
		return t.readyErr
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

func (t *SSETransport) applyHeaders(req *http.Request) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
}

// readEvents 后台读取 SSE 事件
func (t *SSETransport) readEvents(body io.ReadCloser) {
	defer body.Close()
	defer close(t.done)

	readyOnce := sync.Once{}
	markReady := func(err error) {
		readyOnce.Do(func() {
			t.mu.Lock()
			t.readyErr = err
			t.mu.Unlock()
			close(t.ready)
		})
	}
	defer markReady(errors.New("SSE stream closed before endpoint event"))

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)

	var event string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				t.dispatch(event, data.String(), markReady)
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// 注释 / keep-alive
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		t.logger.Debug("SSE stream ended", zap.Error(err))
	}
}

func (t *SSETransport) dispatch(event, data string, markReady func(error)) {
	switch event {
	case "endpoint":
		target, err := t.resolve(data)
		if err == nil {
			t.mu.Lock()
			t.sendURL = target
			t.mu.Unlock()
		}
		markReady(err)
	case "", "message":
		var msg Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			t.logger.Error("SSE parse error", zap.Error(err))
			return
		}
		t.eventChan <- &msg
	default:
		t.logger.Debug("ignoring SSE event", zap.String("event", event))
	}
}

func (t *SSETransport) resolve(ref string) (string, error) {
	base, err := url.Parse(t.endpoint)
	if err != nil {
		return "", err
	}
	rel, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("invalid endpoint event %q: %w", ref, err)
	}
	return base.ResolveReference(rel).String(), nil
}

// Send 通过 POST 发送消息
func (t *SSETransport) Send(ctx context.Context, msg *Message) error {
	t.mu.RLock()
	target := t.sendURL
	t.mu.RUnlock()
	if target == "" {
		return errors.New("SSE send: not connected")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	t.applyHeaders(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("SSE send: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Receive 从 SSE 事件通道接收消息
func (t *SSETransport) Receive(ctx context.Context) (*Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-t.eventChan:
		return msg, nil
	case <-t.done:
		// 流结束后先把缓冲里的消息取完
		select {
		case msg := <-t.eventChan:
			return msg, nil
		default:
			return nil, io.EOF
		}
	}
}

// Close 关闭 SSE 传输
func (t *SSETransport) Close() error {
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}
