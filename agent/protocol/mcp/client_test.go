package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeServer 在一对 io.Pipe 上模拟 MCP server
type fakeServer struct {
	t         *testing.T
	transport *StdioTransport
	handler   func(msg *Message) *Message

	mu            sync.Mutex
	notifications []string
	replies       []*Message
}

func (s *fakeServer) serve() {
	for {
		msg, err := s.transport.Receive(context.Background())
		if err != nil {
			return
		}
		if msg.Method != "" && msg.ID == nil {
			s.mu.Lock()
			s.notifications = append(s.notifications, msg.Method)
			s.mu.Unlock()
			continue
		}
		if msg.IsResponse() {
			s.mu.Lock()
			s.replies = append(s.replies, msg)
			s.mu.Unlock()
			continue
		}
		if resp := s.handler(msg); resp != nil {
			if err := s.transport.Send(context.Background(), resp); err != nil {
				return
			}
		}
	}
}

func (s *fakeServer) noted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notifications...)
}

func (s *fakeServer) received() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Message(nil), s.replies...)
}

func mustResult(t *testing.T, id any, v any) *Message {
	t.Helper()
	msg, err := NewResponse(id, v)
	require.NoError(t, err)
	return msg
}

// defaultHandler 提供 initialize / tools/list（两页）/ tools/call
func defaultHandler(t *testing.T) func(*Message) *Message {
	return func(msg *Message) *Message {
		switch msg.Method {
		case MethodInitialize:
			var p InitializeParams
			require.NoError(t, json.Unmarshal(msg.Params, &p))
			assert.Equal(t, ProtocolVersion, p.ProtocolVersion)
			assert.Equal(t, "jarvis", p.ClientInfo.Name)
			return mustResult(t, msg.ID, InitializeResult{
				ProtocolVersion: ProtocolVersion,
				ServerInfo:      Implementation{Name: "fake", Version: "0.1"},
			})
		case MethodToolsList:
			var p ListToolsParams
			if len(msg.Params) > 0 {
				require.NoError(t, json.Unmarshal(msg.Params, &p))
			}
			if p.Cursor == "" {
				return mustResult(t, msg.ID, ListToolsResult{
					Tools:      []Tool{{Name: "echo", Description: "echo text", InputSchema: json.RawMessage(`{"type":"object"}`)}},
					NextCursor: "page2",
				})
			}
			return mustResult(t, msg.ID, ListToolsResult{Tools: []Tool{{Name: "fail"}}})
		case MethodToolsCall:
			var p CallToolParams
			require.NoError(t, json.Unmarshal(msg.Params, &p))
			switch p.Name {
			case "echo":
				text, _ := p.Arguments["text"].(string)
				return mustResult(t, msg.ID, CallToolResult{Content: []Content{{Type: "text", Text: text}}})
			case "fail":
				return mustResult(t, msg.ID, CallToolResult{Content: []Content{{Type: "text", Text: "bad input"}}, IsError: true})
			case "hang":
				return nil
			}
			return NewErrorResponse(msg.ID, ErrorCodeInvalidParams, "unknown tool "+p.Name)
		}
		return NewErrorResponse(msg.ID, ErrorCodeMethodNotFound, "method not found")
	}
}

func newPipeClient(t *testing.T, handler func(*Message) *Message) (*Client, *fakeServer) {
	t.Helper()
	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()

	clientT := NewStdioTransport(clientR, clientW, nil)
	clientT.closer = func() error {
		_ = clientW.Close()
		return clientR.Close()
	}
	srv := &fakeServer{t: t, transport: NewStdioTransport(serverR, serverW, nil), handler: handler}
	go srv.serve()
	t.Cleanup(func() {
		_ = serverR.Close()
		_ = serverW.Close()
	})

	c := NewClient("fake", clientT, zap.NewNop())
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

func TestClient_InitializeAndListTools(t *testing.T) {
	c, srv := newPipeClient(t, defaultHandler(t))
	ctx := context.Background()

	info, err := c.Initialize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fake", info.ServerInfo.Name)
	assert.Same(t, info, c.ServerInfo())

	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, "fail", tools[1].Name)

	assert.Eventually(t, func() bool {
		noted := srv.noted()
		return len(noted) == 1 && noted[0] == MethodInitialized
	}, time.Second, 10*time.Millisecond)
}

func TestClient_CallTool(t *testing.T) {
	c, _ := newPipeClient(t, defaultHandler(t))
	ctx := context.Background()
	_, err := c.Initialize(ctx)
	require.NoError(t, err)

	res, err := c.CallTool(ctx, "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "hi", res.Content[0].Text)
	assert.False(t, res.IsError)

	res, err = c.CallTool(ctx, "fail", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestClient_CallTool_RPCError(t *testing.T) {
	c, _ := newPipeClient(t, defaultHandler(t))
	ctx := context.Background()
	c.Start(ctx)

	_, err := c.CallTool(ctx, "missing", nil)
	var rpcErr *RPCError
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, ErrorCodeInvalidParams, rpcErr.Code)
}

func TestClient_ConcurrentCalls(t *testing.T) {
	c, _ := newPipeClient(t, defaultHandler(t))
	ctx := context.Background()
	c.Start(ctx)

	var wg sync.WaitGroup
	texts := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	results := make([]string, len(texts))
	for i, text := range texts {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			res, err := c.CallTool(ctx, "echo", map[string]any{"text": text})
			if assert.NoError(t, err) && assert.Len(t, res.Content, 1) {
				results[i] = res.Content[0].Text
			}
		}(i, text)
	}
	wg.Wait()
	assert.Equal(t, texts, results)
}

func TestClient_ContextTimeout(t *testing.T) {
	c, _ := newPipeClient(t, defaultHandler(t))
	c.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.CallTool(ctx, "hang", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_CloseUnblocksPending(t *testing.T) {
	c, _ := newPipeClient(t, defaultHandler(t))
	c.Start(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := c.CallTool(context.Background(), "hang", nil)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClientClosed)
	case <-time.After(time.Second):
		t.Fatal("pending call was not released by Close")
	}

	_, err := c.CallTool(context.Background(), "echo", nil)
	require.ErrorIs(t, err, ErrClientClosed)
}

func TestClient_AnswersServerPing(t *testing.T) {
	c, srv := newPipeClient(t, defaultHandler(t))
	c.Start(context.Background())

	ping, err := NewRequest(99, MethodPing, nil)
	require.NoError(t, err)
	require.NoError(t, srv.transport.Send(context.Background(), ping))

	unknown, err := NewRequest(100, "sampling/createMessage", nil)
	require.NoError(t, err)
	require.NoError(t, srv.transport.Send(context.Background(), unknown))

	require.Eventually(t, func() bool { return len(srv.received()) == 2 }, time.Second, 10*time.Millisecond)
	replies := srv.received()

	id, _ := replies[0].NumericID()
	assert.Equal(t, int64(99), id)
	assert.Nil(t, replies[0].Error)

	assert.NotNil(t, replies[1].Error)
	assert.Equal(t, ErrorCodeMethodNotFound, replies[1].Error.Code)
}
