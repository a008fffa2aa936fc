package types

import "context"

// contextKey 避免与其他包的 context key 冲突
type contextKey string

const (
	keyTraceID   contextKey = "trace_id"
	keySessionID contextKey = "session_id"
	keyTenantID  contextKey = "tenant_id"
	keyUserID    contextKey = "user_id"
)

// WithTraceID 记录请求追踪 ID（通常来自 X-Request-ID）
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID 读取追踪 ID；空字符串视为不存在
func TraceID(ctx context.Context) (string, bool) {
	return stringValue(ctx, keyTraceID)
}

// WithSessionID 记录当前会话 ID
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, keySessionID, sessionID)
}

// SessionID 读取会话 ID
func SessionID(ctx context.Context) (string, bool) {
	return stringValue(ctx, keySessionID)
}

// WithTenantID 记录认证得到的租户
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, keyTenantID, tenantID)
}

// TenantID 读取租户 ID
func TenantID(ctx context.Context) (string, bool) {
	return stringValue(ctx, keyTenantID)
}

// WithUserID 记录认证主体（JWT sub）
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, keyUserID, userID)
}

// UserID 读取认证主体
func UserID(ctx context.Context) (string, bool) {
	return stringValue(ctx, keyUserID)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}
