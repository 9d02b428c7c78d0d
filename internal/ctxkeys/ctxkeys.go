package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey    contextKey = "request_id"
	actorUserKey    contextKey = "actor_user_id"
	actorAgentKey   contextKey = "actor_agent_id"
	actorProjectKey contextKey = "actor_project_id"
	controlTokenKey contextKey = "control_token_id"
	channelKey      contextKey = "auth_channel"
)

// Channel 标识请求经过了哪一种认证通道。
type Channel string

const (
	ChannelAdmin Channel = "admin"
	ChannelAgent Channel = "agent"
)

// WithRequestID 设置请求 ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 获取请求 ID
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithActorUserID 设置已认证管理员的用户 ID（admin 通道）
func WithActorUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorUserKey, userID)
}

// ActorUserID 获取已认证管理员的用户 ID
func ActorUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(actorUserKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithActorAgentID 设置已认证 agent 的 ID（agent 通道）
func WithActorAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, actorAgentKey, agentID)
}

// ActorAgentID 获取已认证 agent 的 ID
func ActorAgentID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(actorAgentKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithActorProjectID 设置 agent 通道令牌绑定的项目 ID
func WithActorProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, actorProjectKey, projectID)
}

// ActorProjectID 获取 agent 通道令牌绑定的项目 ID
func ActorProjectID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(actorProjectKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithControlTokenID 设置已验证的控制令牌行 ID，供限流等以令牌为键的场景使用
func WithControlTokenID(ctx context.Context, tokenID string) context.Context {
	return context.WithValue(ctx, controlTokenKey, tokenID)
}

// ControlTokenID 获取已验证的控制令牌行 ID
func ControlTokenID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(controlTokenKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithChannel 标记当前请求所属的认证通道
func WithChannel(ctx context.Context, ch Channel) context.Context {
	return context.WithValue(ctx, channelKey, ch)
}

// ChannelOf 获取当前请求所属的认证通道
func ChannelOf(ctx context.Context) (Channel, bool) {
	v, ok := ctx.Value(channelKey).(Channel)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
