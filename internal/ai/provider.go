package ai

import "context"

// 对话角色，与 OpenAI 兼容接口的 role 对应。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn 是提示上下文里的一轮对话。
type Turn struct {
	Role    Role
	Content string
}

// Provider 抽象流式生成：每个增量按到达顺序回调一次 onDelta，
// onDelta 返回错误或 ctx 取消都会终止生成。
type Provider interface {
	Stream(ctx context.Context, turns []Turn, onDelta func(delta string) error) error
}
