package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/GeorgeZhiXu/AiChatBot/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

// DeepSeekProvider 通过 langchaingo 的 OpenAI 兼容客户端访问 DeepSeek 流式接口。
type DeepSeekProvider struct {
	llm         llms.Model
	temperature float64
}

func NewDeepSeekProvider(cfg config.Config) (*DeepSeekProvider, error) {
	if cfg.AIAPIKey == "" {
		return nil, errors.New("DEEPSEEK_API_KEY is not set")
	}
	llm, err := openai.New(
		openai.WithToken(cfg.AIAPIKey),
		openai.WithBaseURL(cfg.AIBaseURL),
		openai.WithModel(cfg.AIModel),
	)
	if err != nil {
		return nil, fmt.Errorf("create deepseek client: %w", err)
	}
	return &DeepSeekProvider{llm: llm, temperature: 0.7}, nil
}

func (p *DeepSeekProvider) Stream(ctx context.Context, turns []Turn, onDelta func(string) error) error {
	messages := make([]llms.MessageContent, 0, len(turns))
	for _, t := range turns {
		var typ schema.ChatMessageType
		switch t.Role {
		case RoleSystem:
			typ = schema.ChatMessageTypeSystem
		case RoleAssistant:
			typ = schema.ChatMessageTypeAI
		default:
			typ = schema.ChatMessageTypeHuman
		}
		messages = append(messages, llms.TextParts(typ, t.Content))
	}
	_, err := p.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(p.temperature),
		llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			return onDelta(string(chunk))
		}),
	)
	if err != nil {
		return fmt.Errorf("deepseek stream: %w", err)
	}
	return nil
}
