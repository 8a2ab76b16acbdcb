package ai

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/GeorgeZhiXu/AiChatBot/internal/store"
)

// SystemPrompt 是群聊助手的固定系统提示。
const SystemPrompt = "You are a helpful AI assistant in a group chat. Provide concise and friendly responses."

var mentionRe = regexp.MustCompile(`(?i)@\s*ai\b`)

// HasMention 判断消息内容里是否出现 @AI 提及（大小写不敏感、词边界匹配）。
func HasMention(content string) bool {
	return mentionRe.MatchString(content)
}

// ExtractQuery 去掉 @AI 提及后返回真正的问题；剩余为空则退回原文。
func ExtractQuery(content string) string {
	cleaned := strings.TrimSpace(mentionRe.ReplaceAllString(content, ""))
	if cleaned == "" {
		return content
	}
	return cleaned
}

// BuildContext 把最近的聊天记录和本次提问组装成提示上下文：
// AI 消息作为 assistant 轮，人类消息带上 "[username]: " 前缀作为 user 轮。
func BuildContext(history []store.MessageView, query string) []Turn {
	turns := make([]Turn, 0, len(history)+2)
	turns = append(turns, Turn{Role: RoleSystem, Content: SystemPrompt})
	for _, m := range history {
		if m.IsAI {
			turns = append(turns, Turn{Role: RoleAssistant, Content: m.Content})
			continue
		}
		turns = append(turns, Turn{Role: RoleUser, Content: fmt.Sprintf("[%s]: %s", m.Username, m.Content)})
	}
	turns = append(turns, Turn{Role: RoleUser, Content: query})
	return turns
}
