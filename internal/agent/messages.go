package agent

import (
	"github.com/rahul/dealdesk/internal/store"
	"github.com/tmc/langchaingo/llms"
)

func systemMessage(text string) llms.MessageContent {
	return llms.MessageContent{
		Role:  llms.ChatMessageTypeSystem,
		Parts: []llms.ContentPart{llms.TextPart(text)},
	}
}

func humanMessage(text string) llms.MessageContent {
	return llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(text)},
	}
}

// toMessages converts persisted turns into engine messages.
func toMessages(turns []store.Turn) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case store.RoleUser:
			out = append(out, humanMessage(t.Content))
		case store.RoleAssistant:
			out = append(out, assistantMessage(t))
		case store.RoleToolResult:
			out = append(out, toolMessage(t))
		}
	}
	return out
}

func assistantMessage(t store.Turn) llms.MessageContent {
	var parts []llms.ContentPart
	if t.Content != "" {
		parts = append(parts, llms.TextContent{Text: t.Content})
	}
	for _, c := range t.ToolCalls {
		parts = append(parts, llms.ToolCall{
			ID:   c.ID,
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      c.Name,
				Arguments: c.Arguments,
			},
		})
	}
	return llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: parts}
}

func toolMessage(t store.Turn) llms.MessageContent {
	return llms.MessageContent{
		Role: llms.ChatMessageTypeTool,
		Parts: []llms.ContentPart{
			llms.ToolCallResponse{
				ToolCallID: t.ToolCallID,
				Name:       t.ToolName,
				Content:    t.Content,
			},
		},
	}
}
