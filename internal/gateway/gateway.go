// Package gateway connects chat transports and the HTTP Turn API to the
// orchestrator.
package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/rahul/dealdesk/internal/agent"
	"github.com/rahul/dealdesk/internal/observability"
	"go.uber.org/zap"
)

// TurnHandler processes one operator message.
type TurnHandler interface {
	HandleTurn(ctx context.Context, req agent.TurnRequest) (*agent.TurnResponse, error)
}

// Messenger defines the interface for chat gateways (Telegram, Discord, etc.)
type Messenger interface {
	// Start listens for messages until ctx is done.
	Start(ctx context.Context) error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

const (
	busyReply   = "I'm having trouble reaching the reasoning engine right now. Please send that again in a moment."
	failedReply = "Something went wrong handling that message. Please try again."
)

// converse runs one chat message through the orchestrator and returns the
// text to send back. Failures become a short apology; nothing is persisted
// for them, so the operator can simply resend.
func converse(ctx context.Context, turns TurnHandler, logger *observability.Logger, sessionID, text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	resp, err := turns.HandleTurn(ctx, agent.TurnRequest{SessionID: sessionID, Text: text})
	switch {
	case err == nil:
		return resp.Text
	case errors.Is(err, context.Canceled):
		return ""
	case agent.IsRetryable(err):
		logger.Warn("retryable turn failure", zap.String("session_id", sessionID), zap.Error(err))
		return busyReply
	default:
		logger.Error("turn failed", zap.String("session_id", sessionID), zap.Error(err))
		return failedReply
	}
}

// chunk splits text into pieces of at most limit runes, preferring line
// breaks.
func chunk(text string, limit int) []string {
	var out []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
