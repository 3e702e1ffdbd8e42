package observability

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeRoute      EventType = "route"
	EventTypeToolCall   EventType = "tool_call"
	EventTypeToolResult EventType = "tool_result"
	EventTypePolicy     EventType = "policy_check"
	EventTypeEscalation EventType = "escalation"
	EventTypeSanitize   EventType = "sanitize"
	EventTypeTurn       EventType = "turn"
	EventTypeLLM        EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Executor  string    `json:"executor,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger emits structured events through zap. LLM exchanges are also
// mirrored to a size-rotated JSONL file when a path is configured.
// A nil *Logger discards everything.
type Logger struct {
	zl         *zap.Logger
	llmLogPath string
	maxSize    int64
	mu         sync.Mutex
}

// NewLogger wraps zl. llmLogPath may be empty to disable the LLM transcript.
func NewLogger(zl *zap.Logger, llmLogPath string) *Logger {
	if zl == nil {
		zl = zap.NewNop()
	}
	return &Logger{
		zl:         zl,
		llmLogPath: llmLogPath,
		maxSize:    10 * 1024 * 1024, // 10MB
	}
}

// NewProductionLogger builds a JSON zap logger at the given level.
func NewProductionLogger(level, llmLogPath string) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return NewLogger(zl, llmLogPath), nil
}

// NewNopLogger returns a logger that writes nothing.
func NewNopLogger() *Logger {
	return NewLogger(zap.NewNop(), "")
}

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l.zl
}

// Sync flushes buffered entries.
func (l *Logger) Sync() {
	if l == nil {
		return
	}
	_ = l.zl.Sync()
}

// Log emits a structured event.
func (l *Logger) Log(evt Event) {
	if l == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	l.zl.Info(string(evt.Type),
		zap.String("session_id", evt.SessionID),
		zap.String("executor", evt.Executor),
		zap.Any("data", evt.Data),
	)

	if evt.Type == EventTypeLLM && l.llmLogPath != "" {
		data, err := json.Marshal(evt)
		if err != nil {
			l.zl.Warn("failed to marshal llm event", zap.Error(err))
			return
		}
		l.writeToFile(data)
	}
}

// Info logs a free-form message.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.zl.Info(msg, fields...)
}

// Warn logs a free-form warning.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.zl.Warn(msg, fields...)
}

// Error logs a free-form error.
func (l *Logger) Error(msg string, fields ...zap.Field) {
	if l == nil {
		return
	}
	l.zl.Error(msg, fields...)
}

func (l *Logger) writeToFile(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		l.zl.Warn("failed to create log directory", zap.Error(err))
		return
	}

	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.zl.Warn("failed to open log file", zap.Error(err))
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		l.zl.Warn("failed to write to log file", zap.Error(err))
	}
}

func (l *Logger) rotateLogs() {
	// Keep one .old file.
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

// Helper methods for common events

func (l *Logger) LogRoute(sessionID, executor, route, reason string) {
	l.Log(Event{
		Type:      EventTypeRoute,
		SessionID: sessionID,
		Executor:  executor,
		Data: map[string]string{
			"route":  route,
			"reason": reason,
		},
	})
}

func (l *Logger) LogToolCall(sessionID, executor, tool, version, args string) {
	l.Log(Event{
		Type:      EventTypeToolCall,
		SessionID: sessionID,
		Executor:  executor,
		Data: map[string]string{
			"tool":    tool,
			"version": version,
			"args":    args,
		},
	})
}

func (l *Logger) LogToolResult(sessionID, executor, tool, version string, ok bool, content string) {
	l.Log(Event{
		Type:      EventTypeToolResult,
		SessionID: sessionID,
		Executor:  executor,
		Data: map[string]any{
			"tool":    tool,
			"version": version,
			"ok":      ok,
			"content": content,
		},
	})
}

func (l *Logger) LogPolicy(sessionID, executor, tool, effect, reason string) {
	l.Log(Event{
		Type:      EventTypePolicy,
		SessionID: sessionID,
		Executor:  executor,
		Data: map[string]string{
			"tool":   tool,
			"effect": effect,
			"reason": reason,
		},
	})
}

func (l *Logger) LogEscalation(sessionID, from, to, reason string) {
	l.Log(Event{
		Type:      EventTypeEscalation,
		SessionID: sessionID,
		Executor:  from,
		Data: map[string]string{
			"target": to,
			"reason": reason,
		},
	})
}

func (l *Logger) LogSanitize(sessionID string, dropped int) {
	l.Log(Event{
		Type:      EventTypeSanitize,
		SessionID: sessionID,
		Data:      map[string]int{"dropped": dropped},
	})
}

func (l *Logger) LogTurn(sessionID, executor string, iterations int, truncated bool, elapsed time.Duration) {
	l.Log(Event{
		Type:      EventTypeTurn,
		SessionID: sessionID,
		Executor:  executor,
		Data: map[string]any{
			"iterations": iterations,
			"truncated":  truncated,
			"elapsed_ms": elapsed.Milliseconds(),
		},
	})
}

func (l *Logger) LogLLM(sessionID, executor string, prompt any, response string, toolCalls any) {
	l.Log(Event{
		Type:      EventTypeLLM,
		SessionID: sessionID,
		Executor:  executor,
		Data: map[string]any{
			"prompt":     prompt,
			"response":   response,
			"tool_calls": toolCalls,
		},
	})
}
