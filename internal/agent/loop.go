package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rahul/dealdesk/internal/governance"
	"github.com/rahul/dealdesk/internal/observability"
	"github.com/rahul/dealdesk/internal/store"
	"github.com/rahul/dealdesk/internal/tools"
	"github.com/rahul/dealdesk/internal/workflow"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

// MaxIterations caps the reasoning engine invocations of one loop run.
const MaxIterations = 5

// builtinVersion tags calls the loop answers itself, such as escalate.
const builtinVersion = "builtin"

// DefaultSampleSize is how many collection items a tool result shows the
// engine.
const DefaultSampleSize = 10

const truncatedReply = "I wasn't able to finish that in one go. Tell me how you'd like to continue."

// LoopInput is everything one executor run needs.
type LoopInput struct {
	SessionID    string
	Executor     string
	SystemPrompt string
	Tools        []tools.Tool
	History      []store.Turn
	// UserInput may be empty when an escalated turn is re-dispatched.
	UserInput       string
	AllowEscalation bool
	// EscalationTargets are the executors escalate may name.
	EscalationTargets []string
	Scope             *tools.Scope
}

// ExecutedTool records one tool call. Result keeps the full, unpruned data.
type ExecutedTool struct {
	CallID  string
	Name    string
	Version string
	OK      bool
	Error   string
	Result  tools.Result
}

// Escalation is an executor's request to hand the turn elsewhere.
type Escalation struct {
	Target string
	Reason string
}

// LoopResult is the outcome of one loop run. Turns holds the new history
// entries (starting with the user turn, if any), already sanitized.
type LoopResult struct {
	Text          string
	Turns         []store.Turn
	ExecutedTools []ExecutedTool
	Iterations    int
	Truncated     bool
	Escalation    *Escalation
	// Entity is the last property a tool returned.
	Entity        *workflow.Property
	EntityCleared bool
}

// ToolLoop drives the reasoning engine through bounded tool-calling rounds.
type ToolLoop struct {
	Model      llms.Model
	Policy     governance.PolicyEngine
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	SampleSize int
}

func NewToolLoop(model llms.Model, policy governance.PolicyEngine, logger *observability.Logger, metrics *observability.Metrics, sampleSize int) *ToolLoop {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	return &ToolLoop{
		Model:      model,
		Policy:     policy,
		Logger:     logger,
		Metrics:    metrics,
		SampleSize: sampleSize,
	}
}

// Run executes the loop. Tool failures are folded into the conversation as
// tool results; only a failed engine call is returned as an error.
func (l *ToolLoop) Run(ctx context.Context, in LoopInput) (*LoopResult, error) {
	scope := in.Scope
	if scope == nil {
		scope = &tools.Scope{SessionID: in.SessionID}
	}
	ctx = tools.WithScope(ctx, scope)

	// 1. Assemble context
	messages := []llms.MessageContent{systemMessage(in.SystemPrompt)}
	messages = append(messages, toMessages(in.History)...)

	res := &LoopResult{}
	now := time.Now().UTC()
	if in.UserInput != "" {
		messages = append(messages, humanMessage(in.UserInput))
		res.Turns = append(res.Turns, store.Turn{Role: store.RoleUser, Content: in.UserInput, CreatedAt: now})
	}

	// 2. Prepare tools for the engine
	byName := make(map[string]tools.Tool, len(in.Tools))
	var llmTools []llms.Tool
	for _, t := range in.Tools {
		byName[t.Name()] = t
		llmTools = append(llmTools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters().JSONSchema(),
			},
		})
	}
	if in.AllowEscalation {
		llmTools = append(llmTools, escalateDefinition(in.EscalationTargets))
	}
	var opts []llms.CallOption
	if len(llmTools) > 0 {
		opts = append(opts, llms.WithTools(llmTools))
	}

	// 3. Reasoning loop
	var lastText string
	for i := 0; i < MaxIterations; i++ {
		resp, err := l.Model.GenerateContent(ctx, messages, opts...)
		res.Iterations++
		if err != nil {
			return nil, err
		}
		if resp == nil || len(resp.Choices) == 0 {
			return nil, errors.New("engine returned no choices")
		}
		choice := resp.Choices[0]

		assistant := store.Turn{Role: store.RoleAssistant, Content: choice.Content, CreatedAt: time.Now().UTC()}
		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			id := tc.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			assistant.ToolCalls = append(assistant.ToolCalls, store.ToolCall{
				ID:        id,
				Name:      tc.FunctionCall.Name,
				Arguments: tc.FunctionCall.Arguments,
			})
		}
		l.Logger.LogLLM(in.SessionID, in.Executor, len(messages), choice.Content, assistant.ToolCalls)

		messages = append(messages, assistantMessage(assistant))
		res.Turns = append(res.Turns, assistant)
		if choice.Content != "" {
			lastText = choice.Content
		}

		// No tool calls: this is the final answer
		if len(assistant.ToolCalls) == 0 {
			res.Text = choice.Content
			return l.finish(in, res), nil
		}

		// Calls requested by the last permitted invocation are left unanswered
		// and stripped by the sanitizer.
		if i == MaxIterations-1 {
			break
		}

		for _, call := range assistant.ToolCalls {
			var content string
			switch {
			case res.Escalation != nil:
				content = `{"ok":false,"error":"skipped: the turn is being handed to another executor"}`
			case call.Name == EscalateToolName && in.AllowEscalation:
				res.Escalation, content = l.parseEscalation(in, call.Arguments)
				l.Logger.LogToolCall(in.SessionID, in.Executor, call.Name, builtinVersion, call.Arguments)
			default:
				content = l.execute(ctx, in, call, byName, scope, res)
			}

			result := store.Turn{
				Role:       store.RoleToolResult,
				Content:    content,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				CreatedAt:  time.Now().UTC(),
			}
			messages = append(messages, toolMessage(result))
			res.Turns = append(res.Turns, result)
		}

		if res.Escalation != nil {
			res.Text = lastText
			return l.finish(in, res), nil
		}
	}

	res.Truncated = true
	l.Metrics.LoopTruncated()
	res.Text = lastText
	if res.Text == "" {
		res.Text = truncatedReply
	}
	return l.finish(in, res), nil
}

// execute runs one tool call and renders its result for the engine.
func (l *ToolLoop) execute(ctx context.Context, in LoopInput, call store.ToolCall, byName map[string]tools.Tool, scope *tools.Scope, res *LoopResult) string {
	version := builtinVersion
	if tool, ok := byName[call.Name]; ok {
		version = tools.VersionOf(tool)
	}
	l.Logger.LogToolCall(in.SessionID, in.Executor, call.Name, version, call.Arguments)

	result, outcome := l.invoke(ctx, in, call, byName)
	if result.OK {
		if result.Entity != nil {
			scope.EntityRef = result.Entity.ID
			res.Entity = result.Entity
			res.EntityCleared = false
		}
		if result.EntityCleared {
			scope.EntityRef = ""
			res.Entity = nil
			res.EntityCleared = true
		}
	}

	res.ExecutedTools = append(res.ExecutedTools, ExecutedTool{
		CallID:  call.ID,
		Name:    call.Name,
		Version: version,
		OK:      result.OK,
		Error:   result.Error,
		Result:  result,
	})
	l.Metrics.ToolCall(call.Name, outcome)

	content := result.Render(l.SampleSize)
	l.Logger.LogToolResult(in.SessionID, in.Executor, call.Name, version, result.OK, content)
	return content
}

func (l *ToolLoop) invoke(ctx context.Context, in LoopInput, call store.ToolCall, byName map[string]tools.Tool) (tools.Result, string) {
	tool, ok := byName[call.Name]
	if !ok {
		return tools.Result{Error: fmt.Sprintf("tool %s is not available here; available tools: %s", call.Name, strings.Join(sortedNames(byName), ", "))}, "unknown"
	}

	args, err := tools.ParseArgs(call.Arguments)
	if err != nil {
		return tools.Failure(&tools.ValidationError{Tool: call.Name, Err: err}), "validation_error"
	}
	if err := tool.Parameters().Validate(call.Name, args); err != nil {
		return tools.Failure(err), "validation_error"
	}

	if l.Policy != nil {
		decision, err := l.Policy.Evaluate(ctx, governance.Request{
			Tool:      call.Name,
			Arguments: call.Arguments,
			SessionID: in.SessionID,
			Executor:  in.Executor,
		})
		if err != nil {
			return tools.Failure(fmt.Errorf("policy check failed: %w", err)), "error"
		}
		l.Logger.LogPolicy(in.SessionID, in.Executor, call.Name, string(decision.Effect), decision.Reason)
		if decision.Effect == governance.EffectDeny {
			return tools.Result{Error: "denied by policy: " + decision.Reason}, "denied"
		}
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		var verr *tools.ValidationError
		if errors.As(err, &verr) {
			return tools.Failure(err), "validation_error"
		}
		return tools.Failure(err), "error"
	}
	if !result.OK {
		return result, "error"
	}
	return result, "ok"
}

// finish sanitizes the new turns so persisted history keeps every call
// paired with its result.
func (l *ToolLoop) finish(in LoopInput, res *LoopResult) *LoopResult {
	turns, dropped := store.Sanitize(res.Turns)
	if dropped > 0 {
		l.Logger.LogSanitize(in.SessionID, dropped)
	}
	res.Turns = turns
	return res
}

func escalateDefinition(targets []string) llms.Tool {
	target := map[string]any{
		"type":        "string",
		"description": "Executor that should handle the request.",
	}
	if len(targets) > 0 {
		target["enum"] = targets
	}
	return llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name:        EscalateToolName,
			Description: "Hand this request to another executor when it is outside your responsibilities. Use general if no other executor fits.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target": target,
					"reason": map[string]any{
						"type":        "string",
						"description": "Why the request belongs elsewhere.",
					},
				},
				"required": []string{"target"},
			},
		},
	}
}

// parseEscalation reads the escalate arguments. Undecodable arguments still
// hand the turn over, to the general executor.
func (l *ToolLoop) parseEscalation(in LoopInput, raw string) (*Escalation, string) {
	var args struct {
		Target string `json:"target"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		l.Logger.Warn("undecodable escalate arguments",
			zap.String("session_id", in.SessionID),
			zap.String("executor", in.Executor),
			zap.String("args", raw),
			zap.Error(err))
	}
	target := strings.TrimSpace(args.Target)
	if target == "" {
		target = workflow.ExecutorGeneral
	}
	return &Escalation{Target: target, Reason: args.Reason}, fmt.Sprintf(`{"ok":true,"data":{"escalated_to":%q}}`, target)
}

func sortedNames(byName map[string]tools.Tool) []string {
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
