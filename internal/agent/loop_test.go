package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/rahul/dealdesk/internal/governance"
	"github.com/rahul/dealdesk/internal/observability"
	"github.com/rahul/dealdesk/internal/store"
	"github.com/rahul/dealdesk/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func loopInput(ts ...tools.Tool) LoopInput {
	return LoopInput{
		SessionID:    "s1",
		Executor:     "intake",
		SystemPrompt: "system",
		Tools:        ts,
		UserInput:    "hello",
	}
}

// assertPaired checks every tool result answers a call of the preceding
// assistant turn.
func assertPaired(t *testing.T, turns []store.Turn) {
	t.Helper()
	calls := map[string]bool{}
	for _, turn := range turns {
		switch turn.Role {
		case store.RoleAssistant:
			calls = map[string]bool{}
			for _, c := range turn.ToolCalls {
				calls[c.ID] = true
			}
		case store.RoleToolResult:
			assert.True(t, calls[turn.ToolCallID], "orphan result %s", turn.ToolCallID)
			delete(calls, turn.ToolCallID)
		default:
			assert.Empty(t, calls, "unanswered calls before %s turn", turn.Role)
		}
	}
	assert.Empty(t, calls, "unanswered calls at end")
}

func TestToolLoop_FinalAnswer(t *testing.T) {
	model := newScriptedModel(
		call("c1", "echo", `{"text":"ping"}`),
		reply("pong"),
	)
	loop := NewToolLoop(model, nil, nil, nil, 0)

	res, err := loop.Run(context.Background(), loopInput(echoTool{}))
	require.NoError(t, err)
	assert.Equal(t, "pong", res.Text)
	assert.Equal(t, 2, res.Iterations)
	assert.False(t, res.Truncated)
	require.Len(t, res.ExecutedTools, 1)
	assert.True(t, res.ExecutedTools[0].OK)

	require.Len(t, res.Turns, 4)
	assert.Equal(t, store.RoleUser, res.Turns[0].Role)
	assert.Equal(t, "c1", res.Turns[2].ToolCallID)
	assertPaired(t, res.Turns)

	calls := model.recorded()
	assert.Equal(t, []string{"echo"}, offeredTools(calls[0]))
	// The second invocation sees the tool result.
	last := calls[1].messages[len(calls[1].messages)-1]
	assert.Equal(t, llms.ChatMessageTypeTool, last.Role)
}

func TestToolLoop_IterationCap(t *testing.T) {
	var n int32
	model := newScriptedModel()
	model.fallback = func(ctx context.Context, msgs []llms.MessageContent, o llms.CallOptions) (*llms.ContentResponse, error) {
		id := fmt.Sprintf("c%d", atomic.AddInt32(&n, 1))
		return call(id, "echo", `{"text":"again"}`)(ctx, msgs, o)
	}
	loop := NewToolLoop(model, nil, nil, nil, 0)

	res, err := loop.Run(context.Background(), loopInput(echoTool{}))
	require.NoError(t, err)
	assert.Equal(t, MaxIterations, res.Iterations)
	assert.Len(t, model.recorded(), MaxIterations)
	assert.True(t, res.Truncated)
	assert.Equal(t, truncatedReply, res.Text)
	// Calls from the last invocation are never executed.
	assert.Len(t, res.ExecutedTools, MaxIterations-1)
	assert.Len(t, res.Turns, 1+2*(MaxIterations-1))
	assertPaired(t, res.Turns)
}

func TestToolLoop_ToolErrorsAreFolded(t *testing.T) {
	model := newScriptedModel(
		call(
			"c1", "nope", `{}`,
			"c2", "explode", `{}`,
			"c3", "echo", `{}`,
			"c4", "echo", `not json`,
		),
		reply("Sorry, something went wrong."),
	)
	loop := NewToolLoop(model, nil, nil, nil, 0)

	res, err := loop.Run(context.Background(), loopInput(echoTool{}, failingTool{}))
	require.NoError(t, err)
	assert.Equal(t, "Sorry, something went wrong.", res.Text)
	require.Len(t, res.ExecutedTools, 4)
	for _, et := range res.ExecutedTools {
		assert.False(t, et.OK, et.Name)
	}

	results := map[string]string{}
	for _, turn := range res.Turns {
		if turn.Role == store.RoleToolResult {
			results[turn.ToolCallID] = turn.Content
		}
	}
	assert.Contains(t, results["c1"], "not available")
	assert.Contains(t, results["c2"], "boom")
	assert.Contains(t, results["c3"], "is required")
	assert.Contains(t, results["c4"], "not a JSON object")
	assertPaired(t, res.Turns)
}

func TestToolLoop_PrunesLargeResults(t *testing.T) {
	model := newScriptedModel(call("c1", "big_list", `{}`), reply("There are many."))
	loop := NewToolLoop(model, nil, nil, nil, 10)

	res, err := loop.Run(context.Background(), loopInput(bigListTool{n: 250}))
	require.NoError(t, err)
	assert.Len(t, res.ExecutedTools[0].Result.Items, 250)

	var shown struct {
		Items   []string `json:"items"`
		Total   int      `json:"total"`
		Omitted int      `json:"omitted"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.Turns[2].Content), &shown))
	assert.Len(t, shown.Items, 10)
	assert.Equal(t, 250, shown.Total)
	assert.Equal(t, 240, shown.Omitted)
}

func TestToolLoop_EngineErrorIsReturned(t *testing.T) {
	loop := NewToolLoop(newScriptedModel(fail(errors.New("upstream 502"))), nil, nil, nil, 0)
	res, err := loop.Run(context.Background(), loopInput(echoTool{}))
	assert.Nil(t, res)
	assert.ErrorContains(t, err, "upstream 502")
}

func TestToolLoop_EscalationEndsRun(t *testing.T) {
	model := newScriptedModel(call(
		"c1", EscalateToolName, `{"target":"portfolio","reason":"wants a new property"}`,
		"c2", "echo", `{"text":"late"}`,
	))
	loop := NewToolLoop(model, nil, nil, nil, 0)

	in := loopInput(echoTool{})
	in.AllowEscalation = true
	in.EscalationTargets = []string{"general", "portfolio"}
	res, err := loop.Run(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, res.Escalation)
	assert.Equal(t, "portfolio", res.Escalation.Target)
	assert.Equal(t, 1, res.Iterations)
	assert.Empty(t, res.ExecutedTools)
	assertPaired(t, res.Turns)
	assert.Contains(t, res.Turns[3].Content, "skipped")
	assert.Contains(t, offeredTools(model.recorded()[0]), EscalateToolName)
}

func TestToolLoop_EscalateNotOfferedUnlessAllowed(t *testing.T) {
	model := newScriptedModel(call("c1", EscalateToolName, `{"target":"portfolio"}`), reply("ok"))
	loop := NewToolLoop(model, nil, nil, nil, 0)

	res, err := loop.Run(context.Background(), loopInput(echoTool{}))
	require.NoError(t, err)
	assert.Nil(t, res.Escalation)
	assert.NotContains(t, offeredTools(model.recorded()[0]), EscalateToolName)
	assert.Contains(t, res.Turns[2].Content, "not available")
}

func TestToolLoop_PolicyDenial(t *testing.T) {
	policy := governance.NewDefaultPolicyEngine()
	policy.DenyTool("echo")
	model := newScriptedModel(call("c1", "echo", `{"text":"x"}`), reply("blocked"))
	loop := NewToolLoop(model, policy, nil, nil, 0)

	res, err := loop.Run(context.Background(), loopInput(echoTool{}))
	require.NoError(t, err)
	assert.Contains(t, res.Turns[2].Content, "denied by policy")
	assert.False(t, res.ExecutedTools[0].OK)
}

func TestToolLoop_HistoryIsReplayed(t *testing.T) {
	model := newScriptedModel(reply("ok"))
	loop := NewToolLoop(model, nil, nil, nil, 0)

	in := loopInput()
	in.History = []store.Turn{
		{Role: store.RoleUser, Content: "earlier"},
		{Role: store.RoleAssistant, ToolCalls: []store.ToolCall{{ID: "h1", Name: "echo", Arguments: `{}`}}},
		{Role: store.RoleToolResult, ToolCallID: "h1", ToolName: "echo", Content: `{"ok":true}`},
		{Role: store.RoleAssistant, Content: "done earlier"},
	}
	_, err := loop.Run(context.Background(), in)
	require.NoError(t, err)

	msgs := model.recorded()[0].messages
	require.Len(t, msgs, 6)
	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, msgs[2].Role)
	assert.Equal(t, llms.ChatMessageTypeTool, msgs[3].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[5].Role)
}

func TestToolLoop_ToolVersionIsRecorded(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	model := newScriptedModel(
		call("c1", "echo", `{"text":"ping"}`, "c2", "explode", `{}`),
		reply("done"),
	)
	loop := NewToolLoop(model, nil, observability.NewLogger(zap.New(core), ""), nil, 0)

	res, err := loop.Run(context.Background(), loopInput(versionedEcho{}, failingTool{}))
	require.NoError(t, err)
	require.Len(t, res.ExecutedTools, 2)
	assert.Equal(t, "v3", res.ExecutedTools[0].Version)
	assert.Equal(t, "v1", res.ExecutedTools[1].Version)

	calls := logs.FilterMessage(string(observability.EventTypeToolCall)).All()
	require.Len(t, calls, 2)
	data, ok := calls[0].ContextMap()["data"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "echo", data["tool"])
	assert.Equal(t, "v3", data["version"])

	results := logs.FilterMessage(string(observability.EventTypeToolResult)).All()
	require.Len(t, results, 2)
	rdata, ok := results[1].ContextMap()["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "v1", rdata["version"])
	assert.Equal(t, false, rdata["ok"])
}

func TestToolLoop_MalformedEscalationIsLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	model := newScriptedModel(call("c1", EscalateToolName, `{"target":`))
	loop := NewToolLoop(model, nil, observability.NewLogger(zap.New(core), ""), nil, 0)

	in := loopInput(echoTool{})
	in.AllowEscalation = true
	in.EscalationTargets = []string{"general", "portfolio"}
	res, err := loop.Run(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, res.Escalation)
	assert.Equal(t, "general", res.Escalation.Target)

	warned := logs.FilterMessage("undecodable escalate arguments").All()
	require.Len(t, warned, 1)
	assert.Equal(t, zap.WarnLevel, warned[0].Level)
	assert.Equal(t, "s1", warned[0].ContextMap()["session_id"])
	assert.Equal(t, `{"target":`, warned[0].ContextMap()["args"])
}
