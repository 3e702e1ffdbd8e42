package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rahul/dealdesk/internal/tools"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type step func(ctx context.Context, msgs []llms.MessageContent, opts llms.CallOptions) (*llms.ContentResponse, error)

type recordedCall struct {
	messages []llms.MessageContent
	options  llms.CallOptions
}

// scriptedModel replays steps in order; once they run out it repeats
// fallback, or answers "done".
type scriptedModel struct {
	mu       sync.Mutex
	steps    []step
	fallback step
	calls    []recordedCall
}

func newScriptedModel(steps ...step) *scriptedModel {
	return &scriptedModel{steps: steps}
}

func (m *scriptedModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var o llms.CallOptions
	for _, opt := range options {
		opt(&o)
	}
	m.mu.Lock()
	m.calls = append(m.calls, recordedCall{messages: append([]llms.MessageContent(nil), msgs...), options: o})
	var next step
	switch {
	case len(m.steps) > 0:
		next, m.steps = m.steps[0], m.steps[1:]
	case m.fallback != nil:
		next = m.fallback
	default:
		next = reply("done")
	}
	m.mu.Unlock()
	return next(ctx, msgs, o)
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *scriptedModel) recorded() []recordedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedCall(nil), m.calls...)
}

func reply(text string) step {
	return func(context.Context, []llms.MessageContent, llms.CallOptions) (*llms.ContentResponse, error) {
		return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}, nil
	}
}

// call requests tool calls given as id, name, arguments triples.
func call(triples ...string) step {
	var tcs []llms.ToolCall
	for i := 0; i+2 < len(triples); i += 3 {
		tcs = append(tcs, llms.ToolCall{
			ID:           triples[i],
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: triples[i+1], Arguments: triples[i+2]},
		})
	}
	return func(context.Context, []llms.MessageContent, llms.CallOptions) (*llms.ContentResponse, error) {
		return &llms.ContentResponse{Choices: []*llms.ContentChoice{{ToolCalls: tcs}}}, nil
	}
}

func fail(err error) step {
	return func(context.Context, []llms.MessageContent, llms.CallOptions) (*llms.ContentResponse, error) {
		return nil, err
	}
}

func blockUntilDone() step {
	return func(ctx context.Context, _ []llms.MessageContent, _ llms.CallOptions) (*llms.ContentResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func offeredTools(c recordedCall) []string {
	var names []string
	for _, t := range c.options.Tools {
		names = append(names, t.Function.Name)
	}
	return names
}

func systemPrompt(c recordedCall) string {
	for _, p := range c.messages[0].Parts {
		if tp, ok := p.(llms.TextContent); ok {
			return tp.Text
		}
	}
	return ""
}

// echoTool returns its input.
type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echo the text back." }
func (echoTool) ReadOnly() bool      { return true }
func (echoTool) Parameters() tools.Schema {
	return tools.Schema{Fields: []tools.Field{{Name: "text", Type: tools.TypeString, Required: true}}}
}
func (echoTool) Execute(_ context.Context, args tools.Args) (tools.Result, error) {
	return tools.Result{OK: true, Data: args.String("text")}, nil
}

// failingTool always fails.
type failingTool struct{}

func (failingTool) Name() string             { return "explode" }
func (failingTool) Description() string      { return "Always fails." }
func (failingTool) Parameters() tools.Schema { return tools.Schema{} }
func (failingTool) Execute(context.Context, tools.Args) (tools.Result, error) {
	return tools.Result{}, errors.New("boom: downstream unavailable")
}

// bigListTool returns a large collection.
type bigListTool struct{ n int }

func (bigListTool) Name() string             { return "big_list" }
func (bigListTool) Description() string      { return "Returns many items." }
func (bigListTool) ReadOnly() bool           { return true }
func (bigListTool) Parameters() tools.Schema { return tools.Schema{} }
func (t bigListTool) Execute(context.Context, tools.Args) (tools.Result, error) {
	items := make([]any, t.n)
	for i := range items {
		items[i] = fmt.Sprintf("item-%d", i)
	}
	return tools.Result{OK: true, Items: items}, nil
}

// versionedEcho is echo with a declared contract version.
type versionedEcho struct{ echoTool }

func (versionedEcho) Version() string { return "v3" }
