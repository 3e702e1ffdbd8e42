package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyEngine_Evaluate(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	ctx := context.Background()

	res, err := engine.Evaluate(ctx, Request{Tool: "market_search"})
	require.NoError(t, err)
	assert.Equal(t, EffectAllow, res.Effect)

	engine.DenyTool("delete_property")
	res, err = engine.Evaluate(ctx, Request{Tool: "delete_property"})
	require.NoError(t, err)
	assert.Equal(t, EffectDeny, res.Effect)
	assert.Contains(t, res.Reason, "disabled")
}

func TestNewPolicyEngine(t *testing.T) {
	ctx := context.Background()
	engine, err := NewPolicyEngine([]string{"delete_property"}, []string{`(?i)drop\s+table`})
	require.NoError(t, err)

	res, _ := engine.Evaluate(ctx, Request{Tool: "create_property", Arguments: `{"name":"x; DROP TABLE properties"}`})
	assert.Equal(t, EffectDeny, res.Effect)

	res, _ = engine.Evaluate(ctx, Request{Tool: "create_property", Arguments: `{"name":"12 Elm St"}`})
	assert.Equal(t, EffectAllow, res.Effect, res.Reason)

	_, err = NewPolicyEngine(nil, []string{"("})
	assert.Error(t, err)
}

func TestDefaultPolicyEngine_ExecutorAllowList(t *testing.T) {
	ctx := context.Background()
	engine := NewDefaultPolicyEngine()
	engine.AllowForExecutor("review", []string{"get_property", "override_block"})

	res, _ := engine.Evaluate(ctx, Request{Tool: "submit_arv", Executor: "review"})
	assert.Equal(t, EffectDeny, res.Effect)
	res, _ = engine.Evaluate(ctx, Request{Tool: "override_block", Executor: "review"})
	assert.Equal(t, EffectAllow, res.Effect)
	res, _ = engine.Evaluate(ctx, Request{Tool: "submit_arv", Executor: "intake"})
	assert.Equal(t, EffectAllow, res.Effect, "executor without a list")
}

func TestDefaultPolicyEngine_InternalURLs(t *testing.T) {
	ctx := context.Background()
	engine := NewDefaultPolicyEngine()

	denied := []string{
		`{"url":"http://127.0.0.1/admin"}`,
		`{"url":"http://localhost:8080/"}`,
		`{"url":"http://10.0.0.7/listing"}`,
		`{"url":"http://[::1]/"}`,
		`{"url":"http://169.254.169.254/latest"}`,
	}
	allowed := []string{
		`{"url":"https://listings.example.com/12-elm"}`,
		`{"url":"https://8.8.8.8/"}`,
		`{"note":"see http://127.0.0.1"}`,
	}
	for _, args := range denied {
		res, err := engine.Evaluate(ctx, Request{Tool: "fetch_listing", Arguments: args})
		require.NoError(t, err)
		assert.Equal(t, EffectDeny, res.Effect, args)
	}
	for _, args := range allowed {
		res, err := engine.Evaluate(ctx, Request{Tool: "fetch_listing", Arguments: args})
		require.NoError(t, err)
		assert.Equal(t, EffectAllow, res.Effect, args)
	}
}
