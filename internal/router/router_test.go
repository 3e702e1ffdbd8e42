package router

import (
	"testing"

	"github.com/rahul/dealdesk/internal/workflow"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	r := New(nil, nil)
	cases := []struct {
		text   string
		intent string
		target string
	}{
		{"create a new property", IntentCreateProperty, workflow.ExecutorPortfolio},
		{"add a house at 12 Elm St", IntentCreateProperty, workflow.ExecutorPortfolio},
		{"list properties", IntentListProperties, workflow.ExecutorPortfolio},
		{"which deals do we have open?", IntentListProperties, workflow.ExecutorPortfolio},
		{"switch to 9 Oak Ave", IntentSelectProperty, workflow.ExecutorPortfolio},
		{"delete the property on Elm", IntentDeleteProperty, workflow.ExecutorPortfolio},
		{"remove the new property", IntentDeleteProperty, workflow.ExecutorPortfolio},
		{"what can you do?", IntentHelp, workflow.ExecutorGeneral},
		{"good morning", IntentGeneralConversation, workflow.ExecutorGeneral},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			got := r.Classify(tc.text, RouteContext{})
			assert.Equal(t, tc.intent, got.Intent)
			assert.Equal(t, tc.target, got.TargetExecutor)
			assert.GreaterOrEqual(t, got.Confidence, 0.0)
			assert.LessOrEqual(t, got.Confidence, 1.0)
		})
	}
}

func TestClassify_BelowThresholdIsDowngraded(t *testing.T) {
	r := New(nil, nil)

	got := r.Classify("get rid of it", RouteContext{})
	assert.Equal(t, IntentGeneralConversation, got.Intent)
	assert.Equal(t, workflow.ExecutorGeneral, got.TargetExecutor)
	assert.Equal(t, IntentDeleteProperty, got.Matched)
	assert.Equal(t, 0.6, got.Confidence)

	got = r.Classify("we found a house yesterday", RouteContext{})
	assert.Equal(t, IntentGeneralConversation, got.Intent)
	assert.Equal(t, IntentCreateProperty, got.Matched)
}

func TestClassify_FallbackConfidence(t *testing.T) {
	got := New(nil, nil).Classify("the weather is nice", RouteContext{})
	assert.Equal(t, IntentGeneralConversation, got.Intent)
	assert.Equal(t, fallbackConfidence, got.Confidence)
	assert.Empty(t, got.Matched)
}

func TestClassify_KnownEntityRaisesNavigation(t *testing.T) {
	strict := Thresholds{CategoryNavigate: 0.85}
	r := New(nil, strict)

	assert.Equal(t, IntentGeneralConversation, r.Classify("open 12 Elm St", RouteContext{}).Intent)

	got := r.Classify("open 12 Elm St", RouteContext{KnownEntities: []string{"12 elm st"}})
	assert.Equal(t, IntentSelectProperty, got.Intent)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
}

func TestClassify_Deterministic(t *testing.T) {
	r := New(nil, nil)
	assert.Equal(t, r.Classify("list my deals", RouteContext{}), r.Classify("list my deals", RouteContext{}))
}
