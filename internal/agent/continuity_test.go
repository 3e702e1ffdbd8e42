package agent

import (
	"testing"

	"github.com/rahul/dealdesk/internal/store"
	"github.com/stretchr/testify/assert"
)

func asked(question string) []store.Turn {
	return []store.Turn{
		{Role: store.RoleUser, Content: "add a property"},
		{Role: store.RoleAssistant, Content: "Sure. " + question},
	}
}

func TestDetectContinuity_Shapes(t *testing.T) {
	cases := []struct {
		name     string
		question string
		answer   string
		shape    string
		ok       bool
	}{
		{"email", "What email should I send the contract to?", "jo@example.com", ShapeEmail, true},
		{"email rejects prose", "What email should I send the contract to?", "send it to my work one", "", false},
		{"amount", "What is the asking price?", "$30,000", ShapeAmount, true},
		{"amount rejects two figures", "What is the asking price?", "30k or maybe 35k", "", false},
		{"address", "What is the street address?", "12 Elm St, Springfield", ShapeAddress, true},
		{"name", "What should I call it?", "Maple Court", ShapeName, true},
		{"yes no", "Shall I finalize the deal?", "yes", ShapeYesNo, true},
		{"yes no rejects other", "Shall I finalize the deal?", "what is the ARV again", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, ok := DetectContinuity(asked(tc.question), tc.answer, "portfolio", false)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.shape, m.Shape)
				assert.Equal(t, "portfolio", m.Executor)
				assert.Equal(t, tc.question, m.Question)
			}
		})
	}
}

func TestDetectContinuity_IsPure(t *testing.T) {
	history := asked("What is the asking price?")
	first, ok1 := DetectContinuity(history, "65000", "intake", false)
	second, ok2 := DetectContinuity(history, "65000", "intake", false)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, first, second)
	assert.Len(t, history, 2)
}

func TestDetectContinuity_Limits(t *testing.T) {
	history := asked("What should I call it?")

	_, ok := DetectContinuity(history, "Maple Court", "", false)
	assert.False(t, ok, "no previous executor")

	_, ok = DetectContinuity(history, "call it the big blue house on the corner of fifth and main please", "portfolio", false)
	assert.False(t, ok, "long replies are new requests")

	stale := append(asked("What should I call it?"),
		store.Turn{Role: store.RoleUser, Content: "never mind"},
		store.Turn{Role: store.RoleAssistant, Content: "No problem."},
	)
	_, ok = DetectContinuity(stale, "Maple Court", "portfolio", false)
	assert.False(t, ok, "question outside the lookback window")

	noQuestion := []store.Turn{{Role: store.RoleAssistant, Content: "Saved it."}}
	_, ok = DetectContinuity(noQuestion, "Maple Court", "portfolio", false)
	assert.False(t, ok)
}

func TestDetectContinuity_AwaitingConfirmation(t *testing.T) {
	history := asked("Everything checks out, ready to sign off?")
	_, ok := DetectContinuity(history, "yes", "contract", false)
	assert.False(t, ok, "question does not ask for confirmation")

	m, ok := DetectContinuity(history, "yes", "contract", true)
	assert.True(t, ok)
	assert.Equal(t, ShapeYesNo, m.Shape)
	assert.Equal(t, "contract", m.Executor)
}

func TestIsConfirmationQuestion(t *testing.T) {
	q, ok := IsConfirmationQuestion("The numbers work. Do you want me to finalize 12 Elm St?")
	assert.True(t, ok)
	assert.Equal(t, "Do you want me to finalize 12 Elm St?", q)

	_, ok = IsConfirmationQuestion("What is the ARV?")
	assert.False(t, ok)
	_, ok = IsConfirmationQuestion("Finalized.")
	assert.False(t, ok)
}
