package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectIntentForStage_SameAmountDifferentStages(t *testing.T) {
	v := newTestValidator()

	needsMarket := Property{ID: "p1", Stage: StageAwaitingInputs, AskingPrice: Float(30000)}
	needsARV := Property{
		ID:             "p2",
		Stage:          StageInspected,
		AskingPrice:    Float(30000),
		MarketValue:    Float(50000),
		RepairEstimate: Float(5500),
		TitleCondition: TitleClear,
	}

	a := v.DetectIntentForStage("65000", needsMarket)
	b := v.DetectIntentForStage("65000", needsARV)
	assert.Equal(t, IntentProvideMarketValue, a.Intent)
	assert.Equal(t, IntentProvideARV, b.Intent)
	assert.NotEqual(t, a.Intent, b.Intent)
}

func TestDetectIntentForStage(t *testing.T) {
	v := newTestValidator()
	fresh := Property{ID: "p", Stage: StageAwaitingInputs}
	inspection := Property{ID: "p", Stage: StageRulePassed1, AskingPrice: Float(30000), MarketValue: Float(50000)}
	ready := Property{
		ID: "p", Stage: StageRulePassed2,
		AskingPrice: Float(30000), MarketValue: Float(50000),
		RepairEstimate: Float(5500), TitleCondition: TitleClear, AfterRepairValue: Float(65000),
	}
	blocked := ready
	blocked.Stage = StageBlockedReview2

	cases := []struct {
		name   string
		text   string
		p      Property
		intent string
	}{
		{"bare amount with two candidates", "65000", fresh, IntentAmbiguous},
		{"two amounts", "asking 30k, comps say $50,000", fresh, IntentProvideValuation},
		{"labelled asking", "they are asking $30,000", fresh, IntentProvideAskingPrice},
		{"labelled arv at intake", "ARV is 65000", fresh, IntentUnexpectedAmount},
		{"defects", "inspector found roof and hvac problems", inspection, IntentProvideInspection},
		{"title", "title came back clean", inspection, IntentProvideTitle},
		{"bare amount during inspection", "3000", inspection, IntentAmbiguous},
		{"finalize", "looks good, finalize it", ready, IntentFinalize},
		{"reject when ready", "let's walk away", ready, IntentReject},
		{"amount when nothing missing", "70000", ready, IntentUnexpectedAmount},
		{"next step", "what's next?", inspection, IntentAskNext},
		{"override", "I want to override this", blocked, IntentRequestOverride},
		{"amount while blocked", "65000", blocked, IntentBlockedInput},
		{"completion with gaps", "done", inspection, IntentAmbiguous},
		{"chit chat", "thanks!", fresh, IntentGeneral},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := v.DetectIntentForStage(tc.text, tc.p)
			assert.Equal(t, tc.intent, got.Intent, "reason: %s", got.Reason)
			assert.GreaterOrEqual(t, got.Confidence, 0.0)
			assert.LessOrEqual(t, got.Confidence, 1.0)
			assert.NotEmpty(t, got.Reason)
		})
	}
}

func TestDetectIntentForStage_ClarificationFlag(t *testing.T) {
	v := newTestValidator()
	p := Property{ID: "p", Stage: StageAwaitingInputs}
	assert.True(t, v.DetectIntentForStage("65000", p).NeedsClarification())
	assert.False(t, v.DetectIntentForStage("asking 30000 market 50000", p).NeedsClarification())
}

func TestExtractAmounts(t *testing.T) {
	cases := map[string][]float64{
		"65000":                 {65000},
		"$65,000":               {65000},
		"65k":                   {65000},
		"1.2m":                  {1200000},
		"asking 30k market 50k": {30000, 50000},
		"no numbers here":       nil,
	}
	for in, want := range cases {
		assert.Equal(t, want, ExtractAmounts(in), in)
	}
}
