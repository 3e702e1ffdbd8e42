package workflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Stage intents.
const (
	IntentProvideAskingPrice = "provide_asking_price"
	IntentProvideMarketValue = "provide_market_value"
	IntentProvideValuation   = "provide_valuation_inputs"
	IntentProvideInspection  = "provide_inspection"
	IntentProvideTitle       = "provide_title_condition"
	IntentProvideARV         = "provide_arv"
	IntentRequestOverride    = "request_override"
	IntentFinalize           = "finalize_deal"
	IntentReject             = "reject_deal"
	IntentAskNext            = "ask_next_step"
	IntentSignalComplete     = "signal_complete"
	IntentAmbiguous          = "ambiguous"
	IntentUnexpectedAmount   = "unexpected_amount"
	IntentBlockedInput       = "blocked_input"
	IntentGeneral            = "general"
)

// IntentAnalysis is the stage-aware reading of one user utterance.
type IntentAnalysis struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// NeedsClarification reports whether the utterance must not be acted on
// without asking the operator first.
func (a IntentAnalysis) NeedsClarification() bool {
	switch a.Intent {
	case IntentAmbiguous, IntentUnexpectedAmount, IntentBlockedInput:
		return true
	}
	return false
}

var (
	nextStepRe   = regexp.MustCompile(`(?i)\b(what'?s next|what now|next step|what do (i|we) do|where are we|what'?s left|status)\b`)
	completionRe = regexp.MustCompile(`(?i)\b(done|finished|that'?s (all|it)|all set|complete)\b`)
	overrideRe   = regexp.MustCompile(`(?i)\b(override|approve (it )?anyway|proceed anyway|accept the risk|justif\w*)\b`)
	finalizeRe   = regexp.MustCompile(`(?i)\b(finali[sz]e|close the deal|sign (it|the contract)|accept (the )?deal|go ahead|draw up the contract)\b`)
	rejectRe     = regexp.MustCompile(`(?i)\b(reject|walk away|pass on (it|this)|decline|kill the deal)\b`)
	askingHintRe = regexp.MustCompile(`(?i)\b(ask(ing)?|list(ed|ing)?( price)?|seller wants|offer(ed)?)\b`)
	marketHintRe = regexp.MustCompile(`(?i)\b(market|comps?|fmv|appraised|appraisal)\b`)
	arvHintRe    = regexp.MustCompile(`(?i)\b(arv|after[- ]repair|repaired value|resale)\b`)
	titleHintRe  = regexp.MustCompile(`(?i)\b(title|lien|encumbered|clouded|marketable)\b`)
	noDefectsRe  = regexp.MustCompile(`(?i)\b(no (defects|issues|problems)|nothing (wrong|found)|clean inspection)\b`)
	amountRe     = regexp.MustCompile(`(?i)\$?\s?(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d+))?\s*([km])?\b`)
	fillerRe     = regexp.MustCompile(`(?i)\b(it'?s|is|about|around|roughly|approx(imately)?|usd|dollars?|bucks|the|value|price|amount)\b`)
)

// DetectIntentForStage classifies text in the context of p's stage. Phrase
// signals alone never decide: an amount is only read as a field value if the
// current stage is missing that field.
func (v *Validator) DetectIntentForStage(text string, p Property) IntentAnalysis {
	text = strings.TrimSpace(text)
	spec, ok := v.table[p.Stage]
	if !ok {
		return IntentAnalysis{Intent: IntentGeneral, Confidence: 0.1, Reason: fmt.Sprintf("unknown stage %q", p.Stage)}
	}
	missing := toSet(v.Missing(p))
	amounts := ExtractAmounts(text)

	if nextStepRe.MatchString(text) {
		return IntentAnalysis{Intent: IntentAskNext, Confidence: 0.9, Reason: "asks what happens next"}
	}

	if spec.Terminal {
		return IntentAnalysis{Intent: IntentGeneral, Confidence: 0.6, Reason: fmt.Sprintf("property is %s; nothing left to provide", p.Stage)}
	}

	if spec.Blocked {
		switch {
		case rejectRe.MatchString(text):
			return IntentAnalysis{Intent: IntentReject, Confidence: 0.85, Reason: fmt.Sprintf("rejects the deal while blocked at %s", p.Stage)}
		case overrideRe.MatchString(text):
			return IntentAnalysis{Intent: IntentRequestOverride, Confidence: 0.85, Reason: fmt.Sprintf("requests an override of %s", p.Stage)}
		case len(amounts) > 0:
			return IntentAnalysis{Intent: IntentBlockedInput, Confidence: 0.2, Reason: fmt.Sprintf("property is blocked at %s; new figures cannot advance it without an override", p.Stage)}
		}
		return IntentAnalysis{Intent: IntentGeneral, Confidence: 0.4, Reason: fmt.Sprintf("blocked at %s; waiting for an override decision", p.Stage)}
	}

	if missing[FieldDefects] || missing[FieldTitleCondition] {
		if a, ok := v.inspectionIntent(text, missing); ok {
			return a
		}
	}

	if len(amounts) > 0 {
		return v.amountIntent(text, amounts, missing, p.Stage)
	}

	if p.Stage == StageRulePassed2 {
		if rejectRe.MatchString(text) {
			return IntentAnalysis{Intent: IntentReject, Confidence: 0.85, Reason: "rejects a deal that passed every check"}
		}
		if finalizeRe.MatchString(text) {
			return IntentAnalysis{Intent: IntentFinalize, Confidence: 0.85, Reason: "confirms finalizing the deal"}
		}
	}

	if completionRe.MatchString(text) {
		if len(missing) == 0 {
			return IntentAnalysis{Intent: IntentSignalComplete, Confidence: 0.8, Reason: fmt.Sprintf("signals completion and stage %s has everything it needs", p.Stage)}
		}
		return IntentAnalysis{Intent: IntentAmbiguous, Confidence: 0.3, Reason: fmt.Sprintf("signals completion but stage %s is still missing %s", p.Stage, joinSet(missing, spec.Required))}
	}

	return IntentAnalysis{Intent: IntentGeneral, Confidence: 0.5, Reason: "no stage-relevant signal"}
}

func (v *Validator) inspectionIntent(text string, missing map[string]bool) (IntentAnalysis, bool) {
	defects := noDefectsRe.MatchString(text)
	for _, d := range v.defects {
		if d.re.MatchString(text) {
			defects = true
			break
		}
	}
	title := titleHintRe.MatchString(text)
	switch {
	case defects && missing[FieldDefects]:
		return IntentAnalysis{Intent: IntentProvideInspection, Confidence: 0.85, Reason: "reports inspection findings while the stage is missing them"}, true
	case title && missing[FieldTitleCondition]:
		return IntentAnalysis{Intent: IntentProvideTitle, Confidence: 0.8, Reason: "reports the title condition while the stage is missing it"}, true
	}
	return IntentAnalysis{}, false
}

func (v *Validator) amountIntent(text string, amounts []float64, missing map[string]bool, stage Stage) IntentAnalysis {
	if len(amounts) >= 2 && missing[FieldAskingPrice] && missing[FieldMarketValue] {
		return IntentAnalysis{Intent: IntentProvideValuation, Confidence: 0.8, Reason: "two amounts while asking price and market value are both missing"}
	}

	if hinted := hintedField(text); hinted != "" {
		if missing[hinted] {
			return IntentAnalysis{Intent: intentForField(hinted), Confidence: 0.9, Reason: fmt.Sprintf("amount labelled as %s, which stage %s is missing", hinted, stage)}
		}
		return IntentAnalysis{Intent: IntentUnexpectedAmount, Confidence: 0.25, Reason: fmt.Sprintf("amount labelled as %s, which stage %s does not expect", hinted, stage)}
	}

	var candidates []string
	for _, f := range []string{FieldAskingPrice, FieldMarketValue, FieldAfterRepairValue} {
		if missing[f] {
			candidates = append(candidates, f)
		}
	}
	bare := len(amounts) == 1 && isBareAmount(text)
	switch {
	case len(candidates) == 0 && missing[FieldDefects]:
		return IntentAnalysis{Intent: IntentAmbiguous, Confidence: 0.3, Reason: "an amount during inspection could be a repair cost; ask which defect it belongs to"}
	case len(candidates) == 0:
		return IntentAnalysis{Intent: IntentUnexpectedAmount, Confidence: 0.2, Reason: fmt.Sprintf("stage %s is not missing any amount", stage)}
	case !bare:
		return IntentAnalysis{Intent: IntentAmbiguous, Confidence: 0.3, Reason: fmt.Sprintf("unlabelled amount; stage %s is missing %s", stage, strings.Join(candidates, " and "))}
	case len(candidates) == 1:
		return IntentAnalysis{Intent: intentForField(candidates[0]), Confidence: 0.85, Reason: fmt.Sprintf("bare amount and %s is the only amount stage %s is missing", candidates[0], stage)}
	}
	return IntentAnalysis{Intent: IntentAmbiguous, Confidence: 0.3, Reason: fmt.Sprintf("bare amount could be %s", strings.Join(candidates, " or "))}
}

func hintedField(text string) string {
	switch {
	case arvHintRe.MatchString(text):
		return FieldAfterRepairValue
	case marketHintRe.MatchString(text):
		return FieldMarketValue
	case askingHintRe.MatchString(text):
		return FieldAskingPrice
	}
	return ""
}

func intentForField(field string) string {
	switch field {
	case FieldAskingPrice:
		return IntentProvideAskingPrice
	case FieldMarketValue:
		return IntentProvideMarketValue
	case FieldAfterRepairValue:
		return IntentProvideARV
	}
	return IntentGeneral
}

// ExtractAmounts returns every monetary amount in text, expanding k/m suffixes.
func ExtractAmounts(text string) []float64 {
	var out []float64
	for _, m := range amountRe.FindAllStringSubmatch(text, -1) {
		whole := strings.ReplaceAll(m[1], ",", "")
		s := whole
		if m[2] != "" {
			s += "." + m[2]
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			continue
		}
		switch strings.ToLower(m[3]) {
		case "k":
			n *= 1_000
		case "m":
			n *= 1_000_000
		}
		out = append(out, n)
	}
	return out
}

// isBareAmount reports whether text is nothing but an amount and filler.
func isBareAmount(text string) bool {
	rest := amountRe.ReplaceAllString(text, " ")
	rest = fillerRe.ReplaceAllString(rest, " ")
	rest = strings.Trim(rest, " \t.,!:;-~")
	return strings.TrimSpace(rest) == ""
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}

// joinSet renders the members of set in the order given by order.
func joinSet(set map[string]bool, order []string) string {
	var parts []string
	for _, f := range order {
		if set[f] {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, ", ")
}
