package agent

import (
	"regexp"
	"strings"

	"github.com/rahul/dealdesk/internal/store"
	"github.com/rahul/dealdesk/internal/workflow"
)

// continuityLookback bounds how many persisted turns the check inspects.
const continuityLookback = 2

// maxAnswerWords is the longest reply still treated as a direct answer.
const maxAnswerWords = 12

// Answer shapes a follow-up question can expect.
const (
	ShapeEmail   = "email"
	ShapeAddress = "address"
	ShapeName    = "name"
	ShapeAmount  = "amount"
	ShapeYesNo   = "yes_no"
)

type questionShape struct {
	shape    string
	question *regexp.Regexp
	answer   func(string) bool
}

var (
	emailRe   = regexp.MustCompile(`(?i)^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)
	addressRe = regexp.MustCompile(`(?i)^\d+[a-z]?\s+[a-z0-9.'\- ]+`)
	yesNoRe   = regexp.MustCompile(`(?i)^(yes|yeah|yep|yup|y|no|nope|nah|n|sure|ok|okay|confirm(ed)?|go ahead|do it|cancel|don't|do not)\b`)

	confirmQuestionRe = regexp.MustCompile(`(?i)(\b(shall|should|do you want|would you like|can i|may i|ok to|okay to|confirm|proceed)\b|\(yes/no\))`)
)

// shapes are checked in order; the first whose question pattern matches
// decides the expected answer.
var shapes = []questionShape{
	{ShapeEmail, regexp.MustCompile(`(?i)\be-?mail\b`), func(s string) bool { return emailRe.MatchString(s) }},
	{ShapeAmount, regexp.MustCompile(`(?i)(\b(price|value|arv|amount|cost|how much|offer)\b|\$)`), isAmountAnswer},
	{ShapeAddress, regexp.MustCompile(`(?i)\b(address|street|located|location)\b`), func(s string) bool { return addressRe.MatchString(s) }},
	{ShapeName, regexp.MustCompile(`(?i)\b(name|call it|called)\b`), isNameAnswer},
	{ShapeYesNo, confirmQuestionRe, func(s string) bool { return yesNoRe.MatchString(s) }},
}

// ContinuityMatch says the turn answers the previous assistant question.
type ContinuityMatch struct {
	Executor string
	Shape    string
	Question string
}

// DetectContinuity decides whether text directly answers the narrow question
// the assistant asked in the last two turns. It is a pure function of its
// arguments.
func DetectContinuity(history []store.Turn, text, lastExecutor string, awaitingConfirmation bool) (ContinuityMatch, bool) {
	text = strings.TrimSpace(text)
	if lastExecutor == "" || text == "" || len(strings.Fields(text)) > maxAnswerWords {
		return ContinuityMatch{}, false
	}
	question, ok := lastQuestion(history)
	if !ok {
		return ContinuityMatch{}, false
	}

	if awaitingConfirmation && yesNoRe.MatchString(text) {
		return ContinuityMatch{Executor: lastExecutor, Shape: ShapeYesNo, Question: question}, true
	}
	for _, s := range shapes {
		if !s.question.MatchString(question) {
			continue
		}
		if s.answer(text) {
			return ContinuityMatch{Executor: lastExecutor, Shape: s.shape, Question: question}, true
		}
		return ContinuityMatch{}, false
	}
	return ContinuityMatch{}, false
}

// lastQuestion returns the final question sentence of the most recent
// assistant text within the lookback window.
func lastQuestion(history []store.Turn) (string, bool) {
	start := len(history) - continuityLookback
	if start < 0 {
		start = 0
	}
	for i := len(history) - 1; i >= start; i-- {
		t := history[i]
		if t.Role != store.RoleAssistant || t.Content == "" {
			continue
		}
		return finalQuestion(t.Content)
	}
	return "", false
}

func finalQuestion(text string) (string, bool) {
	text = strings.TrimSpace(text)
	idx := strings.LastIndex(text, "?")
	if idx < 0 {
		return "", false
	}
	begin := strings.LastIndexAny(text[:idx], ".!?\n") + 1
	return strings.TrimSpace(text[begin : idx+1]), true
}

// IsConfirmationQuestion reports whether text ends by asking the operator
// to confirm an action.
func IsConfirmationQuestion(text string) (string, bool) {
	q, ok := finalQuestion(text)
	if !ok || !confirmQuestionRe.MatchString(q) {
		return "", false
	}
	return q, true
}

func isAmountAnswer(s string) bool {
	return len(workflow.ExtractAmounts(s)) == 1 && len(strings.Fields(s)) <= 4
}

func isNameAnswer(s string) bool {
	return !strings.Contains(s, "?") && len(strings.Fields(s)) <= 6 && !yesNoRe.MatchString(s)
}
