// Package router classifies free text into an entity-management intent when
// no property is in scope.
package router

import (
	"regexp"
	"strings"

	"github.com/rahul/dealdesk/internal/workflow"
)

// Intent names produced by the router.
const (
	IntentCreateProperty      = "create_property"
	IntentListProperties      = "list_properties"
	IntentSelectProperty      = "select_property"
	IntentDeleteProperty      = "delete_property"
	IntentPortfolioStatus     = "portfolio_status"
	IntentHelp                = "help"
	IntentGeneralConversation = "general_conversation"
)

// Category groups intents that share an acceptance threshold.
type Category string

const (
	CategoryCreate       Category = "create"
	CategoryDestructive  Category = "destructive"
	CategoryNavigate     Category = "navigate"
	CategoryQuery        Category = "query"
	CategoryConversation Category = "conversation"
)

// fallbackConfidence is reported when no rule matches.
const fallbackConfidence = 0.3

// IntentResult is the router's verdict for one utterance.
type IntentResult struct {
	Intent         string  `json:"intent"`
	Confidence     float64 `json:"confidence"`
	TargetExecutor string  `json:"target_executor"`
	// Matched is the rule intent when a match was downgraded below threshold.
	Matched string `json:"matched,omitempty"`
}

// RouteContext carries what the router may know about the session.
type RouteContext struct {
	// KnownEntities are the names of existing properties. Naming one raises
	// the confidence of a navigation match.
	KnownEntities []string
}

// Rule is one ordered pattern. The first matching rule wins.
type Rule struct {
	Intent     string
	Category   Category
	Pattern    *regexp.Regexp
	Confidence float64
	Target     string
}

// Thresholds is the minimum confidence per category for a match to be
// acted on.
type Thresholds map[Category]float64

// DefaultThresholds returns the acceptance thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CategoryCreate:       0.75,
		CategoryDestructive:  0.85,
		CategoryNavigate:     0.75,
		CategoryQuery:        0.6,
		CategoryConversation: 0.5,
	}
}

// DefaultRules returns the ordered rule list. Destructive rules come first so
// "remove the new property" is never read as a creation.
func DefaultRules() []Rule {
	portfolio := workflow.ExecutorPortfolio
	general := workflow.ExecutorGeneral
	return []Rule{
		{IntentDeleteProperty, CategoryDestructive, regexp.MustCompile(`(?i)\b(delete|remove|discard|drop)\b.*\b(property|properties|deal|house|listing)\b`), 0.9, portfolio},
		{IntentDeleteProperty, CategoryDestructive, regexp.MustCompile(`(?i)\b(delete|remove|get rid of)\b`), 0.6, portfolio},
		{IntentCreateProperty, CategoryCreate, regexp.MustCompile(`(?i)\b(create|add|new|start|register)\b.*\b(property|deal|house|listing|home|evaluation)\b`), 0.9, portfolio},
		{IntentCreateProperty, CategoryCreate, regexp.MustCompile(`(?i)\b(i|we)\s+(found|have|got)\s+(a|another)\s+(property|house|deal|place)\b`), 0.7, portfolio},
		{IntentListProperties, CategoryQuery, regexp.MustCompile(`(?i)\b(list|show|which|what)\b.*\b(properties|deals|houses|listings|pipeline)\b`), 0.85, portfolio},
		{IntentSelectProperty, CategoryNavigate, regexp.MustCompile(`(?i)\b(switch\s+to|select|go\s+back\s+to|work\s+on|continue\s+with|open|resume)\b`), 0.8, portfolio},
		{IntentPortfolioStatus, CategoryQuery, regexp.MustCompile(`(?i)\b(status|progress|where\s+are\s+we|how\s+many)\b`), 0.65, general},
		{IntentHelp, CategoryConversation, regexp.MustCompile(`(?i)\b(help|what\s+can\s+you\s+do|how\s+does\s+this\s+work)\b`), 0.7, general},
	}
}

// Router is an ordered, stage-unaware pattern classifier.
type Router struct {
	rules      []Rule
	thresholds Thresholds
}

// New builds a router. Nil rules or thresholds fall back to the defaults;
// thresholds missing a category accept any confidence.
func New(rules []Rule, thresholds Thresholds) *Router {
	if rules == nil {
		rules = DefaultRules()
	}
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	return &Router{rules: rules, thresholds: thresholds}
}

// Classify maps text to an intent, its confidence and the executor that
// should act on it. A match below its category threshold is downgraded to
// general conversation.
func (r *Router) Classify(text string, rc RouteContext) IntentResult {
	text = strings.TrimSpace(text)
	for _, rule := range r.rules {
		if !rule.Pattern.MatchString(text) {
			continue
		}
		conf := rule.Confidence
		if rule.Category == CategoryNavigate && mentionsAny(text, rc.KnownEntities) {
			conf = min(1, conf+0.1)
		}
		if conf < r.thresholds[rule.Category] {
			return IntentResult{
				Intent:         IntentGeneralConversation,
				Confidence:     conf,
				TargetExecutor: workflow.ExecutorGeneral,
				Matched:        rule.Intent,
			}
		}
		return IntentResult{Intent: rule.Intent, Confidence: conf, TargetExecutor: rule.Target}
	}
	return IntentResult{
		Intent:         IntentGeneralConversation,
		Confidence:     fallbackConfidence,
		TargetExecutor: workflow.ExecutorGeneral,
	}
}

func mentionsAny(text string, names []string) bool {
	lower := strings.ToLower(text)
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" && strings.Contains(lower, n) {
			return true
		}
	}
	return false
}
