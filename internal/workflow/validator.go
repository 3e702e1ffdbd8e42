package workflow

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// StageValidation describes where a property stands and who handles it next.
type StageValidation struct {
	Stage               Stage    `json:"stage"`
	IsComplete          bool     `json:"is_complete"`
	MissingFields       []string `json:"missing_fields"`
	RecommendedExecutor string   `json:"recommended_executor"`
	GuidanceText        string   `json:"guidance_text"`
}

// Validator evaluates properties against the stage table. Every method is a
// pure function of its arguments and the validator's immutable table and
// rules.
type Validator struct {
	table   Table
	rules   Rules
	defects []defectMatcher
}

type defectMatcher struct {
	name string
	re   *regexp.Regexp
}

// NewValidator creates a validator. A nil table means DefaultTable.
func NewValidator(table Table, rules Rules) *Validator {
	if table == nil {
		table = DefaultTable()
	}
	if rules.RepairCosts == nil {
		rules.RepairCosts = map[string]float64{}
	}
	costs := make(map[string]float64, len(rules.RepairCosts))
	for k, c := range rules.RepairCosts {
		costs[NormalizeDefect(k)] = c
	}
	rules.RepairCosts = costs

	v := &Validator{table: table, rules: rules}
	for _, name := range v.KnownDefects() {
		v.defects = append(v.defects, defectMatcher{
			name: name,
			re:   regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`),
		})
	}
	return v
}

// Table returns the stage table.
func (v *Validator) Table() Table {
	return v.table
}

// KnownDefects lists the defects with a standard repair cost.
func (v *Validator) KnownDefects() []string {
	out := make([]string, 0, len(v.rules.RepairCosts))
	for k := range v.rules.RepairCosts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsValidTransition reports whether to is a declared successor of from.
func (v *Validator) IsValidTransition(from, to Stage) bool {
	return v.table.IsValidTransition(from, to)
}

// Validate reports the active stage, its missing fields and the executor that
// should handle the next turn.
func (v *Validator) Validate(p Property) StageValidation {
	spec, ok := v.table[p.Stage]
	if !ok {
		return StageValidation{
			Stage:               p.Stage,
			RecommendedExecutor: ExecutorGeneral,
			GuidanceText:        fmt.Sprintf("Property %s has an unrecognised stage %q. Do not change it; tell the operator it needs manual attention.", p.DisplayName(), p.Stage),
		}
	}
	missing := v.Missing(p)
	return StageValidation{
		Stage:               p.Stage,
		IsComplete:          len(missing) == 0,
		MissingFields:       missing,
		RecommendedExecutor: spec.Executor,
		GuidanceText:        v.GuidanceText(p),
	}
}

// Missing lists the required fields of p's stage that are not yet populated.
func (v *Validator) Missing(p Property) []string {
	spec, ok := v.table[p.Stage]
	if !ok {
		return nil
	}
	missing := []string{}
	for _, f := range spec.Required {
		if !v.populated(p, f) {
			missing = append(missing, f)
		}
	}
	return missing
}

func (v *Validator) populated(p Property, field string) bool {
	switch field {
	case FieldAskingPrice:
		return p.AskingPrice != nil
	case FieldMarketValue:
		return p.MarketValue != nil
	case FieldDefects:
		return p.Inspected()
	case FieldTitleCondition:
		return p.TitleCondition != TitleUnknown
	case FieldAfterRepairValue:
		return p.AfterRepairValue != nil
	case FieldOverride:
		// A blocked stage is left the moment an override is recorded.
		return false
	}
	return false
}

// RequireStage fails unless p is exactly at want. The error names the stage
// that has to be completed first, or the block that has to be overridden.
func (v *Validator) RequireStage(p Property, want Stage) error {
	if p.Stage == want {
		return nil
	}
	spec, ok := v.table[p.Stage]
	if !ok {
		return stageErr(ErrUnknownStage, p.Stage, "unknown stage %q", p.Stage)
	}
	wantSpec, ok := v.table[want]
	if !ok {
		return stageErr(ErrUnknownStage, want, "unknown stage %q", want)
	}
	switch {
	case spec.Terminal:
		return stageErr(ErrTerminal, p.Stage, "property %s is %s; no further changes are possible", p.DisplayName(), p.Stage)
	case spec.Blocked:
		return v.blockedError(p)
	case spec.rank < wantSpec.rank:
		missing := v.Missing(p)
		msg := fmt.Sprintf("this step requires stage %s but property %s is at %s; complete %s first", want, p.DisplayName(), p.Stage, p.Stage)
		if len(missing) > 0 {
			msg += fmt.Sprintf(" (missing %s)", strings.Join(missing, ", "))
		}
		return &StageError{Kind: ErrPrecondition.Kind, Stage: p.Stage, Want: want, Missing: missing, Message: msg}
	default:
		return &StageError{
			Kind:    ErrPrecondition.Kind,
			Stage:   p.Stage,
			Want:    want,
			Message: fmt.Sprintf("stage %s is already complete for property %s (now at %s)", want, p.DisplayName(), p.Stage),
		}
	}
}

// RequireBlocked fails unless p is at a blocked stage.
func (v *Validator) RequireBlocked(p Property) error {
	spec, ok := v.table[p.Stage]
	if !ok {
		return stageErr(ErrUnknownStage, p.Stage, "unknown stage %q", p.Stage)
	}
	if !spec.Blocked {
		return stageErr(ErrPrecondition, p.Stage, "property %s is at %s, which is not blocked; overrides only apply to blocked stages", p.DisplayName(), p.Stage)
	}
	return nil
}
