// Package workflow implements the acquisition stage table, its rules and the
// stage-aware validator that every turn consults while a property is in scope.
package workflow

// Stage is a named point in the acquisition workflow.
type Stage string

const (
	StageAwaitingInputs Stage = "awaiting-inputs"
	StageBlockedReview1 Stage = "blocked-review-1"
	StageRulePassed1    Stage = "rule-passed-1"
	StageBlockedTitle   Stage = "blocked-title"
	StageInspected      Stage = "inspected"
	StageBlockedReview2 Stage = "blocked-review-2"
	StageRulePassed2    Stage = "rule-passed-2"
	StageFinalized      Stage = "finalized"
	StageRejected       Stage = "rejected"
)

// Executor names. An executor is a tool loop bound to a prompt fragment and a
// tool subset.
const (
	ExecutorIntake       = "intake"
	ExecutorInspection   = "inspection"
	ExecutorUnderwriting = "underwriting"
	ExecutorContract     = "contract"
	ExecutorReview       = "review"
	ExecutorPortfolio    = "portfolio"
	ExecutorGeneral      = "general"
)

// Field names used in missing-field sets.
const (
	FieldAskingPrice      = "asking_price"
	FieldMarketValue      = "market_value"
	FieldDefects          = "defects"
	FieldTitleCondition   = "title_condition"
	FieldAfterRepairValue = "after_repair_value"
	FieldOverride         = "override_justification"
)

// StageSpec is one row of the stage-transition table.
type StageSpec struct {
	Stage      Stage
	Required   []string
	OnComplete Stage
	OnFailure  Stage
	Executor   string
	Blocked    bool
	Terminal   bool
	// rank orders stages along the forward path. Blocked stages share the
	// rank of the stage they block.
	rank int
}

// Table maps every stage to its spec.
type Table map[Stage]StageSpec

// DefaultTable returns the acquisition table.
func DefaultTable() Table {
	return Table{
		StageAwaitingInputs: {
			Stage:      StageAwaitingInputs,
			Required:   []string{FieldAskingPrice, FieldMarketValue},
			OnComplete: StageRulePassed1,
			OnFailure:  StageBlockedReview1,
			Executor:   ExecutorIntake,
			rank:       0,
		},
		StageBlockedReview1: {
			Stage:      StageBlockedReview1,
			Required:   []string{FieldOverride},
			OnComplete: StageRulePassed1,
			OnFailure:  StageRejected,
			Executor:   ExecutorReview,
			Blocked:    true,
			rank:       0,
		},
		StageRulePassed1: {
			Stage:      StageRulePassed1,
			Required:   []string{FieldDefects, FieldTitleCondition},
			OnComplete: StageInspected,
			OnFailure:  StageBlockedTitle,
			Executor:   ExecutorInspection,
			rank:       1,
		},
		StageBlockedTitle: {
			Stage:      StageBlockedTitle,
			Required:   []string{FieldOverride},
			OnComplete: StageInspected,
			OnFailure:  StageRejected,
			Executor:   ExecutorReview,
			Blocked:    true,
			rank:       1,
		},
		StageInspected: {
			Stage:      StageInspected,
			Required:   []string{FieldAfterRepairValue},
			OnComplete: StageRulePassed2,
			OnFailure:  StageBlockedReview2,
			Executor:   ExecutorUnderwriting,
			rank:       2,
		},
		StageBlockedReview2: {
			Stage:      StageBlockedReview2,
			Required:   []string{FieldOverride},
			OnComplete: StageRulePassed2,
			OnFailure:  StageRejected,
			Executor:   ExecutorReview,
			Blocked:    true,
			rank:       2,
		},
		StageRulePassed2: {
			Stage:      StageRulePassed2,
			OnComplete: StageFinalized,
			OnFailure:  StageRejected,
			Executor:   ExecutorContract,
			rank:       3,
		},
		StageFinalized: {
			Stage:    StageFinalized,
			Executor: ExecutorGeneral,
			Terminal: true,
			rank:     4,
		},
		StageRejected: {
			Stage:    StageRejected,
			Executor: ExecutorGeneral,
			Terminal: true,
			rank:     4,
		},
	}
}

// IsValidTransition reports whether to is a declared successor of from.
func (t Table) IsValidTransition(from, to Stage) bool {
	spec, ok := t[from]
	if !ok || spec.Terminal {
		return false
	}
	return to == spec.OnComplete || to == spec.OnFailure
}

// Successors lists the declared successors of s.
func (t Table) Successors(s Stage) []Stage {
	spec, ok := t[s]
	if !ok || spec.Terminal {
		return nil
	}
	return []Stage{spec.OnComplete, spec.OnFailure}
}
