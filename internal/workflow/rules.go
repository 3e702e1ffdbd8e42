package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

// Rules holds the business thresholds applied at each checkpoint.
type Rules struct {
	// MaxAskToMarketRatio caps asking price relative to market value.
	MaxAskToMarketRatio float64
	// MaxCostToARVRatio caps asking price plus repairs relative to ARV.
	MaxCostToARVRatio float64
	// RepairCosts maps a defect name to its standard repair cost.
	RepairCosts map[string]float64
	// MinOverrideJustification is the minimum length of an override note.
	MinOverrideJustification int
}

// DefaultRules returns the thresholds the acquisition desk uses out of the box.
func DefaultRules() Rules {
	return Rules{
		MaxAskToMarketRatio: 1.0,
		MaxCostToARVRatio:   0.8,
		RepairCosts: map[string]float64{
			"roof":       3000,
			"hvac":       2500,
			"plumbing":   1800,
			"electrical": 2200,
			"foundation": 8000,
			"windows":    1500,
			"flooring":   1200,
			"kitchen":    4000,
			"bathroom":   2500,
			"paint":      900,
		},
		MinOverrideJustification: 10,
	}
}

// Decision is the outcome of evaluating a checkpoint.
type Decision struct {
	From   Stage
	To     Stage
	Passed bool
	Reason string
}

// NormalizeDefect lowercases and trims a defect name.
func NormalizeDefect(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}

// RepairEstimate sums the cost of every defect. An explicit cost wins over
// the standard table; a defect with neither is an error so the caller asks
// instead of guessing.
func (v *Validator) RepairEstimate(defects []string, explicit map[string]float64) (float64, error) {
	var total float64
	var unknown []string
	for _, d := range defects {
		name := NormalizeDefect(d)
		if name == "" {
			continue
		}
		if c, ok := explicit[name]; ok {
			if c < 0 {
				return 0, stageErr(ErrRuleInput, "", "repair cost for %q must not be negative", name)
			}
			total += c
			continue
		}
		if c, ok := v.rules.RepairCosts[name]; ok {
			total += c
			continue
		}
		unknown = append(unknown, name)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return 0, &StageError{
			Kind:    ErrRuleInput.Kind,
			Missing: unknown,
			Message: fmt.Sprintf("no standard repair cost for %s; ask for an explicit cost", strings.Join(unknown, ", ")),
		}
	}
	return total, nil
}

// Advance evaluates the checkpoint of p's current stage and returns the
// successor it leads to. It never mutates p.
func (v *Validator) Advance(p Property) (Decision, error) {
	spec, ok := v.table[p.Stage]
	if !ok {
		return Decision{}, stageErr(ErrUnknownStage, p.Stage, "unknown stage %q", p.Stage)
	}
	if spec.Terminal {
		return Decision{}, stageErr(ErrTerminal, p.Stage, "property %s is %s; no further changes are possible", p.DisplayName(), p.Stage)
	}
	if spec.Blocked {
		return Decision{}, v.blockedError(p)
	}
	if missing := v.Missing(p); len(missing) > 0 {
		return Decision{}, &StageError{
			Kind:    ErrIncomplete.Kind,
			Stage:   p.Stage,
			Missing: missing,
			Message: fmt.Sprintf("stage %s is missing %s", p.Stage, strings.Join(missing, ", ")),
		}
	}

	passed, reason := v.check(p)
	d := Decision{From: p.Stage, Passed: passed, Reason: reason}
	if passed {
		d.To = spec.OnComplete
	} else {
		d.To = spec.OnFailure
	}
	if !v.table.IsValidTransition(d.From, d.To) {
		return Decision{}, stageErr(ErrInvalidTransition, p.Stage, "illegal transition %s -> %s", d.From, d.To)
	}
	return d, nil
}

// check applies the rule owned by p's stage.
func (v *Validator) check(p Property) (bool, string) {
	switch p.Stage {
	case StageAwaitingInputs:
		return v.checkAskToMarket(p)
	case StageRulePassed1:
		if p.TitleCondition != TitleClear {
			return false, fmt.Sprintf("title is %s", p.TitleCondition)
		}
		return true, "title is clear"
	case StageInspected:
		return v.checkCostToARV(p)
	case StageRulePassed2:
		if p.OverrideNote != "" {
			return true, fmt.Sprintf("override on record: %s", p.OverrideNote)
		}
		if ok, reason := v.checkAskToMarket(p); !ok {
			return false, reason
		}
		return v.checkCostToARV(p)
	}
	return true, ""
}

func (v *Validator) checkAskToMarket(p Property) (bool, string) {
	limit := *p.MarketValue * v.rules.MaxAskToMarketRatio
	if *p.AskingPrice > limit {
		return false, fmt.Sprintf("asking price %s exceeds %s (%.0f%% of market value %s)",
			money(*p.AskingPrice), money(limit), v.rules.MaxAskToMarketRatio*100, money(*p.MarketValue))
	}
	return true, fmt.Sprintf("asking price %s is within %s", money(*p.AskingPrice), money(limit))
}

func (v *Validator) checkCostToARV(p Property) (bool, string) {
	total, _ := p.TotalCost()
	limit := *p.AfterRepairValue * v.rules.MaxCostToARVRatio
	if total > limit {
		return false, fmt.Sprintf("total cost %s exceeds %s (%.0f%% of ARV %s)",
			money(total), money(limit), v.rules.MaxCostToARVRatio*100, money(*p.AfterRepairValue))
	}
	return true, fmt.Sprintf("total cost %s is within %s (%.0f%% of ARV %s)",
		money(total), money(limit), v.rules.MaxCostToARVRatio*100, money(*p.AfterRepairValue))
}

// Override resolves a blocked stage. approve moves to the stage the block
// guards; otherwise the deal is rejected. A justification is always required.
func (v *Validator) Override(p Property, justification string, approve bool) (Decision, error) {
	if err := v.RequireBlocked(p); err != nil {
		return Decision{}, err
	}
	spec := v.table[p.Stage]
	justification = strings.TrimSpace(justification)
	if len(justification) < v.rules.MinOverrideJustification {
		return Decision{}, &StageError{
			Kind:    ErrRuleInput.Kind,
			Stage:   p.Stage,
			Missing: []string{FieldOverride},
			Message: fmt.Sprintf("an override of %s needs a justification of at least %d characters", p.Stage, v.rules.MinOverrideJustification),
		}
	}
	d := Decision{From: p.Stage, Passed: approve, Reason: justification}
	if approve {
		d.To = spec.OnComplete
	} else {
		d.To = spec.OnFailure
	}
	if !v.table.IsValidTransition(d.From, d.To) {
		return Decision{}, stageErr(ErrInvalidTransition, p.Stage, "illegal transition %s -> %s", d.From, d.To)
	}
	return d, nil
}

// Finalize closes a deal that passed every checkpoint. accept re-checks the
// rules against the persisted figures unless an override is on record; a
// failed re-check rejects.
func (v *Validator) Finalize(p Property, accept bool) (Decision, error) {
	if err := v.RequireStage(p, StageRulePassed2); err != nil {
		return Decision{}, err
	}
	if !accept {
		return Decision{From: p.Stage, To: StageRejected, Reason: "rejected by operator"}, nil
	}
	return v.Advance(p)
}

func (v *Validator) blockedError(p Property) error {
	return &StageError{
		Kind:    ErrBlocked.Kind,
		Stage:   p.Stage,
		Missing: []string{FieldOverride},
		Message: fmt.Sprintf("property %s is blocked at %s (%s); call override_block with a justification before it can advance",
			p.DisplayName(), p.Stage, v.blockReason(p)),
	}
}

// blockReason re-derives why a blocked stage was entered.
func (v *Validator) blockReason(p Property) string {
	switch p.Stage {
	case StageBlockedReview1:
		if p.AskingPrice != nil && p.MarketValue != nil {
			_, reason := v.checkAskToMarket(p)
			return reason
		}
	case StageBlockedTitle:
		if p.TitleCondition != TitleUnknown {
			return fmt.Sprintf("title is %s", p.TitleCondition)
		}
	case StageBlockedReview2:
		if _, ok := p.TotalCost(); ok && p.AfterRepairValue != nil {
			_, reason := v.checkCostToARV(p)
			return reason
		}
	}
	return "manual review required"
}

func money(v float64) string {
	return "$" + humanize.Commaf(v)
}
