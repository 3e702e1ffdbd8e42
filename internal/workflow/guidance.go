package workflow

import (
	"fmt"
	"strings"
)

// GuidanceText tells the executor exactly what to ask for next so the
// reasoning engine asks a deterministic question instead of improvising.
func (v *Validator) GuidanceText(p Property) string {
	name := p.DisplayName()
	missing := toSet(v.Missing(p))

	switch p.Stage {
	case StageAwaitingInputs:
		switch {
		case missing[FieldAskingPrice] && missing[FieldMarketValue]:
			return fmt.Sprintf("Ask for the asking price and the current market value of %s. Record them with submit_valuation.", name)
		case missing[FieldMarketValue]:
			return fmt.Sprintf("Asking price %s is recorded. Ask for the current market value of %s and record it with submit_valuation.", money(*p.AskingPrice), name)
		case missing[FieldAskingPrice]:
			return fmt.Sprintf("Market value %s is recorded. Ask for the asking price of %s and record it with submit_valuation.", money(*p.MarketValue), name)
		}
		return fmt.Sprintf("Asking price and market value of %s are recorded. Call submit_valuation to run the valuation check.", name)

	case StageRulePassed1:
		switch {
		case missing[FieldDefects] && missing[FieldTitleCondition]:
			return fmt.Sprintf("Valuation passed for %s. Ask for the inspection results: the list of defects found and the title condition (clear, clouded or defective). Record both with submit_inspection.", name)
		case missing[FieldDefects]:
			return fmt.Sprintf("Title condition of %s is %s. Ask for the list of defects found during inspection and record them with submit_inspection.", name, p.TitleCondition)
		case missing[FieldTitleCondition]:
			return fmt.Sprintf("Inspection defects of %s are recorded. Ask for the title condition (clear, clouded or defective) and record it with submit_inspection.", name)
		}
		return fmt.Sprintf("Inspection data for %s is recorded. Call submit_inspection to run the inspection check.", name)

	case StageInspected:
		return fmt.Sprintf("Inspection of %s is recorded with a repair estimate of %s. Ask for the after-repair value (ARV) and record it with submit_arv.", name, money(deref(p.RepairEstimate)))

	case StageRulePassed2:
		total, _ := p.TotalCost()
		return fmt.Sprintf("All checks passed for %s: total cost %s is within %.0f%% of ARV %s. Ask the operator to confirm, then call finalize_deal with decision accept or reject.",
			name, money(total), v.rules.MaxCostToARVRatio*100, money(deref(p.AfterRepairValue)))

	case StageBlockedReview1, StageBlockedTitle, StageBlockedReview2:
		return fmt.Sprintf("%s is blocked at %s because %s. Do not record new figures. Ask whether to override (a written justification of at least %d characters is required) or reject, then call override_block.",
			name, p.Stage, v.blockReason(p), v.rules.MinOverrideJustification)

	case StageFinalized:
		return fmt.Sprintf("The deal for %s is finalized. Nothing else is required; answer questions about it only.", name)

	case StageRejected:
		note := ""
		if p.OverrideNote != "" {
			note = fmt.Sprintf(" (%s)", strings.TrimSpace(p.OverrideNote))
		}
		return fmt.Sprintf("The deal for %s was rejected%s. Nothing else can change it; offer to start a new property instead.", name, note)
	}
	return fmt.Sprintf("Property %s is at %s. Describe its status and ask what the operator wants to do.", name, p.Stage)
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
