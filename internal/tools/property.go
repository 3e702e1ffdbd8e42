package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rahul/dealdesk/internal/store"
	"github.com/rahul/dealdesk/internal/workflow"
)

// PropertyStore is the persistence the property tools need.
type PropertyStore interface {
	Create(ctx context.Context, p workflow.Property) (*workflow.Property, error)
	Get(ctx context.Context, id string) (*workflow.Property, error)
	FindByName(ctx context.Context, name string) (*workflow.Property, error)
	List(ctx context.Context) ([]workflow.Property, error)
	Update(ctx context.Context, p workflow.Property, expectedStage workflow.Stage) (*workflow.Property, error)
	Delete(ctx context.Context, id string) error
}

// RegisterPropertyTools adds every property tool to r.
func RegisterPropertyTools(r *Registry, repo PropertyStore, v *workflow.Validator) {
	base := propertyTool{repo: repo, v: v}
	for _, t := range []Tool{
		&CreatePropertyTool{base},
		&ListPropertiesTool{base},
		&SelectPropertyTool{base},
		&DeletePropertyTool{base},
		&GetPropertyTool{base},
		&SubmitValuationTool{base},
		&SubmitInspectionTool{base},
		&SubmitARVTool{base},
		&FinalizeDealTool{base},
		&OverrideBlockTool{base},
	} {
		r.Register(t)
	}
}

var propertyIDField = Field{
	Name:        "property_id",
	Type:        TypeString,
	Description: "Property id. Defaults to the active property.",
}

type propertyTool struct {
	repo PropertyStore
	v    *workflow.Validator
}

// active loads the property named by property_id or the scope's active one.
func (b propertyTool) active(ctx context.Context, tool string, args Args) (*workflow.Property, error) {
	id := args.String("property_id")
	if id == "" {
		id = ScopeFrom(ctx).EntityRef
	}
	if id == "" {
		return nil, &ValidationError{Tool: tool, Message: "no active property; create or select one first"}
	}
	p, err := b.repo.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &ValidationError{Tool: tool, Message: fmt.Sprintf("property %s does not exist", id)}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: load property: %w", tool, err)
	}
	return p, nil
}

// lookup resolves a property by id first, then by name.
func (b propertyTool) lookup(ctx context.Context, tool, ref string) (*workflow.Property, error) {
	if ref == "" {
		return nil, &ValidationError{Tool: tool, Field: "property", Message: "is required"}
	}
	p, err := b.repo.Get(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		p, err = b.repo.FindByName(ctx, ref)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, &ValidationError{Tool: tool, Message: fmt.Sprintf("no property with id or name %q; use list_properties", ref)}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: find property: %w", tool, err)
	}
	return p, nil
}

// commit applies d to p and writes it, guarded by the stage read at the
// start of the call. The write is the last step of every mutating tool.
func (b propertyTool) commit(ctx context.Context, tool string, p workflow.Property, from workflow.Stage, d *workflow.Decision, effect string) (Result, error) {
	if d != nil {
		if !b.v.IsValidTransition(from, d.To) {
			return Result{}, &ValidationError{Tool: tool, Message: fmt.Sprintf("illegal transition %s -> %s", from, d.To)}
		}
		p.Stage = d.To
		effect = fmt.Sprintf("%s; stage %s -> %s", effect, from, d.To)
	}
	saved, err := b.repo.Update(ctx, p, from)
	if errors.Is(err, store.ErrOptimisticLock) {
		return Result{}, fmt.Errorf("%s: property %s changed while this call ran; reload it with get_property and retry", tool, p.DisplayName())
	}
	if err != nil {
		return Result{}, fmt.Errorf("%s: save property: %w", tool, err)
	}

	data := map[string]any{
		"property":   view(*saved),
		"validation": b.v.Validate(*saved),
	}
	if d != nil {
		data["decision"] = map[string]any{
			"from":   string(d.From),
			"to":     string(d.To),
			"passed": d.Passed,
			"reason": d.Reason,
		}
	}
	return Result{OK: true, Data: data, SideEffects: effect, Entity: saved}, nil
}

// advanceIfComplete runs the stage checkpoint once nothing is missing.
func (b propertyTool) advanceIfComplete(tool string, p workflow.Property) (*workflow.Decision, error) {
	if len(b.v.Missing(p)) > 0 {
		return nil, nil
	}
	d, err := b.v.Advance(p)
	if err != nil {
		return nil, stageFailure(tool, err)
	}
	return &d, nil
}

func titleEnum() []string {
	out := make([]string, 0, len(workflow.TitleConditions))
	for _, tc := range workflow.TitleConditions {
		out = append(out, string(tc))
	}
	return out
}

func view(p workflow.Property) map[string]any {
	out := map[string]any{
		"id":    p.ID,
		"name":  p.DisplayName(),
		"stage": string(p.Stage),
	}
	if p.Address != "" {
		out["address"] = p.Address
	}
	if p.AskingPrice != nil {
		out["asking_price"] = *p.AskingPrice
	}
	if p.MarketValue != nil {
		out["market_value"] = *p.MarketValue
	}
	if p.Inspected() {
		out["defects"] = p.Defects
		out["repair_estimate"] = *p.RepairEstimate
	}
	if p.TitleCondition != workflow.TitleUnknown {
		out["title_condition"] = string(p.TitleCondition)
	}
	if p.AfterRepairValue != nil {
		out["after_repair_value"] = *p.AfterRepairValue
	}
	if p.OverrideNote != "" {
		out["override_note"] = p.OverrideNote
	}
	return out
}

func positive(tool, field string, v float64) error {
	if v <= 0 {
		return &ValidationError{Tool: tool, Field: field, Message: "must be greater than zero"}
	}
	return nil
}

// CreatePropertyTool starts a new property at the first stage.
type CreatePropertyTool struct{ propertyTool }

func (t *CreatePropertyTool) Name() string { return "create_property" }

func (t *CreatePropertyTool) Description() string {
	return "Create a new property to evaluate. It becomes the active property."
}

func (t *CreatePropertyTool) Parameters() Schema {
	return Schema{Fields: []Field{
		{Name: "name", Type: TypeString, Description: "Short name, usually the street address.", Required: true},
		{Name: "address", Type: TypeString, Description: "Full postal address, if different from the name."},
	}}
}

func (t *CreatePropertyTool) Execute(ctx context.Context, args Args) (Result, error) {
	name := args.String("name")
	if name == "" {
		return Result{}, &ValidationError{Tool: t.Name(), Field: "name", Message: "must not be empty"}
	}
	p, err := t.repo.Create(ctx, workflow.Property{
		Name:    name,
		Address: args.String("address"),
		Stage:   workflow.StageAwaitingInputs,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", t.Name(), err)
	}
	return Result{
		OK:          true,
		Data:        map[string]any{"property": view(*p), "validation": t.v.Validate(*p)},
		SideEffects: fmt.Sprintf("created property %s at %s", p.DisplayName(), p.Stage),
		Entity:      p,
	}, nil
}

// ListPropertiesTool lists every property with its stage.
type ListPropertiesTool struct{ propertyTool }

func (t *ListPropertiesTool) Name() string   { return "list_properties" }
func (t *ListPropertiesTool) ReadOnly() bool { return true }

func (t *ListPropertiesTool) Description() string {
	return "List the properties on file with their current stage."
}

func (t *ListPropertiesTool) Parameters() Schema {
	return Schema{Fields: []Field{
		{Name: "stage", Type: TypeString, Description: "Only list properties at this stage."},
	}}
}

func (t *ListPropertiesTool) Execute(ctx context.Context, args Args) (Result, error) {
	all, err := t.repo.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", t.Name(), err)
	}
	filter := workflow.Stage(args.String("stage"))
	items := make([]any, 0, len(all))
	for _, p := range all {
		if filter != "" && p.Stage != filter {
			continue
		}
		items = append(items, map[string]any{
			"id":    p.ID,
			"name":  p.DisplayName(),
			"stage": string(p.Stage),
		})
	}
	return Result{OK: true, Items: items}, nil
}

// SelectPropertyTool makes an existing property the active one.
type SelectPropertyTool struct{ propertyTool }

func (t *SelectPropertyTool) Name() string   { return "select_property" }
func (t *SelectPropertyTool) ReadOnly() bool { return true }

func (t *SelectPropertyTool) Description() string {
	return "Switch the conversation to an existing property, by id or name."
}

func (t *SelectPropertyTool) Parameters() Schema {
	return Schema{Fields: []Field{
		{Name: "property", Type: TypeString, Description: "Property id or name.", Required: true},
	}}
}

func (t *SelectPropertyTool) Execute(ctx context.Context, args Args) (Result, error) {
	p, err := t.lookup(ctx, t.Name(), args.String("property"))
	if err != nil {
		return Result{}, err
	}
	return Result{
		OK:          true,
		Data:        map[string]any{"property": view(*p), "validation": t.v.Validate(*p)},
		SideEffects: fmt.Sprintf("active property is now %s", p.DisplayName()),
		Entity:      p,
	}, nil
}

// DeletePropertyTool removes a property.
type DeletePropertyTool struct{ propertyTool }

func (t *DeletePropertyTool) Name() string { return "delete_property" }

func (t *DeletePropertyTool) Description() string {
	return "Permanently delete a property. Requires confirm=true after the operator has confirmed."
}

func (t *DeletePropertyTool) Parameters() Schema {
	return Schema{Fields: []Field{
		{Name: "property", Type: TypeString, Description: "Property id or name.", Required: true},
		{Name: "confirm", Type: TypeBoolean, Description: "Must be true; set only after explicit confirmation.", Required: true},
	}}
}

func (t *DeletePropertyTool) Execute(ctx context.Context, args Args) (Result, error) {
	if !args.Bool("confirm") {
		return Result{}, &ValidationError{Tool: t.Name(), Field: "confirm", Message: "must be true; ask the operator to confirm the deletion first"}
	}
	p, err := t.lookup(ctx, t.Name(), args.String("property"))
	if err != nil {
		return Result{}, err
	}
	if err := t.repo.Delete(ctx, p.ID); err != nil {
		return Result{}, fmt.Errorf("%s: %w", t.Name(), err)
	}
	return Result{
		OK:            true,
		Data:          map[string]any{"deleted": p.ID},
		SideEffects:   fmt.Sprintf("deleted property %s", p.DisplayName()),
		EntityCleared: ScopeFrom(ctx).EntityRef == p.ID,
	}, nil
}

// GetPropertyTool reports a property's fields and where it stands.
type GetPropertyTool struct{ propertyTool }

func (t *GetPropertyTool) Name() string   { return "get_property" }
func (t *GetPropertyTool) ReadOnly() bool { return true }

func (t *GetPropertyTool) Description() string {
	return "Show a property's recorded figures, its stage and what is still missing."
}

func (t *GetPropertyTool) Parameters() Schema {
	return Schema{Fields: []Field{propertyIDField}}
}

func (t *GetPropertyTool) Execute(ctx context.Context, args Args) (Result, error) {
	p, err := t.active(ctx, t.Name(), args)
	if err != nil {
		return Result{}, err
	}
	return Result{
		OK:   true,
		Data: map[string]any{"property": view(*p), "validation": t.v.Validate(*p)},
	}, nil
}

// SubmitValuationTool records asking price and market value, then applies
// the ask-to-market rule once both are known.
type SubmitValuationTool struct{ propertyTool }

func (t *SubmitValuationTool) Name() string { return "submit_valuation" }

func (t *SubmitValuationTool) Description() string {
	return "Record the asking price and/or market value of the active property. When both are known the valuation rule runs and the stage advances or blocks."
}

func (t *SubmitValuationTool) Parameters() Schema {
	return Schema{Fields: []Field{
		{Name: "asking_price", Type: TypeNumber, Description: "Seller's asking price in dollars."},
		{Name: "market_value", Type: TypeNumber, Description: "Current market value in dollars."},
		propertyIDField,
	}}
}

func (t *SubmitValuationTool) Execute(ctx context.Context, args Args) (Result, error) {
	asking, hasAsking := args.Number("asking_price")
	market, hasMarket := args.Number("market_value")
	if !hasAsking && !hasMarket {
		return Result{}, &ValidationError{Tool: t.Name(), Message: "provide asking_price, market_value or both"}
	}
	p, err := t.active(ctx, t.Name(), args)
	if err != nil {
		return Result{}, err
	}
	if err := t.v.RequireStage(*p, workflow.StageAwaitingInputs); err != nil {
		return Result{}, stageFailure(t.Name(), err)
	}

	from := p.Stage
	var recorded []string
	if hasAsking {
		if err := positive(t.Name(), "asking_price", asking); err != nil {
			return Result{}, err
		}
		p.AskingPrice = workflow.Float(asking)
		recorded = append(recorded, "asking price")
	}
	if hasMarket {
		if err := positive(t.Name(), "market_value", market); err != nil {
			return Result{}, err
		}
		p.MarketValue = workflow.Float(market)
		recorded = append(recorded, "market value")
	}
	d, err := t.advanceIfComplete(t.Name(), *p)
	if err != nil {
		return Result{}, err
	}
	return t.commit(ctx, t.Name(), *p, from, d, "recorded "+strings.Join(recorded, " and "))
}

// SubmitInspectionTool records inspection defects and title condition,
// computes the repair estimate and applies the title rule.
type SubmitInspectionTool struct{ propertyTool }

func (t *SubmitInspectionTool) Name() string { return "submit_inspection" }

func (t *SubmitInspectionTool) Description() string {
	return "Record inspection results for the active property: the defects found (empty list if none) and/or the title condition. The repair estimate is computed from the standard cost table; pass repair_costs for defects outside it."
}

func (t *SubmitInspectionTool) Parameters() Schema {
	return Schema{Fields: []Field{
		{Name: "defects", Type: TypeStringSet, Description: "Defects found, e.g. [\"roof\", \"hvac\"]. Empty list means none."},
		{Name: "repair_costs", Type: TypeNumberMap, Description: "Explicit repair cost per defect, for defects without a standard cost."},
		{Name: "title_condition", Type: TypeString, Description: "Title search outcome.", Enum: titleEnum()},
		propertyIDField,
	}}
}

func (t *SubmitInspectionTool) Execute(ctx context.Context, args Args) (Result, error) {
	hasDefects := args.Has("defects")
	title := args.String("title_condition")
	if !hasDefects && title == "" {
		return Result{}, &ValidationError{Tool: t.Name(), Message: "provide defects, title_condition or both"}
	}
	p, err := t.active(ctx, t.Name(), args)
	if err != nil {
		return Result{}, err
	}
	if err := t.v.RequireStage(*p, workflow.StageRulePassed1); err != nil {
		return Result{}, stageFailure(t.Name(), err)
	}

	from := p.Stage
	var recorded []string
	if hasDefects {
		defects := args.Strings("defects")
		est, err := t.v.RepairEstimate(defects, args.NumberMap("repair_costs"))
		if err != nil {
			return Result{}, stageFailure(t.Name(), err)
		}
		p.Defects = make([]string, 0, len(defects))
		for _, d := range defects {
			p.Defects = append(p.Defects, workflow.NormalizeDefect(d))
		}
		p.RepairEstimate = workflow.Float(est)
		recorded = append(recorded, fmt.Sprintf("%d defects (repair estimate %.0f)", len(defects), est))
	}
	if title != "" {
		tc, ok := workflow.ParseTitleCondition(strings.ToLower(title))
		if !ok {
			return Result{}, &ValidationError{Tool: t.Name(), Field: "title_condition", Message: "must be clear, clouded or defective"}
		}
		p.TitleCondition = tc
		recorded = append(recorded, "title "+string(tc))
	}
	d, err := t.advanceIfComplete(t.Name(), *p)
	if err != nil {
		return Result{}, err
	}
	return t.commit(ctx, t.Name(), *p, from, d, "recorded "+strings.Join(recorded, " and "))
}

// SubmitARVTool records the after-repair value and applies the cost-to-ARV
// rule.
type SubmitARVTool struct{ propertyTool }

func (t *SubmitARVTool) Name() string { return "submit_arv" }

func (t *SubmitARVTool) Description() string {
	return "Record the after-repair value (ARV) of the active property. The cost-to-ARV rule runs and the stage advances or blocks."
}

func (t *SubmitARVTool) Parameters() Schema {
	return Schema{Fields: []Field{
		{Name: "after_repair_value", Type: TypeNumber, Description: "Expected value after repairs, in dollars.", Required: true},
		propertyIDField,
	}}
}

func (t *SubmitARVTool) Execute(ctx context.Context, args Args) (Result, error) {
	arv, _ := args.Number("after_repair_value")
	if err := positive(t.Name(), "after_repair_value", arv); err != nil {
		return Result{}, err
	}
	p, err := t.active(ctx, t.Name(), args)
	if err != nil {
		return Result{}, err
	}
	if err := t.v.RequireStage(*p, workflow.StageInspected); err != nil {
		return Result{}, stageFailure(t.Name(), err)
	}
	from := p.Stage
	p.AfterRepairValue = workflow.Float(arv)
	d, err := t.advanceIfComplete(t.Name(), *p)
	if err != nil {
		return Result{}, err
	}
	return t.commit(ctx, t.Name(), *p, from, d, "recorded after-repair value")
}

// FinalizeDealTool closes a deal that passed every check.
type FinalizeDealTool struct{ propertyTool }

func (t *FinalizeDealTool) Name() string { return "finalize_deal" }

func (t *FinalizeDealTool) Description() string {
	return "Finalize (accept) or reject the deal for the active property once every check has passed. Call only after the operator confirms."
}

func (t *FinalizeDealTool) Parameters() Schema {
	return Schema{Fields: []Field{
		{Name: "decision", Type: TypeString, Description: "accept or reject.", Required: true, Enum: []string{"accept", "reject"}},
		propertyIDField,
	}}
}

func (t *FinalizeDealTool) Execute(ctx context.Context, args Args) (Result, error) {
	p, err := t.active(ctx, t.Name(), args)
	if err != nil {
		return Result{}, err
	}
	accept := strings.EqualFold(args.String("decision"), "accept")
	d, err := t.v.Finalize(*p, accept)
	if err != nil {
		return Result{}, stageFailure(t.Name(), err)
	}
	return t.commit(ctx, t.Name(), *p, p.Stage, &d, "closed the deal")
}

// OverrideBlockTool resolves a blocked stage with a written justification.
type OverrideBlockTool struct{ propertyTool }

func (t *OverrideBlockTool) Name() string { return "override_block" }

func (t *OverrideBlockTool) Description() string {
	return "Resolve a blocked property: approve to continue past the failed check, or reject the deal. A written justification is always required."
}

func (t *OverrideBlockTool) Parameters() Schema {
	return Schema{Fields: []Field{
		{Name: "decision", Type: TypeString, Description: "approve or reject.", Required: true, Enum: []string{"approve", "reject"}},
		{Name: "justification", Type: TypeString, Description: "Why the block is being overridden or the deal rejected.", Required: true},
		propertyIDField,
	}}
}

func (t *OverrideBlockTool) Execute(ctx context.Context, args Args) (Result, error) {
	p, err := t.active(ctx, t.Name(), args)
	if err != nil {
		return Result{}, err
	}
	approve := strings.EqualFold(args.String("decision"), "approve")
	justification := args.String("justification")
	d, err := t.v.Override(*p, justification, approve)
	if err != nil {
		return Result{}, stageFailure(t.Name(), err)
	}
	from := p.Stage
	p.OverrideNote = justification
	return t.commit(ctx, t.Name(), *p, from, &d, "recorded override decision")
}
