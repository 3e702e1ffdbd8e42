package workflow

import "time"

// TitleCondition is the outcome of a title search.
type TitleCondition string

const (
	TitleUnknown   TitleCondition = ""
	TitleClear     TitleCondition = "clear"
	TitleClouded   TitleCondition = "clouded"
	TitleDefective TitleCondition = "defective"
)

// TitleConditions lists the recordable title outcomes.
var TitleConditions = []TitleCondition{TitleClear, TitleClouded, TitleDefective}

// ParseTitleCondition accepts one of TitleConditions.
func ParseTitleCondition(s string) (TitleCondition, bool) {
	for _, tc := range TitleConditions {
		if s == string(tc) {
			return tc, true
		}
	}
	return TitleUnknown, false
}

// Property is the workflow entity: a candidate asset moving through the
// acquisition stages. Numeric fields are nil until provided.
type Property struct {
	ID               string
	Name             string
	Address          string
	AskingPrice      *float64
	MarketValue      *float64
	AfterRepairValue *float64
	Defects          []string
	RepairEstimate   *float64
	TitleCondition   TitleCondition
	Stage            Stage
	OverrideNote     string
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DisplayName is what the presentation layer shows for the property.
func (p Property) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	if p.Address != "" {
		return p.Address
	}
	return p.ID
}

// Inspected reports whether an inspection has been recorded. A recorded
// inspection always carries a computed repair estimate, even with no defects.
func (p Property) Inspected() bool {
	return p.RepairEstimate != nil
}

// TotalCost is asking price plus repair estimate, or false if either is unknown.
func (p Property) TotalCost() (float64, bool) {
	if p.AskingPrice == nil || p.RepairEstimate == nil {
		return 0, false
	}
	return *p.AskingPrice + *p.RepairEstimate, true
}

// Float returns a pointer to v; handy for building properties.
func Float(v float64) *float64 {
	return &v
}
