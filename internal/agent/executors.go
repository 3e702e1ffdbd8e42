package agent

import (
	"github.com/rahul/dealdesk/internal/workflow"
)

// EscalateToolName is the built-in tool an executor calls to hand the turn
// to another executor.
const EscalateToolName = "escalate"

// Executor binds a prompt fragment to a tool subset.
type Executor struct {
	Name  string
	Tools []string
}

// DefaultExecutors returns the executor set keyed by name.
func DefaultExecutors() map[string]Executor {
	list := []Executor{
		{Name: workflow.ExecutorIntake, Tools: []string{"get_property", "submit_valuation", "fetch_listing", "market_search"}},
		{Name: workflow.ExecutorInspection, Tools: []string{"get_property", "submit_inspection"}},
		{Name: workflow.ExecutorUnderwriting, Tools: []string{"get_property", "submit_arv", "market_search"}},
		{Name: workflow.ExecutorContract, Tools: []string{"get_property", "finalize_deal"}},
		{Name: workflow.ExecutorReview, Tools: []string{"get_property", "override_block"}},
		{Name: workflow.ExecutorPortfolio, Tools: []string{"create_property", "list_properties", "select_property", "delete_property", "get_property", "fetch_listing"}},
		{Name: workflow.ExecutorGeneral, Tools: []string{"list_properties", "get_property"}},
	}
	out := make(map[string]Executor, len(list))
	for _, e := range list {
		out[e.Name] = e
	}
	return out
}
