package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rahul/dealdesk/internal/workflow"
)

// Tool defines the interface for all business operations the reasoning
// engine can call.
type Tool interface {
	Name() string
	Description() string
	Parameters() Schema
	Execute(ctx context.Context, args Args) (Result, error)
}

// ReadOnly is implemented by tools that never change persisted state.
type ReadOnly interface {
	ReadOnly() bool
}

// Versioned is implemented by tools that declare a contract version.
type Versioned interface {
	Version() string
}

// IsReadOnly reports whether t declares itself read-only.
func IsReadOnly(t Tool) bool {
	ro, ok := t.(ReadOnly)
	return ok && ro.ReadOnly()
}

// VersionOf returns the declared contract version of t, or "v1".
func VersionOf(t Tool) string {
	if v, ok := t.(Versioned); ok && v.Version() != "" {
		return v.Version()
	}
	return "v1"
}

// FieldType is the JSON type of a tool argument.
type FieldType string

const (
	TypeString    FieldType = "string"
	TypeNumber    FieldType = "number"
	TypeBoolean   FieldType = "boolean"
	TypeStringSet FieldType = "array"
	TypeNumberMap FieldType = "object"
)

// Field declares one tool argument.
type Field struct {
	Name        string
	Type        FieldType
	Description string
	Required    bool
	Enum        []string
}

// Schema is a tool's typed input contract.
type Schema struct {
	Fields []Field
}

// JSONSchema renders the schema for the reasoning engine's function catalogue.
func (s Schema) JSONSchema() map[string]any {
	props := map[string]any{}
	required := []string{}
	for _, f := range s.Fields {
		p := map[string]any{
			"type":        string(f.Type),
			"description": f.Description,
		}
		switch f.Type {
		case TypeStringSet:
			p["items"] = map[string]any{"type": "string"}
		case TypeNumberMap:
			p["additionalProperties"] = map[string]any{"type": "number"}
		}
		if len(f.Enum) > 0 {
			p["enum"] = f.Enum
		}
		props[f.Name] = p
		if f.Required {
			required = append(required, f.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Validate checks args against the declared fields. Unknown arguments are
// ignored.
func (s Schema) Validate(tool string, args Args) error {
	for _, f := range s.Fields {
		v, ok := args[f.Name]
		if !ok || v == nil {
			if f.Required {
				return &ValidationError{Tool: tool, Field: f.Name, Message: "is required"}
			}
			continue
		}
		if err := checkType(f, v); err != "" {
			return &ValidationError{Tool: tool, Field: f.Name, Message: err}
		}
		if len(f.Enum) > 0 {
			sv, _ := v.(string)
			if !contains(f.Enum, strings.ToLower(strings.TrimSpace(sv))) {
				return &ValidationError{Tool: tool, Field: f.Name, Message: fmt.Sprintf("must be one of %s", strings.Join(f.Enum, ", "))}
			}
		}
	}
	return nil
}

func checkType(f Field, v any) string {
	switch f.Type {
	case TypeString:
		if _, ok := v.(string); !ok {
			return "must be a string"
		}
	case TypeNumber:
		if _, ok := toFloat(v); !ok {
			return "must be a number"
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			return "must be a boolean"
		}
	case TypeStringSet:
		items, ok := v.([]any)
		if !ok {
			return "must be an array of strings"
		}
		for _, it := range items {
			if _, ok := it.(string); !ok {
				return "must be an array of strings"
			}
		}
	case TypeNumberMap:
		m, ok := v.(map[string]any)
		if !ok {
			return "must be an object of numbers"
		}
		for _, it := range m {
			if _, ok := toFloat(it); !ok {
				return "must be an object of numbers"
			}
		}
	}
	return ""
}

// Args are decoded tool-call arguments.
type Args map[string]any

// ParseArgs decodes the raw JSON arguments of a tool call. An empty string
// is an empty argument set.
func ParseArgs(raw string) (Args, error) {
	args := Args{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	return args, nil
}

// Has reports whether name was supplied with a non-null value.
func (a Args) Has(name string) bool {
	v, ok := a[name]
	return ok && v != nil
}

func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return strings.TrimSpace(s)
}

func (a Args) Number(name string) (float64, bool) {
	v, ok := a[name]
	if !ok || v == nil {
		return 0, false
	}
	return toFloat(v)
}

func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

func (a Args) Strings(name string) []string {
	items, _ := a[name].([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func (a Args) NumberMap(name string) map[string]float64 {
	m, _ := a[name].(map[string]any)
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if f, ok := toFloat(v); ok {
			out[workflow.NormalizeDefect(k)] = f
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, it := range list {
		if it == s {
			return true
		}
	}
	return false
}

// Result is what a tool call produces. Entity carries the property a tool
// created, selected or mutated so the caller can refresh its view without a
// reload; EntityCleared signals the active property no longer exists.
type Result struct {
	OK            bool
	Data          any
	Items         []any
	Error         string
	SideEffects   string
	Entity        *workflow.Property
	EntityCleared bool
}

// Failure converts err into a failed result.
func Failure(err error) Result {
	return Result{OK: false, Error: err.Error()}
}

// Render serializes the result for the reasoning engine. Collections are
// pruned to the first sample items plus a count; the full Items stay on
// the Result.
func (r Result) Render(sample int) string {
	out := map[string]any{"ok": r.OK}
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.Data != nil {
		out["data"] = r.Data
	}
	if r.Items != nil {
		shown := r.Items
		if sample > 0 && len(shown) > sample {
			shown = shown[:sample]
			out["omitted"] = len(r.Items) - sample
		}
		out["items"] = shown
		out["total"] = len(r.Items)
	}
	if r.SideEffects != "" {
		out["side_effects"] = r.SideEffects
	}
	if r.Entity != nil {
		out["stage"] = string(r.Entity.Stage)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf(`{"ok":false,"error":%q}`, "unrenderable result: "+err.Error())
	}
	return string(b)
}

// ValidationError reports a tool called with bad arguments or against an
// entity whose stage does not allow it. It is recoverable within the turn.
type ValidationError struct {
	Tool    string
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("%s: argument %s %s", e.Tool, e.Field, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Tool, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// stageFailure wraps workflow refusals as validation errors and passes other
// errors through.
func stageFailure(tool string, err error) error {
	var se *workflow.StageError
	if errors.As(err, &se) {
		return &ValidationError{Tool: tool, Err: err}
	}
	return err
}

// Registry manages the set of available tools.
type Registry struct {
	Tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{
		Tools: make(map[string]Tool),
	}
}

func (r *Registry) Register(t Tool) {
	r.Tools[t.Name()] = t
}

func (r *Registry) Get(name string) Tool {
	return r.Tools[name]
}

// Names lists the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Tools))
	for n := range r.Tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Subset returns the named tools that are registered, in the given order.
// With readOnly set, mutating tools are left out.
func (r *Registry) Subset(names []string, readOnly bool) []Tool {
	out := make([]Tool, 0, len(names))
	for _, n := range names {
		t := r.Get(n)
		if t == nil {
			continue
		}
		if readOnly && !IsReadOnly(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}
