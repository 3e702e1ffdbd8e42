package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rahul/dealdesk/internal/observability"
	"github.com/rahul/dealdesk/internal/router"
	"github.com/rahul/dealdesk/internal/store"
	"github.com/rahul/dealdesk/internal/tools"
	"github.com/rahul/dealdesk/internal/workflow"
	"go.uber.org/zap"
)

// Routing paths reported in logs and metrics.
const (
	RouteContinuity = "continuity"
	RouteStage      = "stage"
	RouteIntent     = "intent"
)

// IntentContinuation and IntentEscalated select prompt fragments for turns
// routed without classification.
const (
	IntentContinuation = "continuation"
	IntentEscalated    = "escalated"
)

// ErrInvalidRequest is returned for a turn without a session id or text.
var ErrInvalidRequest = errors.New("invalid turn request")

// TurnRequest is one operator message.
type TurnRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	EntityRef string `json:"entity_ref,omitempty"`
}

// TurnResponse is the reply to a TurnRequest.
type TurnResponse struct {
	Text              string   `json:"text"`
	EntityRef         string   `json:"entity_ref,omitempty"`
	EntityDisplayName string   `json:"entity_display_name,omitempty"`
	Executor          string   `json:"executor"`
	Route             string   `json:"route"`
	Truncated         bool     `json:"truncated,omitempty"`
	ExecutedTools     []string `json:"executed_tools,omitempty"`
}

// SessionStore is the durable session boundary.
type SessionStore interface {
	Load(ctx context.Context, id string) (*store.Session, error)
	Save(ctx context.Context, sess *store.Session) error
}

// PropertyReader resolves the active property and lists known ones.
type PropertyReader interface {
	Get(ctx context.Context, id string) (*workflow.Property, error)
	List(ctx context.Context) ([]workflow.Property, error)
}

// Runner executes one executor run.
type Runner interface {
	Run(ctx context.Context, in LoopInput) (*LoopResult, error)
}

// Deps wires an Orchestrator.
type Deps struct {
	Sessions    SessionStore
	Properties  PropertyReader
	Validator   *workflow.Validator
	Router      *router.Router
	Prompts     *PromptCatalogue
	Loop        Runner
	Registry    *tools.Registry
	Executors   map[string]Executor
	TurnTimeout time.Duration
	Logger      *observability.Logger
	Metrics     *observability.Metrics
}

// Orchestrator routes each turn to an executor and persists the outcome.
type Orchestrator struct {
	sessions    SessionStore
	properties  PropertyReader
	validator   *workflow.Validator
	router      *router.Router
	prompts     *PromptCatalogue
	loop        Runner
	registry    *tools.Registry
	executors   map[string]Executor
	turnTimeout time.Duration
	logger      *observability.Logger
	metrics     *observability.Metrics
}

func NewOrchestrator(d Deps) *Orchestrator {
	if d.Executors == nil {
		d.Executors = DefaultExecutors()
	}
	if d.Router == nil {
		d.Router = router.New(nil, nil)
	}
	return &Orchestrator{
		sessions:    d.Sessions,
		properties:  d.Properties,
		validator:   d.Validator,
		router:      d.Router,
		prompts:     d.Prompts,
		loop:        d.Loop,
		registry:    d.Registry,
		executors:   d.Executors,
		turnTimeout: d.TurnTimeout,
		logger:      d.Logger,
		metrics:     d.Metrics,
	}
}

// dispatch is the routing decision for a turn.
type dispatch struct {
	executor string
	route    string
	intent   string
	readOnly bool
	context  string
}

// HandleTurn processes one operator message end to end. On error nothing is
// persisted; retryable errors are *TurnError with Retryable set.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.Text = strings.TrimSpace(req.Text)
	if req.SessionID == "" || req.Text == "" {
		return nil, fmt.Errorf("%w: session_id and text are required", ErrInvalidRequest)
	}

	start := time.Now()
	if o.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.turnTimeout)
		defer cancel()
	}

	// 1. Load session and entity
	sess, err := o.sessions.Load(ctx, req.SessionID)
	if err != nil {
		return nil, o.turnError(ctx, "load session", err)
	}
	entityRef := req.EntityRef
	if entityRef == "" {
		entityRef = sess.EntityRef
	}
	entity, err := o.loadEntity(ctx, sess.ID, entityRef)
	if err != nil {
		return nil, o.turnError(ctx, "load property", err)
	}
	if entity == nil {
		entityRef = ""
	}

	// 2-4. Route
	d := o.route(ctx, sess, entity, req.Text)
	o.logger.LogRoute(sess.ID, d.executor, d.route, d.intent)

	// 5. Dispatch
	scope := &tools.Scope{SessionID: sess.ID, EntityRef: entityRef}
	first, err := o.loop.Run(ctx, o.loopInput(sess.ID, d, sess.Turns, req.Text, true, scope))
	if err != nil {
		return nil, o.turnError(ctx, "engine", err)
	}
	result, executor := first, d.executor
	newTurns := first.Turns

	// 6. Single-hop escalation
	if first.Escalation != nil {
		target := o.escalationTarget(d.executor, first.Escalation.Target)
		o.logger.LogEscalation(sess.ID, d.executor, target, first.Escalation.Reason)
		o.metrics.Escalated(target)

		history := append(append([]store.Turn(nil), sess.Turns...), first.Turns...)
		hop := dispatch{
			executor: target,
			route:    d.route,
			intent:   IntentEscalated,
			context:  o.contextBlock(entityForScope(entity, first), nil, "Handed over by "+d.executor+": "+first.Escalation.Reason),
		}
		second, err := o.loop.Run(ctx, o.loopInput(sess.ID, hop, history, "", false, scope))
		if err != nil {
			return nil, o.turnError(ctx, "engine", err)
		}
		newTurns = append(newTurns, second.Turns...)
		second.ExecutedTools = append(first.ExecutedTools, second.ExecutedTools...)
		second.Iterations += first.Iterations
		if second.Entity == nil && !second.EntityCleared {
			second.Entity, second.EntityCleared = first.Entity, first.EntityCleared
		}
		result, executor = second, target
	}

	// 7. Persist
	sess.Turns = append(sess.Turns, newTurns...)
	sess.EntityRef = scope.EntityRef
	sess.LastExecutor = executor
	if q, ok := IsConfirmationQuestion(result.Text); ok {
		sess.AwaitingConfirmation, sess.PendingAction = true, q
	} else {
		sess.AwaitingConfirmation, sess.PendingAction = false, ""
	}
	if err := o.sessions.Save(ctx, sess); err != nil {
		return nil, o.turnError(ctx, "save session", err)
	}

	resp := &TurnResponse{
		Text:      result.Text,
		EntityRef: sess.EntityRef,
		Executor:  executor,
		Route:     d.route,
		Truncated: result.Truncated,
	}
	for _, t := range result.ExecutedTools {
		resp.ExecutedTools = append(resp.ExecutedTools, t.Name)
	}
	if e := entityForScope(entity, result); e != nil && e.ID == sess.EntityRef {
		resp.EntityDisplayName = e.DisplayName()
	} else if sess.EntityRef != "" {
		if p, err := o.properties.Get(ctx, sess.EntityRef); err == nil {
			resp.EntityDisplayName = p.DisplayName()
		}
	}

	elapsed := time.Since(start)
	o.metrics.ObserveTurn(executor, d.route, elapsed)
	o.logger.LogTurn(sess.ID, executor, result.Iterations, result.Truncated, elapsed)
	return resp, nil
}

// route picks the executor: continuity first, then the stage validator when
// a property is in scope, otherwise the intent router.
func (o *Orchestrator) route(ctx context.Context, sess *store.Session, entity *workflow.Property, text string) dispatch {
	if m, ok := DetectContinuity(sess.Turns, text, sess.LastExecutor, sess.AwaitingConfirmation); ok {
		if _, known := o.executors[m.Executor]; known {
			note := fmt.Sprintf("The operator is answering your question: %q (expected answer: %s).", m.Question, m.Shape)
			if sess.AwaitingConfirmation && sess.PendingAction != "" {
				note += fmt.Sprintf(" You were waiting for confirmation of: %q.", sess.PendingAction)
			}
			return dispatch{
				executor: m.Executor,
				route:    RouteContinuity,
				intent:   IntentContinuation,
				context:  o.contextBlock(entity, nil, note),
			}
		}
	}

	if entity != nil {
		analysis := o.validator.DetectIntentForStage(text, *entity)
		v := o.validator.Validate(*entity)
		return dispatch{
			executor: v.RecommendedExecutor,
			route:    RouteStage,
			intent:   analysis.Intent,
			readOnly: analysis.NeedsClarification(),
			context:  o.contextBlock(entity, &analysis, ""),
		}
	}

	var known []string
	if list, err := o.properties.List(ctx); err == nil {
		for _, p := range list {
			known = append(known, p.DisplayName())
		}
	} else {
		o.logger.Warn("failed to list properties for routing", zap.String("session_id", sess.ID), zap.Error(err))
	}
	res := o.router.Classify(text, router.RouteContext{KnownEntities: known})
	intentJSON, _ := json.Marshal(res)
	return dispatch{
		executor: res.TargetExecutor,
		route:    RouteIntent,
		intent:   res.Intent,
		context:  "## Current context\nNo property is active.\nIntent: " + string(intentJSON),
	}
}

// contextBlock renders the stage validation, intent analysis and guidance
// text threaded into the executor prompt.
func (o *Orchestrator) contextBlock(entity *workflow.Property, analysis *workflow.IntentAnalysis, note string) string {
	var b strings.Builder
	b.WriteString("## Current context\n")
	if entity == nil {
		b.WriteString("No property is active.\n")
	} else {
		v := o.validator.Validate(*entity)
		vJSON, _ := json.Marshal(v)
		fmt.Fprintf(&b, "Active property: %s (id %s)\nStage validation: %s\n", entity.DisplayName(), entity.ID, vJSON)
		if analysis != nil {
			aJSON, _ := json.Marshal(analysis)
			fmt.Fprintf(&b, "Intent analysis: %s\n", aJSON)
		}
		fmt.Fprintf(&b, "\n## Guidance\n%s\n", v.GuidanceText)
	}
	if note != "" {
		fmt.Fprintf(&b, "\n%s\n", note)
	}
	return strings.TrimSpace(b.String())
}

func (o *Orchestrator) loopInput(sessionID string, d dispatch, history []store.Turn, text string, allowEscalation bool, scope *tools.Scope) LoopInput {
	var names []string
	if e, ok := o.executors[d.executor]; ok {
		names = e.Tools
	}
	var targets []string
	for name := range o.executors {
		if name != d.executor {
			targets = append(targets, name)
		}
	}
	sort.Strings(targets)
	return LoopInput{
		SessionID:         sessionID,
		Executor:          d.executor,
		SystemPrompt:      o.prompts.Compose(d.executor, d.intent, d.context),
		Tools:             o.registry.Subset(names, d.readOnly),
		History:           history,
		UserInput:         text,
		AllowEscalation:   allowEscalation,
		EscalationTargets: targets,
		Scope:             scope,
	}
}

// escalationTarget resolves an escalation to a known executor other than
// the one escalating, falling back to general.
func (o *Orchestrator) escalationTarget(from, to string) string {
	if _, ok := o.executors[to]; ok && to != from {
		return to
	}
	if from == workflow.ExecutorGeneral {
		return workflow.ExecutorPortfolio
	}
	return workflow.ExecutorGeneral
}

func (o *Orchestrator) loadEntity(ctx context.Context, sessionID, ref string) (*workflow.Property, error) {
	if ref == "" {
		return nil, nil
	}
	p, err := o.properties.Get(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		o.logger.Warn("active property no longer exists", zap.String("session_id", sessionID), zap.String("entity_ref", ref))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// turnError classifies a failure. Deadline overruns become ErrTurnTimeout.
func (o *Orchestrator) turnError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		o.logger.Warn("turn timed out", zap.String("op", op), zap.Error(err))
		return &TurnError{Op: op, Retryable: true, Err: ErrTurnTimeout}
	}
	if errors.Is(err, context.Canceled) {
		return &TurnError{Op: op, Retryable: false, Err: err}
	}
	o.logger.Error("turn failed", zap.String("op", op), zap.Error(err))
	if op == "engine" {
		return &TurnError{Op: op, Retryable: true, Err: fmt.Errorf("%w: %v", ErrEngineUnavailable, err)}
	}
	return &TurnError{Op: op, Retryable: true, Err: err}
}

// entityForScope is the freshest view of the active property after a run.
func entityForScope(initial *workflow.Property, res *LoopResult) *workflow.Property {
	switch {
	case res.EntityCleared:
		return nil
	case res.Entity != nil:
		return res.Entity
	}
	return initial
}
