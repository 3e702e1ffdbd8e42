// Package governance decides whether a tool call may run.
package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the context of a tool call to be evaluated.
type Request struct {
	Tool      string
	Arguments string
	SessionID string
	Executor  string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates tool calls against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine runs its checks in order; the first denial wins.
//
//  1. tools denied outright
//  2. tools outside the calling executor's allow-list
//  3. URL arguments pointing at loopback, private or link-local hosts
//  4. arguments matching a denied pattern
type DefaultPolicyEngine struct {
	DeniedTools map[string]bool
	DeniedRegex []*regexp.Regexp
	// ExecutorTools, when set for an executor, lists the only tools it may call.
	ExecutorTools map[string]map[string]bool
	// URLArgs names the arguments that carry outbound URLs.
	URLArgs []string
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedTools:   make(map[string]bool),
		ExecutorTools: make(map[string]map[string]bool),
		URLArgs:       []string{"url"},
	}
}

// NewPolicyEngine builds an engine from configured denials.
func NewPolicyEngine(deniedTools, deniedPatterns []string) (*DefaultPolicyEngine, error) {
	e := NewDefaultPolicyEngine()
	for _, t := range deniedTools {
		e.DenyTool(t)
	}
	for _, p := range deniedPatterns {
		if err := e.DenyArguments(p); err != nil {
			return nil, fmt.Errorf("policy pattern %q: %w", p, err)
		}
	}
	return e, nil
}

func (e *DefaultPolicyEngine) DenyTool(name string) {
	e.DeniedTools[name] = true
}

func (e *DefaultPolicyEngine) DenyArguments(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

// AllowForExecutor restricts executor to the given tools.
func (e *DefaultPolicyEngine) AllowForExecutor(executor string, tools []string) {
	set := make(map[string]bool, len(tools))
	for _, t := range tools {
		set[t] = true
	}
	e.ExecutorTools[executor] = set
}

func (e *DefaultPolicyEngine) Evaluate(_ context.Context, req Request) (Result, error) {
	for _, check := range []func(Request) string{
		e.checkDenied,
		e.checkExecutor,
		e.checkURLs,
		e.checkPatterns,
	} {
		if reason := check(req); reason != "" {
			return Result{Effect: EffectDeny, Reason: reason}, nil
		}
	}
	return Result{Effect: EffectAllow, Reason: "allowed"}, nil
}

func (e *DefaultPolicyEngine) checkDenied(req Request) string {
	if e.DeniedTools[req.Tool] {
		return fmt.Sprintf("tool %s is disabled on this desk", req.Tool)
	}
	return ""
}

func (e *DefaultPolicyEngine) checkExecutor(req Request) string {
	if allowed, ok := e.ExecutorTools[req.Executor]; ok && !allowed[req.Tool] {
		return fmt.Sprintf("tool %s is not available to the %s executor", req.Tool, req.Executor)
	}
	return ""
}

func (e *DefaultPolicyEngine) checkURLs(req Request) string {
	if len(e.URLArgs) == 0 || !strings.Contains(req.Arguments, "://") {
		return ""
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(req.Arguments), &args); err != nil {
		return ""
	}
	for _, name := range e.URLArgs {
		raw, _ := args[name].(string)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Sprintf("argument %s is not a valid URL", name)
		}
		if internalHost(u.Hostname()) {
			return fmt.Sprintf("argument %s points at an internal host (%s)", name, u.Hostname())
		}
	}
	return ""
}

func (e *DefaultPolicyEngine) checkPatterns(req Request) string {
	for _, re := range e.DeniedRegex {
		if re.MatchString(req.Arguments) {
			return fmt.Sprintf("arguments match denied pattern %s", re.String())
		}
	}
	return ""
}

// internalHost reports whether host is a literal loopback, private or
// link-local address, or localhost. Names are not resolved.
func internalHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
