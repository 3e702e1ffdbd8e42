package tools

import "context"

// Scope is the per-turn state tools share with the loop that runs them.
// The loop updates EntityRef as tools create, select or delete properties.
type Scope struct {
	SessionID string
	EntityRef string
}

type scopeKey struct{}

// WithScope attaches s to ctx.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope attached to ctx, or an empty one.
func ScopeFrom(ctx context.Context) *Scope {
	if s, ok := ctx.Value(scopeKey{}).(*Scope); ok && s != nil {
		return s
	}
	return &Scope{}
}
