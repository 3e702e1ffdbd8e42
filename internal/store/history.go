package store

// Truncate keeps at most max turns, dropping the oldest first. The cut never
// lands inside a call/result block: tool results whose assistant call fell
// off the front are dropped too.
func Truncate(turns []Turn, max int) []Turn {
	if max <= 0 || len(turns) <= max {
		return turns
	}
	start := len(turns) - max
	for start < len(turns) && turns[start].Role == RoleToolResult {
		start++
	}
	return turns[start:]
}

// Sanitize enforces the history invariant: every tool result answers a call
// of the assistant turn immediately preceding its block, and every call has a
// result. Orphaned results are dropped, unanswered calls are stripped, and an
// assistant turn left with neither text nor calls is removed. It returns the
// cleaned history and the number of entries removed.
func Sanitize(turns []Turn) ([]Turn, int) {
	out := make([]Turn, 0, len(turns))
	dropped := 0
	lastCall := -1
	pending := map[string]bool{}

	closeBlock := func() {
		if lastCall < 0 {
			return
		}
		if len(pending) > 0 {
			a := &out[lastCall]
			kept := make([]ToolCall, 0, len(a.ToolCalls))
			for _, c := range a.ToolCalls {
				if pending[c.ID] {
					dropped++
					continue
				}
				kept = append(kept, c)
			}
			a.ToolCalls = kept
			if len(kept) == 0 {
				a.ToolCalls = nil
				if a.Content == "" && lastCall == len(out)-1 {
					out = out[:lastCall]
				}
			}
		}
		lastCall = -1
		pending = map[string]bool{}
	}

	for _, t := range turns {
		switch t.Role {
		case RoleToolResult:
			if lastCall >= 0 && pending[t.ToolCallID] {
				delete(pending, t.ToolCallID)
				out = append(out, t)
				continue
			}
			dropped++
		case RoleAssistant:
			closeBlock()
			if len(t.ToolCalls) > 0 {
				t.ToolCalls = append([]ToolCall(nil), t.ToolCalls...)
			}
			out = append(out, t)
			if len(t.ToolCalls) > 0 {
				lastCall = len(out) - 1
				for _, c := range t.ToolCalls {
					pending[c.ID] = true
				}
			}
		default:
			closeBlock()
			out = append(out, t)
		}
	}
	closeBlock()
	return out, dropped
}
