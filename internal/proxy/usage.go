package proxy

// tokenUsage is the metered token count for one upstream call.
type tokenUsage struct {
	Input  int
	Output int
}

// observe folds usage fields from one response payload into u. Each
// field updates independently and the latest seen value wins, because
// streaming providers send partial or cumulative usage across chunks
// and only the final chunk is authoritative.
func (u *tokenUsage) observe(payload map[string]any) {
	if payload == nil {
		return
	}

	if raw, ok := payload["usage"].(map[string]any); ok {
		u.observeFields(raw)
	}

	// Anthropic streams carry the prompt-side usage nested inside the
	// message_start event.
	if msg, ok := payload["message"].(map[string]any); ok {
		if raw, ok := msg["usage"].(map[string]any); ok {
			u.observeFields(raw)
		}
	}
}

func (u *tokenUsage) observeFields(raw map[string]any) {
	if v, ok := intField(raw, "input_tokens"); ok {
		u.Input = v
	} else if v, ok := intField(raw, "prompt_tokens"); ok {
		u.Input = v
	}

	if v, ok := intField(raw, "output_tokens"); ok {
		u.Output = v
	} else if v, ok := intField(raw, "completion_tokens"); ok {
		u.Output = v
	}
}

func intField(m map[string]any, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// computeCost converts metered tokens into credits using per-thousand
// pricing. The division happens before the multiplication so partial
// thousands are charged proportionally.
func computeCost(u tokenUsage, priceInPerK, priceOutPerK float64) float64 {
	return (float64(u.Input)/1000)*priceInPerK + (float64(u.Output)/1000)*priceOutPerK
}
