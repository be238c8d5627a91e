package handlers

import "strings"

// Registry maps intents to handlers. Unknown intents land on the fallback,
// so dispatch can never come up empty-handed.
type Registry struct {
	byIntent map[string]Handler
	fallback Handler
}

func NewRegistry(fallback Handler) *Registry {
	return &Registry{
		byIntent: make(map[string]Handler),
		fallback: fallback,
	}
}

func (r *Registry) Bind(intent string, h Handler) {
	if r == nil || h == nil {
		return
	}
	intent = strings.ToLower(strings.TrimSpace(intent))
	if intent == "" {
		return
	}
	r.byIntent[intent] = h
}

func (r *Registry) ForIntent(intent string) Handler {
	if r == nil {
		return nil
	}
	if h, ok := r.byIntent[strings.ToLower(strings.TrimSpace(intent))]; ok {
		return h
	}
	return r.fallback
}
