package types

import "time"

// Context is the per-user conversational state carried across turns.
// Exactly one live Context exists per user. The router owns the typed
// fields; State is an opaque, plugin-owned scratch payload the router
// passes through without interpreting.
type Context struct {
	UserID        string         `json:"user_id"`
	CurrentIntent string         `json:"current_intent,omitempty"`
	CurrentDomain string         `json:"current_domain,omitempty"`
	State         map[string]any `json:"state,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewContext returns a fresh, empty context for the given user. Absence of
// stored state is a valid default, not an error.
func NewContext(userID string) *Context {
	return &Context{UserID: userID, State: map[string]any{}}
}

// Clone returns a deep-enough copy: the State map is copied so concurrent
// readers never share mutable state with the store's cached value.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	cp := *c
	cp.State = make(map[string]any, len(c.State))
	for k, v := range c.State {
		cp.State[k] = v
	}
	return &cp
}

// Turn is one immutable record of a request/response exchange. Turns are
// append-only; the most recent window is fed back to the classifier as
// conversation history.
type Turn struct {
	UserID    string         `json:"user_id"`
	Timestamp time.Time      `json:"timestamp"`
	Input     string         `json:"input"`
	Intent    string         `json:"intent,omitempty"`
	Domain    string         `json:"domain,omitempty"`
	Response  string         `json:"response"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
