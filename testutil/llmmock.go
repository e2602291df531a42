package testutil

import (
	"context"
	"sync"

	"github.com/quickjot/quickjot/llm"
	"github.com/quickjot/quickjot/types"
)

// ScriptedLLM is an llm.Client that replays queued replies in order and
// records every request it receives. Builder methods are not safe to call
// concurrently with Chat; configure the script before use.
type ScriptedLLM struct {
	mu      sync.Mutex
	replies []scriptStep
	// fallback is returned once the script is exhausted.
	fallback string
	calls    []*llm.ChatRequest
}

type scriptStep struct {
	reply string
	err   error
}

var _ llm.Client = (*ScriptedLLM)(nil)

// NewScriptedLLM creates a scripted client with an empty script.
func NewScriptedLLM() *ScriptedLLM {
	return &ScriptedLLM{fallback: "ok"}
}

// WithReply queues a reply.
func (s *ScriptedLLM) WithReply(reply string) *ScriptedLLM {
	s.replies = append(s.replies, scriptStep{reply: reply})
	return s
}

// WithError queues an error.
func (s *ScriptedLLM) WithError(err error) *ScriptedLLM {
	s.replies = append(s.replies, scriptStep{err: err})
	return s
}

// WithUnavailable queues a model-unavailable failure.
func (s *ScriptedLLM) WithUnavailable() *ScriptedLLM {
	return s.WithError(types.NewError(types.ErrLLMUnavailable, "scripted outage"))
}

// WithFallback sets the reply returned after the script runs out.
func (s *ScriptedLLM) WithFallback(reply string) *ScriptedLLM {
	s.fallback = reply
	return s
}

// Chat replays the next scripted step.
func (s *ScriptedLLM) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)

	if len(s.replies) == 0 {
		return &llm.ChatResponse{Content: s.fallback, Model: "scripted"}, nil
	}
	step := s.replies[0]
	s.replies = s.replies[1:]
	if step.err != nil {
		return nil, step.err
	}
	return &llm.ChatResponse{Content: step.reply, Model: "scripted"}, nil
}

// Calls returns a copy of the recorded requests.
func (s *ScriptedLLM) Calls() []*llm.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*llm.ChatRequest, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns the number of Chat invocations.
func (s *ScriptedLLM) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// LastPrompt returns the concatenated content of the final request, or the
// empty string when nothing was called.
func (s *ScriptedLLM) LastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return ""
	}
	var out string
	for _, m := range s.calls[len(s.calls)-1].Messages {
		out += m.Content + "\n"
	}
	return out
}
