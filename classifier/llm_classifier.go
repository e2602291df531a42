package classifier

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/quickjot/quickjot/llm"
	"github.com/quickjot/quickjot/types"
)

const systemPrompt = `You are the routing brain of a personal logging assistant.
Given the user's message, their conversation so far, and the list of available
plugins, decide which plugin should handle the message and with which action.

Respond with a single JSON object and nothing else:
{"plugin": "<plugin name>", "action": "<action>", "params": {...}, "confidence": 0.0-1.0, "rationale": "<one short sentence>"}

Rules:
- "plugin" must be one of the listed plugin names, exactly as written.
- Typical actions are "add" for recording something and "query" for questions
  about recorded data; use the plugin description to judge.
- Put extracted values (amounts, dates, task names) into "params".
- If no plugin fits, use {"plugin": "", "action": "", "confidence": 0, "rationale": "..."}.`

// LLMClassifier asks a language model to route each request.
type LLMClassifier struct {
	client llm.Client
	logger *zap.Logger
}

var _ Classifier = (*LLMClassifier)(nil)

// NewLLMClassifier creates a model-backed classifier.
func NewLLMClassifier(client llm.Client, logger *zap.Logger) *LLMClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMClassifier{
		client: client,
		logger: logger.With(zap.String("component", "classifier")),
	}
}

// Decide builds the routing prompt from the live catalog and parses the
// model's JSON reply into a decision.
func (c *LLMClassifier) Decide(ctx context.Context, in Input) (*types.Decision, error) {
	if len(in.Catalog) == 0 {
		return nil, types.NewError(types.ErrRouting, "no plugins are loaded")
	}

	resp, err := c.client.Chat(ctx, &llm.ChatRequest{
		Messages: []llm.Message{
			llm.SystemMessage(systemPrompt),
			llm.UserMessage(buildPrompt(in)),
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, types.NewError(types.ErrRouting, "classifier model call failed").WithCause(err)
	}

	var d types.Decision
	if err := llm.DecodeJSON(resp.Content, &d); err != nil {
		c.logger.Warn("unparseable classifier reply",
			zap.String("user_id", in.UserID),
			zap.String("reply", resp.Content))
		return nil, types.NewError(types.ErrRouting, "classifier returned an unusable reply").WithCause(err)
	}
	if !d.Valid() {
		return nil, types.Errorf(types.ErrRouting, "no plugin matched the input: %s", d.Rationale)
	}

	c.logger.Debug("routing decision",
		zap.String("user_id", in.UserID),
		zap.String("plugin", d.Plugin),
		zap.String("action", d.Action),
		zap.Float64("confidence", d.Confidence))
	return &d, nil
}

func buildPrompt(in Input) string {
	var b strings.Builder

	b.WriteString("Available plugins:\n")
	for _, desc := range in.Catalog {
		fmt.Fprintf(&b, "- %s (%s): %s\n", desc.Name, desc.DisplayName, desc.Description)
	}

	if in.Context != nil && (in.Context.CurrentIntent != "" || in.Context.CurrentDomain != "") {
		fmt.Fprintf(&b, "\nCurrent conversation state: intent=%s domain=%s\n",
			in.Context.CurrentIntent, in.Context.CurrentDomain)
	}

	if len(in.History) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, turn := range in.History {
			fmt.Fprintf(&b, "user: %s\nassistant: %s\n", turn.Input, turn.Response)
		}
	}

	fmt.Fprintf(&b, "\nUser message: %s\n", in.InputText)
	return b.String()
}
