package llm

import (
	"encoding/json"
	"strings"

	"github.com/quickjot/quickjot/types"
)

// ExtractJSON pulls the first JSON object or array out of a model reply.
// Models routinely wrap JSON in markdown fences or surround it with prose;
// both are tolerated.
func ExtractJSON(reply string) (string, error) {
	s := strings.TrimSpace(reply)

	// Strip a markdown code fence if present.
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", types.NewError(types.ErrValidation, "no JSON found in model reply")
	}

	var end int
	if s[start] == '{' {
		end = strings.LastIndex(s, "}")
	} else {
		end = strings.LastIndex(s, "]")
	}
	if end <= start {
		return "", types.NewError(types.ErrValidation, "unterminated JSON in model reply")
	}

	candidate := s[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", types.NewError(types.ErrValidation, "model reply is not valid JSON")
	}
	return candidate, nil
}

// ExtractSQL pulls a bare SELECT statement out of a model reply, tolerating
// markdown fences and leading prose. It does no safety checking; callers
// must pass the result through storage.ValidateQuery before execution.
func ExtractSQL(reply string) (string, error) {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```sql")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	upper := strings.ToUpper(s)
	start := strings.Index(upper, "SELECT")
	if start < 0 {
		return "", types.NewError(types.ErrValidation, "no SELECT statement in model reply")
	}
	stmt := s[start:]
	if i := strings.Index(stmt, ";"); i >= 0 {
		stmt = stmt[:i]
	}
	return strings.TrimSpace(stmt), nil
}

// DecodeJSON extracts JSON from a model reply and unmarshals it into out.
func DecodeJSON(reply string, out any) error {
	candidate, err := ExtractJSON(reply)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(candidate), out); err != nil {
		return types.NewError(types.ErrValidation, "unmarshal model reply").WithCause(err)
	}
	return nil
}
