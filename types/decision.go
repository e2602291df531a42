package types

// Decision is the classifier's structured routing output: which plugin
// should handle the request, which action it should take, and the
// parameters extracted from the utterance. It is produced once per request
// and never persisted verbatim; only its consequences are recorded as a Turn.
type Decision struct {
	Plugin     string         `json:"plugin"`
	Action     string         `json:"action"`
	Params     map[string]any `json:"params,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	Rationale  string         `json:"rationale,omitempty"`
}

// Valid reports whether the decision names a plugin and an action.
func (d *Decision) Valid() bool {
	return d != nil && d.Plugin != "" && d.Action != ""
}
