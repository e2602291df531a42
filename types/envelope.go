package types

// Channel identifies the access channel a request arrived on.
type Channel string

const (
	ChannelCLI  Channel = "cli"
	ChannelChat Channel = "chat"
)

// AccessRequest is the unified request envelope crossing the system boundary.
// Channel adapters construct one per inbound message; nothing is persisted
// from it directly.
type AccessRequest struct {
	UserID    string         `json:"user_id"`
	InputText string         `json:"input_text"`
	Channel   Channel        `json:"channel"`
	Context   map[string]any `json:"context,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AccessResponse is the unified response envelope. Success=false always
// accompanies a populated Error; Data is only populated on success.
type AccessResponse struct {
	Success  bool           `json:"success"`
	Message  string         `json:"message,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// ContextUpdate lets a plugin ask the router to adjust the stored
	// conversation context. Plugins never write context themselves; the
	// router applies this after a successful execution. Not part of the
	// wire envelope.
	ContextUpdate *ContextUpdate `json:"-"`
}

// ContextUpdate is a plugin's requested change to the conversation context.
// Empty fields leave the router's defaults in place; State entries are
// merged into the stored scratch map, with a nil value deleting the key.
type ContextUpdate struct {
	Intent string
	Domain string
	State  map[string]any
}

// Ok builds a successful response.
func Ok(message string, data map[string]any) *AccessResponse {
	return &AccessResponse{Success: true, Message: message, Data: data}
}

// Fail builds an unsuccessful response with a human-readable error string.
func Fail(errMsg string) *AccessResponse {
	return &AccessResponse{Success: false, Error: errMsg}
}

// FailErr builds an unsuccessful response from an error value.
func FailErr(err error) *AccessResponse {
	if err == nil {
		return Fail("unknown error")
	}
	return Fail(err.Error())
}
