package contract

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the conversation transcript. Position in the
// transcript is the implicit timestamp.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToolSpec is the routing-facing view of a registered tool: the name the
// decomposition model may reference and the capability hint it routes by.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SubQuestion is a single (tool, sub-query) pair produced by the
// decomposition model. Transient; never persisted.
type SubQuestion struct {
	ToolName  string `json:"tool_name"`
	QueryText string `json:"query_text"`
}

// ToolAnswer is the outcome of dispatching one sub-question. Failed marks a
// tool whose invocation errored; synthesis omits it but never drops a
// successful answer.
type ToolAnswer struct {
	ToolName string   `json:"tool_name"`
	Text     string   `json:"text"`
	Sources  []string `json:"sources,omitempty"`
	Failed   bool     `json:"failed,omitempty"`
}

// InferenceRequest is the routed unit of work: the resolved prompt text plus
// the transcript-so-far supplied by the caller.
type InferenceRequest struct {
	Prompt    string `json:"prompt"`
	Messages  []Turn `json:"messages"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}
