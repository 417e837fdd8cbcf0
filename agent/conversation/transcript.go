package conversation

import (
	"strings"

	contractx "github.com/moonsyncai/moonsync/agent/contract"
)

// defaultWindow bounds how many trailing turns are injected into a
// synthesis prompt. The full transcript is still kept for persistence.
const defaultWindow = 10

// Transcript is the ordered conversation history for one request cycle.
// It is request-scoped: the caller supplies the turns-so-far, the pipelines
// append the new user message and, after the stream completes, exactly one
// finalized assistant reply. Never shared across requests, so no locking.
type Transcript struct {
	turns []contractx.Turn
}

func NewTranscript(turns []contractx.Turn) *Transcript {
	copied := make([]contractx.Turn, len(turns))
	copy(copied, turns)
	return &Transcript{turns: copied}
}

func (t *Transcript) Len() int {
	if t == nil {
		return 0
	}
	return len(t.turns)
}

// Turns returns a copy of the full transcript.
func (t *Transcript) Turns() []contractx.Turn {
	if t == nil {
		return nil
	}
	out := make([]contractx.Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

// Window returns the last n turns (all turns when n <= 0 is not allowed;
// n <= 0 falls back to the default window).
func (t *Transcript) Window(n int) []contractx.Turn {
	if t == nil {
		return nil
	}
	if n <= 0 {
		n = defaultWindow
	}
	if len(t.turns) <= n {
		return t.Turns()
	}
	out := make([]contractx.Turn, n)
	copy(out, t.turns[len(t.turns)-n:])
	return out
}

func (t *Transcript) AppendUser(content string) {
	t.append(contractx.RoleUser, content)
}

func (t *Transcript) AppendAssistant(content string) {
	t.append(contractx.RoleAssistant, content)
}

func (t *Transcript) append(role contractx.Role, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	t.turns = append(t.turns, contractx.Turn{Role: role, Content: content})
}
