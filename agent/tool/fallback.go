package tool

import (
	"context"

	contractx "github.com/moonsyncai/moonsync/agent/contract"
)

// emptyAnswer mirrors the canned response of an empty query engine: the
// synthesizer sees the tool responded but gains no evidence from it.
const emptyAnswer = "Empty Response"

// EmptyTool is the mandatory "none of the above" fallback. It never fails
// and never contributes sources.
type EmptyTool struct {
	name        string
	description string
}

func NewEmptyTool() *EmptyTool {
	return &EmptyTool{
		name:        NameFallback,
		description: "Use this if none of the other tools are relevant to the query",
	}
}

func (t *EmptyTool) Name() string        { return t.name }
func (t *EmptyTool) Description() string { return t.description }

func (t *EmptyTool) Answer(_ context.Context, _ string) (contractx.ToolAnswer, error) {
	return contractx.ToolAnswer{
		ToolName: t.name,
		Text:     emptyAnswer,
	}, nil
}
