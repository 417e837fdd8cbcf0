package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"

	contractx "github.com/moonsyncai/moonsync/agent/contract"
	llmx "github.com/moonsyncai/moonsync/agent/llm"
)

// llmDecomposer asks a small model to split a query into per-tool
// sub-questions, constrained to the provided tool specs.
type llmDecomposer struct {
	runner compose.Runnable[map[string]any, decompositionOutput]
}

type decompositionOutput struct {
	SubQuestions []contractx.SubQuestion `json:"sub_questions"`
}

var _ contractx.Decomposer = (*llmDecomposer)(nil)

func NewDecomposer(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	systemPrompt string,
) (contractx.Decomposer, error) {
	runner, err := llmx.CompileStructuredGraph[decompositionOutput](ctx, chatModel, systemPrompt, "planner.decomposition_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile decomposition graph: %v", contractx.ErrModelInvoke, err)
	}
	return &llmDecomposer{runner: runner}, nil
}

func (d *llmDecomposer) Decompose(
	ctx context.Context,
	query string,
	tools []contractx.ToolSpec,
) ([]contractx.SubQuestion, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", contractx.ErrValidation)
	}

	payload, err := json.Marshal(map[string]any{
		"query": query,
		"tools": tools,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal decomposition payload: %v", contractx.ErrValidation, err)
	}

	out, err := d.runner.Invoke(ctx, map[string]any{
		"input": string(payload),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: decomposition invoke: %v", contractx.ErrModelInvoke, err)
	}

	subs := make([]contractx.SubQuestion, 0, len(out.SubQuestions))
	for _, sq := range out.SubQuestions {
		sq.ToolName = strings.TrimSpace(sq.ToolName)
		sq.QueryText = strings.TrimSpace(sq.QueryText)
		if sq.ToolName == "" || sq.QueryText == "" {
			continue
		}
		subs = append(subs, sq)
	}
	return subs, nil
}
