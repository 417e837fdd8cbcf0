package pipeline

import (
	"context"
	"fmt"

	contractx "github.com/moonsyncai/moonsync/agent/contract"
	conversationx "github.com/moonsyncai/moonsync/agent/conversation"
	plannerx "github.com/moonsyncai/moonsync/agent/planner"
	synthesizerx "github.com/moonsyncai/moonsync/agent/synthesizer"
)

// RetrievalPipeline is the default route: decompose the query across the
// tool catalog, gather answers concurrently, then stream a grounded reply.
type RetrievalPipeline struct {
	planner     *plannerx.Planner
	synthesizer *synthesizerx.Synthesizer
	snapshot    conversationx.Snapshot
}

func NewRetrievalPipeline(
	planner *plannerx.Planner,
	synthesizer *synthesizerx.Synthesizer,
	snapshot conversationx.Snapshot,
) (*RetrievalPipeline, error) {
	if planner == nil {
		return nil, fmt.Errorf("%w: retrieval planner is required", contractx.ErrValidation)
	}
	if synthesizer == nil {
		return nil, fmt.Errorf("%w: retrieval synthesizer is required", contractx.ErrValidation)
	}
	return &RetrievalPipeline{
		planner:     planner,
		synthesizer: synthesizer,
		snapshot:    snapshot,
	}, nil
}

// Run records the user turn, gathers tool answers and starts the answer
// stream. When every tool fails the user turn stays recorded but no
// assistant turn is ever appended.
func (p *RetrievalPipeline) Run(
	ctx context.Context,
	query string,
	transcript *conversationx.Transcript,
) (contractx.FragmentStream, error) {
	transcript.AppendUser(query)

	answers, err := p.planner.Run(ctx, query)
	if err != nil {
		return nil, err
	}

	return p.synthesizer.Synthesize(ctx, query, answers, transcript, p.snapshot)
}
