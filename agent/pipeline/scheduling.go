package pipeline

import (
	"context"
	"fmt"

	contractx "github.com/moonsyncai/moonsync/agent/contract"
	conversationx "github.com/moonsyncai/moonsync/agent/conversation"
	streamx "github.com/moonsyncai/moonsync/agent/stream"
)

// SchedulingPipeline hands the query to the external scheduling delegate
// and relays its stream untouched. Relative dates resolve against the
// session snapshot date, so a warm process keeps anchoring to the day the
// snapshot was taken.
type SchedulingPipeline struct {
	delegate contractx.Scheduler
	snapshot conversationx.Snapshot
}

func NewSchedulingPipeline(delegate contractx.Scheduler, snapshot conversationx.Snapshot) (*SchedulingPipeline, error) {
	if delegate == nil {
		return nil, fmt.Errorf("%w: scheduling delegate is required", contractx.ErrValidation)
	}
	return &SchedulingPipeline{delegate: delegate, snapshot: snapshot}, nil
}

func (p *SchedulingPipeline) Run(
	ctx context.Context,
	query string,
	transcript *conversationx.Transcript,
) (contractx.FragmentStream, error) {
	// Delegate sees the history as it stood before this query.
	history := transcript.Turns()
	transcript.AppendUser(query)

	src, err := p.delegate.Schedule(ctx, query, history, p.snapshot.CurrentDate)
	if err != nil {
		return nil, err
	}

	return streamx.Relay(ctx, src, func(full string) {
		transcript.AppendAssistant(full)
	}), nil
}
