package contract

import (
	"context"
	"time"
)

// QueryTool is an independently queryable knowledge source. Implementations
// must be safe for concurrent use; the planner fans out across them.
type QueryTool interface {
	Name() string
	Description() string
	Answer(ctx context.Context, query string) (ToolAnswer, error)
}

// Decomposer splits a user query into sub-questions, each naming a tool
// drawn from the provided specs. Returning zero sub-questions is valid.
type Decomposer interface {
	Decompose(ctx context.Context, query string, tools []ToolSpec) ([]SubQuestion, error)
}

// FragmentStream is a lazy sequence of text fragments. Recv returns io.EOF
// after the final fragment; any other error is a terminal stream failure.
// Close abandons the stream and releases the producer.
type FragmentStream interface {
	Recv() (string, error)
	Close()
}

// Scheduler is the external event-scheduling delegate. Relative dates in the
// query are resolved against referenceDate, not wall-clock time.
type Scheduler interface {
	Schedule(ctx context.Context, query string, transcript []Turn, referenceDate time.Time) (FragmentStream, error)
}
