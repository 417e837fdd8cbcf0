package planner

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	contractx "github.com/moonsyncai/moonsync/agent/contract"
	toolx "github.com/moonsyncai/moonsync/agent/tool"
)

// Planner turns one user query into per-tool sub-questions and dispatches
// them concurrently. Individual tool failures degrade the plan; only a
// plan with zero usable answers is an error.
type Planner struct {
	registry   *toolx.Registry
	decomposer contractx.Decomposer
}

func New(registry *toolx.Registry, decomposer contractx.Decomposer) (*Planner, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: planner registry is required", contractx.ErrValidation)
	}
	if decomposer == nil {
		return nil, fmt.Errorf("%w: planner decomposer is required", contractx.ErrValidation)
	}
	return &Planner{registry: registry, decomposer: decomposer}, nil
}

// Plan decomposes query against the registry catalog. Unknown tool names
// are dropped, duplicate sub-questions for the same tool are merged, and a
// plan that comes back empty (or a decomposer failure) falls back to one
// sub-question for the fallback tool carrying the original query.
func (p *Planner) Plan(ctx context.Context, query string) []contractx.SubQuestion {
	subs, err := p.decomposer.Decompose(ctx, query, p.registry.Specs())
	if err != nil {
		log.Warn().Err(err).Msg("decomposition failed, routing query to fallback tool")
		return p.fallbackPlan(query)
	}

	var planned []contractx.SubQuestion
	byTool := make(map[string]int)
	for _, sq := range subs {
		if _, ok := p.registry.Lookup(sq.ToolName); !ok {
			log.Warn().Str("tool", sq.ToolName).Msg("dropping sub-question for unknown tool")
			continue
		}
		if idx, dup := byTool[sq.ToolName]; dup {
			planned[idx].QueryText = planned[idx].QueryText + " " + sq.QueryText
			continue
		}
		byTool[sq.ToolName] = len(planned)
		planned = append(planned, sq)
	}

	if len(planned) == 0 {
		log.Warn().Msg("decomposition produced no usable sub-questions, routing to fallback tool")
		return p.fallbackPlan(query)
	}
	return planned
}

func (p *Planner) fallbackPlan(query string) []contractx.SubQuestion {
	return []contractx.SubQuestion{{
		ToolName:  p.registry.Fallback().Name(),
		QueryText: query,
	}}
}

// Dispatch runs every sub-question against its tool concurrently. Failed
// tools yield a placeholder answer with Failed set; when every tool fails
// the whole retrieval is unavailable.
func (p *Planner) Dispatch(ctx context.Context, subs []contractx.SubQuestion) ([]contractx.ToolAnswer, error) {
	if len(subs) == 0 {
		return nil, fmt.Errorf("%w: empty plan", contractx.ErrValidation)
	}

	answers := make([]contractx.ToolAnswer, len(subs))
	var mu sync.Mutex
	failed := 0

	g, gctx := errgroup.WithContext(ctx)
	for i, sq := range subs {
		tool, ok := p.registry.Lookup(sq.ToolName)
		if !ok {
			return nil, fmt.Errorf("%w: plan references unknown tool %q", contractx.ErrValidation, sq.ToolName)
		}

		g.Go(func() error {
			ans, err := tool.Answer(gctx, sq.QueryText)
			if err != nil {
				log.Warn().Err(err).Str("tool", sq.ToolName).Msg("tool invocation failed")
				mu.Lock()
				failed++
				mu.Unlock()
				answers[i] = contractx.ToolAnswer{
					ToolName: sq.ToolName,
					Failed:   true,
				}
				return nil
			}
			answers[i] = ans
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: dispatch: %v", contractx.ErrToolInvocation, err)
	}

	if failed == len(subs) {
		return nil, fmt.Errorf("%w: all %d tools failed", contractx.ErrRetrievalUnavailable, len(subs))
	}
	return answers, nil
}

// Run is Plan followed by Dispatch.
func (p *Planner) Run(ctx context.Context, query string) ([]contractx.ToolAnswer, error) {
	return p.Dispatch(ctx, p.Plan(ctx, query))
}
