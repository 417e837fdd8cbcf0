// Package engine routes inference requests onto the pipeline matching their
// intent markers and owns the per-request conversation transcript.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/moonsyncai/moonsync/agent/contract"
	conversationx "github.com/moonsyncai/moonsync/agent/conversation"
	pipelinex "github.com/moonsyncai/moonsync/agent/pipeline"
	routerx "github.com/moonsyncai/moonsync/agent/router"
)

// Pipeline is one executable inference path. All three modes share the same
// shape: append the user turn, stream fragments, finalize the transcript.
type Pipeline interface {
	Run(ctx context.Context, query string, transcript *conversationx.Transcript) (contractx.FragmentStream, error)
}

var (
	_ Pipeline = (*pipelinex.RetrievalPipeline)(nil)
	_ Pipeline = (*pipelinex.LiveWebPipeline)(nil)
	_ Pipeline = (*pipelinex.SchedulingPipeline)(nil)
)

type Engine struct {
	retrieval  Pipeline
	liveWeb    Pipeline
	scheduling Pipeline
}

// New wires the engine. Live-web and scheduling are optional; requests
// routed to a missing pipeline fall back to retrieval.
func New(retrieval, liveWeb, scheduling Pipeline) (*Engine, error) {
	if retrieval == nil {
		return nil, fmt.Errorf("%w: retrieval pipeline is required", contractx.ErrValidation)
	}
	return &Engine{
		retrieval:  retrieval,
		liveWeb:    liveWeb,
		scheduling: scheduling,
	}, nil
}

// Infer routes the request and starts the selected pipeline. The returned
// transcript is live: it gains the assistant turn when the stream completes,
// so callers persist it only after draining the stream.
func (e *Engine) Infer(ctx context.Context, req contractx.InferenceRequest) (contractx.FragmentStream, *conversationx.Transcript, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, nil, fmt.Errorf("%w: prompt is required", contractx.ErrValidation)
	}

	mode := routerx.Route(req.Prompt)
	pipeline := e.pipelineFor(mode)
	if pipeline == nil {
		log.Warn().Str("mode", string(mode)).Msg("mode has no pipeline configured, using retrieval")
		mode = routerx.ModeRetrieval
		pipeline = e.retrieval
	}

	log.Info().
		Str("mode", string(mode)).
		Str("session_id", req.SessionID).
		Int("history_turns", len(req.Messages)).
		Msg("routing inference request")

	transcript := conversationx.NewTranscript(req.Messages)
	fragments, err := pipeline.Run(ctx, req.Prompt, transcript)
	if err != nil {
		return nil, nil, err
	}
	return fragments, transcript, nil
}

func (e *Engine) pipelineFor(mode routerx.Mode) Pipeline {
	switch mode {
	case routerx.ModeLiveWeb:
		return e.liveWeb
	case routerx.ModeScheduling:
		return e.scheduling
	default:
		return e.retrieval
	}
}
