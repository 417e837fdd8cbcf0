package synthesizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	contractx "github.com/moonsyncai/moonsync/agent/contract"
	conversationx "github.com/moonsyncai/moonsync/agent/conversation"
	llmx "github.com/moonsyncai/moonsync/agent/llm"
	streamx "github.com/moonsyncai/moonsync/agent/stream"
)

// Synthesizer streams the final assistant answer from the collected tool
// answers plus conversation context. The finalized reply is appended to the
// transcript exactly once, after the last fragment and only on success.
type Synthesizer struct {
	runner       compose.Runnable[[]*schema.Message, *schema.Message]
	systemPrompt string
}

func New(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	persona string,
	chatSystem string,
) (*Synthesizer, error) {
	runner, err := llmx.CompileChatGraph(ctx, chatModel, "synthesizer.chat_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile synthesis graph: %v", contractx.ErrModelInvoke, err)
	}
	return &Synthesizer{
		runner:       runner,
		systemPrompt: strings.TrimSpace(persona + "\n\n" + chatSystem),
	}, nil
}

// Synthesize starts the answer stream. The transcript must already carry the
// new user turn; the assistant turn is appended by the producer goroutine
// right before the consumer observes io.EOF.
func (s *Synthesizer) Synthesize(
	ctx context.Context,
	query string,
	answers []contractx.ToolAnswer,
	transcript *conversationx.Transcript,
	snapshot conversationx.Snapshot,
) (contractx.FragmentStream, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: synthesis query is required", contractx.ErrValidation)
	}

	messages := s.buildMessages(query, answers, transcript, snapshot)

	sr, err := s.runner.Stream(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("%w: synthesis stream start: %v", contractx.ErrSynthesisFailed, err)
	}

	out := streamx.New()
	go func() {
		defer sr.Close()
		var full []byte
		for {
			chunk, err := sr.Recv()
			if errors.Is(err, io.EOF) {
				if transcript != nil {
					transcript.AppendAssistant(string(full))
				}
				out.CloseSend()
				return
			}
			if err != nil {
				log.Warn().Err(err).Msg("synthesis stream failed mid-answer")
				out.Fail(fmt.Errorf("%w: %v", contractx.ErrSynthesisFailed, err))
				return
			}
			if chunk == nil || chunk.Content == "" {
				continue
			}
			full = append(full, chunk.Content...)
			if err := out.Send(ctx, chunk.Content); err != nil {
				// Consumer gone or ctx cancelled: terminate the stream,
				// no assistant turn recorded.
				out.Fail(err)
				return
			}
		}
	}()
	return out, nil
}

func (s *Synthesizer) buildMessages(
	query string,
	answers []contractx.ToolAnswer,
	transcript *conversationx.Transcript,
	snapshot conversationx.Snapshot,
) []*schema.Message {
	system := snapshot.Preamble() + "\n\n" + s.systemPrompt

	window := transcript.Window(0)
	messages := make([]*schema.Message, 0, len(window)+2)
	messages = append(messages, schema.SystemMessage(system))

	// The trailing user turn of the window is the current query; it is
	// folded into the grounded final message instead.
	if n := len(window); n > 0 && window[n-1].Role == contractx.RoleUser && window[n-1].Content == strings.TrimSpace(query) {
		window = window[:n-1]
	}
	for _, turn := range window {
		switch turn.Role {
		case contractx.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(turn.Content, nil))
		default:
			messages = append(messages, schema.UserMessage(turn.Content))
		}
	}

	messages = append(messages, schema.UserMessage(groundedQuery(query, answers)))
	return messages
}

// groundedQuery folds the tool answers under the user query so the model
// answers from retrieved material rather than from its own priors.
func groundedQuery(query string, answers []contractx.ToolAnswer) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(query))

	usable := make([]contractx.ToolAnswer, 0, len(answers))
	for _, a := range answers {
		if a.Failed || strings.TrimSpace(a.Text) == "" {
			continue
		}
		usable = append(usable, a)
	}
	if len(usable) == 0 {
		return b.String()
	}

	b.WriteString("\n\nInformation gathered for this query:")
	for _, a := range usable {
		b.WriteString("\n\n[")
		b.WriteString(a.ToolName)
		b.WriteString("]\n")
		b.WriteString(strings.TrimSpace(a.Text))
		if len(a.Sources) > 0 {
			b.WriteString("\nSources: ")
			b.WriteString(strings.Join(a.Sources, ", "))
		}
	}
	return b.String()
}
