package pipeline

import (
	"context"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/rs/zerolog/log"

	contractx "github.com/moonsyncai/moonsync/agent/contract"
	conversationx "github.com/moonsyncai/moonsync/agent/conversation"
	streamx "github.com/moonsyncai/moonsync/agent/stream"
)

// LiveWebPipeline streams an answer from a web-grounded chat endpoint,
// bypassing decomposition and the tool catalog entirely. It talks to the
// provider through the raw SDK because the web models only expose plain
// chat completions.
type LiveWebPipeline struct {
	client       *openaisdk.Client
	model        string
	systemPrompt string
	snapshot     conversationx.Snapshot
}

func NewLiveWebPipeline(
	client *openaisdk.Client,
	model string,
	systemPrompt string,
	snapshot conversationx.Snapshot,
) (*LiveWebPipeline, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: live web client is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("%w: live web model is required", contractx.ErrValidation)
	}
	return &LiveWebPipeline{
		client:       client,
		model:        model,
		systemPrompt: strings.TrimSpace(systemPrompt),
		snapshot:     snapshot,
	}, nil
}

// Run records the user turn and relays the provider stream. The assistant
// turn is appended after the final delta, only on clean completion.
func (p *LiveWebPipeline) Run(
	ctx context.Context,
	query string,
	transcript *conversationx.Transcript,
) (contractx.FragmentStream, error) {
	transcript.AppendUser(query)

	messages := p.buildMessages(transcript)

	sdkStream := p.client.Chat.Completions.NewStreaming(ctx, openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(p.model),
		Messages: messages,
	})

	out := streamx.New()
	go func() {
		defer sdkStream.Close()
		var full []byte
		for sdkStream.Next() {
			chunk := sdkStream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			full = append(full, delta...)
			if err := out.Send(ctx, delta); err != nil {
				// Consumer gone or ctx cancelled: terminate the stream,
				// no assistant turn recorded.
				out.Fail(err)
				return
			}
		}
		if err := sdkStream.Err(); err != nil {
			log.Warn().Err(err).Str("model", p.model).Msg("live web stream failed")
			out.Fail(fmt.Errorf("%w: live web stream: %v", contractx.ErrUpstreamTransport, err))
			return
		}
		transcript.AppendAssistant(string(full))
		out.CloseSend()
	}()
	return out, nil
}

func (p *LiveWebPipeline) buildMessages(transcript *conversationx.Transcript) []openaisdk.ChatCompletionMessageParamUnion {
	system := p.snapshot.Preamble()
	if p.systemPrompt != "" {
		system = system + "\n\n" + p.systemPrompt
	}

	turns := transcript.Window(0)
	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	messages = append(messages, openaisdk.SystemMessage(system))
	for _, turn := range turns {
		switch turn.Role {
		case contractx.RoleAssistant:
			messages = append(messages, openaisdk.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openaisdk.UserMessage(turn.Content))
		}
	}
	return messages
}
