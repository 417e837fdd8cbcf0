package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/moonsyncai/moonsync/agent/contract"
	conversationx "github.com/moonsyncai/moonsync/agent/conversation"
	plannerx "github.com/moonsyncai/moonsync/agent/planner"
	synthesizerx "github.com/moonsyncai/moonsync/agent/synthesizer"
	toolx "github.com/moonsyncai/moonsync/agent/tool"
)

type fakeDecomposer struct {
	subs []contractx.SubQuestion
	err  error
}

func (f *fakeDecomposer) Decompose(
	ctx context.Context,
	query string,
	tools []contractx.ToolSpec,
) ([]contractx.SubQuestion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.subs, nil
}

type fakeQueryTool struct {
	name   string
	answer string
	err    error
}

func (f *fakeQueryTool) Name() string        { return f.name }
func (f *fakeQueryTool) Description() string { return "fake " + f.name }

func (f *fakeQueryTool) Answer(ctx context.Context, query string) (contractx.ToolAnswer, error) {
	if f.err != nil {
		return contractx.ToolAnswer{}, f.err
	}
	return contractx.ToolAnswer{ToolName: f.name, Text: f.answer}, nil
}

type fakeStreamModel struct {
	chunks    []string
	lastInput []*schema.Message
}

func (f *fakeStreamModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	return nil, errors.New("generate not implemented in fake model")
}

func (f *fakeStreamModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	f.lastInput = input
	msgs := make([]*schema.Message, 0, len(f.chunks))
	for _, c := range f.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func (f *fakeStreamModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return f, nil
}

func newRetrievalPipeline(
	t *testing.T,
	decomposer contractx.Decomposer,
	model *fakeStreamModel,
	tools ...contractx.QueryTool,
) *RetrievalPipeline {
	t.Helper()

	tools = append(tools, toolx.NewEmptyTool())
	registry, err := toolx.NewRegistry(tools...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	queryPlanner, err := plannerx.New(registry, decomposer)
	if err != nil {
		t.Fatalf("planner.New() error = %v", err)
	}
	synth, err := synthesizerx.New(context.Background(), model, "You are MoonSync.", "Answer from the material.")
	if err != nil {
		t.Fatalf("synthesizer.New() error = %v", err)
	}
	p, err := NewRetrievalPipeline(queryPlanner, synth, schedulingSnapshot())
	if err != nil {
		t.Fatalf("NewRetrievalPipeline() error = %v", err)
	}
	return p
}

func TestRetrievalPipelineEndToEnd(t *testing.T) {
	t.Parallel()

	model := &fakeStreamModel{chunks: []string{"Eat iron-rich ", "foods this week."}}
	decomposer := &fakeDecomposer{
		subs: []contractx.SubQuestion{
			{ToolName: toolx.NameDietNutrition, QueryText: "foods for the luteal phase"},
		},
	}
	diet := &fakeQueryTool{name: toolx.NameDietNutrition, answer: "iron intake matters"}

	p := newRetrievalPipeline(t, decomposer, model, diet)
	transcript := conversationx.NewTranscript(nil)

	fs, err := p.Run(context.Background(), "what should I eat", transcript)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	full, err := drainFragments(t, fs)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if full != "Eat iron-rich foods this week." {
		t.Fatalf("unexpected answer: %q", full)
	}

	// Tool evidence reaches the synthesis model.
	last := model.lastInput[len(model.lastInput)-1]
	if !strings.Contains(last.Content, "iron intake matters") {
		t.Fatalf("tool answer missing from synthesis input: %q", last.Content)
	}

	turns := transcript.Turns()
	if len(turns) != 2 {
		t.Fatalf("expected user+assistant turns, got %d", len(turns))
	}
	if turns[0].Content != "what should I eat" || turns[1].Content != full {
		t.Fatalf("unexpected transcript: %+v", turns)
	}
}

func TestRetrievalPipelineAllToolsFailed(t *testing.T) {
	t.Parallel()

	model := &fakeStreamModel{chunks: []string{"never reached"}}
	decomposer := &fakeDecomposer{
		subs: []contractx.SubQuestion{
			{ToolName: toolx.NameGeneral, QueryText: "anything"},
		},
	}
	broken := &fakeQueryTool{name: toolx.NameGeneral, err: errors.New("index gone")}

	p := newRetrievalPipeline(t, decomposer, model, broken)
	transcript := conversationx.NewTranscript(nil)

	_, err := p.Run(context.Background(), "question", transcript)
	if !errors.Is(err, contractx.ErrRetrievalUnavailable) {
		t.Fatalf("expected ErrRetrievalUnavailable, got %v", err)
	}

	// The user turn stays recorded, no assistant turn is added.
	turns := transcript.Turns()
	if len(turns) != 1 || turns[0].Role != contractx.RoleUser {
		t.Fatalf("unexpected transcript after failure: %+v", turns)
	}
}

func TestRetrievalPipelineDecomposerFailureUsesFallbackTool(t *testing.T) {
	t.Parallel()

	model := &fakeStreamModel{chunks: []string{"general guidance"}}
	p := newRetrievalPipeline(t, &fakeDecomposer{err: errors.New("planner offline")}, model)
	transcript := conversationx.NewTranscript(nil)

	fs, err := p.Run(context.Background(), "question", transcript)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := drainFragments(t, fs); err != nil {
		t.Fatalf("stream error = %v", err)
	}
}
