package synthesizer

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/moonsyncai/moonsync/agent/contract"
	conversationx "github.com/moonsyncai/moonsync/agent/conversation"
)

type fakeStreamingModel struct {
	chunks    []string
	streamErr error
	lastInput []*schema.Message
}

func (f *fakeStreamingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	return nil, errors.New("generate not implemented in fake model")
}

func (f *fakeStreamingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	f.lastInput = input
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	msgs := make([]*schema.Message, 0, len(f.chunks))
	for _, c := range f.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func (f *fakeStreamingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return f, nil
}

func testSnapshot() conversationx.Snapshot {
	return conversationx.NewSnapshot(
		time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC),
		"Luteal",
		"Boston",
	)
}

func drain(t *testing.T, fs contractx.FragmentStream) (string, error) {
	t.Helper()
	var full strings.Builder
	for {
		text, err := fs.Recv()
		if errors.Is(err, io.EOF) {
			return full.String(), nil
		}
		if err != nil {
			return full.String(), err
		}
		full.WriteString(text)
	}
}

func newTestSynthesizer(t *testing.T, model einomodel.BaseChatModel) *Synthesizer {
	t.Helper()
	s, err := New(context.Background(), model, "You are MoonSync.", "Answer from the gathered material.")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestSynthesizeStreamsFragmentsAndAppendsAssistantTurn(t *testing.T) {
	t.Parallel()

	model := &fakeStreamingModel{chunks: []string{"During the ", "luteal phase, ", "rest more."}}
	s := newTestSynthesizer(t, model)

	transcript := conversationx.NewTranscript(nil)
	transcript.AppendUser("why am I tired")

	fs, err := s.Synthesize(context.Background(), "why am I tired", nil, transcript, testSnapshot())
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	full, err := drain(t, fs)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if full != "During the luteal phase, rest more." {
		t.Fatalf("unexpected answer: %q", full)
	}

	turns := transcript.Turns()
	if len(turns) != 2 {
		t.Fatalf("expected user+assistant turns, got %d", len(turns))
	}
	if turns[1].Role != contractx.RoleAssistant || turns[1].Content != full {
		t.Fatalf("assistant turn mismatch: %+v", turns[1])
	}
}

func TestSynthesizeFoldsToolAnswersIntoFinalMessage(t *testing.T) {
	t.Parallel()

	model := &fakeStreamingModel{chunks: []string{"answer"}}
	s := newTestSynthesizer(t, model)

	transcript := conversationx.NewTranscript(nil)
	transcript.AppendUser("what should I eat")

	answers := []contractx.ToolAnswer{
		{ToolName: "diet/nutrition", Text: "iron-rich foods help", Sources: []string{"nutrition.pdf"}},
		{ToolName: "database", Failed: true},
	}

	fs, err := s.Synthesize(context.Background(), "what should I eat", answers, transcript, testSnapshot())
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if _, err := drain(t, fs); err != nil {
		t.Fatalf("stream error = %v", err)
	}

	last := model.lastInput[len(model.lastInput)-1]
	if last.Role != schema.User {
		t.Fatalf("final message role = %s", last.Role)
	}
	if !strings.Contains(last.Content, "iron-rich foods help") {
		t.Fatalf("tool answer missing from final message: %q", last.Content)
	}
	if !strings.Contains(last.Content, "nutrition.pdf") {
		t.Fatalf("sources missing from final message: %q", last.Content)
	}
	if strings.Contains(last.Content, "[database]") {
		t.Fatalf("failed tool leaked into final message: %q", last.Content)
	}
}

func TestSynthesizeInjectsSnapshotIntoSystemMessage(t *testing.T) {
	t.Parallel()

	model := &fakeStreamingModel{chunks: []string{"ok"}}
	s := newTestSynthesizer(t, model)

	transcript := conversationx.NewTranscript(nil)
	transcript.AppendUser("q")

	fs, err := s.Synthesize(context.Background(), "q", nil, transcript, testSnapshot())
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if _, err := drain(t, fs); err != nil {
		t.Fatalf("stream error = %v", err)
	}

	system := model.lastInput[0]
	if system.Role != schema.System {
		t.Fatalf("first message role = %s", system.Role)
	}
	if !strings.Contains(system.Content, "Current Menstrual Phase: Luteal") {
		t.Fatalf("snapshot missing from system message: %q", system.Content)
	}
	if !strings.Contains(system.Content, "You are MoonSync.") {
		t.Fatalf("persona missing from system message: %q", system.Content)
	}
}

func TestSynthesizeCarriesHistoryWithoutDuplicatingCurrentQuery(t *testing.T) {
	t.Parallel()

	model := &fakeStreamingModel{chunks: []string{"ok"}}
	s := newTestSynthesizer(t, model)

	transcript := conversationx.NewTranscript([]contractx.Turn{
		{Role: contractx.RoleUser, Content: "first question"},
		{Role: contractx.RoleAssistant, Content: "first answer"},
	})
	transcript.AppendUser("second question")

	fs, err := s.Synthesize(context.Background(), "second question", nil, transcript, testSnapshot())
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if _, err := drain(t, fs); err != nil {
		t.Fatalf("stream error = %v", err)
	}

	// system + 2 history turns + grounded final message
	if len(model.lastInput) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(model.lastInput))
	}
	count := 0
	for _, m := range model.lastInput {
		if strings.Contains(m.Content, "second question") {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("current query appears %d times, want once", count)
	}
}

func TestSynthesizeStreamStartFailure(t *testing.T) {
	t.Parallel()

	model := &fakeStreamingModel{streamErr: errors.New("provider down")}
	s := newTestSynthesizer(t, model)

	transcript := conversationx.NewTranscript(nil)
	transcript.AppendUser("q")

	_, err := s.Synthesize(context.Background(), "q", nil, transcript, testSnapshot())
	if !errors.Is(err, contractx.ErrSynthesisFailed) {
		t.Fatalf("expected ErrSynthesisFailed, got %v", err)
	}
	if transcript.Len() != 1 {
		t.Fatalf("failed synthesis must not append assistant turn, got %d turns", transcript.Len())
	}
}

func TestSynthesizeConsumerAbandonMidStreamKeepsTranscript(t *testing.T) {
	t.Parallel()

	// More chunks than the stream can buffer, so the producer is still
	// mid-answer when the consumer walks away.
	chunks := make([]string, 64)
	for i := range chunks {
		chunks[i] = "token "
	}
	model := &fakeStreamingModel{chunks: chunks}
	s := newTestSynthesizer(t, model)

	transcript := conversationx.NewTranscript(nil)
	transcript.AppendUser("q")

	fs, err := s.Synthesize(context.Background(), "q", nil, transcript, testSnapshot())
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}

	if _, err := fs.Recv(); err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	fs.Close()

	terminated := make(chan struct{})
	go func() {
		defer close(terminated)
		for {
			if _, err := fs.Recv(); err != nil {
				return
			}
		}
	}()
	select {
	case <-terminated:
	case <-time.After(2 * time.Second):
		t.Fatal("stream never terminated after the consumer abandoned it")
	}

	// No assistant turn for an aborted answer.
	if transcript.Len() != 1 {
		t.Fatalf("expected only the user turn, got %d turns", transcript.Len())
	}
}

func TestSynthesizeRejectsEmptyQuery(t *testing.T) {
	t.Parallel()

	s := newTestSynthesizer(t, &fakeStreamingModel{chunks: []string{"x"}})
	_, err := s.Synthesize(context.Background(), "  ", nil, conversationx.NewTranscript(nil), testSnapshot())
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
