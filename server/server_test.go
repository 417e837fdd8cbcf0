package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	contractx "github.com/moonsyncai/moonsync/agent/contract"
	conversationx "github.com/moonsyncai/moonsync/agent/conversation"
	enginex "github.com/moonsyncai/moonsync/agent/engine"
	streamx "github.com/moonsyncai/moonsync/agent/stream"
)

type fakePipeline struct {
	fragments []string
	err       error
	lastQuery string
	lastTurns []contractx.Turn
}

func (f *fakePipeline) Run(
	ctx context.Context,
	query string,
	transcript *conversationx.Transcript,
) (contractx.FragmentStream, error) {
	f.lastQuery = query
	f.lastTurns = transcript.Turns()
	if f.err != nil {
		return nil, f.err
	}

	transcript.AppendUser(query)
	s := streamx.New()
	go func() {
		for _, fr := range f.fragments {
			if err := s.Send(ctx, fr); err != nil {
				return
			}
		}
		transcript.AppendAssistant(strings.Join(f.fragments, ""))
		s.CloseSend()
	}()
	return s, nil
}

type fakeStore struct {
	loaded   []contractx.Turn
	loadErr  error
	saved    map[string][]contractx.Turn
	saveErr  error
	loadKeys []string
}

func (f *fakeStore) Load(ctx context.Context, sessionID string) ([]contractx.Turn, error) {
	f.loadKeys = append(f.loadKeys, sessionID)
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.loaded, nil
}

func (f *fakeStore) Save(ctx context.Context, sessionID string, turns []contractx.Turn) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.saved == nil {
		f.saved = make(map[string][]contractx.Turn)
	}
	f.saved[sessionID] = turns
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, sessionID string) error {
	return nil
}

func newTestServer(t *testing.T, pipeline enginex.Pipeline, store conversationx.Store) *Server {
	t.Helper()
	engine, err := enginex.New(pipeline, nil, nil)
	if err != nil {
		t.Fatalf("engine.New() error = %v", err)
	}
	srv, err := New(Config{}, engine, store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

type sseEvent struct {
	event string
	data  ssePayload
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev.data); err != nil {
					t.Fatalf("decode sse data %q: %v", line, err)
				}
			}
		}
		events = append(events, ev)
	}
	return events
}

func postInference(t *testing.T, srv *Server, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/inference", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestInferenceStreamsSSE(t *testing.T) {
	t.Parallel()

	pipeline := &fakePipeline{fragments: []string{"Hello ", "there"}}
	srv := newTestServer(t, pipeline, nil)

	rec := postInference(t, srv, `{"prompt":"how is my sleep"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	events := parseSSE(t, rec.Body.String())
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[0].event != eventFragment || events[0].data.Content != "Hello " {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[2].event != eventDone {
		t.Fatalf("expected done terminator, got %+v", events[2])
	}
}

func TestInferenceFlattensPromptParts(t *testing.T) {
	t.Parallel()

	pipeline := &fakePipeline{fragments: []string{"ok"}}
	srv := newTestServer(t, pipeline, nil)

	body := `{"prompt":[{"type":"text","text":"first part"},{"type":"image","text":"ignored"},{"type":"text","text":"second part"}]}`
	rec := postInference(t, srv, body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if pipeline.lastQuery != "first part\nsecond part" {
		t.Fatalf("flattened prompt = %q", pipeline.lastQuery)
	}
}

func TestInferenceAppendsTerraUserID(t *testing.T) {
	t.Parallel()

	pipeline := &fakePipeline{fragments: []string{"ok"}}
	srv := newTestServer(t, pipeline, nil)

	rec := postInference(t, srv, `{"prompt":"how did I sleep","terra_user_id":"u-42"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.HasSuffix(pipeline.lastQuery, "\nTerra User ID: u-42") {
		t.Fatalf("terra user id missing from prompt: %q", pipeline.lastQuery)
	}
}

func TestInferenceRejectsBadBodies(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakePipeline{fragments: []string{"x"}}, nil)

	cases := []struct {
		name string
		body string
	}{
		{"not json", "{{{"},
		{"missing prompt", `{"messages":[]}`},
		{"empty prompt", `{"prompt":"   "}`},
		{"prompt wrong type", `{"prompt":42}`},
		{"no text parts", `{"prompt":[{"type":"image","text":""}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := postInference(t, srv, tc.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestInferenceErrorStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"retrieval unavailable", contractx.ErrRetrievalUnavailable, http.StatusServiceUnavailable},
		{"upstream transport", contractx.ErrUpstreamTransport, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := newTestServer(t, &fakePipeline{err: tc.err}, nil)
			rec := postInference(t, srv, `{"prompt":"q"}`, nil)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestInferencePrefersStoredTranscript(t *testing.T) {
	t.Parallel()

	stored := []contractx.Turn{
		{Role: contractx.RoleUser, Content: "stored question"},
		{Role: contractx.RoleAssistant, Content: "stored answer"},
	}
	store := &fakeStore{loaded: stored}
	pipeline := &fakePipeline{fragments: []string{"reply"}}
	srv := newTestServer(t, pipeline, store)

	body := `{"prompt":"next","session_id":"s1","messages":[{"role":"user","content":"inline ignored"}]}`
	rec := postInference(t, srv, body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	if len(pipeline.lastTurns) != 2 || pipeline.lastTurns[0].Content != "stored question" {
		t.Fatalf("pipeline saw turns %+v, want stored transcript", pipeline.lastTurns)
	}

	saved, ok := store.saved["s1"]
	if !ok {
		t.Fatal("transcript not saved after stream completion")
	}
	// stored history + new user turn + assistant turn
	if len(saved) != 4 {
		t.Fatalf("saved %d turns, want 4: %+v", len(saved), saved)
	}
	if saved[3].Role != contractx.RoleAssistant || saved[3].Content != "reply" {
		t.Fatalf("unexpected final saved turn: %+v", saved[3])
	}
}

func TestInferenceMissingSessionFallsBackToInlineMessages(t *testing.T) {
	t.Parallel()

	store := &fakeStore{loadErr: conversationx.ErrTranscriptNotFound}
	pipeline := &fakePipeline{fragments: []string{"reply"}}
	srv := newTestServer(t, pipeline, store)

	body := `{"prompt":"next","session_id":"s2","messages":[{"role":"user","content":"inline history"}]}`
	rec := postInference(t, srv, body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(pipeline.lastTurns) != 1 || pipeline.lastTurns[0].Content != "inline history" {
		t.Fatalf("expected inline fallback, got %+v", pipeline.lastTurns)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakePipeline{fragments: []string{"x"}}, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
