package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	contractx "github.com/moonsyncai/moonsync/agent/contract"
	llmx "github.com/moonsyncai/moonsync/agent/llm"
)

const defaultTopK = 2

// VectorToolConfig binds one domain index to a registry name.
type VectorToolConfig struct {
	Name        string
	Description string
	ClassName   string
	TopK        int
}

// VectorTool answers a sub-question by NearText retrieval over one Weaviate
// class followed by a source-grounded QA model call.
type VectorTool struct {
	name        string
	description string
	className   string
	topK        int
	client      *weaviate.Client
	qa          compose.Runnable[map[string]any, *schema.Message]
}

var _ contractx.QueryTool = (*VectorTool)(nil)

func NewVectorTool(
	ctx context.Context,
	cfg VectorToolConfig,
	client *weaviate.Client,
	qaModel einomodel.BaseChatModel,
	qaSystemPrompt string,
	qaUserPrompt string,
) (*VectorTool, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: weaviate client is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(cfg.Name) == "" || strings.TrimSpace(cfg.ClassName) == "" {
		return nil, fmt.Errorf("%w: vector tool needs a name and a class", contractx.ErrValidation)
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	qa, err := llmx.CompilePromptGraph(ctx, qaModel, qaSystemPrompt, qaUserPrompt, "tool.source_qa_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile source qa graph: %v", contractx.ErrModelInvoke, err)
	}

	return &VectorTool{
		name:        cfg.Name,
		description: cfg.Description,
		className:   cfg.ClassName,
		topK:        topK,
		client:      client,
		qa:          qa,
	}, nil
}

func (t *VectorTool) Name() string        { return t.name }
func (t *VectorTool) Description() string { return t.description }

func (t *VectorTool) Answer(ctx context.Context, query string) (contractx.ToolAnswer, error) {
	passages, sources, err := t.retrieve(ctx, query)
	if err != nil {
		return contractx.ToolAnswer{}, fmt.Errorf("%w: tool=%s: %v", contractx.ErrToolInvocation, t.name, err)
	}

	contextStr := "(no passages retrieved)"
	if len(passages) > 0 {
		contextStr = strings.Join(passages, "\n\n")
	}

	msg, err := t.qa.Invoke(ctx, map[string]any{
		"context_str": contextStr,
		"query_str":   query,
	})
	if err != nil {
		return contractx.ToolAnswer{}, fmt.Errorf("%w: tool=%s: source qa invoke: %v", contractx.ErrToolInvocation, t.name, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return contractx.ToolAnswer{}, fmt.Errorf("%w: tool=%s: empty qa answer", contractx.ErrSchemaViolation, t.name)
	}

	return contractx.ToolAnswer{
		ToolName: t.name,
		Text:     strings.TrimSpace(msg.Content),
		Sources:  sources,
	}, nil
}

type vectorQueryResponse struct {
	Get map[string][]vectorPassage `json:"Get"`
}

type vectorPassage struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

func (t *VectorTool) retrieve(ctx context.Context, query string) ([]string, []string, error) {
	nearText := t.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
	}

	result, err := t.client.GraphQL().Get().
		WithClassName(t.className).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(t.topK).
		Do(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("weaviate query class=%s: %w", t.className, err)
	}
	if len(result.Errors) > 0 {
		return nil, nil, fmt.Errorf("weaviate query class=%s: %s", t.className, graphQLErrorText(result))
	}

	parsed, err := parseVectorResponse(result)
	if err != nil {
		return nil, nil, err
	}

	var passages []string
	seen := make(map[string]struct{})
	var sources []string
	for _, p := range parsed.Get[t.className] {
		content := strings.TrimSpace(p.Content)
		if content == "" {
			continue
		}
		passages = append(passages, content)
		source := strings.TrimSpace(p.Source)
		if source == "" {
			continue
		}
		if _, dup := seen[source]; !dup {
			seen[source] = struct{}{}
			sources = append(sources, source)
		}
	}
	return passages, sources, nil
}

func parseVectorResponse(resp *models.GraphQLResponse) (*vectorQueryResponse, error) {
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal weaviate response: %w", err)
	}
	var parsed vectorQueryResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal weaviate response: %w", err)
	}
	return &parsed, nil
}

func graphQLErrorText(resp *models.GraphQLResponse) string {
	msgs := make([]string, 0, len(resp.Errors))
	for _, e := range resp.Errors {
		if e != nil {
			msgs = append(msgs, e.Message)
		}
	}
	return strings.Join(msgs, "; ")
}
