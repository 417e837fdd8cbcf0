package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/uptrace/bun"

	contractx "github.com/moonsyncai/moonsync/agent/contract"
	llmx "github.com/moonsyncai/moonsync/agent/llm"
)

const (
	biometricsTable = "user_biometrics"

	defaultLookbackDays = 7
	maxLookbackDays     = 90
)

// BiometricRecord is one daily row of the fixed user_biometrics schema.
type BiometricRecord struct {
	bun.BaseModel `bun:"table:user_biometrics"`

	ID                       int64     `bun:"id,pk" json:"id"`
	AvgHRBPM                 float64   `bun:"avg_hr_bpm" json:"avg_hr_bpm"`
	RestingHRBPM             float64   `bun:"resting_hr_bpm" json:"resting_hr_bpm"`
	DurationInBedSecondsData float64   `bun:"duration_in_bed_seconds_data" json:"duration_in_bed_seconds_data"`
	DurationDeepSleep        float64   `bun:"duration_deep_sleep" json:"duration_deep_sleep"`
	TemperatureDelta         float64   `bun:"temperature_delta" json:"temperature_delta"`
	AvgSaturationPercentage  float64   `bun:"avg_saturation_percentage" json:"avg_saturation_percentage"`
	RecoveryScore            float64   `bun:"recovery_score" json:"recovery_score"`
	ActivityScore            float64   `bun:"activity_score" json:"activity_score"`
	SleepScore               float64   `bun:"sleep_score" json:"sleep_score"`
	StressData               float64   `bun:"stress_data" json:"stress_data"`
	NumberSteps              int64     `bun:"number_steps" json:"number_steps"`
	TotalBurnedCalories      float64   `bun:"total_burned_calories" json:"total_burned_calories"`
	Date                     time.Time `bun:"date" json:"date"`
	TerraUserID              string    `bun:"terra_user_id" json:"terra_user_id"`
}

// allowedColumns is the closed column set the query builder may select
// from. Anything outside it is a schema violation.
var allowedColumns = []string{
	"id",
	"avg_hr_bpm",
	"resting_hr_bpm",
	"duration_in_bed_seconds_data",
	"duration_deep_sleep",
	"temperature_delta",
	"avg_saturation_percentage",
	"recovery_score",
	"activity_score",
	"sleep_score",
	"stress_data",
	"number_steps",
	"total_burned_calories",
	"date",
}

var userIDPattern = regexp.MustCompile(`Terra User ID:\s*(\S+)`)

// biometricsQuery is the structured output of the query-builder model: a
// constrained projection plus a lookback window, never free-form SQL.
type biometricsQuery struct {
	Columns []string `json:"columns"`
	Days    int      `json:"days"`
}

// BiometricsTool answers sub-questions from the structured biometrics
// store. The query text is translated by a model into a constrained SELECT
// over the fixed schema, always filtered by the requesting user when the
// prompt carries an identifier.
type BiometricsTool struct {
	name        string
	description string
	db          bun.IDB
	builder     compose.Runnable[map[string]any, biometricsQuery]
}

var _ contractx.QueryTool = (*BiometricsTool)(nil)

func NewBiometricsTool(
	ctx context.Context,
	db bun.IDB,
	builderModel einomodel.BaseChatModel,
	builderPrompt string,
) (*BiometricsTool, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: biometrics db is required", contractx.ErrValidation)
	}

	builder, err := llmx.CompileStructuredGraph[biometricsQuery](ctx, builderModel, builderPrompt, "tool.biometrics_query_graph")
	if err != nil {
		return nil, fmt.Errorf("%w: compile biometrics query graph: %v", contractx.ErrModelInvoke, err)
	}

	return &BiometricsTool{
		name: NameDatabase,
		description: "Use this to get relevant biometrics (health parameters) data relevant to the query " +
			"from the '" + biometricsTable + "' SQL table. Columns: " + strings.Join(allowedColumns, ", "),
		db:      db,
		builder: builder,
	}, nil
}

func (t *BiometricsTool) Name() string        { return t.name }
func (t *BiometricsTool) Description() string { return t.description }

func (t *BiometricsTool) Answer(ctx context.Context, query string) (contractx.ToolAnswer, error) {
	q, err := t.buildQuery(ctx, query)
	if err != nil {
		return contractx.ToolAnswer{}, err
	}

	userID := ExtractUserID(query)

	var rows []map[string]any
	sel := t.db.NewSelect().
		Model((*BiometricRecord)(nil)).
		Column(q.Columns...).
		Order("date DESC").
		Limit(q.Days)
	if userID != "" {
		sel = sel.Where("terra_user_id = ?", userID)
	}
	if err := sel.Scan(ctx, &rows); err != nil {
		return contractx.ToolAnswer{}, fmt.Errorf("%w: tool=%s: select biometrics: %v", contractx.ErrToolInvocation, t.name, err)
	}

	return contractx.ToolAnswer{
		ToolName: t.name,
		Text:     renderRows(q.Columns, rows),
		Sources:  []string{biometricsTable},
	}, nil
}

func (t *BiometricsTool) buildQuery(ctx context.Context, query string) (biometricsQuery, error) {
	payload, err := json.Marshal(map[string]any{
		"question":        query,
		"allowed_columns": allowedColumns,
	})
	if err != nil {
		return biometricsQuery{}, fmt.Errorf("%w: marshal biometrics payload: %v", contractx.ErrValidation, err)
	}

	out, err := t.builder.Invoke(ctx, map[string]any{
		"input": string(payload),
	})
	if err != nil {
		return biometricsQuery{}, fmt.Errorf("%w: tool=%s: query builder invoke: %v", contractx.ErrToolInvocation, t.name, err)
	}

	return sanitizeQuery(out)
}

// sanitizeQuery enforces the closed column set and clamps the lookback
// window. Unknown columns are dropped, not fatal; an empty projection is.
func sanitizeQuery(q biometricsQuery) (biometricsQuery, error) {
	allowed := make(map[string]struct{}, len(allowedColumns))
	for _, c := range allowedColumns {
		allowed[c] = struct{}{}
	}

	var cols []string
	seen := make(map[string]struct{})
	for _, c := range q.Columns {
		c = strings.TrimSpace(c)
		if _, ok := allowed[c]; !ok {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		cols = append(cols, c)
	}
	if len(cols) == 0 {
		return biometricsQuery{}, fmt.Errorf("%w: biometrics query selected no valid columns", contractx.ErrSchemaViolation)
	}
	if _, ok := seen["date"]; !ok {
		cols = append(cols, "date")
	}

	days := q.Days
	if days <= 0 {
		days = defaultLookbackDays
	}
	if days > maxLookbackDays {
		days = maxLookbackDays
	}

	return biometricsQuery{Columns: cols, Days: days}, nil
}

func renderRows(cols []string, rows []map[string]any) string {
	if len(rows) == 0 {
		return "No biometric rows found for this user."
	}

	var b strings.Builder
	b.WriteString("Biometric data (most recent first), columns: ")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString("\n")
	for _, row := range rows {
		parts := make([]string, 0, len(cols))
		for _, c := range cols {
			parts = append(parts, fmt.Sprintf("%s=%v", c, row[c]))
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// ExtractUserID pulls the trailing "Terra User ID: <id>" hint the HTTP
// layer appends to the prompt for identified users.
func ExtractUserID(query string) string {
	m := userIDPattern.FindStringSubmatch(query)
	if len(m) != 2 {
		return ""
	}
	return m[1]
}
