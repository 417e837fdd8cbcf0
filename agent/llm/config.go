package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/moonsyncai/moonsync/agent/contract"
	openaicompatx "github.com/moonsyncai/moonsync/pkg/openaicompat"
)

// Role names the model slots of the app. Each role may point at a
// different OpenAI-compatible provider.
type Role string

const (
	// RoleSynthesis drives the final streaming answer.
	RoleSynthesis Role = "synthesis"
	// RolePlanner drives sub-question decomposition; a small fast model.
	RolePlanner Role = "planner"
	// RoleSourceQA answers per-tool source-grounded questions.
	RoleSourceQA Role = "source_qa"
	// RoleBiometrics builds constrained biometrics lookups.
	RoleBiometrics Role = "biometrics"
	// RoleLiveWeb is the web-grounded alternate streaming model.
	RoleLiveWeb Role = "live_web"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://api.openai.com/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" default:"gpt-4-turbo"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"60s"`

	PlannerBaseURL     string  `envconfig:"PLANNER_BASE_URL" split_words:"true" default:"https://api.groq.com/openai/v1"`
	PlannerAPIKey      string  `envconfig:"PLANNER_API_KEY" split_words:"true"`
	PlannerModel       string  `envconfig:"PLANNER_MODEL" split_words:"true" default:"llama3-8b-8192"`
	PlannerTemperature float32 `envconfig:"PLANNER_TEMPERATURE" split_words:"true" default:"0.1"`

	LiveWebBaseURL     string  `envconfig:"LIVE_WEB_BASE_URL" split_words:"true" default:"https://api.perplexity.ai"`
	LiveWebAPIKey      string  `envconfig:"LIVE_WEB_API_KEY" split_words:"true"`
	LiveWebModel       string  `envconfig:"LIVE_WEB_MODEL" split_words:"true" default:"sonar"`
	LiveWebTemperature float32 `envconfig:"LIVE_WEB_TEMPERATURE" split_words:"true" default:"0.5"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: llm api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

// For maps a model role onto a concrete endpoint config. Planner-endpoint
// roles fall back to the base credentials when no dedicated key is set.
func (c Config) For(role Role) openaicompatx.Config {
	baseURL := strings.TrimSpace(c.BaseURL)
	apiKey := strings.TrimSpace(c.APIKey)
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	switch role {
	case RolePlanner, RoleSourceQA:
		baseURL = strings.TrimSpace(c.PlannerBaseURL)
		modelName = strings.TrimSpace(c.PlannerModel)
		temp = c.PlannerTemperature
		if v := strings.TrimSpace(c.PlannerAPIKey); v != "" {
			apiKey = v
		}
	case RoleLiveWeb:
		baseURL = strings.TrimSpace(c.LiveWebBaseURL)
		modelName = strings.TrimSpace(c.LiveWebModel)
		temp = c.LiveWebTemperature
		if v := strings.TrimSpace(c.LiveWebAPIKey); v != "" {
			apiKey = v
		}
	case RoleSynthesis, RoleBiometrics:
		// base endpoint
	}

	maxCompletionToken := c.MaxCompletionToken
	return openaicompatx.Config{
		BaseURL:            baseURL,
		APIKey:             apiKey,
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
	}
}
