package main

import (
	"context"
	"database/sql"
	"net/url"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	contractx "github.com/moonsyncai/moonsync/agent/contract"
	conversationx "github.com/moonsyncai/moonsync/agent/conversation"
	enginex "github.com/moonsyncai/moonsync/agent/engine"
	llmx "github.com/moonsyncai/moonsync/agent/llm"
	pipelinex "github.com/moonsyncai/moonsync/agent/pipeline"
	plannerx "github.com/moonsyncai/moonsync/agent/planner"
	promptx "github.com/moonsyncai/moonsync/agent/prompt"
	synthesizerx "github.com/moonsyncai/moonsync/agent/synthesizer"
	toolx "github.com/moonsyncai/moonsync/agent/tool"
	configx "github.com/moonsyncai/moonsync/pkg/config"
	_ "github.com/moonsyncai/moonsync/pkg/logger/autoload"
	openaicompatx "github.com/moonsyncai/moonsync/pkg/openaicompat"
	schedulerx "github.com/moonsyncai/moonsync/pkg/scheduler"
	serverx "github.com/moonsyncai/moonsync/server"
)

type AppConfig struct {
	WeaviateURL string `envconfig:"WEAVIATE_URL" required:"true"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" required:"true"`

	MenstrualPhase string `envconfig:"MENSTRUAL_PHASE"`
	Location       string `envconfig:"LOCATION"`

	SchedulerURL   string `envconfig:"SCHEDULER_URL"`
	SchedulerToken string `envconfig:"SCHEDULER_TOKEN"`

	UpstashRedisURL   string `envconfig:"UPSTASH_REDIS_URL"`
	UpstashRedisToken string `envconfig:"UPSTASH_REDIS_TOKEN"`
}

// vectorClasses binds each knowledge tool to its Weaviate class. The set is
// fixed; new domains mean a new class and a new entry here.
var vectorClasses = []toolx.VectorToolConfig{
	{
		Name:        toolx.NameMoodFeeling,
		Description: "Useful for answering questions related to mood and feelings during the menstrual cycle",
		ClassName:   "MoodFeeling",
	},
	{
		Name:        toolx.NameDietNutrition,
		Description: "Useful for answering questions related to diet and nutrition during the menstrual cycle",
		ClassName:   "DietNutrition",
	},
	{
		Name:        toolx.NameGeneral,
		Description: "Useful for answering general questions about the menstrual cycle and women's health",
		ClassName:   "General",
	},
	{
		Name:        toolx.NameFitnessWellness,
		Description: "Useful for answering questions related to fitness and wellness during the menstrual cycle",
		ClassName:   "FitnessWellness",
	},
}

func main() {
	ctx := context.Background()

	appCfg := configx.MustNew[AppConfig]("")
	llmCfg := configx.MustNew[llmx.Config]("LLM")
	serverCfg := configx.MustNew[serverx.Config]("SERVER")
	if err := llmCfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid llm config")
	}

	// Session-scoped ambient context, computed once. The rendered date
	// drifts while the process stays warm.
	snapshot := conversationx.NewSnapshot(time.Now(), appCfg.MenstrualPhase, appCfg.Location)
	log.Info().
		Str("date", snapshot.CurrentDate.Format("2006-01-02")).
		Str("phase", snapshot.Phase).
		Str("location", snapshot.Location).
		Msg("session snapshot")

	prompts := promptx.LoadPromptSet()

	weaviateClient := mustWeaviateClient(appCfg.WeaviateURL)
	db := mustPostgres(appCfg.PostgresDSN)

	synthModel, err := buildModel(ctx, llmCfg, llmx.RoleSynthesis)
	if err != nil {
		log.Fatal().Err(err).Msg("build synthesis model")
	}
	plannerModel, err := buildModel(ctx, llmCfg, llmx.RolePlanner)
	if err != nil {
		log.Fatal().Err(err).Msg("build planner model")
	}
	sourceQAModel, err := buildModel(ctx, llmCfg, llmx.RoleSourceQA)
	if err != nil {
		log.Fatal().Err(err).Msg("build source qa model")
	}
	biometricsModel, err := buildModel(ctx, llmCfg, llmx.RoleBiometrics)
	if err != nil {
		log.Fatal().Err(err).Msg("build biometrics model")
	}

	tools := make([]contractx.QueryTool, 0, len(vectorClasses)+2)
	for _, vc := range vectorClasses {
		vt, err := toolx.NewVectorTool(ctx, vc, weaviateClient, sourceQAModel, prompts.SourceQASystem, prompts.SourceQAUser)
		if err != nil {
			log.Fatal().Err(err).Str("tool", vc.Name).Msg("build vector tool")
		}
		tools = append(tools, vt)
	}
	biometricsTool, err := toolx.NewBiometricsTool(ctx, db, biometricsModel, prompts.Biometrics)
	if err != nil {
		log.Fatal().Err(err).Msg("build biometrics tool")
	}
	tools = append(tools, biometricsTool, toolx.NewEmptyTool())

	registry, err := toolx.NewRegistry(tools...)
	if err != nil {
		log.Fatal().Err(err).Msg("build tool registry")
	}

	decomposer, err := plannerx.NewDecomposer(ctx, plannerModel, prompts.SubQuestion)
	if err != nil {
		log.Fatal().Err(err).Msg("build decomposer")
	}
	queryPlanner, err := plannerx.New(registry, decomposer)
	if err != nil {
		log.Fatal().Err(err).Msg("build planner")
	}

	synth, err := synthesizerx.New(ctx, synthModel, prompts.Persona, prompts.ChatSystem)
	if err != nil {
		log.Fatal().Err(err).Msg("build synthesizer")
	}

	retrieval, err := pipelinex.NewRetrievalPipeline(queryPlanner, synth, snapshot)
	if err != nil {
		log.Fatal().Err(err).Msg("build retrieval pipeline")
	}

	var liveWeb enginex.Pipeline
	liveWebCfg := llmCfg.For(llmx.RoleLiveWeb)
	if client := openaicompatx.NewClient(liveWebCfg); client != nil {
		lw, err := pipelinex.NewLiveWebPipeline(client, liveWebCfg.Model, prompts.Persona, snapshot)
		if err != nil {
			log.Fatal().Err(err).Msg("build live web pipeline")
		}
		liveWeb = lw
	} else {
		log.Warn().Msg("live web key not configured, @internet requests fall back to retrieval")
	}

	var scheduling enginex.Pipeline
	if appCfg.SchedulerURL != "" {
		delegate := schedulerx.MustNew(schedulerx.Config{
			URL:   appCfg.SchedulerURL,
			Token: appCfg.SchedulerToken,
		})
		sp, err := pipelinex.NewSchedulingPipeline(delegate, snapshot)
		if err != nil {
			log.Fatal().Err(err).Msg("build scheduling pipeline")
		}
		scheduling = sp
	} else {
		log.Warn().Msg("scheduler delegate not configured, schedule requests fall back to retrieval")
	}

	engine, err := enginex.New(retrieval, liveWeb, scheduling)
	if err != nil {
		log.Fatal().Err(err).Msg("build engine")
	}

	var store conversationx.Store
	if appCfg.UpstashRedisURL != "" {
		s, err := conversationx.NewUpstashRedisStore(conversationx.UpstashRedisConfig{
			URL:   appCfg.UpstashRedisURL,
			Token: appCfg.UpstashRedisToken,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("build transcript store")
		}
		store = s
	}

	srv, err := serverx.New(*serverCfg, engine, store)
	if err != nil {
		log.Fatal().Err(err).Msg("build server")
	}

	log.Info().Int("port", serverCfg.Port).Msg("starting inference server")
	if err := srv.Run(); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func buildModel(ctx context.Context, cfg *llmx.Config, role llmx.Role) (einomodel.ToolCallingChatModel, error) {
	endpoint := cfg.For(role)
	return endpoint.New(ctx)
}

func mustWeaviateClient(rawURL string) *weaviate.Client {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		log.Fatal().Str("url", rawURL).Msg("invalid weaviate url")
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("create weaviate client")
	}
	return client
}

func mustPostgres(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return db
}
