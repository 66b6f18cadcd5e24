// ChatBI core engine daemon. Wires configuration, the internal store,
// the datasource pool, agents and the monitoring loop; the service
// structs in pkg/services are the embedding surface for callers.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chatbi-ai/chatbi/pkg/agent"
	"github.com/chatbi-ai/chatbi/pkg/analysis"
	"github.com/chatbi-ai/chatbi/pkg/cache"
	"github.com/chatbi-ai/chatbi/pkg/config"
	"github.com/chatbi-ai/chatbi/pkg/dbadapter"
	"github.com/chatbi-ai/chatbi/pkg/execution"
	"github.com/chatbi-ai/chatbi/pkg/llm"
	"github.com/chatbi-ai/chatbi/pkg/memory"
	"github.com/chatbi-ai/chatbi/pkg/models"
	"github.com/chatbi-ai/chatbi/pkg/monitoring"
	"github.com/chatbi-ai/chatbi/pkg/notify"
	"github.com/chatbi-ai/chatbi/pkg/planning"
	"github.com/chatbi-ai/chatbi/pkg/services"
	"github.com/chatbi-ai/chatbi/pkg/store"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// App is the fully wired engine.
type App struct {
	Analysis    *services.AnalysisService
	Datasources *services.DatasourceService
	Plans       *services.PlanService
	Monitor     *services.MonitorService
	Config      *services.ConfigService
	Memory      *services.MemoryService

	loop  *monitoring.Loop
	pool  *dbadapter.Manager
	store *store.Store
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	slog.Info("Starting ChatBI engine", "config_dir", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	app, err := wire(ctx, cfg)
	if err != nil {
		slog.Error("Failed to wire engine", "error", err)
		os.Exit(1)
	}

	app.loop.Start(ctx)
	slog.Info("ChatBI engine ready")

	<-ctx.Done()
	slog.Info("Shutting down")

	app.loop.Stop()
	app.pool.Shutdown()
	if err := app.store.Close(); err != nil {
		slog.Error("Failed to close store", "error", err)
	}
	slog.Info("Shutdown complete")
}

// wire builds the engine from a loaded configuration.
func wire(ctx context.Context, cfg *config.Config) (*App, error) {
	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	pool := dbadapter.NewManager(dbadapter.PoolConfig{
		MaxTotal:         cfg.Pool.MaxTotal,
		MaxPerDatasource: cfg.Pool.MaxPerDatasource,
		AcquireTimeout:   cfg.Pool.AcquireTimeout(),
		HealthInterval:   cfg.Pool.HealthInterval(),
	})

	// LLM providers, keyed by binding id; scenes bind providers.
	providers := llm.NewRegistry()
	for id, pc := range cfg.LLMProviders {
		providers.Register(id, llm.NewOpenAI(pc))
	}
	providers.SetDefault(cfg.DefaultLLM)
	for name, scene := range cfg.Scenes {
		if scene.LLMBinding != "" {
			providers.BindScene(name, scene.LLMBinding)
		}
	}

	// Memoization backend: Redis when configured, in-process otherwise.
	var cacheStore cache.Store = cache.NewMemory()
	if cfg.Redis != nil {
		cacheStore = cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	memo := cache.NewMemoizer(cacheStore)

	runtime := agent.NewRuntime(providers, cfg, nil)
	schemaAgent := agent.NewSchemaAgent(pool, memo, agent.DefaultSchemaTTL)
	sqlAgent := agent.NewSqlAgent(runtime)
	vizAgent := agent.NewVisualizeAgent(runtime)

	mem := memory.NewStore(cfg.Memory.MaxEvents)
	mem.SetSink(func(event models.MemoryEvent) {
		st.AppendMemoryEvent(context.Background(), event)
	})
	pipeline := analysis.New(cfg, st, pool, schemaAgent, sqlAgent, vizAgent, mem, st)

	planner := planning.NewEngine(cfg.Chains, cfg.PlanRules)
	runner := services.NewChainRunner(pipeline, schemaAgent, st)
	machine := execution.NewMachine(runner, execution.Config{
		MaxAttemptsPerTask: cfg.Execution.MaxAttemptsPerTask,
		StepCap:            cfg.Execution.StepCap,
	})

	notifier := buildNotifier(cfg)

	sources := monitoring.NewSourceRegistry()
	sources.Register(queryErrorSource(st))

	loop := monitoring.NewLoop(cfg.Monitoring, st, sources, cfg.Diagnosis, notifier, st)

	return &App{
		Analysis:    services.NewAnalysisService(pipeline),
		Datasources: services.NewDatasourceService(st, pool, schemaAgent, cfg),
		Plans:       services.NewPlanService(planner, machine, runner, st),
		Monitor:     services.NewMonitorService(loop, st),
		Config:      services.NewConfigService(cfg),
		Memory:      services.NewMemoryService(mem),
		loop:        loop,
		pool:        pool,
		store:       st,
	}, nil
}

// buildNotifier assembles the notification channels. Email comes from
// the live config; Slack joins when its credentials are in the
// environment.
func buildNotifier(cfg *config.Config) *notify.Service {
	notifiers := []notify.Notifier{notify.NewEmail(cfg.Email)}
	if token := os.Getenv("SLACK_BOT_TOKEN"); token != "" {
		if channel := os.Getenv("SLACK_CHANNEL_ID"); channel != "" {
			notifiers = append(notifiers, notify.NewSlack(token, channel))
			slog.Info("Slack notifications enabled", "channel", channel)
		}
	}
	return notify.NewService(notifiers...)
}

// queryErrorSource derives query_error_rate from the recent query
// history in the internal store.
func queryErrorSource(st *store.Store) monitoring.FuncSource {
	return monitoring.FuncSource{
		SourceName: "query-history",
		Fn: func(ctx context.Context) (map[string]float64, error) {
			records, err := st.QueryHistory(ctx, 200)
			if err != nil {
				return nil, err
			}
			if len(records) == 0 {
				return map[string]float64{"query_error_rate": 0}, nil
			}
			var failed int
			for _, rec := range records {
				if rec.Status != "ok" {
					failed++
				}
			}
			return map[string]float64{
				"query_error_rate": float64(failed) / float64(len(records)),
			}, nil
		},
	}
}
