// Command ragline wires the engine end to end: checkpoint store, retention
// manager, tool registry, and the graph executor, driven by a YAML config
// file and a handful of subcommands.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"

	"github.com/ragline/ragline/checkpoint"
	checkpointredis "github.com/ragline/ragline/checkpoint/redis"
	checkpointsqlite "github.com/ragline/ragline/checkpoint/sqlite"
	"github.com/ragline/ragline/graph"
	"github.com/ragline/ragline/internal/config"
	"github.com/ragline/ragline/observe"
	raglineotel "github.com/ragline/ragline/observe/otel"
	observestore "github.com/ragline/ragline/observe/store"
	observesqlite "github.com/ragline/ragline/observe/store/sqlite"
	"github.com/ragline/ragline/retention"
	retentionsqlite "github.com/ragline/ragline/retention/sqlite"
	"github.com/ragline/ragline/service"
	"github.com/ragline/ragline/tools"
	"github.com/ragline/ragline/types"
)

func main() {
	// Missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to YAML config (optional)")
	dataDir := flag.String("data", "./data", "data directory when no config file is given")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath, *dataDir)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// The events command only reads the observe store; it needs no
	// engine, and in particular no encryption secret.
	if args[0] == "events" {
		if err := runEvents(context.Background(), cfg, args[1:]); err != nil {
			log.Fatalf("events: %v", err)
		}
		return
	}

	engine, cleanup, err := buildEngine(cfg)
	if err != nil {
		log.Fatalf("wiring: %v", err)
	}
	defer cleanup()

	ctx := context.Background()
	if err := dispatch(ctx, engine, cfg, args); err != nil {
		log.Fatalf("%s: %v", args[0], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: ragline [-config file] [-data dir] <command>

commands:
  chat    -user <id> -m <message>        run one conversation turn
  resume  -run <id> [-m <message>]       resume a checkpointed run
  stats                                  print checkpoint and retention stats
  cleanup                                delete expired data and old checkpoints
  consent -user <id> -category <c> -days <n>
  delete-user -user <id>                 purge all data for a user
  sweep                                  run the retention sweeper until interrupted
  events  [-run <id>|-user <id>] [-limit <n>]
                                         list persisted engine events, or
                                         aggregate metrics when no filter is given`)
}

func loadConfig(path, dataDir string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default(dataDir)
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func buildEngine(cfg config.Config) (*service.Engine, func(), error) {
	secret, err := cfg.Secret()
	if err != nil {
		return nil, nil, err
	}
	codec, err := checkpoint.NewCodec(secret)
	if err != nil {
		return nil, nil, err
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	sink := observe.Sink(observe.NoopSink{})
	if cfg.Observe.EventsPath != "" {
		events, err := observesqlite.New(cfg.Observe.EventsPath)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = events.Close() })
		async := observe.NewAsyncSink(observe.SinkFunc(events.SaveEvent), 256)
		closers = append(closers, async.Close)
		sink = async
	}
	if cfg.Observe.OTel {
		// Spans go to whatever provider the process registered globally.
		sink = observe.NewMultiSink(sink, raglineotel.NewSink(otel.GetTracerProvider()))
	}

	var store checkpoint.Store
	switch cfg.Store.Backend {
	case config.BackendRedis:
		store, err = checkpointredis.New(cfg.Store.RedisAddr, codec,
			checkpointredis.WithDB(cfg.Store.RedisDB),
			checkpointredis.WithPrefix(cfg.Store.RedisPrefix),
		)
	default:
		store, err = checkpointsqlite.New(cfg.Store.SQLitePath, codec)
	}
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, func() { _ = store.Close() })

	backend, err := retentionsqlite.New(cfg.Retention.SQLitePath)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, func() { _ = backend.Close() })

	manager, err := retention.NewManager(backend,
		retention.WithCheckpointStore(store),
		retention.WithSink(sink),
		retention.WithDefaultRetention(cfg.DefaultRetention()),
	)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, nil); err != nil {
		cleanup()
		return nil, nil, err
	}

	// No model provider is wired here; the fallback client answers. Real
	// deployments inject an llm.Client through the library API instead.
	executor, err := graph.New(nil, nil, registry,
		graph.WithCheckpoints(store),
		graph.WithSink(sink),
		graph.WithLLMTimeout(cfg.LLMTimeout()),
	)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	engine, err := service.New(executor,
		service.WithCheckpointStore(store),
		service.WithRetentionManager(manager),
		service.WithSink(sink),
		service.WithCheckpointMaxAge(cfg.CheckpointMaxAge()),
	)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return engine, cleanup, nil
}

func dispatch(ctx context.Context, engine *service.Engine, cfg config.Config, args []string) error {
	switch args[0] {
	case "chat":
		return runChat(ctx, engine, args[1:])
	case "resume":
		return runResume(ctx, engine, args[1:])
	case "stats":
		return runStats(ctx, engine)
	case "cleanup":
		return runCleanup(ctx, engine)
	case "consent":
		return runConsent(ctx, engine, args[1:])
	case "delete-user":
		return runDeleteUser(ctx, engine, args[1:])
	case "sweep":
		return runSweep(ctx, engine, cfg)
	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func runChat(ctx context.Context, engine *service.Engine, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	user := fs.String("user", "", "user id")
	message := fs.String("m", "", "user message")
	_ = fs.Parse(args)
	if *user == "" || *message == "" {
		return fmt.Errorf("-user and -m are required")
	}

	final, err := engine.GenerateChatResponse(ctx, service.ChatRequest{
		InitialState: types.AgentState{
			UserID: *user,
			Messages: []types.Message{
				{Role: types.RoleUser, Content: *message, Timestamp: time.Now().UTC()},
			},
		},
	})
	if err != nil {
		return err
	}
	fmt.Printf("run: %s\n%s\n", final.RunID, final.GeneratedText)
	return nil
}

func runResume(ctx context.Context, engine *service.Engine, args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	runID := fs.String("run", "", "run id")
	message := fs.String("m", "", "optional new user message")
	_ = fs.Parse(args)
	if *runID == "" {
		return fmt.Errorf("-run is required")
	}

	var newMessage *types.Message
	if *message != "" {
		newMessage = &types.Message{Role: types.RoleUser, Content: *message}
	}
	final, err := engine.ResumeChatSession(ctx, *runID, newMessage)
	if err != nil {
		return err
	}
	fmt.Printf("run: %s\n%s\n", final.RunID, final.GeneratedText)
	return nil
}

func runStats(ctx context.Context, engine *service.Engine) error {
	checkpointStats, err := engine.GetCheckpointStats(ctx)
	if err != nil {
		return err
	}
	retentionStats, err := engine.GetDataRetentionStats(ctx)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(map[string]any{
		"checkpoints": checkpointStats,
		"retention":   retentionStats,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runCleanup(ctx context.Context, engine *service.Engine) error {
	expired, err := engine.CleanupExpiredData(ctx)
	if err != nil {
		return err
	}
	checkpoints, err := engine.CleanupCheckpoints(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("expired records deleted: %d\nold checkpoints deleted: %d\n", expired, checkpoints)
	return nil
}

func runConsent(ctx context.Context, engine *service.Engine, args []string) error {
	fs := flag.NewFlagSet("consent", flag.ExitOnError)
	user := fs.String("user", "", "user id")
	category := fs.String("category", retention.CategoryConversation, "data category")
	days := fs.Int("days", 0, "retention duration in days")
	_ = fs.Parse(args)
	if *user == "" {
		return fmt.Errorf("-user is required")
	}
	if err := engine.RecordConsent(ctx, *user, *category, *days); err != nil {
		return err
	}
	fmt.Printf("consent recorded: %s/%s for %d days\n", *user, *category, *days)
	return nil
}

func runDeleteUser(ctx context.Context, engine *service.Engine, args []string) error {
	fs := flag.NewFlagSet("delete-user", flag.ExitOnError)
	user := fs.String("user", "", "user id")
	_ = fs.Parse(args)
	if *user == "" {
		return fmt.Errorf("-user is required")
	}
	deleted, err := engine.DeleteUserData(ctx, *user)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d items for %s\n", deleted, *user)
	return nil
}

func runEvents(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	runID := fs.String("run", "", "filter by run id")
	user := fs.String("user", "", "filter by user id")
	limit := fs.Int("limit", 50, "max events to list")
	_ = fs.Parse(args)

	if cfg.Observe.EventsPath == "" {
		return fmt.Errorf("observe.eventsPath is not configured; nothing is persisted")
	}
	events, err := observesqlite.New(cfg.Observe.EventsPath)
	if err != nil {
		return err
	}
	defer func() { _ = events.Close() }()

	var out any
	switch {
	case *runID != "":
		out, err = events.ListEventsByRun(ctx, *runID, observestore.ListQuery{Limit: *limit})
	case *user != "":
		out, err = events.ListEventsByUser(ctx, *user, observestore.ListQuery{Limit: *limit})
	default:
		out, err = events.AggregateMetrics(ctx, observestore.MetricsQuery{})
	}
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func runSweep(ctx context.Context, engine *service.Engine, cfg config.Config) error {
	_ = ctx
	sweeper, err := engine.NewSweeper(
		retention.WithSchedule(cfg.Retention.SweepSchedule),
		retention.WithCheckpointMaxAge(cfg.CheckpointMaxAge()),
	)
	if err != nil {
		return err
	}
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer sweeper.Stop()
	log.Printf("sweeper running on schedule %q; ctrl-c to stop", cfg.Retention.SweepSchedule)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return nil
}
