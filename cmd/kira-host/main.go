// Command kira-host is the thin CLI entry point wiring every kira
// component into one process: vault, host API, event bus, scheduler,
// dedupe/sync-ledger state, audit log, plugin host, LLM router, policy
// enforcer, agent graph, conversation memory/RAG, maintenance and doctor.
// It mirrors the teacher's cmd/slctl in shape — a root flag.FlagSet
// followed by a switch over the first non-flag argument — but maps every
// returned error through cliutil.FromError instead of collapsing
// everything to os.Exit(1).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kira-host/kira/infrastructure/logging"
	"github.com/kira-host/kira/infrastructure/ratelimit"
	"github.com/kira-host/kira/infrastructure/state"
	"github.com/kira-host/kira/internal/agentgraph"
	"github.com/kira-host/kira/internal/audit"
	"github.com/kira-host/kira/internal/cliutil"
	"github.com/kira-host/kira/internal/clock"
	"github.com/kira-host/kira/internal/config"
	"github.com/kira-host/kira/internal/dedupe"
	"github.com/kira-host/kira/internal/doctor"
	"github.com/kira-host/kira/internal/eventbus"
	"github.com/kira-host/kira/internal/hostapi"
	"github.com/kira-host/kira/internal/llmrouter"
	"github.com/kira-host/kira/internal/maintenance"
	"github.com/kira-host/kira/internal/memory"
	"github.com/kira-host/kira/internal/pipeline"
	"github.com/kira-host/kira/internal/pluginhost"
	"github.com/kira-host/kira/internal/policy"
	"github.com/kira-host/kira/internal/scheduler"
	"github.com/kira-host/kira/internal/syncledger"
	"github.com/kira-host/kira/internal/tools"
	"github.com/kira-host/kira/internal/vault"
	"github.com/kira-host/kira/system/scriptengine"
)

func main() {
	os.Exit(int(run(os.Args[1:])))
}

// app holds every wired component a subcommand might need.
type app struct {
	cfg          *config.Config
	log          *logging.Logger
	vaultStore   *vault.Store
	bus          *eventbus.Bus
	hostAPI      *hostapi.HostAPI
	clk          *clock.Clock
	sched        *scheduler.Scheduler
	auditLog     *audit.Logger
	dedupeStore  *dedupe.Store
	syncLedger   *syncledger.Ledger
	pluginHost   *pluginhost.Host
	router       *llmrouter.Router
	enforcer     *policy.Enforcer
	dispatcher   *agentgraph.Dispatcher
	graph        *agentgraph.Graph
	rollup       *pipeline.RollupPipeline
	maint        *maintenance.Maintenance
	conversation *memory.ConversationStore
	rag          *memory.RAGStore
}

func run(argv []string) cliutil.ExitCode {
	root := flag.NewFlagSet("kira-host", flag.ContinueOnError)
	configPath := root.String("config", "", "path to a YAML config file")
	globals := cliutil.Register(root)

	if err := root.Parse(argv); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return cliutil.ExitValidation
	}

	remaining := root.Args()
	if len(remaining) == 0 {
		printUsage()
		return cliutil.ExitValidation
	}

	a, err := bootstrap(*configPath)
	if err != nil {
		emit(globals, nil, err)
		return cliutil.FromError(err)
	}
	defer a.sched.Stop()

	traceID := globals.ResolveTraceID()
	ctx := context.Background()

	var result interface{}
	switch remaining[0] {
	case "task":
		result, err = a.runTask(ctx, traceID, globals, remaining[1:])
	case "rollup":
		result, err = a.runRollup(ctx, remaining[1:])
	case "export":
		result, err = a.runExport(remaining[1:])
	case "cleanup":
		result, err = a.runCleanup(ctx)
	case "backup":
		result, err = a.runBackup(remaining[1:])
	case "restore":
		result, err = a.runRestore(globals, remaining[1:])
	case "doctor":
		result, err = a.runDoctor(ctx)
	case "agent":
		result, err = a.runAgent(ctx, traceID, globals, remaining[1:])
	case "memory":
		result, err = a.runMemory(ctx, traceID, remaining[1:])
	case "help", "-h", "--help":
		printUsage()
		return cliutil.ExitSuccess
	default:
		printUsage()
		return cliutil.ExitValidation
	}

	emit(globals, result, err)
	return cliutil.FromError(err)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `kira-host [--json] [--trace-id ID] [--dry-run] [--yes] [--config PATH] <command> [args]

Commands:
  task create --title T [--status S] [--content C]
  task update --id ID [--status S] [--title T] [--content C]
  task delete --id ID
  task get --id ID
  task list [--status S]
  rollup daily --date YYYY-MM-DD
  export --to PATH
  cleanup
  backup [--gzip]
  restore --from PATH --target DIR
  doctor
  agent chat --message TEXT
  memory ingest --id ID --content TEXT
  memory search --query TEXT [--k N]
  memory forget --trace-id ID`)
}

func emit(globals *cliutil.GlobalFlags, result interface{}, err error) {
	if globals.JSON {
		out := map[string]interface{}{"ok": err == nil}
		if err != nil {
			out["error"] = err.Error()
		}
		if result != nil {
			out["result"] = result
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return
	}
	if result != nil {
		b, marshalErr := json.MarshalIndent(result, "", "  ")
		if marshalErr == nil {
			fmt.Println(string(b))
		}
	}
}

// bootstrap loads configuration and wires every component, registering
// whichever LLM providers have credentials in the environment. A deployment
// with no provider credentials still starts -- every non-agent subcommand
// works without an LLM configured, and doctor will simply report
// llm_router as not-OK.
func bootstrap(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log := logging.NewFromEnv("kira-host")

	vaultPath := cfg.Vault.Path
	if vaultPath == "" {
		vaultPath = "./.kira-vault"
	}

	clk, _ := clock.New(cfg.Vault.TZ)

	vaultStore, err := vault.New(vault.Config{
		Root:            vaultPath,
		Clock:           clk,
		EnableFileLocks: cfg.Vault.EnableFileLocks,
		Logger:          logging.NewFromEnv("vault"),
	})
	if err != nil {
		return nil, err
	}

	bus := eventbus.New(eventbus.Config{Logger: logging.NewFromEnv("eventbus")})
	api := hostapi.New(vaultStore, bus, clk)
	sched := scheduler.New(logging.NewFromEnv("scheduler"))

	auditDir := filepath.Join(vaultPath, ".kira", "audit")
	auditLog, err := audit.New(auditDir)
	if err != nil {
		return nil, err
	}

	dedupeBackend, err := state.NewFileBackend(filepath.Join(vaultPath, ".kira", "dedupe"))
	if err != nil {
		return nil, err
	}
	dedupeStore := dedupe.New(dedupeBackend)

	syncBackend, err := state.NewFileBackend(filepath.Join(vaultPath, ".kira", "sync_ledger"))
	if err != nil {
		return nil, err
	}
	syncLedger := syncledger.New(syncBackend)

	engine := scriptengine.New()
	if err := engine.Initialize(context.Background()); err != nil {
		return nil, err
	}
	pluginHost := pluginhost.New(engine, api, bus, sched, logging.NewFromEnv("pluginhost"), filepath.Join(vaultPath, ".kira", "plugin-kv"))

	router := buildRouter(cfg.Router)

	if cfg.Policy.RequireConfirmation {
		cfg.Agent.Flags.RequireConfirmation = true
	}
	enforcer := policy.New(policy.FromConfig(cfg.Policy))

	rollup := pipeline.NewRollupPipeline(pipeline.RollupConfig{Bus: bus, HostAPI: api, Logger: logging.NewFromEnv("pipeline")})
	dispatcher := agentgraph.NewDispatcher(api, rollup)

	conversation := memory.NewConversationStore(cfg.Memory.MaxExchanges)
	ragPath := cfg.Memory.RAGPath
	if ragPath == "" {
		ragPath = filepath.Join(vaultPath, ".kira", "rag.json")
	}
	ragStore, err := memory.NewRAGStore(ragPath)
	if err != nil {
		return nil, err
	}

	graph := agentgraph.NewGraph(router, enforcer, dispatcher).WithMemory(conversation, ragStore)

	maint := maintenance.New(maintenance.Config{
		DedupeStore: dedupeStore,
		SyncLedger:  syncLedger,
		VaultRoot:   vaultPath,
		BackupDir:   cfg.Backup.BackupDir,
		Logger:      logging.NewFromEnv("maintenance"),
	})

	return &app{
		cfg: cfg, log: log, vaultStore: vaultStore, bus: bus, hostAPI: api, clk: clk,
		sched: sched, auditLog: auditLog, dedupeStore: dedupeStore, syncLedger: syncLedger,
		pluginHost: pluginHost, router: router, enforcer: enforcer, dispatcher: dispatcher,
		graph: graph, rollup: rollup, maint: maint, conversation: conversation, rag: ragStore,
	}, nil
}

// buildRouter registers every LLM provider with an API key present in the
// environment (OPENAI_API_KEY, ANTHROPIC_API_KEY, OPENROUTER_API_KEY) and
// always registers the local Ollama provider, configured as the fallback
// whenever cfg.EnableLocalFallback is set. A deployment with no hosted
// credentials at all still gets a usable router as long as Ollama is
// enabled and reachable.
func buildRouter(cfg config.RouterConfig) *llmrouter.Router {
	ollama := llmrouter.NewOllamaProvider(llmrouter.OllamaConfig{BaseURL: os.Getenv("OLLAMA_BASE_URL")})

	router := llmrouter.New(llmrouter.Config{
		PlanningProvider:    cfg.PlanningProvider,
		StructuringProvider: cfg.StructuringProvider,
		DefaultProvider:     cfg.DefaultProvider,
		EnableLocalFallback: cfg.EnableLocalFallback,
		LocalFallback:       ollama,
		MaxRetries:          cfg.MaxRetries,
		RateLimit:           ratelimit.DefaultConfig(),
		Logger:              logging.NewFromEnv("llmrouter"),
	})

	router.Register(ollama)
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		router.Register(llmrouter.NewOpenAIProvider(llmrouter.OpenAIConfig{Name: "openai", APIKey: key}))
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		router.Register(llmrouter.NewAnthropicProvider(llmrouter.AnthropicConfig{APIKey: key}))
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		router.Register(llmrouter.NewOpenAIProvider(llmrouter.OpenAIConfig{
			Name: "openrouter", BaseURL: "https://openrouter.ai/api/v1", APIKey: key,
		}))
	}
	return router
}

func (a *app) runTask(ctx context.Context, traceID string, globals *cliutil.GlobalFlags, args []string) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("task: missing subcommand (create|update|delete|get|list)")
	}
	fs := flag.NewFlagSet("task", flag.ContinueOnError)
	id := fs.String("id", "", "task id")
	title := fs.String("title", "", "task title")
	status := fs.String("status", "", "task status")
	content := fs.String("content", "", "task body")
	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}

	raw := map[string]interface{}{}
	if *id != "" {
		raw["id"] = *id
	}
	if *title != "" {
		raw["title"] = *title
	}
	if *status != "" {
		raw["status"] = *status
	}
	if *content != "" {
		raw["content"] = *content
	}

	var tool string
	switch args[0] {
	case "create":
		tool = tools.TaskCreate
	case "update":
		tool = tools.TaskUpdate
	case "delete":
		if !globals.Yes && !globals.DryRun {
			return nil, fmt.Errorf("task delete is destructive; pass --yes to confirm")
		}
		tool = tools.TaskDelete
	case "get":
		return a.dispatcher.Invoke(ctx, traceID, tools.TaskGet, raw, false)
	case "list":
		return a.dispatcher.Invoke(ctx, traceID, tools.TaskList, raw, false)
	default:
		return nil, fmt.Errorf("task: unknown subcommand %q", args[0])
	}

	result, err := a.dispatcher.Invoke(ctx, traceID, tool, raw, globals.DryRun)
	a.record(traceID, "task."+args[0], raw, result)
	return result, err
}

func (a *app) runRollup(ctx context.Context, args []string) (interface{}, error) {
	fs := flag.NewFlagSet("rollup", flag.ContinueOnError)
	date := fs.String("date", "", "period, YYYY-MM-DD")
	if len(args) == 0 || args[0] != "daily" {
		return nil, fmt.Errorf("rollup: only \"daily\" is supported")
	}
	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}
	return a.dispatcher.Invoke(ctx, "", tools.RollupDaily, map[string]interface{}{"date": *date}, false)
}

func (a *app) runExport(args []string) (interface{}, error) {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	to := fs.String("to", "", "destination file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return a.dispatcher.Invoke(context.Background(), "", tools.VaultExport, map[string]interface{}{"destination": *to}, false)
}

func (a *app) runCleanup(ctx context.Context) (interface{}, error) {
	return a.maint.CleanupAll(ctx, a.cfg.Cleanup.DedupeTTLDays, a.cfg.Cleanup.QuarantineTTLDays, a.cfg.Cleanup.LogTTLDays)
}

func (a *app) runBackup(args []string) (interface{}, error) {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	gzip := fs.Bool("gzip", a.cfg.Backup.Compress, "compress the archive")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	path, err := a.maint.Backup(*gzip)
	if err != nil {
		return nil, err
	}
	if a.cfg.Backup.RetentionCount > 0 {
		if _, err := a.maint.CleanupOldBackups(a.cfg.Backup.RetentionCount); err != nil {
			return nil, err
		}
	}
	return map[string]string{"path": path}, nil
}

func (a *app) runRestore(globals *cliutil.GlobalFlags, args []string) (interface{}, error) {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	from := fs.String("from", "", "archive path")
	target := fs.String("target", "", "restore destination")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *from == "" || *target == "" {
		return nil, fmt.Errorf("restore: --from and --target are required")
	}
	if err := a.maint.Restore(*from, *target, globals.Yes); err != nil {
		return nil, err
	}
	return map[string]string{"restored_to": *target}, nil
}

func (a *app) runDoctor(ctx context.Context) (interface{}, error) {
	d := &doctor.Doctor{
		Vault: a.vaultStore, Dedupe: a.dedupeStore, SyncLedger: a.syncLedger,
		Audit: a.auditLog, Scheduler: a.sched, PluginHost: a.pluginHost, LLMRouter: a.router,
	}
	report := d.Run(ctx)
	if !report.OK() {
		return report, fmt.Errorf("one or more health checks failed")
	}
	return report, nil
}

func (a *app) runAgent(ctx context.Context, traceID string, globals *cliutil.GlobalFlags, args []string) (interface{}, error) {
	if len(args) == 0 || args[0] != "chat" {
		return nil, fmt.Errorf("agent: only \"chat\" is supported")
	}
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	message := fs.String("message", "", "user message")
	if err := fs.Parse(args[1:]); err != nil {
		return nil, err
	}
	if *message == "" {
		return nil, fmt.Errorf("agent chat: --message is required")
	}

	budget := agentgraph.BudgetFromConfig(a.cfg.Agent.Budget)
	flags := agentgraph.FlagsFromConfig(a.cfg.Agent.Flags)
	flags.DryRun = flags.DryRun || globals.DryRun
	if globals.Yes {
		flags.RequireConfirmation = false
	}

	agentState := agentgraph.New(traceID, "cli-user", []agentgraph.Message{{Role: "user", Content: *message}}, budget, flags)
	final := a.graph.Run(ctx, agentState)
	a.record(traceID, "agent.chat", map[string]interface{}{"message": *message}, final)
	return final, nil
}

// runMemory gives the RAG store and per-session conversation history a CLI
// surface independent of the agent graph: ingest adds a document, search
// previews what a later agent run would retrieve, forget drops one trace
// ID's conversation history.
func (a *app) runMemory(ctx context.Context, traceID string, args []string) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("memory: subcommand required (ingest, search, forget)")
	}
	switch args[0] {
	case "ingest":
		fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
		id := fs.String("id", "", "document id")
		content := fs.String("content", "", "document content")
		if err := fs.Parse(args[1:]); err != nil {
			return nil, err
		}
		if *id == "" || *content == "" {
			return nil, fmt.Errorf("memory ingest: --id and --content are required")
		}
		doc := memory.Document{ID: *id, Content: *content}
		if err := a.rag.AddDocument(ctx, doc); err != nil {
			return nil, err
		}
		a.record(traceID, "memory.ingest", doc, nil)
		return doc, nil

	case "search":
		fs := flag.NewFlagSet("search", flag.ContinueOnError)
		query := fs.String("query", "", "search query")
		k := fs.Int("k", 5, "max results")
		if err := fs.Parse(args[1:]); err != nil {
			return nil, err
		}
		if *query == "" {
			return nil, fmt.Errorf("memory search: --query is required")
		}
		return a.rag.Search(*query, *k), nil

	case "forget":
		fs := flag.NewFlagSet("forget", flag.ContinueOnError)
		target := fs.String("trace-id", "", "trace id whose history should be cleared")
		if err := fs.Parse(args[1:]); err != nil {
			return nil, err
		}
		if *target == "" {
			return nil, fmt.Errorf("memory forget: --trace-id is required")
		}
		a.conversation.Clear(*target)
		a.record(traceID, "memory.forget", map[string]interface{}{"trace_id": *target}, nil)
		return nil, nil

	default:
		return nil, fmt.Errorf("memory: unknown subcommand %q", args[0])
	}
}

func (a *app) record(traceID, command string, args, result interface{}) {
	_ = a.auditLog.Record(traceID, command, args, result)
}
