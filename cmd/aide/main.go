// Command aide runs the assistant orchestration core as an interactive
// terminal session: a local fast model plans and a remote quality model
// finalizes, with the policy gate between every plan step and its tool.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"aide/pkg/config"
	"aide/pkg/contextmgr"
	"aide/pkg/events"
	"aide/pkg/finalize"
	"aide/pkg/llm"
	"aide/pkg/llm/anthropic"
	"aide/pkg/llm/gemini"
	"aide/pkg/llm/ollama"
	"aide/pkg/llm/openai"
	"aide/pkg/logx"
	"aide/pkg/metrics"
	"aide/pkg/orchestrator"
	"aide/pkg/planner"
	"aide/pkg/policy"
	"aide/pkg/tier"
	"aide/pkg/tools"
)

// Version information - set at release time via ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config (defaults when empty)")
		dataDir     = flag.String("datadir", ".", "Directory for the database, logs and secrets")
		metricsAddr = flag.String("metrics-addr", "", "Prometheus listen address, e.g. :9090 (disabled when empty)")
		promURL     = flag.String("prometheus-url", "", "Prometheus server URL for /usage queries (disabled when empty)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("aide %s (%s)\n", version, commit)
		os.Exit(0)
	}

	os.Exit(run(*configPath, *dataDir, *metricsAddr, *promURL))
}

// run contains the main logic and returns an exit code so defers execute
// before the process exits.
func run(configPath, dataDir, metricsAddr, promURL string) int {
	logger := logx.NewLogger("aide")

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	secrets, err := openSecrets(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open secrets: %v\n", err)
		return 1
	}

	recorder := metrics.NewRecorder()
	if metricsAddr != "" {
		go serveMetrics(metricsAddr, logger)
	}
	quota := llm.NewQuotaTracker()

	fast := llm.NewMeteredClient(llm.NewResilientClient(
		ollama.New(cfg.Fast.Host, cfg.Fast.Model, cfg.Fast.MaxContextTokens), logger),
		"fast", recorder, quota)
	base, err := qualityClient(cfg, secrets, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build quality client: %v\n", err)
		return 1
	}
	quality := llm.NewMeteredClient(base, "quality", recorder, quota)

	store, err := policy.OpenStore(filepath.Join(dataDir, cfg.DBPath), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open policy store: %v\n", err)
		return 1
	}
	defer store.Close()

	audit, err := policy.NewAuditWriter(filepath.Join(dataDir, cfg.Policy.AuditDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open audit log: %v\n", err)
		return 1
	}
	defer audit.Close()

	eventWriter, err := events.NewWriter(filepath.Join(dataDir, cfg.EventDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open event log: %v\n", err)
		return 1
	}
	bus := events.NewBus(eventWriter, logger)
	defer bus.Close()

	// Tools are registered by the embedding host; the standalone binary
	// starts with an empty registry and handles conversational turns.
	registry := tools.NewRegistry()

	engine := tier.NewEngine(cfg.Tier, cfg.Risk)
	orch := orchestrator.New(cfg, orchestrator.Deps{
		Engine:    engine,
		Planner:   planner.New(cfg.Limits.RepairMaxAttempts, planner.DefaultCorrections(), logger, recorder),
		Gate:      policy.NewGate(cfg.Risk, cfg.Policy, store, audit, logger, recorder),
		Registry:  registry,
		Adapter:   tools.NewAdapter(registry, cfg.Limits, logger, recorder),
		Finalizer: finalize.New(fast, quality, engine, contextmgr.NewManager(cfg.Limits, logger), cfg.Limits, logger, recorder),
		Fast:      fast,
		Quality:   quality,
		Bus:       bus,
		Store:     store,
		Logger:    logger,
		Recorder:  recorder,
	})

	var usage *metrics.QueryService
	if promURL != "" {
		usage, err = metrics.NewQueryService(promURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to build usage query service: %v\n", err)
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return repl(ctx, orch, usage, logger)
}

// repl reads utterances from stdin until EOF or a shutdown signal.
func repl(ctx context.Context, orch *orchestrator.Orchestrator, usage *metrics.QueryService, logger *logx.Logger) int {
	started := time.Now()
	sessionID := uuid.New().String()
	defer func() {
		if err := orch.EndSession(context.Background(), sessionID); err != nil {
			logger.Warn("session teardown failed: %v", err)
		}
	}()

	fmt.Println("aide ready. Type a request, /reset to clear the session, /quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return 0
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return 0
		case "/reset":
			orch.ResetSession(sessionID)
			fmt.Println("Session cleared.")
			continue
		case "/log":
			for _, entry := range logx.RecentEntries("", started) {
				fmt.Printf("%s [%s] %s\n", entry.Timestamp, entry.Level, entry.Message)
			}
			continue
		case "/usage":
			printUsage(ctx, usage, sessionID)
			continue
		}

		start := time.Now()
		result, err := orch.HandleUtterance(ctx, sessionID, line)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println("\nShutting down.")
				return 0
			}
			logger.Error("turn failed: %v", err)
			fmt.Println("Something went wrong, please try again.")
			continue
		}
		fmt.Println(result.Reply)
		logger.Debug("turn %s finished: phase=%s strategy=%s steps=%d in %s",
			result.Trace.TurnID, result.Phase, result.Trace.FinalizerStrategy,
			result.Trace.Steps, time.Since(start).Round(time.Millisecond))
	}
}

// openSecrets decrypts the local secrets file when present; otherwise keys
// come from the environment.
func openSecrets(dataDir string) (*config.SecretStore, error) {
	store := config.NewSecretStore(dataDir)
	if !store.Exists() {
		return store, nil
	}

	fmt.Print("Secrets password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	if err := store.Open(string(password)); err != nil {
		return nil, err
	}
	return store, nil
}

// qualityClient builds the configured remote tier behind retry and breaker
// middleware.
func qualityClient(cfg *config.Config, secrets *config.SecretStore, logger *logx.Logger) (llm.Client, error) {
	apiKey, err := secrets.Get(cfg.Quality.APIKeyEnv)
	if err != nil {
		return nil, fmt.Errorf("quality tier needs %s: %w", cfg.Quality.APIKeyEnv, err)
	}

	var base llm.Client
	switch cfg.Quality.Provider {
	case config.ProviderAnthropic:
		base = anthropic.New(apiKey, cfg.Quality.Model, cfg.Quality.MaxContextTokens)
	case config.ProviderOpenAI:
		base = openai.New(apiKey, cfg.Quality.Model, cfg.Quality.MaxContextTokens)
	case config.ProviderGemini:
		base = gemini.New(apiKey, cfg.Quality.Model, cfg.Quality.MaxContextTokens)
	default:
		return nil, fmt.Errorf("unsupported quality provider %q", cfg.Quality.Provider)
	}
	return llm.NewResilientClient(base, logger), nil
}

// printUsage reports the session's token totals queried back from
// Prometheus.
func printUsage(ctx context.Context, usage *metrics.QueryService, sessionID string) {
	if usage == nil {
		fmt.Println("Usage queries need -prometheus-url.")
		return
	}
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stats, err := usage.GetSessionMetrics(queryCtx, sessionID)
	if err != nil {
		fmt.Printf("Usage query failed: %v\n", err)
		return
	}
	fmt.Printf("Session %s: %d requests, %d prompt + %d completion = %d tokens\n",
		stats.SessionID, stats.Requests, stats.PromptTokens, stats.CompletionTokens, stats.TotalTokens)
}

func serveMetrics(addr string, logger *logx.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped: %v", err)
	}
}
