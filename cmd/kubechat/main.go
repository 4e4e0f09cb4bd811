// KubeChat is a conversational assistant for Kubernetes cluster management.
//
// It drives an OpenAI-compatible language model through a tool-calling
// loop against the cluster API, exposes an HTTP API with SSE and
// WebSocket streaming, and persists session transcripts in SQLite.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	kubechat serve             Start the API server
//	kubechat ask <question>    Ask a single question (for testing)
//	kubechat version           Print version and build information
//	kubechat -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kubechat/kubechat/internal/agent"
	"github.com/kubechat/kubechat/internal/api"
	"github.com/kubechat/kubechat/internal/buildinfo"
	"github.com/kubechat/kubechat/internal/config"
	"github.com/kubechat/kubechat/internal/kube"
	"github.com/kubechat/kubechat/internal/llm"
	"github.com/kubechat/kubechat/internal/probe"
	"github.com/kubechat/kubechat/internal/session"
	"github.com/kubechat/kubechat/internal/tools"
	"github.com/kubechat/kubechat/internal/transcript"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the kubechat command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the server and background goroutines.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:] — the command-line arguments after the program
//     name. We parse these manually rather than using the flag package
//     to avoid global state that interferes with parallel tests.
//
// run returns nil on clean shutdown and a non-nil error for any failure.
// The caller (main) is responsible for printing the error and exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Secrets referenced from config via ${VAR} expansion may live in a
	// local .env file. Absence is not an error.
	_ = godotenv.Load()

	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: kubechat ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// kubechat is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "KubeChat - Conversational Kubernetes Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: kubechat [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  init [dir]   Create a workspace with an example config")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/kubechat/config.yaml, /etc/kubechat/config.yaml")
	return nil
}

// runAsk handles the "kubechat ask <question>" subcommand. It boots a
// minimal stack (temporary transcript store, no API server) and runs a
// single turn, printing the answer to stdout. Useful for smoke tests
// and debugging without starting the server.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	question := strings.Join(args, " ")

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "path", cfgPath)

	kubeClient, err := newKubeClient(cfg, logger)
	if err != nil {
		return err
	}

	llmClient := llm.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	registry := tools.NewRegistry(kubeClient)
	loop := agent.NewLoop(logger, llmClient, registry, cfg.Agent.MaxSteps, cfg.Agent.TurnTimeout())

	// Nothing to keep for a one-shot question, so the transcript goes to
	// a throwaway database under the system temp directory.
	store, err := transcript.NewStore(filepath.Join(os.TempDir(), fmt.Sprintf("kubechat-ask-%d.db", os.Getpid())))
	if err != nil {
		return fmt.Errorf("open transcript store: %w", err)
	}
	defer store.Close()

	sessions := session.NewManager(logger, store, loop)

	sess, err := sessions.Resolve("")
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	result, err := sessions.RunTurn(ctx, sess.ID, question, nil)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, result.Answer)
	return nil
}

// runServe handles the "kubechat serve" subcommand. It is the primary
// operating mode: loads config, opens the transcript database, connects
// to the cluster and the model provider, and blocks until a shutdown
// signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The HTTP server drains in-flight requests
//  3. The transcript database is closed via defer
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting KubeChat", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure logger now that we know the desired level and format.
	// The initial Info-level text logger covers only the startup banner.
	logger = newLogger(stdout, parseLogLevel(cfg.LogLevel), cfg.LogFormat)

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.LLM.Model,
		"llm_url", cfg.LLM.BaseURL,
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Transcript store ---
	// SQLite-backed session transcripts. Persists across restarts so
	// conversations can be resumed by session ID.
	dbPath := filepath.Join(cfg.DataDir, "kubechat.db")
	store, err := transcript.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open transcript database %s: %w", dbPath, err)
	}
	defer store.Close()
	logger.Info("transcript database opened", "path", dbPath)

	// --- Kubernetes client ---
	kubeClient, err := newKubeClient(cfg, logger)
	if err != nil {
		return err
	}
	if kubeClient == nil {
		logger.Warn("Kubernetes not configured - cluster tools unavailable")
	}

	// --- LLM client ---
	llmClient := llm.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)

	// --- Dependency monitoring ---
	// Background reachability checks for both upstreams. An unreachable
	// dependency does not block startup; tools and turns surface per-call
	// errors, and the health endpoint reports the monitored state.
	monitor := probe.NewMonitor(logger)
	defer monitor.Stop()
	monitor.Track(ctx, "llm", llmClient.Ping)
	if kubeClient != nil {
		monitor.Track(ctx, "kubernetes", kubeClient.Ping)
	}

	// --- Tool registry ---
	registry := tools.NewRegistry(kubeClient)
	logger.Info("tool registry initialized", "tools", len(registry.Names()))

	// --- Agent loop and session manager ---
	loop := agent.NewLoop(logger, llmClient, registry, cfg.Agent.MaxSteps, cfg.Agent.TurnTimeout())
	sessions := session.NewManager(logger, store, loop)
	logger.Info("agent initialized", "max_steps", cfg.Agent.MaxSteps, "turn_timeout", cfg.Agent.TurnTimeout())

	if cfg.Auth.AdminKey == "" && cfg.Auth.UserKey == "" {
		logger.Warn("no API keys configured - accepting unauthenticated requests")
	}

	// --- API server ---
	listen := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	server := api.NewServer(listen, logger, sessions, registry, llmClient, kubeClient, cfg.Auth)
	server.SetDependencyStatus(monitor.Status)

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	// Start blocks until the server is shut down (via context
	// cancellation or fatal error).
	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("KubeChat stopped")
	return nil
}

// newKubeClient builds the cluster client from configuration. In-cluster
// mode reads the service account mount; otherwise the configured API
// server address and bearer token are used. Returns nil (and no error)
// when neither is configured, leaving cluster tools unregistered.
func newKubeClient(cfg *config.Config, logger *slog.Logger) (*kube.Client, error) {
	if cfg.Kubernetes.InCluster {
		kc, err := kube.NewInClusterClient(logger)
		if err != nil {
			return nil, fmt.Errorf("in-cluster kubernetes client: %w", err)
		}
		return kc, nil
	}

	if cfg.Kubernetes.APIServer == "" {
		return nil, nil
	}

	var opts []kube.Option
	if cfg.Kubernetes.InsecureSkipVerify {
		opts = append(opts, kube.WithInsecureSkipVerify())
	}
	return kube.NewClient(cfg.Kubernetes.APIServer, cfg.Kubernetes.Token, logger, opts...), nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text. All log output in kubechat goes through slog; this
// helper standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// parseLogLevel maps a config log level string to a slog.Level.
// Unknown values fall back to Info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations. Returns the parsed
// config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
