// Command gamesmith turns natural-language game requests into Godot projects.
// A planning agent decomposes the request into steps, coding agents generate
// the files for each step, and every step is validated with the Godot binary
// before the run moves on.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"gamesmith/pkg/config"
	"gamesmith/pkg/logx"
	"gamesmith/pkg/metrics"
	"gamesmith/pkg/persistence"
	"gamesmith/pkg/version"
)

// cliOptions carries the parsed command line through run.
type cliOptions struct {
	projectDir  string
	request     string
	task        string
	model       string
	configPath  string
	metricsAddr string
	maxRetries  int
	planOnly    bool
	initMode    bool
}

// cliMode is the operating mode selected by the mutually exclusive flags.
type cliMode int

const (
	modeInit cliMode = iota
	modeRequest
	modePlanOnly
	modeTask
)

func main() {
	var (
		projectDir  = flag.String("project", ".", "Godot project directory")
		request     = flag.String("request", "", "Game request to plan and execute")
		task        = flag.String("task", "", "Single coding task to run without planning")
		planOnly    = flag.Bool("plan-only", false, "Create and print the plan without executing it")
		model       = flag.String("model", "", "Generation model as NAME or PROVIDER:NAME (default from config)")
		maxRetries  = flag.Int("max-retries", 0, "Generation attempt budget per step (default from config)")
		configPath  = flag.String("config", "", "Config file path (default <project>/.gamesmith/config.json)")
		metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
		initMode    = flag.Bool("init", false, "Set up the project config and credentials interactively")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("gamesmith %s\n", version.Version)
		fmt.Printf("  commit: %s\n", version.Commit)
		fmt.Printf("  built:  %s\n", version.Date)
		os.Exit(0)
	}

	// Store exit code and call os.Exit at the end so deferred cleanup in
	// run executes first.
	exitCode := run(cliOptions{
		projectDir:  *projectDir,
		request:     *request,
		task:        *task,
		model:       *model,
		configPath:  *configPath,
		metricsAddr: *metricsAddr,
		maxRetries:  *maxRetries,
		planOnly:    *planOnly,
		initMode:    *initMode,
	})
	os.Exit(exitCode)
}

func run(opts cliOptions) int {
	logger := logx.NewLogger("gamesmith")

	mode, err := opts.mode()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		fmt.Fprintln(os.Stderr, "Run 'gamesmith -h' for usage.")
		return 2
	}

	fmt.Println("⏳ Starting up...")

	// 1. Load configuration. The default path creates a config file on
	// first use; -config points at an existing one read-only.
	if err := config.LoadConfigFrom(opts.projectDir, opts.configPath); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load config: %v\n", err)
		return 1
	}
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		return 1
	}
	if cfg.Logs != nil && cfg.Logs.File != "" {
		logx.SetLogFile(cfg.Logs.File)
	}

	// 2. Interactive setup stops here; it never needs credentials loaded.
	if mode == modeInit {
		if err := runInit(opts.projectDir); err != nil {
			fmt.Fprintf(os.Stderr, "❌ Setup failed: %v\n", err)
			return 1
		}
		return 0
	}

	// 3. Decrypt stored credentials when the project carries them.
	if err := handleSecretsDecryption(opts.projectDir); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		return 1
	}

	// 4. Resolve the generation model override before any session exists.
	generationModel, err := parseModelFlag(opts.model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		return 1
	}

	// 5. Open the run database. Recording is best-effort: a project on a
	// read-only mount still generates, it just keeps no history.
	runID := persistence.GenerateRunID()
	dbPath := filepath.Join(opts.projectDir, config.ProjectConfigDir, config.DatabaseFilename)
	if err := persistence.Initialize(dbPath, runID); err != nil {
		logger.Warn("⚠️ Run database unavailable, continuing without history: %v", err)
	} else {
		defer func() {
			if err := persistence.Close(); err != nil {
				logger.Warn("⚠️ Failed to close run database: %v", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 6. Metrics endpoint, when enabled by config or flag.
	promAddr := metricsAddress(cfg, opts.metricsAddr)
	if promAddr != "" {
		if err := metrics.Serve(ctx, promAddr, logger); err != nil {
			fmt.Fprintf(os.Stderr, "❌ Failed to start metrics server: %v\n", err)
			return 1
		}
	}

	// 7. Wire the engine and dispatch on mode.
	eng, err := newEngine(opts.projectDir, cfg, promAddr != "", generationModel, opts.maxRetries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		return 1
	}

	var runErr error
	switch mode {
	case modePlanOnly:
		runErr = eng.planRequest(ctx, opts.request)
	case modeRequest:
		runErr = eng.runRequest(ctx, opts.request)
	case modeTask:
		runErr = eng.runTask(ctx, opts.task)
	case modeInit:
		// Handled above.
	}

	eng.printUsage()
	eng.printCumulativeUsage(ctx)

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "\n❌ %v\n", runErr)
		return 1
	}
	return 0
}

// mode picks the operating mode and rejects contradictory flag combinations.
func (o cliOptions) mode() (cliMode, error) {
	selected := 0
	if o.initMode {
		selected++
	}
	if o.request != "" {
		selected++
	}
	if o.task != "" {
		selected++
	}
	if selected == 0 {
		return 0, fmt.Errorf("one of -init, -request, or -task is required")
	}
	if selected > 1 {
		return 0, fmt.Errorf("-init, -request, and -task are mutually exclusive")
	}
	if o.planOnly && o.request == "" {
		return 0, fmt.Errorf("-plan-only requires -request")
	}

	switch {
	case o.initMode:
		return modeInit, nil
	case o.planOnly:
		return modePlanOnly, nil
	case o.request != "":
		return modeRequest, nil
	default:
		return modeTask, nil
	}
}

// parseModelFlag resolves a -model value to a model name. Both bare names and
// PROVIDER:NAME pairs are accepted; a pair's provider part must agree with
// the model's known provider. Ollama names keep their "ollama:" routing
// prefix because the model registry resolves them by it.
func parseModelFlag(value string) (string, error) {
	if value == "" {
		return "", nil
	}

	name := value
	wantProvider := ""
	if prefix, rest, ok := strings.Cut(value, ":"); ok && prefix != config.ProviderOllama {
		wantProvider = prefix
		name = rest
	}

	provider, err := config.GetModelProvider(name)
	if err != nil {
		return "", err //nolint:wrapcheck // The registry error already names the model.
	}
	if wantProvider != "" && wantProvider != provider {
		return "", fmt.Errorf("model %q is served by %s, not %s", name, provider, wantProvider)
	}
	return name, nil
}

// metricsAddress resolves whether and where to serve metrics. The flag wins
// over config and turns the endpoint on by itself.
func metricsAddress(cfg config.Config, flagAddr string) string {
	if flagAddr != "" {
		return flagAddr
	}
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		if cfg.Metrics.Addr != "" {
			return cfg.Metrics.Addr
		}
		return config.DefaultMetricsAddr
	}
	return ""
}
