// Command easel runs the ComfyUI agent: an HTTP/WebSocket server by
// default, or a one-shot CLI chat with -m.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/easelhq/easel"
	"github.com/easelhq/easel/comfy"
	"github.com/easelhq/easel/identity"
	"github.com/easelhq/easel/internal/config"
	"github.com/easelhq/easel/observer"
	"github.com/easelhq/easel/provider/anthropic"
	"github.com/easelhq/easel/server"
	"github.com/easelhq/easel/store/sqlite"
	"github.com/easelhq/easel/tools/comfytools"
	"github.com/easelhq/easel/tools/web"
)

func main() {
	configPath := flag.String("config", "easel.toml", "path to the TOML config file")
	message := flag.String("m", "", "run one chat turn from the CLI instead of serving")
	flag.Parse()

	cfg := config.Load(*configPath)
	logger := buildLogger(cfg.Logging)

	apiKey := cfg.LLM.ResolveAPIKey()
	if apiKey == "" {
		log.Fatal("ANTHROPIC_API_KEY not set; set it in the environment or in easel.toml")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	bus := easel.NewEventBus(easel.WithBusLogger(logger))

	backend := comfy.NewClient(cfg.Backend.BaseURL, cfg.Backend.WSURL,
		comfy.WithTimeout(time.Duration(cfg.Backend.Timeout)*time.Second),
		comfy.WithEventBus(bus),
		comfy.WithLogger(logger),
	)
	defer backend.Close()

	index := comfy.NewNodeIndex(logger)
	if err := backend.HealthCheck(ctx); err != nil {
		logger.Warn("backend not reachable", "url", cfg.Backend.BaseURL, "error", err)
	} else {
		logger.Info("backend connected", "url", cfg.Backend.BaseURL)
		if err := backend.ConnectWS(ctx); err != nil {
			logger.Warn("backend websocket unavailable", "error", err)
		}
		if err := index.Build(ctx, backend); err != nil {
			logger.Warn("node index build failed", "error", err)
		}
	}

	var provider easel.Provider = anthropic.New(apiKey, cfg.LLM.BaseURL,
		anthropic.WithModel(cfg.LLM.Model),
		anthropic.WithMaxTokens(cfg.LLM.MaxTokens),
		anthropic.WithTemperature(cfg.LLM.Temperature),
		anthropic.WithEventBus(bus),
		anthropic.WithRetryPolicy(cfg.LLM.MaxRetries,
			time.Duration(cfg.LLM.RetryBaseDelayMS)*time.Millisecond,
			time.Duration(cfg.LLM.RetryMaxDelayMS)*time.Millisecond),
		anthropic.WithClientLogger(logger),
	)

	store, err := sqlite.New(cfg.Agent.SessionDB, sqlite.WithLogger(logger))
	if err != nil {
		log.Fatalf("open session store: %v", err)
	}
	defer store.Close()

	tools := comfytools.AllTools(backend, index)
	webClient := web.NewClient(cfg.Web.ResolveTavilyKey(), time.Duration(cfg.Web.Timeout)*time.Second)
	tools = append(tools, web.NewSearchTool(webClient), web.NewFetchTool(webClient))
	tools = append(tools, easel.NewSubAgentTool(provider, store, bus,
		comfytools.ReadOnlyTools(backend, index), logger))

	if cfg.Logging.OTel {
		inst, shutdown, err := observer.Init(ctx, "easel")
		if err != nil {
			logger.Warn("otel init failed", "error", err)
		} else {
			defer shutdown(context.Background())
			provider = observer.WrapProvider(provider, inst)
			tools = observer.WrapTools(tools, inst)
		}
	}

	prompts := easel.NewPromptBuilder(easel.WithPromptLogger(logger))
	for _, section := range easel.DefaultSections() {
		prompts.RegisterSection(section)
	}
	if cfg.Identity.RoleName != "" {
		loader := identity.NewLoader(cfg.Identity.RolexDir, logger)
		features := loader.LoadIdentity(cfg.Identity.RoleName)
		for _, section := range identity.FeaturesToSections(features, cfg.Identity.RoleName) {
			prompts.RegisterSection(section)
		}
		identity.NewSynthesizer(loader, bus, cfg.Identity.RoleName, provider, prompts, logger)
	}

	loop := easel.NewAgentLoop(provider, easel.NewToolExecutor(tools, easel.WithExecutorLogger(logger)), store, bus,
		easel.WithMaxIterations(cfg.Agent.MaxIterations),
		easel.WithSummarizer(easel.NewSummarizer(provider, store, bus, easel.WithSummarizerLogger(logger))),
		easel.WithContextManager(easel.NewContextManager(cfg.LLM.Model, cfg.LLM.MaxTokens, cfg.Agent.ContextBudget, easel.WithContextLogger(logger))),
		easel.WithPromptBuilder(prompts),
		easel.WithIntentAnalyzer(easel.NewIntentAnalyzer(provider, logger)),
		easel.WithEnvironmentProbe(easel.NewEnvironmentProbe(backend, index, easel.WithProbeLogger(logger))),
		easel.WithCanvasTracker(easel.NewCanvasTracker(bus, logger)),
		easel.WithLoopLogger(logger),
	)

	if *message != "" {
		runCLI(ctx, loop, store, bus, *message)
		return
	}

	srv := server.New(cfg, loop, store, backend, index, bus,
		server.WithLogger(logger),
		server.WithConfigPath(*configPath),
	)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}

// runCLI runs a single turn against a fresh session, printing stream
// deltas and tool activity as they happen.
func runCLI(ctx context.Context, loop *easel.AgentLoop, store easel.SessionStore, bus *easel.EventBus, message string) {
	sessionID, err := store.CreateSession(ctx, "CLI Session")
	if err != nil {
		log.Fatalf("create session: %v", err)
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()
	bus.Subscribe(easel.EventStreamTextDelta, func(e easel.Event) {
		if text, ok := e.Data["text"].(string); ok {
			fmt.Fprint(out, text)
			out.Flush()
		}
	})
	bus.Subscribe(easel.EventStateToolExecuting, func(e easel.Event) {
		fmt.Fprintf(out, "\n[tool: %v]\n", e.Data["tool_name"])
		out.Flush()
	})

	response, err := loop.Run(ctx, sessionID, message)
	if err != nil {
		log.Fatalf("chat failed: %v", err)
	}
	if !strings.HasSuffix(response, "\n") {
		fmt.Fprintln(out)
	}
}

func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
