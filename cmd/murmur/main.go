// Murmur is a conversational agent that decides for itself when a chat
// message deserves a reply, then plans and executes tool invocations to
// compose one.
//
// Messages arrive over MQTT, are grouped into bundles, and pass a
// probabilistic reply gate before a run starts. A run judges whether
// tools are needed, retrieves a relevant tool shortlist, plans a step
// DAG, executes it with bounded retries, evaluates the outcome, and
// summarizes a reply. An ops HTTP server exposes health, state, and a
// live event stream.
//
// Usage:
//
//	murmur serve             Start the agent
//	murmur version           Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/murmurhq/murmur/internal/affect"
	"github.com/murmurhq/murmur/internal/agent"
	"github.com/murmurhq/murmur/internal/arggen"
	"github.com/murmurhq/murmur/internal/buildinfo"
	"github.com/murmurhq/murmur/internal/bundle"
	"github.com/murmurhq/murmur/internal/catalog"
	"github.com/murmurhq/murmur/internal/chat"
	"github.com/murmurhq/murmur/internal/config"
	"github.com/murmurhq/murmur/internal/embeddings"
	"github.com/murmurhq/murmur/internal/evaluator"
	"github.com/murmurhq/murmur/internal/events"
	"github.com/murmurhq/murmur/internal/executor"
	"github.com/murmurhq/murmur/internal/history"
	"github.com/murmurhq/murmur/internal/llm"
	"github.com/murmurhq/murmur/internal/planner"
	"github.com/murmurhq/murmur/internal/policy"
	"github.com/murmurhq/murmur/internal/rerank"
	"github.com/murmurhq/murmur/internal/retrieval"
	"github.com/murmurhq/murmur/internal/run"
	"github.com/murmurhq/murmur/internal/summarizer"
	"github.com/murmurhq/murmur/internal/tools"
	"github.com/murmurhq/murmur/internal/transport/mqttchat"
	"github.com/murmurhq/murmur/internal/web"
)

// main stays minimal so the startup-to-shutdown lifecycle can be
// driven from tests through run.
func main() {
	ctx := context.Background()

	if err := realMain(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func realMain(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "version":
		return runVersion(stdout)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer) error {
	fmt.Fprintln(w, buildinfo.String())
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(buildinfo.Info())
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Murmur - conversational tool-using agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: murmur [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve     Start the agent")
	fmt.Fprintln(w, "  version   Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>   Path to config file (default: auto-discover)")
	return nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting murmur",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	// Reconfigure at the configured level; the Info-level logger above
	// only covers the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}
	logger.Info("config loaded",
		"path", cfgPath,
		"broker", cfg.MQTT.Broker,
		"model", cfg.Models.Default,
		"port", cfg.Listen.Port,
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	bus := events.New()

	// Tool catalog.
	cat := catalog.New(tools.Builtins(tools.Config{
		WorkspacePath: cfg.Workspace.Path,
	})...)
	logger.Info("tool catalog ready", "tools", cat.Len())

	// Embeddings with a persistent cache so catalog relevance texts are
	// embedded once per model.
	embedClient := embeddings.New(embeddings.Config{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
	})
	embedCache, err := embeddings.NewCache(embedClient, cfg.DataDir+"/embeddings.db")
	if err != nil {
		return fmt.Errorf("open embedding cache: %w", err)
	}
	defer embedCache.Close()

	// Rerank stage is optional; missing credentials disable it rather
	// than failing retrieval.
	var ranker rerank.Ranker
	if cfg.Rerank.Enabled && cfg.Rerank.APIKey != "" {
		ranker = rerank.New(rerank.Config{
			BaseURL: cfg.Rerank.BaseURL,
			APIKey:  cfg.Rerank.APIKey,
			Model:   cfg.Rerank.Model,
		})
		logger.Info("rerank stage enabled", "model", cfg.Rerank.Model)
	} else if cfg.Rerank.Enabled {
		logger.Warn("rerank enabled but api_key missing, stage disabled")
	}

	retrievalPipe := retrieval.New(retrieval.Config{
		Catalog:    cat,
		Embedder:   embedCache,
		Ranker:     ranker,
		CandidateK: cfg.Rerank.CandidateK,
		TopN:       cfg.Rerank.TopN,
		Logger:     logger,
	})

	// LLM-backed pipeline stages.
	llmClient := llm.NewOllamaClient(cfg.Models.OllamaURL)
	model := cfg.Models.Default

	store, err := history.Open(cfg.DataDir + "/history.db")
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	exec := executor.New(executor.Config{
		Store:        store,
		Catalog:      cat,
		ArgGen:       arggen.New(llmClient, model, logger),
		Bus:          bus,
		StepTimeout:  cfg.Pipeline.StepTimeout,
		MaxRetries:   cfg.Pipeline.MaxRetries,
		MaxParallel:  cfg.Pipeline.MaxParallel,
		RetryBackoff: cfg.Pipeline.RetryBackoff,
		Logger:       logger,
	})

	pipeline := run.New(run.Config{
		Retrieval:  retrievalPipe,
		Planner:    planner.New(llmClient, model, logger),
		Executor:   exec,
		Evaluator:  evaluator.New(llmClient, model, logger),
		Summarizer: summarizer.New(llmClient, model, logger),
		Store:      store,
		Bus:        bus,
		MaxReplans: cfg.Pipeline.MaxReplans,
		Logger:     logger,
	})

	// Reply policy and affect.
	mood := affect.NewTracker()
	scheduler := policy.NewScheduler(policy.Config{
		ReplyThreshold:   cfg.Policy.ReplyThreshold,
		MinReplyInterval: cfg.Policy.MinReplyInterval,
		MaxConcurrent:    cfg.Policy.MaxConcurrent,
		SelfID:           cfg.MQTT.DeviceName,
	}, mood, bus, logger)

	bundler := bundle.NewCollector(cfg.Policy.BundleWindow, cfg.Policy.BundleMax, logger)

	// Chat transport.
	var loop *agent.Loop
	transport := mqttchat.New(cfg.MQTT, func(msg chat.Inbound) { loop.Receive(msg) }, bus, logger)
	loop = agent.New(bundler, scheduler, mood, pipeline, transport, logger)

	// Ops server.
	opsServer := web.New(cfg.Listen.Address, cfg.Listen.Port, bus, loop, logger)

	// Signal handling: SIGINT/SIGTERM cancel the shared context.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("start mqtt transport: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		bundler.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		offCtx, offCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer offCancel()
		if err := transport.Stop(offCtx); err != nil {
			logger.Error("mqtt shutdown failed", "error", err)
		}
		_ = opsServer.Shutdown(context.Background())
	}()

	if err := opsServer.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("ops server failed: %w", err)
		}
	}

	wg.Wait()
	logger.Info("murmur stopped")
	return nil
}
