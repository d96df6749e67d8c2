// Command werkzeug runs one agentic tool-call loop: it sends a prompt to the
// configured model, executes the tool calls the model asks for, feeds the
// results back, and prints the model's final answer. Progress events go to
// stderr, the final answer to stdout, approval prompts to the terminal.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/codefionn/werkzeug/internal/config"
	"github.com/codefionn/werkzeug/internal/llm"
	"github.com/codefionn/werkzeug/internal/logger"
	"github.com/codefionn/werkzeug/internal/orchestrator"
	"github.com/codefionn/werkzeug/internal/toolcall"
	"github.com/codefionn/werkzeug/internal/toolhost"
	"github.com/codefionn/werkzeug/internal/tools"
)

func main() {
	var (
		configPath = flag.String("config", config.GetConfigPath(), "path to the configuration file")
		model      = flag.String("model", "", "model name (overrides the config)")
		baseURL    = flag.String("base-url", "", "OpenAI-compatible endpoint override")
		dbPath     = flag.String("db", "", "SQLite database for the SQL tools (overrides the config)")
		format     = flag.String("tool-format", "", "tool-call format: native, hermes or gemini")
		maxTurns   = flag.Int("max-turns", 0, "maximum number of model turns (overrides the config)")
		stream     = flag.Bool("stream", false, "print model output deltas to stderr as they arrive")
		quiet      = flag.Bool("quiet", false, "suppress progress events on stderr")
	)
	flag.Parse()

	if err := run(*configPath, *model, *baseURL, *dbPath, *format, *maxTurns, *stream, *quiet, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath, model, baseURL, dbPath, format string, maxTurns int, stream, quiet bool, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if model != "" {
		cfg.Model = model
	}
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if format != "" {
		cfg.ToolFormat = format
	}
	if maxTurns > 0 {
		cfg.MaxTurns = maxTurns
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		return err
	}
	defer logger.Global().Close()

	prompt, err := readPrompt(args)
	if err != nil {
		return err
	}

	client, err := llm.NewClient(cfg.Model, baseURL)
	if err != nil {
		return err
	}

	toolFormatName := cfg.ToolFormat
	if toolFormatName == "" {
		toolFormatName = llm.DefaultToolFormat(cfg.Model)
	}
	toolFormat, err := toolcall.ParseFormat(toolFormatName)
	if err != nil {
		return err
	}

	registry, hosts, closeDB, err := buildToolbox(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	loop := orchestrator.NewLoop(orchestrator.Config{
		MaxTurns:            cfg.MaxTurns,
		ToolTimeout:         time.Duration(cfg.ToolTimeoutSeconds) * time.Second,
		ApprovalTimeout:     time.Duration(cfg.ApprovalTimeoutSeconds) * time.Second,
		MaxConcurrent:       cfg.MaxConcurrentToolCalls,
		RepetitionThreshold: cfg.RepetitionThreshold,
		Heartbeat:           time.Duration(cfg.HeartbeatSeconds) * time.Second,
		Format:              toolFormat,
		Temperature:         cfg.Temperature,
		MaxTokens:           cfg.MaxTokens,
		RequireApproval:     cfg.IsApprovalRequired,
	}, client, registry, hosts, nil)

	loop.SetTools(collectToolDefinitions(registry, hosts))
	if stream {
		loop.SetStreamCallback(func(chunk string) {
			fmt.Fprint(os.Stderr, chunk)
		})
	}

	approver := &stdinApprover{cfg: cfg, configPath: configPath, loop: loop, in: bufio.NewReader(os.Stdin)}
	observer := makeObserver(approver, quiet)
	loop.SetObserver(observer)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		loop.Stop()
	}()

	outcome := loop.Run(ctx, prompt)
	if !outcome.Completed {
		return fmt.Errorf("run aborted (%s): %s", outcome.AbortReason, outcome.AbortDetail)
	}

	fmt.Println(outcome.FinalText)
	return nil
}

func readPrompt(args []string) (string, error) {
	if prompt := strings.TrimSpace(strings.Join(args, " ")); prompt != "" {
		return prompt, nil
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("no prompt given; pass it as arguments or on stdin")
	}
	return prompt, nil
}

// buildToolbox assembles the built-in registry and the external hosts.
func buildToolbox(cfg *config.Config) (*tools.Registry, *toolhost.Registry, func(), error) {
	registry := tools.NewRegistry()
	closeDB := func() {}

	hosts, hostErrs := toolhost.BuildHosts(cfg)
	for _, err := range hostErrs {
		logger.Warn("Skipping tool host: %v", err)
		fmt.Fprintln(os.Stderr, "warning:", err)
	}

	toolTimeout := time.Duration(cfg.ToolTimeoutSeconds) * time.Second
	if err := registry.Register(tools.NewCodeExecutionTool(toolTimeout)); err != nil {
		return nil, nil, nil, err
	}

	if cfg.DatabasePath != "" {
		db, err := tools.OpenDatabase(cfg.DatabasePath)
		if err != nil {
			return nil, nil, nil, err
		}
		closeDB = func() { db.Close() }

		if err := registry.Register(tools.NewSQLSelectTool(db)); err != nil {
			return nil, nil, nil, err
		}
		if err := registry.Register(tools.NewSchemaSearchTool(db)); err != nil {
			return nil, nil, nil, err
		}
	}

	if err := registry.Register(tools.NewToolSearchTool(registry, hosts)); err != nil {
		return nil, nil, nil, err
	}

	return registry, hosts, closeDB, nil
}

// collectToolDefinitions advertises built-ins under their bare names and
// host tools under their qualified names.
func collectToolDefinitions(registry *tools.Registry, hosts *toolhost.Registry) []llm.ToolDefinition {
	var defs []llm.ToolDefinition
	for _, spec := range registry.List() {
		defs = append(defs, llm.ToolDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  spec.Parameters,
		})
	}
	for _, spec := range hosts.List() {
		defs = append(defs, llm.ToolDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  spec.Parameters,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func makeObserver(approver *stdinApprover, quiet bool) orchestrator.Observer {
	return func(ev orchestrator.Event) {
		switch event := ev.(type) {
		case orchestrator.ToolCallsPending:
			names := make(map[string]string, len(event.Calls))
			for _, call := range event.Calls {
				names[call.ID] = call.QualifiedName()
				if !quiet {
					fmt.Fprintf(os.Stderr, "-> %s %v\n", call.QualifiedName(), call.Arguments)
				}
			}
			for _, id := range event.AwaitingApproval {
				go approver.decide(id, names[id])
			}
		case orchestrator.ToolExecuting:
			if !quiet {
				fmt.Fprintf(os.Stderr, "   running %s\n", event.Tool)
			}
		case orchestrator.ToolHeartbeat:
			if !quiet {
				fmt.Fprintf(os.Stderr, "   still running %s (%s)\n", event.CallID, event.Elapsed.Round(time.Second))
			}
		case orchestrator.ToolResultEvent:
			if !quiet {
				if event.Err != nil {
					fmt.Fprintf(os.Stderr, "   %s failed: %v\n", event.CallID, event.Err)
				} else {
					fmt.Fprintf(os.Stderr, "   %s ok (%d bytes)\n", event.CallID, len(event.Output))
				}
			}
		case orchestrator.ToolLoopFinished:
			if !quiet && event.Outcome != nil && !event.Outcome.Completed {
				fmt.Fprintf(os.Stderr, "run aborted: %s\n", event.Outcome.AbortReason)
			}
		}
	}
}

// stdinApprover asks the user for a decision on the terminal. One prompt at
// a time; the answer is delivered back to the loop.
type stdinApprover struct {
	mu         sync.Mutex
	cfg        *config.Config
	configPath string
	loop       *orchestrator.Loop
	in         *bufio.Reader
}

func (a *stdinApprover) decide(callID, qualifiedName string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fmt.Fprintf(os.Stderr, "approve %s? [y]es / [n]o / [a]lways: ", qualifiedName)
	line, err := a.in.ReadString('\n')
	if err != nil {
		line = "n"
	}

	decision := orchestrator.DecisionDeny
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		decision = orchestrator.DecisionApprove
	case "a", "always":
		decision = orchestrator.DecisionApproveAll
		if a.cfg.ApproveAlwaysTool(qualifiedName) {
			if err := a.cfg.Save(a.configPath); err != nil {
				logger.Warn("Failed to persist approval for %s: %v", qualifiedName, err)
			}
		}
	}

	// The call was registered before it was announced, so the decision
	// lands unless the approval already timed out.
	if !a.loop.Resolve(callID, decision) {
		logger.Warn("Decision for call %s arrived too late", callID)
	}
}
