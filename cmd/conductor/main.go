package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rendis/conductor/internal/conductor"
	"github.com/rendis/conductor/internal/diagram"
	"github.com/rendis/conductor/internal/logging"
	"github.com/rendis/conductor/internal/store"
	"github.com/rendis/conductor/internal/validation"
	"github.com/rendis/conductor/pkg/mcp"
	"github.com/rendis/conductor/pkg/schema"
)

const usage = `conductor - flow graph compiler

Usage:
  conductor compile <flow.json>    compile a flow into an execution strategy
  conductor validate <flow.json>   validate a flow without compiling
  conductor diagram <flow.json>    render a flow (-format mermaid|ascii)
  conductor mcp                    serve the MCP tools over stdio
  conductor version                print the version

Flags for compile:
  -persist         store the flow and strategy in the local database
  -o <file>        write the strategy to a file instead of stdout

Flags for diagram:
  -format <fmt>    mermaid (default) or ascii
  -no-strategy     skip the compiled strategy overlay
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	var err error
	switch os.Args[1] {
	case "compile":
		err = runCompile(cfg, logger, os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:])
	case "diagram":
		err = runDiagram(cfg, os.Args[2:])
	case "mcp":
		err = runMCP(cfg, logger)
	case "version":
		printVersion()
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	if err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(base))
}

func newCompiler(cfg Config) *conductor.Compiler {
	var opts []conductor.Option
	if cfg.MeshMaxIter > 0 || cfg.MeshThreshold > 0 {
		opts = append(opts, conductor.WithMeshDefaults(cfg.MeshMaxIter, cfg.MeshThreshold))
	}
	return conductor.New(opts...)
}

func loadFlow(path string) (*schema.FlowGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading flow file: %w", err)
	}
	var g schema.FlowGraph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing flow file: %w", err)
	}
	return &g, nil
}

func openStore(ctx context.Context, cfg Config) (*store.LibSQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// validateFlow runs the validation pipeline and prints issues to stderr.
// Warnings are non-fatal.
func validateFlow(g *schema.FlowGraph) (*schema.ValidationResult, error) {
	v, err := validation.NewFlowValidator()
	if err != nil {
		return nil, err
	}
	result := v.Validate(g)
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", w.Path, w.Message)
	}
	if !result.Valid() {
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "error: %s: %s\n", e.Path, e.Message)
		}
	}
	return result, nil
}

// --- Subcommands ---

func runCompile(cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	persist := fs.Bool("persist", false, "store the flow and strategy")
	outPath := fs.String("o", "", "output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: conductor compile [flags] <flow.json>")
	}

	g, err := loadFlow(fs.Arg(0))
	if err != nil {
		return err
	}

	result, err := validateFlow(g)
	if err != nil {
		return err
	}
	if !result.Valid() {
		return fmt.Errorf("flow %s failed validation with %d error(s)", g.ID, len(result.Errors))
	}

	ctx := context.Background()
	strategy := newCompiler(cfg).CompileStrategy(g)

	log := logging.LogWith(logging.WithFlowID(ctx, g.ID), logger)
	log.Info("flow compiled",
		"phases", len(strategy.Phases),
		"estimated_llm_calls", strategy.EstimatedLLMCalls,
		"conductor_used", strategy.ConductorUsed,
	)

	if *persist {
		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := persistStrategy(ctx, st, g, strategy); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(strategy, "", "  ")
	if err != nil {
		return err
	}
	if *outPath != "" {
		return os.WriteFile(*outPath, append(data, '\n'), 0o644)
	}
	fmt.Println(string(data))
	return nil
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: conductor validate <flow.json>")
	}

	g, err := loadFlow(fs.Arg(0))
	if err != nil {
		return err
	}
	result, err := validateFlow(g)
	if err != nil {
		return err
	}
	if !result.Valid() {
		return fmt.Errorf("flow %s failed validation with %d error(s)", g.ID, len(result.Errors))
	}
	fmt.Printf("flow %s is valid (%d warning(s))\n", g.ID, len(result.Warnings))
	return nil
}

func runDiagram(cfg Config, args []string) error {
	fs := flag.NewFlagSet("diagram", flag.ExitOnError)
	format := fs.String("format", "mermaid", "output format: mermaid or ascii")
	noStrategy := fs.Bool("no-strategy", false, "skip the compiled strategy overlay")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: conductor diagram [flags] <flow.json>")
	}
	if *format != "mermaid" && *format != "ascii" {
		return fmt.Errorf("format must be mermaid or ascii, got %q", *format)
	}

	g, err := loadFlow(fs.Arg(0))
	if err != nil {
		return err
	}

	var strategy *schema.ExecutionStrategy
	if !*noStrategy {
		strategy = newCompiler(cfg).CompileStrategy(g)
	}

	model, err := diagram.Build(g, strategy)
	if err != nil {
		return err
	}
	if *format == "ascii" {
		fmt.Println(diagram.RenderASCII(model))
	} else {
		fmt.Println(diagram.RenderMermaid(model))
	}
	return nil
}

func runMCP(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	srv, err := mcp.NewConductorServer(mcp.ConductorServerDeps{
		Store:    st,
		Compiler: newCompiler(cfg),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	logger.Info("serving MCP over stdio", "db", cfg.DBPath)
	return srv.Serve(ctx)
}
