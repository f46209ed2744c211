// Package main is the entry point for the draftnrun binary.
// It provides a CLI for running, validating and serving graph definitions.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/Scopeo/draftnrun/pkg/components"
	"github.com/Scopeo/draftnrun/pkg/config"
	"github.com/Scopeo/draftnrun/pkg/domain"
	"github.com/Scopeo/draftnrun/pkg/engine"
	"github.com/Scopeo/draftnrun/pkg/logging"
	"github.com/Scopeo/draftnrun/pkg/storage"
	"github.com/Scopeo/draftnrun/pkg/telemetry"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for draftnrun
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "draftnrun",
		Short: "Graph execution engine for component pipelines",
		Long: `draftnrun builds executable graphs from declarative YAML documents and
runs them on a dependency-aware scheduler.

Graph documents declare typed component instances and the data flowing
between them. The engine instantiates each component through its
registered factory, wires the edges and executes every node as soon as
its dependencies have finished.

Example:
  draftnrun run my-graph --graphs ./graphs --input text="hello"
  draftnrun validate --graphs ./graphs
  draftnrun serve --config draftnrun.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().String("graphs", "", "Directory of graph documents (overrides config)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (text or json)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

// loadEnvironment loads the configuration, applies flag overrides and
// installs the process-wide logger. Every subcommand starts here.
func loadEnvironment(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	if dir, err := cmd.Flags().GetString("graphs"); err == nil && dir != "" {
		cfg.Graphs.Dir = dir
	}
	if level, err := cmd.Flags().GetString("log-level"); err == nil && level != "" {
		cfg.Logging.Level = level
	}
	if format, err := cmd.Flags().GetString("log-format"); err == nil && format != "" {
		cfg.Logging.Format = format
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(logger)

	return cfg, logger, nil
}

// openStore opens the graph document store the command will read from.
func openStore(cfg *config.Config) (*storage.FileStore, error) {
	if strings.TrimSpace(cfg.Graphs.Dir) == "" {
		return nil, fmt.Errorf("no graphs directory configured (set graphs.dir or --graphs)")
	}
	return storage.NewFileStore(cfg.Graphs.Dir)
}

// newRegistry builds a component registry with the built-in set installed.
func newRegistry() (*engine.Registry, error) {
	registry := engine.NewRegistry()
	if err := components.RegisterBuiltins(registry); err != nil {
		return nil, fmt.Errorf("failed to register built-in components: %w", err)
	}
	return registry, nil
}

// runDefaults translates engine configuration into runner defaults.
func runDefaults(cfg *config.Config) engine.RunOptions {
	return engine.RunOptions{
		Concurrency: cfg.Engine.Concurrency,
		FailFast:    cfg.Engine.FailFast,
		NodeTimeout: cfg.Engine.NodeTimeout,
	}
}

// newRunCmd creates the run command
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run <graph-id>",
		Short: "Execute a graph once and print its outputs",
		Long: `run builds the named graph from the configured document directory,
executes it once and prints the outputs of its output nodes.

Inputs are published under the reserved "input" node, so a graph can
reference them as {{input.key}} in its runtime bindings.`,
		Args: cobra.ExactArgs(1),
		RunE: runGraph,
	}

	runCmd.Flags().StringArrayP("input", "i", nil, "Run input as key=value (repeatable)")
	runCmd.Flags().String("input-json", "", "Run inputs as a JSON object (merged before --input)")
	runCmd.Flags().Duration("timeout", 0, "Overall run deadline (0 disables)")
	runCmd.Flags().Duration("node-timeout", 0, "Per-node deadline for nodes without one (overrides config)")
	runCmd.Flags().Bool("fail-fast", false, "Cancel the run on the first node failure")
	runCmd.Flags().Int("concurrency", 0, "Worker pool size (0 uses the configured default)")
	runCmd.Flags().StringP("output", "o", "text", "Output format: text or json")
	runCmd.Flags().Bool("trace", false, "Log node lifecycle events during the run")

	return runCmd
}

// runGraph is the entry point for the run command
func runGraph(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}

	inputs, err := parseRunInputs(cmd)
	if err != nil {
		return err
	}

	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return fmt.Errorf("failed to get timeout flag: %w", err)
	}
	nodeTimeout, err := cmd.Flags().GetDuration("node-timeout")
	if err != nil {
		return fmt.Errorf("failed to get node-timeout flag: %w", err)
	}
	failFast, err := cmd.Flags().GetBool("fail-fast")
	if err != nil {
		return fmt.Errorf("failed to get fail-fast flag: %w", err)
	}
	concurrency, err := cmd.Flags().GetInt("concurrency")
	if err != nil {
		return fmt.Errorf("failed to get concurrency flag: %w", err)
	}
	format, err := cmd.Flags().GetString("output")
	if err != nil {
		return fmt.Errorf("failed to get output flag: %w", err)
	}
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid --output %q (want text or json)", format)
	}
	trace, err := cmd.Flags().GetBool("trace")
	if err != nil {
		return fmt.Errorf("failed to get trace flag: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	registry, err := newRegistry()
	if err != nil {
		return err
	}

	var sink telemetry.TraceSink
	if trace {
		sink = telemetry.NewLogSink(logger)
	}

	builder := engine.NewBuilder(engine.BuilderConfig{
		Registry:    registry,
		Store:       store,
		Sink:        sink,
		Logger:      logger,
		RunDefaults: runDefaults(cfg),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	runner, err := builder.BuildGraph(ctx, args[0])
	if err != nil {
		return err
	}

	result, runErr := runner.Run(ctx, engine.RunRequest{
		Inputs: inputs,
		Options: engine.RunOptions{
			Concurrency: concurrency,
			FailFast:    failFast,
			NodeTimeout: nodeTimeout,
		},
	})
	if result == nil {
		return runErr
	}

	if err := printRunResult(cmd.OutOrStdout(), result, runErr, format); err != nil {
		return err
	}
	return runErr
}

// parseRunInputs merges --input-json and --input key=value pairs into the
// run's input map. Explicit key=value pairs win over the JSON document.
func parseRunInputs(cmd *cobra.Command) (map[string]any, error) {
	inputs := map[string]any{}

	doc, err := cmd.Flags().GetString("input-json")
	if err != nil {
		return nil, fmt.Errorf("failed to get input-json flag: %w", err)
	}
	if doc != "" {
		if err := json.Unmarshal([]byte(doc), &inputs); err != nil {
			return nil, fmt.Errorf("failed to parse --input-json: %w", err)
		}
	}

	pairs, err := cmd.Flags().GetStringArray("input")
	if err != nil {
		return nil, fmt.Errorf("failed to get input flag: %w", err)
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --input %q, expected key=value", pair)
		}
		inputs[key] = value
	}

	return inputs, nil
}

// runReport is the JSON shape of a finished run.
type runReport struct {
	RunID    string                      `json:"run_id"`
	GraphID  string                      `json:"graph_id"`
	Started  time.Time                   `json:"started"`
	Finished time.Time                   `json:"finished"`
	States   map[string]domain.NodeState `json:"states"`
	Outputs  map[string]map[string]any   `json:"outputs"`
	Failures map[string]string           `json:"failures,omitempty"`
}

// printRunResult renders a finished run in the requested format.
func printRunResult(w io.Writer, result *engine.RunResult, runErr error, format string) error {
	failures := map[string]string{}
	var runFailure *domain.RunError
	if errors.As(runErr, &runFailure) {
		for _, f := range runFailure.Failures {
			failures[f.NodeID] = f.Err.Error()
		}
	}

	if format == "json" {
		report := runReport{
			RunID:    result.RunID,
			GraphID:  result.GraphID,
			Started:  result.Started,
			Finished: result.Finished,
			States:   result.States,
			Outputs:  result.Outputs,
			Failures: failures,
		}
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}

	counts := map[domain.NodeState]int{}
	for _, state := range result.States {
		counts[state]++
	}
	fmt.Fprintf(w, "run %s of graph %s: %d completed, %d failed in %s\n",
		result.RunID, result.GraphID,
		counts[domain.NodeCompleted], counts[domain.NodeFailed],
		result.Finished.Sub(result.Started).Round(time.Millisecond))

	for _, nodeID := range sortedKeys(result.Outputs) {
		fmt.Fprintf(w, "\n%s:\n", nodeID)
		outputs := result.Outputs[nodeID]
		for _, port := range sortedKeys(outputs) {
			fmt.Fprintf(w, "  %s: %s\n", port, renderValue(outputs[port]))
		}
	}

	if len(failures) > 0 {
		fmt.Fprintf(w, "\nfailures:\n")
		for _, nodeID := range sortedKeys(failures) {
			fmt.Fprintf(w, "  %s: %s\n", nodeID, failures[nodeID])
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// renderValue prints strings verbatim and everything else as JSON.
func renderValue(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(encoded)
}

// newValidateCmd creates the validate command
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [graph-id...]",
		Short: "Build graphs without running them, reporting every violation",
		Long: `validate builds the named graphs (or every graph in the document
directory) against the component registry and reports all definition
problems at once: unknown types, bad bindings, missing ports, cycles.

The exit status is non-zero when any graph fails, so validate can gate
graph document changes in CI.`,
		RunE: validateGraphs,
	}
}

// validateGraphs is the entry point for the validate command
func validateGraphs(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	registry, err := newRegistry()
	if err != nil {
		return err
	}
	builder := engine.NewBuilder(engine.BuilderConfig{
		Registry: registry,
		Store:    store,
		Logger:   logger,
	})

	ctx := cmd.Context()
	ids := args
	if len(ids) == 0 {
		ids, err = store.GraphIDs(ctx)
		if err != nil {
			return err
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("no graph documents found in %s", cfg.Graphs.Dir)
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, id := range ids {
		_, buildErr := builder.BuildGraph(ctx, id)
		if buildErr == nil {
			fmt.Fprintf(out, "OK   %s\n", id)
			continue
		}
		failed++
		fmt.Fprintf(out, "FAIL %s\n", id)
		var violations *domain.BuildError
		if errors.As(buildErr, &violations) {
			for _, violation := range violations.Errs {
				fmt.Fprintf(out, "     %v\n", violation)
			}
		} else {
			fmt.Fprintf(out, "     %v\n", buildErr)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d graphs failed validation", failed, len(ids))
	}
	fmt.Fprintf(out, "%d graphs validated\n", len(ids))
	return nil
}

// newListCmd creates the list command
func newListCmd() *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List graph documents or registered component types",
		RunE:  listCatalog,
	}
	listCmd.Flags().Bool("components", false, "List registered component types instead of graphs")
	return listCmd
}

// listCatalog is the entry point for the list command
func listCatalog(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}

	showComponents, err := cmd.Flags().GetBool("components")
	if err != nil {
		return fmt.Errorf("failed to get components flag: %w", err)
	}
	out := cmd.OutOrStdout()

	if showComponents {
		registry, err := newRegistry()
		if err != nil {
			return err
		}
		for _, typeName := range registry.Types() {
			def, _ := registry.Definition(typeName)
			fmt.Fprintf(out, "%-14s %s\n", typeName, def.Description)
		}
		return nil
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	ids, err := store.GraphIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintf(out, "no graph documents in %s\n", cfg.Graphs.Dir)
		return nil
	}

	for _, id := range ids {
		def, err := store.Graph(ctx, id)
		if err != nil {
			fmt.Fprintf(out, "%s\t(unreadable: %v)\n", id, err)
			continue
		}
		version := def.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(out, "%s\t%s\t%d nodes\t%s\n", def.ID, version, len(def.Instances), def.Name)
	}
	return nil
}

// newServeCmd creates the serve command
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve catalog health and metrics, revalidating graphs on change",
		Long: `serve loads every graph document into an in-memory catalog, validates
it against the component registry and exposes operational endpoints:

  /healthz   liveness probe
  /metrics   Prometheus metrics for the catalog
  /statusz   loaded graph count, catalog version and generation

With graphs.watch enabled the catalog reloads and revalidates whenever
a document changes on disk.`,
		RunE: serveCatalog,
	}
	serveCmd.Flags().String("listen", "", "Listen address (overrides config)")
	serveCmd.Flags().Bool("watch", false, "Reload the catalog when graph documents change")
	return serveCmd
}

// serveCatalog is the entry point for the serve command
func serveCatalog(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadEnvironment(cmd)
	if err != nil {
		return err
	}
	if listen, err := cmd.Flags().GetString("listen"); err == nil && listen != "" {
		cfg.Server.Address = listen
	}
	if watch, err := cmd.Flags().GetBool("watch"); err == nil && watch {
		cfg.Graphs.Watch = true
	}

	ctx := cmd.Context()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Error("Telemetry shutdown error", "error", err)
		}
	}()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	registry, err := newRegistry()
	if err != nil {
		return err
	}

	catalog := storage.NewCatalog(store, logger)
	builder := engine.NewBuilder(engine.BuilderConfig{
		Registry:    registry,
		Store:       catalog,
		Sink:        telemetry.NewOTelSink(),
		Logger:      logger,
		RunDefaults: runDefaults(cfg),
	})

	metrics := telemetry.NewCatalogMetrics()

	if err := catalog.Reload(ctx); err != nil {
		return fmt.Errorf("failed to load graph catalog: %w", err)
	}
	metrics.RecordReload("success")
	metrics.SetGraphsLoaded(catalog.Len())
	validateCatalog(ctx, catalog, builder, logger)

	if cfg.Graphs.Watch {
		watcher, err := config.NewWatcher(cfg.Graphs.Dir, func() {
			metrics.RecordWatchEvent()
			reloadCtx := context.Background()
			if err := catalog.Reload(reloadCtx); err != nil {
				metrics.RecordReload("error")
				logger.Error("Catalog reload failed", "error", err)
				return
			}
			metrics.RecordReload("success")
			metrics.SetGraphsLoaded(catalog.Len())
			validateCatalog(reloadCtx, catalog, builder, logger)
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", cfg.Graphs.Dir, err)
		}
		defer watcher.Close()
	}

	logger.Info("Starting draftnrun",
		"addr", cfg.Server.Address,
		"graphs_dir", cfg.Graphs.Dir,
		"graphs", catalog.Len(),
		"watch", cfg.Graphs.Watch,
	)

	server := startServer(cfg.Server.Address, newAdminHandler(catalog, metrics), logger)
	waitForShutdown(server, logger)

	logger.Info("Server stopped")
	return nil
}

// validateCatalog builds every cataloged graph so definition problems
// surface in the logs at load time, not on first use.
func validateCatalog(ctx context.Context, catalog *storage.Catalog, builder *engine.Builder, logger *slog.Logger) {
	ids, err := catalog.GraphIDs(ctx)
	if err != nil {
		logger.Error("Catalog listing failed", "error", err)
		return
	}
	valid := 0
	for _, id := range ids {
		if _, err := builder.BuildGraph(ctx, id); err != nil {
			logger.Error("Graph failed validation", "graph_id", id, "error", err)
			continue
		}
		valid++
	}
	logger.Info("Catalog validated",
		"graphs", len(ids),
		"valid", valid,
		"version", catalog.Version(),
	)
}

// newAdminHandler builds the operational endpoint handler.
func newAdminHandler(catalog *storage.Catalog, metrics *telemetry.CatalogMetrics) http.Handler {
	metricsHandler := metrics.Handler()
	statusHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"graphs":     catalog.Len(),
			"version":    catalog.Version(),
			"generation": catalog.Generation(),
		})
	})

	// Manual routing keeps the probe endpoints outside the otel middleware.
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/healthz":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		case "/metrics":
			metricsHandler.ServeHTTP(w, r)
		case "/statusz":
			otelhttp.NewHandler(statusHandler, "draftnrun.status").ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func startServer(addr string, handler http.Handler, logger *slog.Logger) *http.Server {
	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("Failed to bind listener", "addr", addr, "error", err)
		os.Exit(1)
	}

	// Log the actual resolved address (useful when addr is :0)
	logger.Info("Server listening", "addr", listener.Addr().String())

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	return server
}

func waitForShutdown(server *http.Server, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	logger.Info("Shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Shutdown error", "error", err)
	}
}
