// Package main is the vecdex CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/vecdex/internal/chunker"
	"github.com/hyperjump/vecdex/internal/client"
	"github.com/hyperjump/vecdex/internal/config"
	"github.com/hyperjump/vecdex/internal/embedding"
	"github.com/hyperjump/vecdex/internal/ingest"
	"github.com/hyperjump/vecdex/internal/models"
	"github.com/hyperjump/vecdex/internal/parser"
	"github.com/hyperjump/vecdex/internal/search"
	"github.com/hyperjump/vecdex/internal/server"
	"github.com/hyperjump/vecdex/internal/source"
	"github.com/hyperjump/vecdex/internal/watcher"
	"github.com/hyperjump/vecdex/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/vecdex/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "refresh":
		runRefresh()
	case "search":
		runSearch()
	case "status":
		runStatus()
	case "remove":
		runRemove()
	case "compact":
		runCompact()
	case "purge":
		runPurge()
	case "version", "--version", "-v":
		fmt.Printf("vecdex version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`vecdex - per-client semantic document search

Usage: vecdex <command> [flags]

Commands:
  server    run the HTTP API server
  refresh   reconcile a client's index against its document source
  search    search a client's index
  status    show a client's index statistics
  remove    remove one document from a client's index
  compact   compact a client's index
  purge     delete a client's index entirely
  version   print version

Run "vecdex <command> -h" for command flags.
`)
}

// Components bundles everything a command needs, with a single Close.
type Components struct {
	Registry    *client.Registry
	Coordinator *ingest.Coordinator
	Searcher    *search.Service
	Embedder    embedding.Embedder
	Source      source.DocumentSource
	Watcher     *watcher.Watcher
}

// Close releases held resources.
func (c *Components) Close() {
	if c.Watcher != nil {
		c.Watcher.Stop()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func buildEmbedder(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, error) {
	var embedder embedding.Embedder
	switch cfg.Embedding.Provider {
	case "openai":
		apiKey := os.Getenv(cfg.Embedding.APIKeyEnv)
		emb, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			BaseURL:    cfg.Embedding.BaseURL,
			APIKey:     apiKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			MaxRetries: cfg.Embedding.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder: %w", err)
		}
		embedder = emb
	case "onnx":
		emb, err := embedding.NewONNXEmbedder(
			cfg.Embedding.ModelPath,
			cfg.Embedding.Dimensions,
			cfg.Embedding.MaxTokens,
		)
		if err != nil {
			return nil, fmt.Errorf("onnx embedder: %w", err)
		}
		embedder = emb
	case "mock":
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}

	if cfg.Storage.CachePath != "" {
		cached, err := embedding.NewCachedEmbedder(embedder, cfg.Storage.CachePath)
		if err != nil {
			logger.Warn("embedding cache unavailable, continuing without",
				zap.String("path", cfg.Storage.CachePath), zap.Error(err))
			return embedder, nil
		}
		return cached, nil
	}
	return embedder, nil
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	embedder, err := buildEmbedder(cfg, logger)
	if err != nil {
		return nil, err
	}

	registry, err := client.NewRegistry(cfg.Storage.Root, client.Options{
		Model:        embedder.Model(),
		Dimension:    cfg.Embedding.Dimensions,
		ChunkSize:    cfg.Chunking.ChunkSize,
		ChunkOverlap: cfg.Chunking.ChunkOverlap,
	}, logger)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize registry: %w", err)
	}

	parsers := parser.NewRegistry(cfg.Sources.MaxFileSize)
	ch := chunker.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	coordinator := ingest.NewCoordinator(registry, parsers, ch, embedder, ingest.Options{
		EmbedBatchSize:   cfg.Embedding.BatchSize,
		Durability:       ingest.Durability(cfg.Index.Durability),
		CompactThreshold: cfg.Index.CompactThreshold,
		RemoveMissing:    cfg.Index.RemoveMissing,
	}, logger)
	searcher := search.NewService(registry, embedder, logger)

	var src source.DocumentSource
	if cfg.Sources.ListURL != "" {
		src = source.NewHTTPSource(cfg.Sources.ListURL, 30*time.Second, cfg.Sources.MaxFileSize)
	}

	return &Components{
		Registry:    registry,
		Coordinator: coordinator,
		Searcher:    searcher,
		Embedder:    embedder,
		Source:      src,
	}, nil
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if len(cfg.Sources.Directories) > 0 {
		if err := startDirWatch(watchCtx, cfg, components, logger, debugMode); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
	}

	srv := server.NewServer(
		components.Registry,
		components.Coordinator,
		components.Searcher,
		components.Source,
		&cfg.Server,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// startDirWatch wires each configured directory as a document source for a
// client named after the directory, refreshed whenever its files change.
func startDirWatch(ctx context.Context, cfg *config.Config, components *Components, logger *zap.Logger, debug bool) error {
	sources := make(map[string]*source.DirSource, len(cfg.Sources.Directories))
	coordinator := components.Coordinator

	refresh := func(clientID string) {
		ds, ok := sources[clientID]
		if !ok {
			return
		}
		report, err := coordinator.Refresh(context.Background(), clientID, ds)
		if err != nil {
			logger.Warn("watch refresh failed", zap.String("client_id", clientID), zap.Error(err))
			return
		}
		logger.Info("watch refresh done",
			zap.String("client_id", clientID),
			zap.Int("processed", report.Processed),
			zap.Int("skipped_unchanged", report.SkippedUnchanged),
		)
	}

	watchOpts := []watcher.Option{
		watcher.WithDebounce(time.Duration(cfg.Sources.WatchDebounce) * time.Millisecond),
	}
	if debug {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	w := watcher.New(cfg.Sources.Extensions, cfg.Sources.RecursiveOrDefault(), refresh, watchOpts...)

	for _, dir := range cfg.Sources.Directories {
		ds, err := source.NewDirSource(dir, cfg.Sources.Extensions)
		if err != nil {
			return err
		}
		clientID := filepath.Base(ds.Root())
		sources[clientID] = ds
		if err := w.Watch(clientID, ds.Root()); err != nil {
			return err
		}
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	components.Watcher = w

	// Reconcile once at startup so files present before the watcher started
	// are indexed.
	go func() {
		for clientID := range sources {
			refresh(clientID)
		}
	}()
	return nil
}

func runRefresh() {
	fs := flag.NewFlagSet("refresh", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	clientID := fs.String("client", "", "client id (required)")
	dir := fs.String("dir", "", "ingest from a local directory instead of the configured source")
	_ = fs.Parse(os.Args[2:])

	if *clientID == "" {
		fmt.Fprintln(os.Stderr, "refresh: -client is required")
		os.Exit(1)
	}

	cfg, logger, components := mustInit(*configPath)
	defer logger.Sync()
	defer components.Close()

	src := components.Source
	if *dir != "" {
		ds, err := source.NewDirSource(*dir, cfg.Sources.Extensions)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid directory: %v\n", err)
			os.Exit(1)
		}
		src = ds
	}
	if src == nil {
		fmt.Fprintln(os.Stderr, "No document source: configure sources.list_url or pass -dir")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	report, err := components.Coordinator.Refresh(ctx, *clientID, src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Refresh failed: %v\n", err)
		os.Exit(1)
	}
	printReport(report)
	if len(report.Failures) > 0 {
		os.Exit(2)
	}
}

func printReport(report *models.IngestReport) {
	fmt.Printf("Batch %s for client %s\n", report.BatchID, report.ClientID)
	fmt.Printf("  documents:         %d\n", report.Total)
	fmt.Printf("  processed:         %d\n", report.Processed)
	fmt.Printf("  skipped unchanged: %d\n", report.SkippedUnchanged)
	fmt.Printf("  chunks indexed:    %d\n", report.ChunksIndexed)
	fmt.Printf("  chunks removed:    %d\n", report.ChunksRemoved)
	if report.Cancelled {
		fmt.Println("  cancelled: yes (committed work kept)")
	}
	for _, f := range report.Failures {
		fmt.Printf("  FAILED %s (%s): %s\n", f.DocumentID, f.Filename, f.Reason)
	}
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	clientID := fs.String("client", "", "client id (required)")
	serverURL := fs.String("server", "", "server URL (empty = direct index access)")
	k := fs.Int("k", 10, "number of results")
	minScore := fs.Float64("min-score", 0, "minimum blended score")
	fileTypes := fs.String("file-types", "", "comma-separated file type filter (e.g. .pdf,.docx)")
	categories := fs.String("categories", "", "comma-separated category filter")
	dateFrom := fs.String("date-from", "", "inclusive ISO date lower bound")
	dateTo := fs.String("date-to", "", "inclusive ISO date upper bound")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if *clientID == "" {
		fmt.Fprintln(os.Stderr, "search: -client is required")
		os.Exit(1)
	}
	queryStr := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if queryStr == "" {
		fmt.Fprintln(os.Stderr, "search: query is required")
		os.Exit(1)
	}

	query := &models.SearchQuery{
		Query:    queryStr,
		K:        *k,
		MinScore: *minScore,
	}
	filters := &models.SearchFilters{
		FileTypes:  splitList(*fileTypes),
		Categories: splitList(*categories),
		DateFrom:   *dateFrom,
		DateTo:     *dateTo,
	}
	if !filters.Empty() {
		query.Filters = filters
	}

	var response *models.SearchResponse
	if *serverURL != "" {
		res, err := searchViaHTTP(*serverURL, *clientID, query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		response = res
	} else {
		_, logger, components := mustInit(*configPath)
		defer logger.Sync()
		defer components.Close()
		res, err := components.Searcher.Search(context.Background(), *clientID, query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
			os.Exit(1)
		}
		response = res
	}

	if *outputFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(response)
		return
	}
	fmt.Printf("%d results for %q (%dms)\n\n", response.Total, response.Query, response.QueryTime)
	for _, r := range response.Results {
		fmt.Printf("%2d. [%.3f] %s", r.Rank, r.Score, r.Filename)
		if r.Filename == "" {
			fmt.Print(r.DocumentID)
		}
		fmt.Printf(" (chunk %d)\n", r.ChunkIndex)
		fmt.Printf("    %s\n\n", utils.Truncate(r.Text, 200))
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func searchViaHTTP(serverURL, clientID string, query *models.SearchQuery) (*models.SearchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/api/v1/clients/%s/search", strings.TrimRight(serverURL, "/"), clientID)
	resp, err := http.Post(u, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	clientID := fs.String("client", "", "client id (required)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if *clientID == "" {
		fmt.Fprintln(os.Stderr, "status: -client is required")
		os.Exit(1)
	}

	_, logger, components := mustInit(*configPath)
	defer logger.Sync()
	defer components.Close()

	store, err := components.Registry.Get(*clientID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	stats := store.Stats()

	if *outputFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(stats)
		return
	}
	fmt.Printf("Client %s (%s)\n", stats.ClientID, stats.Status)
	fmt.Printf("  model:        %s (%d dims)\n", stats.Model, stats.Dimension)
	fmt.Printf("  documents:    %d\n", stats.Documents)
	fmt.Printf("  live vectors: %d\n", stats.LiveVectors)
	fmt.Printf("  tombstoned:   %d\n", stats.Tombstoned)
	if stats.AvgChunkSize > 0 {
		fmt.Printf("  avg chunk:    %.0f chars\n", stats.AvgChunkSize)
	}
	printDistribution("file types", stats.FileTypes)
	printDistribution("categories", stats.Categories)
}

func printDistribution(name string, dist map[string]int) {
	if len(dist) == 0 {
		return
	}
	keys := make([]string, 0, len(dist))
	for k := range dist {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("  %s:\n", name)
	for _, k := range keys {
		fmt.Printf("    %-20s %d\n", k, dist[k])
	}
}

func runRemove() {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	clientID := fs.String("client", "", "client id (required)")
	docID := fs.String("doc", "", "document id (required)")
	_ = fs.Parse(os.Args[2:])

	if *clientID == "" || *docID == "" {
		fmt.Fprintln(os.Stderr, "remove: -client and -doc are required")
		os.Exit(1)
	}

	_, logger, components := mustInit(*configPath)
	defer logger.Sync()
	defer components.Close()

	removed, err := components.Coordinator.RemoveDocument(context.Background(), *clientID, *docID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Remove failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Removed %d chunks of %s\n", removed, *docID)
}

func runCompact() {
	fs := flag.NewFlagSet("compact", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	clientID := fs.String("client", "", "client id (required)")
	force := fs.Bool("force", false, "compact even below the tombstone threshold")
	_ = fs.Parse(os.Args[2:])

	if *clientID == "" {
		fmt.Fprintln(os.Stderr, "compact: -client is required")
		os.Exit(1)
	}

	_, logger, components := mustInit(*configPath)
	defer logger.Sync()
	defer components.Close()

	reclaimed, err := components.Coordinator.Compact(*clientID, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Compact failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Reclaimed %d slots\n", reclaimed)
}

func runPurge() {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	clientID := fs.String("client", "", "client id (required)")
	yes := fs.Bool("yes", false, "skip confirmation")
	_ = fs.Parse(os.Args[2:])

	if *clientID == "" {
		fmt.Fprintln(os.Stderr, "purge: -client is required")
		os.Exit(1)
	}
	if !*yes {
		fmt.Printf("Delete the entire index for client %s? [y/N] ", *clientID)
		var answer string
		fmt.Scanln(&answer)
		if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
			fmt.Println("Aborted")
			return
		}
	}

	_, logger, components := mustInit(*configPath)
	defer logger.Sync()
	defer components.Close()

	if err := components.Registry.Purge(*clientID); err != nil {
		fmt.Fprintf(os.Stderr, "Purge failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Purged client %s\n", *clientID)
}

// mustInit loads config, creates the logger, and initializes components,
// exiting on any failure.
func mustInit(configPath string) (*config.Config, *zap.Logger, *Components) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return cfg, logger, components
}
