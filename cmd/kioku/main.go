// Package main is the kioku CLI entry point.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/kioku/internal/archive"
	"github.com/hyperjump/kioku/internal/blobstore"
	"github.com/hyperjump/kioku/internal/bundle"
	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/extract"
	"github.com/hyperjump/kioku/internal/indexer"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/server"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/watcher"
	"github.com/hyperjump/kioku/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kioku/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory wins if present, and a missing default file yields
// the built-in defaults. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	cfg, resolved, err := readConfig(path)
	if err != nil {
		return nil, "", err
	}
	archive.MaxEntryBytes = int64(cfg.Archive.MaxEntryMB) << 20
	return cfg, resolved, nil
}

func readConfig(path string) (*config.Config, string, error) {
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
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// command runs one subcommand with its arguments, writing results to out.
type command func(ctx context.Context, args []string, out io.Writer) error

var commands = map[string]command{
	"ingest":    runIngest,
	"query":     runQuery,
	"update":    runUpdate,
	"delete":    runDelete,
	"add":       runAdd,
	"export":    runExport,
	"import":    runImport,
	"health":    runHealth,
	"verify":    runVerify,
	"reconcile": runReconcile,
	"reset":     runReset,
	"stores":    runStores,
	"status":    runStatus,
	"models":    runModels,
}

func commandNames() []string {
	return append(slices.Sorted(maps.Keys(commands)), "server", "version", "help")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	name := os.Args[1]
	switch name {
	case "server":
		runServer(os.Args[2:])
		return
	case "version", "--version", "-v":
		fmt.Printf("kioku version %s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Printf("Unknown command: %s\n", name)
		if s := cli.Suggest(name, commandNames()); s != "" {
			fmt.Printf("Did you mean %q?\n\n", s)
		}
		printUsage()
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd(ctx, os.Args[2:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", name, err)
		stop()
		os.Exit(1)
	}
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	var watchSvc *watcher.Watcher
	if len(cfg.Watch.Directories) > 0 {
		handler := watcher.NewBundleHandler(components.Indexer, components.Bundles, cfg.Watch.Store, logger)
		watchSvc = watcher.New(cfg.Watch, handler, watcher.WithLogger(logger))
		if err := watchSvc.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		go func() {
			if err := watchSvc.Sync(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("initial drop-directory sync failed", zap.Error(err))
			}
		}()
	}

	opts := []server.ServerOption{
		server.WithArchiveOptions(archive.Options{Compression: cfg.Archive.Compression}),
	}
	if blobs, err := blobstore.FromConfig(cfg.Remote); err != nil {
		logger.Warn("remote archive store disabled", zap.Error(err))
	} else {
		opts = append(opts, server.WithBlobStore(blobs))
	}
	srv := server.NewServer(
		components.Bundles,
		components.Indexer,
		components.Engine,
		components.Embeddings,
		&cfg.Server,
		logger,
		opts...,
	)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watchSvc != nil {
		watchSvc.Stop()
	}
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// argsReorder moves any flags (and their values) that appear after the
// positional arguments to the front so that flag.Parse sees them. The flag
// package stops at the first non-flag argument, so "kioku query foo --k 3"
// would otherwise leave --k unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildQuery joins positional args with spaces so multi-word queries work
// with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// commonFlags are shared by every local command.
type commonFlags struct {
	fs     *flag.FlagSet
	config *string
	store  *string
	output *string
}

func newFlags(name string, out io.Writer) *commonFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return &commonFlags{
		fs:     fs,
		config: fs.String("config", defaultConfigPath, "config file path"),
		store:  fs.String("store", config.DefaultStoreID, "store id"),
		output: fs.String("output", "text", "output format: text or json"),
	}
}

func (f *commonFlags) parse(args []string) error {
	return f.fs.Parse(argsReorder(args))
}

func (f *commonFlags) format() (cli.OutputFormat, error) {
	return cli.ParseFormat(*f.output)
}

// open loads config and components for a one-shot command.
func (f *commonFlags) open(ctx context.Context) (*config.Config, *Components, error) {
	cfg, _, err := loadConfig(*f.config)
	if err != nil {
		return nil, nil, err
	}
	logger := zap.NewNop()
	if cfg.Debug {
		logger = utils.NewLoggerOrNop(true)
	}
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return cfg, components, nil
}

// withStore opens the components and resolves the --store bundle.
func (f *commonFlags) withStore(ctx context.Context, fn func(cfg *config.Config, c *Components, b *bundle.Bundle) error) error {
	cfg, components, err := f.open(ctx)
	if err != nil {
		return err
	}
	defer components.Close()
	b, err := components.Bundles.Get(*f.store)
	if err != nil {
		return err
	}
	return fn(cfg, components, b)
}

func runIngest(ctx context.Context, args []string, out io.Writer) error {
	f := newFlags("ingest", out)
	model := f.fs.String("model", "", "embedding model (default: the store's model)")
	method := f.fs.String("chunking", "", "chunking method (see kioku models)")
	size := f.fs.Int("chunk-size", 0, "chunk size in characters")
	overlap := f.fs.Int("chunk-overlap", 0, "chunk overlap in characters")
	if err := f.parse(args); err != nil {
		return err
	}
	if f.fs.NArg() < 1 {
		return errors.New("usage: kioku ingest [flags] <file> [file ...]")
	}
	return f.withStore(ctx, func(cfg *config.Config, c *Components, b *bundle.Bundle) error {
		for _, path := range f.fs.Args() {
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			res, err := c.Indexer.Ingest(ctx, b, models.IngestRequest{
				Filename:       path,
				Content:        content,
				Model:          *model,
				ChunkingMethod: *method,
				ChunkSize:      *size,
				ChunkOverlap:   *overlap,
			})
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Fprintf(out, "Ingested %s: %d chunks into %s (model %s)\n", res.Document, len(res.ChunkIDs), res.StoreID, res.Model)
		}
		return nil
	})
}

func runQuery(ctx context.Context, args []string, out io.Writer) error {
	f := newFlags("query", out)
	k := f.fs.Int("k", 0, "number of results (default from config)")
	serverURL := f.fs.String("server", "", "server URL; empty opens the stores directly")
	if err := f.parse(args); err != nil {
		return err
	}
	format, err := f.format()
	if err != nil {
		return err
	}
	req := models.QueryRequest{Query: buildQuery(f.fs.Args()), K: *k}
	if req.Query == "" {
		return errors.New("usage: kioku query [flags] <text>")
	}
	if *serverURL != "" {
		resp, err := cli.NewClient(*serverURL).Query(ctx, *f.store, req)
		if err != nil {
			return err
		}
		return cli.WriteQueryResponse(out, resp, format)
	}
	return f.withStore(ctx, func(cfg *config.Config, c *Components, b *bundle.Bundle) error {
		resp, err := c.Engine.Query(ctx, b, &req)
		if err != nil {
			return err
		}
		return cli.WriteQueryResponse(out, resp, format)
	})
}

func runUpdate(ctx context.Context, args []string, out io.Writer) error {
	f := newFlags("update", out)
	if err := f.parse(args); err != nil {
		return err
	}
	if f.fs.NArg() < 2 {
		return errors.New("usage: kioku update [flags] <chunk-id> <new text>")
	}
	id := f.fs.Arg(0)
	text := buildQuery(f.fs.Args()[1:])
	return f.withStore(ctx, func(cfg *config.Config, c *Components, b *bundle.Bundle) error {
		if _, err := c.Indexer.UpdateChunk(ctx, b, id, text); err != nil {
			return err
		}
		fmt.Fprintf(out, "Chunk updated: %s\n", id)
		return nil
	})
}

func runDelete(ctx context.Context, args []string, out io.Writer) error {
	f := newFlags("delete", out)
	document := f.fs.Bool("document", false, "treat arguments as document names and delete all their chunks")
	if err := f.parse(args); err != nil {
		return err
	}
	if f.fs.NArg() < 1 {
		return errors.New("usage: kioku delete [flags] <chunk-id> [chunk-id ...]")
	}
	return f.withStore(ctx, func(cfg *config.Config, c *Components, b *bundle.Bundle) error {
		for _, id := range f.fs.Args() {
			if *document {
				n, err := c.Indexer.DeleteDocument(ctx, b, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Document deleted: %s (%d chunks)\n", id, n)
				continue
			}
			existed, err := c.Indexer.DeleteChunk(ctx, b, id)
			if err != nil {
				return err
			}
			if existed {
				fmt.Fprintf(out, "Chunk deleted: %s\n", id)
			} else {
				fmt.Fprintf(out, "Chunk not found: %s\n", id)
			}
		}
		return nil
	})
}

func runAdd(ctx context.Context, args []string, out io.Writer) error {
	f := newFlags("add", out)
	document := f.fs.String("document", "", "document the chunk belongs to")
	page := f.fs.Int("page", 1, "page number")
	start := f.fs.Int("start", 0, "start offset within the page")
	model := f.fs.String("model", "", "embedding model (default: the store's model)")
	if err := f.parse(args); err != nil {
		return err
	}
	text := buildQuery(f.fs.Args())
	if text == "" || *document == "" {
		return errors.New("usage: kioku add --document <name> [flags] <text>")
	}
	return f.withStore(ctx, func(cfg *config.Config, c *Components, b *bundle.Bundle) error {
		id, err := c.Indexer.AddChunk(ctx, b, models.AddChunkRequest{
			Text:       text,
			Document:   *document,
			Page:       *page,
			StartIndex: *start,
			Model:      *model,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Chunk added: %s\n", id)
		return nil
	})
}

func runExport(ctx context.Context, args []string, out io.Writer) error {
	f := newFlags("export", out)
	remote := f.fs.Bool("remote", false, "publish to the configured remote store instead of a local file")
	compression := f.fs.String("compression", "", "deflate or zstd (default from config)")
	if err := f.parse(args); err != nil {
		return err
	}
	return f.withStore(ctx, func(cfg *config.Config, c *Components, b *bundle.Bundle) error {
		opts := archive.Options{Compression: cfg.Archive.Compression}
		if *compression != "" {
			opts.Compression = *compression
		}
		name := b.ID() + ".zip"
		if f.fs.NArg() > 0 {
			name = f.fs.Arg(0)
		}
		if !*remote {
			if err := archive.ExportFile(name, b, opts); err != nil {
				return err
			}
			fmt.Fprintf(out, "Exported %s to %s\n", b.ID(), name)
			return nil
		}
		blobs, err := blobstore.FromConfig(cfg.Remote)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := archive.Export(&buf, b, opts); err != nil {
			return err
		}
		size := int64(buf.Len())
		if err := blobs.Put(ctx, name, &buf, size); err != nil {
			return err
		}
		fmt.Fprintf(out, "Published %s as %s (%d bytes)\n", b.ID(), name, size)
		return nil
	})
}

func runImport(ctx context.Context, args []string, out io.Writer) error {
	f := newFlags("import", out)
	remote := f.fs.Bool("remote", false, "fetch the archive from the configured remote store")
	model := f.fs.String("model", "", "embedding model (default: the archive's model)")
	if err := f.parse(args); err != nil {
		return err
	}
	if f.fs.NArg() < 1 {
		return errors.New("usage: kioku import [flags] <archive>")
	}
	name := f.fs.Arg(0)
	cfg, components, err := f.open(ctx)
	if err != nil {
		return err
	}
	defer components.Close()

	var contents *archive.Contents
	if *remote {
		blobs, err := blobstore.FromConfig(cfg.Remote)
		if err != nil {
			return err
		}
		rc, err := blobs.Get(ctx, name)
		if err != nil {
			return err
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", name, err)
		}
		contents, err = archive.ReadBytes(data)
		if err != nil {
			return err
		}
	} else {
		contents, err = archive.ReadFile(name)
		if err != nil {
			return err
		}
	}
	b, err := components.Bundles.Import(ctx, contents, *model)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Imported %s as store %s (model %s)\n", name, b.ID(), b.Model())
	return nil
}

func runHealth(ctx context.Context, args []string, out io.Writer) error {
	f := newFlags("health", out)
	serverURL := f.fs.String("server", "", "server URL; empty opens the stores directly")
	if err := f.parse(args); err != nil {
		return err
	}
	format, err := f.format()
	if err != nil {
		return err
	}
	if *serverURL != "" {
		h, err := cli.NewClient(*serverURL).Health(ctx, *f.store)
		if err != nil {
			return err
		}
		return cli.WriteHealth(out, h, format)
	}
	return f.withStore(ctx, func(cfg *config.Config, c *Components, b *bundle.Bundle) error {
		return cli.WriteHealth(out, b.Health(), format)
	})
}

func runVerify(ctx context.Context, args []string, out io.Writer) error {
	f := newFlags("verify", out)
	if err := f.parse(args); err != nil {
		return err
	}
	format, err := f.format()
	if err != nil {
		return err
	}
	return f.withStore(ctx, func(cfg *config.Config, c *Components, b *bundle.Bundle) error {
		return cli.WriteVerify(out, b.Verify(), format)
	})
}

func runReconcile(ctx context.Context, args []string, out io.Writer) error {
	f := newFlags("reconcile", out)
	reembed := f.fs.Bool("reembed", false, "append fresh vectors for records no tombstone matches")
	if err := f.parse(args); err != nil {
		return err
	}
	format, err := f.format()
	if err != nil {
		return err
	}
	return f.withStore(ctx, func(cfg *config.Config, c *Components, b *bundle.Bundle) error {
		report, err := b.Reconcile(ctx, c.Indexer.EmbedTexts, *reembed)
		if err != nil {
			return err
		}
		return cli.WriteReconcile(out, report, format)
	})
}

func runReset(ctx context.Context, args []string, out io.Writer) error {
	f := newFlags("reset", out)
	if err := f.parse(args); err != nil {
		return err
	}
	return f.withStore(ctx, func(cfg *config.Config, c *Components, b *bundle.Bundle) error {
		if err := b.Reset(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "Store reset: %s\n", b.ID())
		return nil
	})
}

func runStores(ctx context.Context, args []string, out io.Writer) error {
	sub := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}
	f := newFlags("stores", out)
	model := f.fs.String("model", "", "embedding model for a new store")
	if err := f.parse(args); err != nil {
		return err
	}
	_, components, err := f.open(ctx)
	if err != nil {
		return err
	}
	defer components.Close()

	switch sub {
	case "list":
		format, err := f.format()
		if err != nil {
			return err
		}
		list, err := components.Bundles.List(ctx)
		if err != nil {
			return err
		}
		return cli.WriteStores(out, list, format)
	case "create":
		b, err := components.Bundles.Create(ctx, f.fs.Arg(0), *model)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Store created: %s\n", b.ID())
		return nil
	case "remove":
		if f.fs.NArg() < 1 {
			return errors.New("usage: kioku stores remove <id>")
		}
		if err := components.Bundles.Remove(ctx, f.fs.Arg(0)); err != nil {
			return err
		}
		fmt.Fprintf(out, "Store removed: %s\n", f.fs.Arg(0))
		return nil
	default:
		if s := cli.Suggest(sub, []string{"list", "create", "remove"}); s != "" {
			return fmt.Errorf("unknown stores subcommand %q; did you mean %q?", sub, s)
		}
		return fmt.Errorf("unknown stores subcommand %q; use list, create or remove", sub)
	}
}

func runStatus(ctx context.Context, args []string, out io.Writer) error {
	f := newFlags("status", out)
	serverURL := f.fs.String("server", "", "server URL; empty opens the stores directly")
	if err := f.parse(args); err != nil {
		return err
	}
	format, err := f.format()
	if err != nil {
		return err
	}
	if *serverURL != "" {
		st, err := cli.NewClient(*serverURL).Status(ctx)
		if err != nil {
			return err
		}
		return cli.WriteStatus(out, st, format)
	}
	_, components, err := f.open(ctx)
	if err != nil {
		return err
	}
	defer components.Close()
	st, err := components.Bundles.Status(ctx)
	if err != nil {
		return err
	}
	return cli.WriteStatus(out, st, format)
}

func runModels(ctx context.Context, args []string, out io.Writer) error {
	f := newFlags("models", out)
	if err := f.parse(args); err != nil {
		return err
	}
	format, err := f.format()
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig(*f.config)
	if err != nil {
		return err
	}
	emb := embedding.NewRegistry(cfg.Embedding)
	defer emb.Close()
	return cli.WriteModels(out, emb.Models(), indexer.Methods(), format)
}

// Components holds initialized services.
type Components struct {
	Catalog    *storage.SQLiteCatalog
	Embeddings *embedding.Registry
	Bundles    *bundle.Registry
	Indexer    *indexer.Indexer
	Engine     *search.Engine
}

func (c *Components) Close() {
	if c.Bundles != nil {
		_ = c.Bundles.Close()
	}
	if c.Embeddings != nil {
		_ = c.Embeddings.Close()
	}
	if c.Catalog != nil {
		_ = c.Catalog.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	catalog, err := storage.NewSQLiteCatalog(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize catalog: %w", err)
	}
	emb := embedding.NewRegistry(cfg.Embedding, embedding.WithLogger(logger))
	bundles := bundle.NewRegistry(cfg.Storage.DataDir, catalog,
		bundle.WithRegistryLogger(logger),
		bundle.WithSearchOverfetch(cfg.Search.Overfetch),
		bundle.WithModelDimensions(emb.Dimensions),
	)
	c := &Components{Catalog: catalog, Embeddings: emb, Bundles: bundles}
	if err := bundles.Load(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to load stores: %w", err)
	}
	c.Indexer = indexer.NewIndexer(emb, extract.NewExtractor(), cfg.Ingest, indexer.WithLogger(logger))
	c.Engine = search.NewEngine(c.Indexer.EmbedTexts, emb.Default(), cfg.Search, search.WithLogger(logger))
	return c, nil
}

func printUsage() {
	fmt.Println(`kioku - Consistent local vector stores for retrieval

Usage:
  kioku server [flags]                 Start the HTTP server (and drop-directory watcher)
  kioku ingest [flags] <file>...       Chunk, embed and store documents
  kioku query [flags] <text>           Query a store
  kioku update [flags] <id> <text>     Replace a chunk's text and vector
  kioku delete [flags] <id>...         Delete chunks (--document deletes whole documents)
  kioku add [flags] <text>             Add a manual chunk
  kioku export [flags] [file|name]     Export a store archive (--remote publishes it)
  kioku import [flags] <archive>       Import an archive as a new store (--remote fetches it)
  kioku health [flags]                 Cardinality check
  kioku verify [flags]                 Per-id agreement report
  kioku reconcile [flags]              Repair mappings (--reembed appends fresh vectors)
  kioku reset [flags]                  Wipe a store and unbind its model
  kioku stores [list|create|remove]    Manage stores
  kioku status [flags]                 Store count, chunks and disk usage
  kioku models                         List embedding models and chunking methods
  kioku version                        Show version
  kioku help                           Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/kioku/config.yaml, or ./config.yaml)
  --store string     Store id (default: default)
  --output string    Output format: text or json (default: text)

Query, Health and Status Flags:
  --server string    Server URL. Empty (default) opens the stores directly; set it while a server is running.

Examples:
  kioku server
  kioku ingest --chunking sentence_aware report.pdf
  kioku query "vector store consistency" --k 3
  kioku query --server http://localhost:8080 --output json "consistency"
  kioku delete report.pdf_2
  kioku delete --document report.pdf
  kioku add --document notes.md "a hand-written chunk"
  kioku export --compression zstd backup.zip
  kioku import backup.zip
  kioku reconcile --reembed
  kioku stores create research --model all-mpnet-base-v2`)
}
