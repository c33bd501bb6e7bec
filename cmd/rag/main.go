package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"ragqa/internal/chunker"
	"ragqa/internal/completion"
	"ragqa/internal/config"
	"ragqa/internal/documents"
	"ragqa/internal/domain"
	"ragqa/internal/embedding/hashing"
	"ragqa/internal/embedding/openai"
	"ragqa/internal/logging"
	"ragqa/internal/retriever"
	"ragqa/internal/server"
	"ragqa/internal/service"
	"ragqa/internal/tui"
	"ragqa/internal/vectorindex"
	"ragqa/internal/vectorindex/sqlite"
)

const usage = `Usage: rag [-config config.yaml] [serve|build|ask]

  serve   run the HTTP query endpoint
  build   rebuild the index from the documents directory and save it
  ask     interactive question answering (default)`

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/ragqa/config.yaml if not provided)")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	cmd := "ask"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		log.Fatalf("invalid environment: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := assemble(cfg, logger)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer app.close()

	switch cmd {
	case "serve":
		err = serve(ctx, cfg, app, logger)
	case "build":
		err = build(ctx, app)
	case "ask":
		err = ask(ctx, cfg, app, logger)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		app.close()
		log.Fatalf("%s failed: %v", cmd, err)
	}
}

type application struct {
	source    *documents.DirSource
	retriever *retriever.Retriever
	service   *service.RAGService
	closers   []io.Closer
}

func (a *application) close() {
	for _, c := range a.closers {
		_ = c.Close()
	}
	a.closers = nil
}

// assemble builds every component from cfg.
func assemble(cfg *config.AppConfig, logger *logrus.Logger) (*application, error) {
	app := &application{}

	var emb domain.Embedder
	switch cfg.Embedder.Type {
	case "hashing":
		emb = hashing.NewEmbedder(cfg.Embedder.Dimension)
	case "openai":
		client, err := openai.NewClient(openai.Config{
			BaseURL:   cfg.Embedder.OpenAI.BaseURL,
			APIKeyEnv: cfg.Embedder.OpenAI.APIKeyEnv,
			Model:     cfg.Embedder.OpenAI.Model,
			Timeout:   time.Duration(cfg.Embedder.OpenAI.TimeoutSecs) * time.Second,
			Dimension: cfg.Embedder.Dimension,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		emb = client
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}

	var ch domain.Chunker
	switch cfg.Chunker.Type {
	case "fixed":
		fixed, err := chunker.NewFixedSize(cfg.Chunker.ChunkSize, cfg.Chunker.Overlap)
		if err != nil {
			return nil, err
		}
		ch = fixed
	default:
		return nil, fmt.Errorf("unknown chunker: %s", cfg.Chunker.Type)
	}

	var comp domain.Completer
	switch cfg.Completer.Type {
	case "extractive":
		comp = completion.NewExtractive(cfg.Completer.MaxSentences)
	case "openai":
		c, err := completion.NewOpenAICompleter(completion.OpenAIConfig{
			BaseURL:      cfg.Completer.OpenAI.BaseURL,
			APIKeyEnv:    cfg.Completer.OpenAI.APIKeyEnv,
			Model:        cfg.Completer.OpenAI.Model,
			Timeout:      time.Duration(cfg.Completer.OpenAI.TimeoutSecs) * time.Second,
			Temperature:  cfg.Completer.Temperature,
			SystemPrompt: cfg.Completer.SystemPrompt,
		})
		if err != nil {
			return nil, fmt.Errorf("openai completer init failed: %w", err)
		}
		comp = c
	default:
		return nil, fmt.Errorf("unknown completer: %s", cfg.Completer.Type)
	}

	var st vectorindex.Store
	switch cfg.Index.Store {
	case "none":
	case "file":
		st = vectorindex.NewFileStore(cfg.Index.Path)
	case "sqlite":
		s, err := sqlite.Open(cfg.Index.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite index store: %w", err)
		}
		app.closers = append(app.closers, s)
		st = s
	default:
		return nil, fmt.Errorf("unknown index store: %s", cfg.Index.Store)
	}

	app.source = documents.NewDirSource(cfg.Documents.Dir, cfg.Documents.Patterns)
	app.source.Log = logger

	r, err := retriever.New(retriever.Options{
		Chunker:     ch,
		Embedder:    emb,
		Source:      app.source,
		Store:       st,
		Concurrency: cfg.Index.BuildConcurrency,
		Log:         logger,
	})
	if err != nil {
		app.close()
		return nil, err
	}
	app.retriever = r

	svc, err := service.NewRAGService(r, comp, service.Options{
		TopK:     cfg.Retrieval.TopK,
		Template: cfg.Retrieval.Template,
		Log:      logger,
	})
	if err != nil {
		app.close()
		return nil, err
	}
	app.service = svc
	logger.WithFields(logrus.Fields{
		"embedder":  emb.Name(),
		"completer": cfg.Completer.Type,
		"store":     cfg.Index.Store,
		"documents": cfg.Documents.Dir,
	}).Debug("app.assembled")
	return app, nil
}

func serve(ctx context.Context, cfg *config.AppConfig, app *application, logger *logrus.Logger) error {
	if err := app.retriever.Open(ctx); err != nil {
		if !errors.Is(err, domain.ErrEmptyCorpus) {
			return err
		}
		logger.WithField("dir", cfg.Documents.Dir).Warn("index.empty_corpus")
	}

	if cfg.Documents.Watch {
		w := documents.NewWatcher(app.source, time.Duration(cfg.Documents.DebounceSecs)*time.Second, func(ctx context.Context) {
			if _, err := app.retriever.Build(ctx); err != nil {
				logger.WithError(err).Error("index.rebuild_failed")
			}
		}, logger)
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.WithError(err).Error("documents.watch_failed")
			}
		}()
	}

	mode := "release"
	if cfg.Log.Level == "debug" {
		mode = "debug"
	}
	srv, err := server.New(server.Config{
		Addr:           cfg.Server.Addr(),
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSecs) * time.Second,
		Mode:           mode,
	}, server.Dependencies{Service: app.service, Index: app.retriever, Log: logger})
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func build(ctx context.Context, app *application) error {
	stats, err := app.retriever.Build(ctx)
	if err != nil {
		return err
	}
	if stats.Chunks == 0 {
		return domain.ErrEmptyCorpus
	}
	fmt.Printf("indexed %d chunks from %d documents in %s\n", stats.Chunks, stats.Documents, stats.Duration.Round(time.Millisecond))
	return nil
}

func ask(ctx context.Context, cfg *config.AppConfig, app *application, logger *logrus.Logger) error {
	if err := app.retriever.Open(ctx); err != nil && !errors.Is(err, domain.ErrEmptyCorpus) {
		return err
	}
	// keep the terminal clean while the TUI owns it
	logger.SetOutput(io.Discard)

	summary := fmt.Sprintf("%d passages indexed from %s", app.retriever.Len(), cfg.Documents.Dir)
	m := tui.New(ctx, app.service, summary, time.Duration(cfg.Server.RequestTimeoutSecs)*time.Second)
	_, err := tea.NewProgram(m, tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
