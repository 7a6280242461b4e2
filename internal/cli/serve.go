package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/doppelhq/doppel/internal/chat"
	"github.com/doppelhq/doppel/internal/config"
	"github.com/doppelhq/doppel/internal/embed"
	"github.com/doppelhq/doppel/internal/extract"
	"github.com/doppelhq/doppel/internal/llm"
	"github.com/doppelhq/doppel/internal/memory"
	"github.com/doppelhq/doppel/internal/server"
	"github.com/doppelhq/doppel/internal/store"
	"github.com/doppelhq/doppel/internal/store/chromem"
	"github.com/doppelhq/doppel/internal/task"
)

var flagStore string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagStore, "store", "sqlite", "memory backend: sqlite or memory (ephemeral)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	var db *store.DB
	var memStore memory.Store
	switch flagStore {
	case "sqlite":
		db, err = openStore(cfg)
		if err != nil {
			return err
		}
		memStore = db
	case "memory":
		db, err = store.OpenMemory()
		if err != nil {
			return err
		}
		memStore = chromem.New()
		fmt.Fprintln(os.Stderr, "  store: in-memory, nothing persists across restarts")
	default:
		return fmt.Errorf("unknown store backend %q", flagStore)
	}
	defer db.Close()

	embedder := buildEmbedder(cfg)
	manager := memory.NewManager(memStore, embedder)

	// Backfill vectors for records written while no embedder was available.
	if embedder != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if n, err := manager.EmbedMissing(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "embed missing: %v\n", err)
			} else if n > 0 {
				fmt.Fprintf(os.Stderr, "  embedded %d missing memories\n", n)
			}
		}()
	}

	tasks := task.New(2, 64)
	defer tasks.Close()

	var pipeline *chat.Pipeline
	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: LLM not configured (%v), chat and extraction disabled\n", err)
	} else {
		extractor := extract.New(llmClient, manager, db)
		pipeline = chat.New(db, manager, llmClient, embedder, extractor, tasks, cfg.Persona)
		fmt.Fprintf(os.Stderr, "  llm: %s (%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	}

	srv := server.New(db, manager, pipeline, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "doppel serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", db.Path)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tasks.Wait()
	return httpServer.Shutdown(ctx)
}

func openStore(cfg config.Config) (*store.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// buildEmbedder picks the embedding backend: Gemini when a key is present,
// otherwise a local Ollama instance if one answers, otherwise none. Without
// an embedder the store still works; similarity search degrades to recency.
func buildEmbedder(cfg config.Config) embed.Embedder {
	var inner embed.Embedder

	switch {
	case cfg.Embedding.Provider == "gemini" && cfg.LLM.GeminiKey != "":
		inner = embed.NewGeminiEmbedder(cfg.LLM.GeminiKey, cfg.Embedding.Model, cfg.Embedding.Dimensions)
		fmt.Fprintf(os.Stderr, "  embedder: gemini (%s)\n", cfg.Embedding.Model)
	default:
		ollamaURL := cfg.LLM.OllamaURL
		if ollamaURL == "" {
			ollamaURL = "http://localhost:11434"
		}
		model := cfg.Embedding.Model
		if cfg.Embedding.Provider != "ollama" || model == "" {
			model = "nomic-embed-text"
		}
		if embed.ProbeOllama(ollamaURL, model) {
			inner = embed.NewOllamaEmbedder(ollamaURL, model, cfg.Embedding.Dimensions)
			fmt.Fprintf(os.Stderr, "  embedder: ollama (%s)\n", model)
		} else {
			fmt.Fprintln(os.Stderr, "warning: no embedder available, search falls back to recency")
			return nil
		}
	}

	if cfg.Embedding.CacheSize > 0 {
		cached, err := embed.NewCache(inner, cfg.Embedding.CacheSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: embedding cache init failed: %v\n", err)
			return inner
		}
		return cached
	}
	return inner
}
