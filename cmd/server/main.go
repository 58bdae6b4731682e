package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gwi.com/venture-assistant/internal/api"
	"gwi.com/venture-assistant/internal/auth"
	"gwi.com/venture-assistant/internal/config"
	"gwi.com/venture-assistant/internal/core"
	"gwi.com/venture-assistant/internal/store"
)

// Pause between embedding calls during ingestion.
const ingestPace = 200 * time.Millisecond

func main() {
	ingest := flag.Bool("ingest", false, "Load investors from INVESTORS_FILE and exit")
	flag.Parse()

	if err := run(*ingest); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ingest bool) error {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		return err
	}
	logger := config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbStore.Close()

	// Without an API key the engine runs on scripted questions and matching
	// falls back to keywords.
	var (
		llm       *core.LLMService
		embedder  core.Embedder
		titler    core.Titler
		investors core.Completer = core.NewScriptedInvestorsCompleter()
		financial core.Completer = core.NewScriptedFinancialCompleter()
	)
	if cfg.GeminiAPIKey != "" {
		llm, err = core.NewLLMService(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return err
		}
		defer llm.Close()
		embedder, titler, investors, financial = llm, llm, llm, llm
	} else {
		slog.Warn("GEMINI_API_KEY not set, using the scripted assistant")
	}

	if ingest {
		var embed store.Embedder
		if llm != nil {
			embed = llm.Embed
		}
		slog.Info("starting investor ingestion", "file", cfg.InvestorsFile)
		n, err := dbStore.IngestInvestorsFromFile(ctx, cfg.InvestorsFile, embed, ingestPace)
		if err != nil {
			return fmt.Errorf("investor ingestion failed: %w", err)
		}
		slog.Info("investor ingestion complete", "count", n)
		return nil
	}

	matcher, err := core.NewMatchService(ctx, dbStore, embedder, cfg.MatchLimit)
	if err != nil {
		return err
	}
	engine := core.NewEngineService(investors, financial, matcher)
	chatService := core.NewChatService(dbStore, titler)
	defer chatService.WaitForTitles()

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}

	router := api.NewRouter(api.NewAPIHandler(chatService, engine, issuer, logger))
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // LLM calls can take time
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("could not listen on %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	slog.Info("server exited gracefully")
	return nil
}
