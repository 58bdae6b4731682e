package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"gwi.com/venture-assistant/internal/auth"
	"gwi.com/venture-assistant/internal/chat"
	"gwi.com/venture-assistant/internal/client"
	"gwi.com/venture-assistant/internal/config"
)

var (
	apiURLFlag   string
	logLevelFlag string
	kindFlag     string
)

var rootCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Chat with the venture assistant from the terminal",
	Long: `assistant talks to the venture assistant server. Conversations are saved
after every turn and listed by recency.

Two kinds of chats exist: "investors" finds matching investors for a startup,
"financial" builds a 3-year financial projection.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURLFlag, "api-url", "", "Server URL (overrides ASSISTANT_API_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (overrides LOG_LEVEL)")
}

func addKindFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&kindFlag, "kind", "k", string(chat.KindInvestors), `Chat kind: "investors" or "financial"`)
}

// app holds the clients every subcommand shares.
type app struct {
	cfg     *config.ClientConfig
	logger  *slog.Logger
	token   auth.FileToken
	login   *client.AuthClient
	records *client.RecordClient
	engine  *client.EngineClient
}

func newApp() (*app, error) {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		return nil, err
	}
	if apiURLFlag != "" {
		cfg.APIURL = strings.TrimRight(apiURLFlag, "/")
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}

	logger := config.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	hc := &http.Client{Timeout: cfg.HTTPTimeout}
	token := auth.FileToken{Path: cfg.TokenFile}
	creds := auth.Chain{auth.StaticToken(cfg.Token), token}
	return &app{
		cfg:     cfg,
		logger:  logger,
		token:   token,
		login:   client.NewAuthClient(cfg.APIURL, hc, logger),
		records: client.NewRecordClient(cfg.APIURL, hc, creds, logger),
		engine:  client.NewEngineClient(cfg.APIURL, hc, logger),
	}, nil
}

func selectedKind() (chat.Kind, error) {
	kind, err := chat.ParseKind(strings.ToLower(strings.TrimSpace(kindFlag)))
	if err != nil {
		return "", fmt.Errorf("--kind: %w", err)
	}
	return kind, nil
}

// coordinator wires a controller and a projector of one kind to view.
func (a *app) coordinator(kind chat.Kind, view chat.View) (*chat.Coordinator, error) {
	return newCoordinator(kind, a.records, a.engine, view, a.logger)
}

func newCoordinator(kind chat.Kind, records chat.RecordStore, engine chat.Engine, view chat.View, logger *slog.Logger) (*chat.Coordinator, error) {
	opts := chat.Options{Logger: logger}
	ctrl, err := chat.NewController(kind, records, engine, opts)
	if err != nil {
		return nil, err
	}
	proj, err := chat.NewProjector(kind, records, opts)
	if err != nil {
		return nil, err
	}
	return chat.NewCoordinator(ctrl, proj, view, logger)
}
