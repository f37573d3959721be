// Package cli provides the command-line interface for chatctl.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"chatrelay/internal/config"
	"chatrelay/internal/kv"
	"chatrelay/internal/prompt"
	"chatrelay/internal/relayclient"
	"chatrelay/internal/session"
	"chatrelay/internal/util"
)

// Version is set at build time.
var Version = "0.1.0"

type app struct {
	configPath string
	relayURL   string
	storage    string

	cfg      config.ClientConfig
	logger   *slog.Logger
	closeLog func() error
	store    kv.Backend
	sessions *session.Store
	prompt   *prompt.Preference
	relay    *relayclient.Client
}

// Execute builds the command tree and runs it with ctx.
func Execute(ctx context.Context) error {
	return newRootCmd(&app{}).ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "chatctl",
		Short: "Terminal chat client for the chat relay",
		Long: `chatctl keeps a list of conversations on disk (or in Redis, BoltDB or
Postgres), sends messages through the relay and prints the streamed reply.

Examples:
  chatctl send "What is the capital of France?"
  chatctl list
  chatctl prompt preset concise
  chatctl chat`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.config/chatctl/config.yaml)")
	root.PersistentFlags().StringVar(&a.relayURL, "relay-url", "", "relay base URL")
	root.PersistentFlags().StringVar(&a.storage, "storage", "", "storage backend: memory, file, bolt, redis or postgres")

	root.AddCommand(
		newNewCmd(a),
		newListCmd(a),
		newSelectCmd(a),
		newDeleteCmd(a),
		newRenameCmd(a),
		newShowCmd(a),
		newSendCmd(a),
		newChatCmd(a),
		newPromptCmd(a),
		newModelCheckCmd(a),
	)
	return root
}

func (a *app) open(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if a.sessions != nil {
		return nil
	}
	cfg, err := config.LoadClient(a.configPath)
	if err != nil {
		return err
	}
	if a.relayURL != "" {
		cfg.RelayURL = a.relayURL
	}
	if a.storage != "" {
		cfg.Storage = a.storage
	}
	a.cfg = cfg

	if a.logger == nil {
		a.logger, a.closeLog = util.InitLogger(cfg.LogLevel, cfg.LogFile, os.Stderr)
	}
	if a.store == nil {
		store, err := kv.Open(cfg.KV())
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		a.store = store
	}
	a.sessions = session.Open(ctx, a.store, session.Options{
		Logger:     a.logger,
		RestoreAll: cfg.RestoreAll,
	})
	a.prompt = prompt.Open(ctx, a.store, a.logger)
	a.relay = relayclient.NewClient(cfg.RelayURL)
	return nil
}

func (a *app) close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.closeLog != nil {
		errs = append(errs, a.closeLog())
	}
	return errors.Join(errs...)
}
