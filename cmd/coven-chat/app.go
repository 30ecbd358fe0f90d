// ABOUTME: Wires config, logger, store, notifier, repository and settings together
// ABOUTME: Shared by the chat REPL and the management subcommands

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/2389/coven-chat/internal/broadcast"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/notify"
	"github.com/2389/coven-chat/internal/settings"
	"github.com/2389/coven-chat/internal/store"
)

type app struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
	store      store.Store
	notifier   *broadcast.Notifier
	repo       *conversation.Repository
	settings   *settings.File
	sink       notify.Sink
}

// errReported marks a failure the sink has already shown to the user.
var errReported = errors.New("error already reported")

// fail reports err through the sink and returns errReported so main exits
// non-zero without printing it twice.
func (a *app) fail(err error, context string) error {
	a.sink.ReportError(err, context)
	return errReported
}

// openApp loads configuration and opens the conversation store. Logs go to
// logOut so they don't interleave with command output.
func openApp(logOut io.Writer) (*app, error) {
	configPath := getConfigPath()

	cfg, err := config.LoadOrDefault(configPath, getDataPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, logOut)

	st, err := store.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	prefs, err := settings.Load(cfg.Settings.Path)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	notifier := broadcast.NewNotifier(logger)

	logger.Debug("store opened",
		"config", configPath,
		"driver", cfg.Database.Driver,
		"path", cfg.Database.Path,
	)

	return &app{
		configPath: configPath,
		cfg:        cfg,
		logger:     logger,
		store:      st,
		notifier:   notifier,
		repo:       conversation.NewRepository(st, notifier, logger),
		settings:   prefs,
		sink:       notify.Multi{notify.NewConsoleSink(os.Stdout), notify.NewLogSink(logger)},
	}, nil
}

func (a *app) Close() error {
	a.notifier.Close()
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}
