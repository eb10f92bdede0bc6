// Copyright 2026 Augmy Interactive
// SPDX-License-Identifier: Apache-2.0

// Command augmy is the headless sync daemon. It authenticates against
// the configured homeserver (reusing a saved session when one exists),
// opens the local message store, and runs the long-poll sync loop until
// interrupted, keeping the store and conversation read model current
// and answering device verification traffic.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/Let-s-build-something/client-app/lib/config"
	"github.com/Let-s-build-something/client-app/lib/process"
	"github.com/Let-s-build-something/client-app/lib/ref"
	"github.com/Let-s-build-something/client-app/lib/secret"
	"github.com/Let-s-build-something/client-app/lib/version"
	"github.com/Let-s-build-something/client-app/messaging"
	"github.com/Let-s-build-something/client-app/store"
	"github.com/Let-s-build-something/client-app/syncer"
	"github.com/Let-s-build-something/client-app/verification"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath   string
		homeserver   string
		stateDir     string
		presence     string
		username     string
		passwordFile string
		showVersion  bool
	)
	pflag.StringVar(&configPath, "config", "", "path to augmy.yaml (default: $AUGMY_CONFIG)")
	pflag.StringVar(&homeserver, "homeserver", "", "homeserver URL, overrides the config file")
	pflag.StringVar(&stateDir, "state-dir", "", "state directory, overrides the config file")
	pflag.StringVar(&presence, "presence", "", "presence while syncing: online, unavailable, offline")
	pflag.StringVar(&username, "username", "", "login username for non-interactive login")
	pflag.StringVar(&passwordFile, "password-file", "", "read the login password from this file (\"-\" for stdin) instead of prompting")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Println("augmy " + version.Full())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if homeserver != "" {
		cfg.Homeserver.URL = homeserver
	}
	if stateDir != "" {
		cfg.Paths.State = stateDir
		cfg.Paths.Database = filepath.Join(stateDir, "chat.db")
		cfg.Paths.Session = filepath.Join(stateDir, "session.json")
	}
	if presence != "" {
		cfg.Sync.Presence = presence
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := openSession(ctx, cfg, logger, loginCredentials{
		Username:     username,
		PasswordFile: passwordFile,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	messageStore, err := store.Open(store.Config{
		Path:   cfg.Paths.Database,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer messageStore.Close()

	conversations := syncer.NewConversations()
	handler, err := syncer.NewHandler(syncer.HandlerConfig{
		Store:         messageStore,
		Owner:         session.UserID(),
		Conversations: conversations,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	machine, err := verification.NewMachine(verification.Config{
		Session: session,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	service, err := syncer.NewService(syncer.Config{
		Session: session,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	service.Subscribe(handler.HandleSync)
	service.Subscribe(func(ctx context.Context, response *messaging.SyncResponse) {
		for _, event := range response.ToDevice.Events {
			if err := machine.HandleToDevice(ctx, event); err != nil {
				logger.Error("verification event failed",
					"type", event.Type, "error", err)
			}
		}
	})

	err = service.Start(ctx, syncer.StartOptions{
		Timeout:  int(cfg.Sync.PollTimeout / time.Millisecond),
		Presence: cfg.Sync.Presence,
	})
	if err != nil {
		return err
	}
	logger.Info("sync running",
		"homeserver", cfg.Homeserver.URL,
		"user_id", session.UserID(),
		"device_id", session.DeviceID(),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return service.Stop(stopCtx)
}

// loadConfig resolves the config source: an explicit --config path
// wins, then $AUGMY_CONFIG, then built-in defaults (which still
// require --homeserver to pass validation).
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("AUGMY_CONFIG") != "" {
		return config.Load()
	}
	return config.Default(), nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	options := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, options))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, options))
}

// loginCredentials carries the non-interactive login flags. When
// PasswordFile is set the daemon reads the password from that file
// (or stdin for "-") instead of prompting on the terminal.
type loginCredentials struct {
	Username     string
	PasswordFile string
}

// openSession restores the saved session when one exists and still
// authenticates; otherwise it logs in, either from the supplied
// credentials or interactively, and saves the result.
func openSession(ctx context.Context, cfg *config.Config, logger *slog.Logger, credentials loginCredentials) (*messaging.Session, error) {
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Homeserver.URL,
		HTTPClient:    &http.Client{Timeout: cfg.Homeserver.RequestTimeout + cfg.Sync.PollTimeout},
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	saved, err := loadSession(cfg.Paths.Session)
	switch {
	case err == nil:
		// loadSession validated both identifiers.
		session, err := client.SessionFromToken(
			ref.MustParseUserID(saved.UserID),
			ref.MustParseDeviceID(saved.DeviceID),
			saved.AccessToken)
		if err != nil {
			return nil, err
		}
		if _, err := session.WhoAmI(ctx); err != nil {
			if messaging.IsAuthError(err) {
				logger.Warn("saved session rejected, logging in again")
				session.Close()
				return login(ctx, client, cfg, credentials)
			}
			session.Close()
			return nil, err
		}
		logger.Info("session restored", "user_id", saved.UserID)
		return session, nil

	case errors.Is(err, os.ErrNotExist):
		return login(ctx, client, cfg, credentials)

	default:
		return nil, err
	}
}

func login(ctx context.Context, client *messaging.Client, cfg *config.Config, credentials loginCredentials) (*messaging.Session, error) {
	if credentials.PasswordFile != "" {
		return fileLogin(ctx, client, cfg, credentials)
	}
	return interactiveLogin(ctx, client, cfg)
}

func fileLogin(ctx context.Context, client *messaging.Client, cfg *config.Config, credentials loginCredentials) (*messaging.Session, error) {
	if credentials.Username == "" {
		return nil, fmt.Errorf("--password-file requires --username")
	}
	password, err := secret.ReadFromPath(credentials.PasswordFile)
	if err != nil {
		return nil, fmt.Errorf("reading password file: %w", err)
	}
	defer password.Close()

	session, err := client.Login(ctx, credentials.Username, password)
	if err != nil {
		return nil, err
	}
	return persistSession(cfg, session)
}

func interactiveLogin(ctx context.Context, client *messaging.Client, cfg *config.Config) (*messaging.Session, error) {
	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return nil, fmt.Errorf("no saved session at %s and no terminal for interactive login", cfg.Paths.Session)
	}

	fmt.Fprint(os.Stderr, "Username: ")
	reader := bufio.NewReader(os.Stdin)
	username, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading username: %w", err)
	}
	username = strings.TrimSpace(username)

	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(stdinFd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	password, err := secret.NewFromBytes(passwordBytes)
	if err != nil {
		return nil, err
	}
	defer password.Close()

	session, err := client.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return persistSession(cfg, session)
}

func persistSession(cfg *config.Config, session *messaging.Session) (*messaging.Session, error) {
	err := saveSession(cfg.Paths.Session, &savedSession{
		Homeserver:  cfg.Homeserver.URL,
		UserID:      session.UserID().String(),
		DeviceID:    session.DeviceID().String(),
		AccessToken: session.AccessToken(),
	})
	if err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}
