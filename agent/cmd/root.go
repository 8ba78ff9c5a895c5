package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Digital-master-solutions/sen-alerte-sub000/agent/internal/api"
	"github.com/Digital-master-solutions/sen-alerte-sub000/agent/internal/config"
	"github.com/Digital-master-solutions/sen-alerte-sub000/agent/internal/keychain"
	"github.com/Digital-master-solutions/sen-alerte-sub000/agent/internal/legacy"
	"github.com/Digital-master-solutions/sen-alerte-sub000/agent/internal/session"
)

var rootCmd = &cobra.Command{
	Use:          "sen-alerte",
	Short:        "Sen Alerte session agent",
	Long:         "Sign in to the Sen Alerte auth server and keep the session refreshed.",
	SilenceUsage: true,
}

// keychainFactory allows injecting a mock keychain in tests
var keychainFactory = func(cfg *config.Config) keychain.Keychain {
	if cfg.Storage.Backend == config.BackendFile {
		return keychain.NewFileKeychain(cfg.StoragePath())
	}
	return keychain.NewSystemKeychain()
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// agent is what every command works with: config, server client and the
// rehydrated session
type agent struct {
	cfg      *config.Config
	log      *slog.Logger
	kc       keychain.Keychain
	client   *api.Client
	sess     *session.Context
	migrated legacy.Result
}

// openAgent loads the config, rehydrates the session and migrates legacy
// artifacts. Passive agents never refresh in the background.
func openAgent(cmd *cobra.Command, passive bool) (*agent, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	a := &agent{
		cfg:    cfg,
		log:    newLogger(cfg, cmd.ErrOrStderr()),
		kc:     keychainFactory(cfg),
		client: api.NewClient(cfg.Server.URL, api.WithTimeout(cfg.Session.RequestTimeout)),
	}
	a.sess = session.New(session.Config{
		Keychain:       a.kc,
		Client:         a.client,
		Logger:         a.log,
		RefreshLead:    cfg.Session.RefreshLead,
		RequestTimeout: cfg.Session.RequestTimeout,
		RequireExpiry:  cfg.Session.RequireExpiry,
		Passive:        passive,
	})

	ctx := cmd.Context()
	if err := a.sess.Rehydrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	a.migrated, err = legacy.NewAdapter(a.kc, a.sess, nil, a.log).Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate legacy session: %w", err)
	}
	return a, nil
}

func (a *agent) Close() {
	a.sess.Close()
	a.sess.Wait()
}
