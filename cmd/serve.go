package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielolaszy/scanglue/internal/admission"
	"github.com/danielolaszy/scanglue/internal/logging"
	"github.com/danielolaszy/scanglue/internal/server"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Start the webhook server.

Deliveries to POST /webhooks/github are verified against the webhook secret,
filtered by event type and branch allow-list and answered with 202 Accepted.
The scan, ticket reconciliation and notifications then run in the background.

Routing parameters on the webhook URL override the static configuration for
that delivery, e.g.:
  /webhooks/github?team=/CxServer/SP&bug=JIRA&branch=main&branch=release/*`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.GitHub.WebhookSecret == "" {
			return fmt.Errorf("webhook secret is required (SCANGLUE_GITHUB_WEBHOOK_SECRET)")
		}

		gh, err := newGitHubClient(cfg.GitHub)
		if err != nil {
			return fmt.Errorf("failed to initialize github client: %w", err)
		}
		registry := newRegistry(*cfg, gh)

		service, err := newService(*cfg, gh, registry)
		if err != nil {
			return err
		}

		admitter := admission.New(admission.HMACVerifier{}, admission.Policy{
			Branches:   cfg.Flow.Branches,
			PushEvents: cfg.Flow.PushEvents,
			// config-as-code can only be read with a GitHub client
			DeferBranchGate: cfg.Flow.ConfigAsCodeBranches && gh != nil && cfg.GitHub.ConfigAsCode != "",
		})
		srv := server.New(cfg.Server, cfg.GitHub.WebhookSecret, admitter, service)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()

		logging.Info("scanglue ready",
			"addr", cfg.Server.Addr,
			"bug_tracker", cfg.Flow.BugTracker,
			"trackers", registry.Names(),
			"branches", cfg.Flow.Branches)

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("webhook server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		logging.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn("webhook server shutdown failed", "error", err)
		}
		if err := service.Shutdown(shutdownCtx); err != nil {
			logging.Warn("runs still in progress were cancelled", "error", err)
		}
		return nil
	},
}
