package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/feedback-service/internal/auth"
	"github.com/spec-kit/feedback-service/internal/config"
	"github.com/spec-kit/feedback-service/internal/domain"
	"github.com/spec-kit/feedback-service/internal/events"
	"github.com/spec-kit/feedback-service/internal/persistence"
	"github.com/spec-kit/feedback-service/internal/sentiment"
	"github.com/spec-kit/feedback-service/internal/service"
	"github.com/spec-kit/feedback-service/internal/worker"
)

func tokenCmd(cfg *config.Config) *cobra.Command {
	var p domain.Principal
	var role string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a reviewer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p.Role = domain.Role(role)
			tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
			token, expiresAt, err := tokens.GenerateToken(p)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"accessToken": token, "expiresAt": expiresAt})
		},
	}
	cmd.Flags().StringVar(&p.ActorName, "actor", "", "actor name recorded in the audit trail")
	cmd.Flags().StringVar(&role, "role", "", "intake, department or admin")
	cmd.Flags().StringVar(&p.Department, "department", "", "department of a department reviewer")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func migrateCmd(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pg, err := persistence.NewPostgres(cmd.Context(), cfg.Postgres, logger)
			if err != nil {
				return err
			}
			defer pg.Close()
			return persistence.RunMigrations(cmd.Context(), pg.Pool, cfg.Postgres.MigrationsDir, logger)
		},
	}
}

func sweepCmd(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	var queue bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Retry pending sentiment classification",
		Long: `Retry pending sentiment classification.

By default the sweep runs here and prints the per-record report. With --queue
it is handed to the worker process instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if queue {
				client := asynq.NewClient(persistence.QueueOpt(cfg.Redis))
				defer client.Close()
				if err := worker.EnqueueSweep(ctx, client, "cli"); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "sweep queued")
				return nil
			}

			store, svc, err := openSentiment(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			report, err := worker.NewSentimentRetryWorker(store.Router, svc, worker.RetryWorkerConfig{
				Batch:  cfg.Sentiment.SweepBatch,
				Delay:  cfg.Sentiment.SweepDelay,
				Logger: logger,
			}).Sweep(ctx)
			if report != nil {
				if werr := writeJSON(cmd.OutOrStdout(), report); werr != nil {
					return werr
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&queue, "queue", false, "queue the sweep for the worker process")
	return cmd
}

func classifyCmd(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <id>",
		Short: "Make one classification attempt for a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, svc, err := openSentiment(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			res, err := svc.ClassifyID(cmd.Context(), args[0], service.SourceManual)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
}

func openSentiment(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*persistence.Store, *service.SentimentService, error) {
	if cfg.Store.Driver == config.StoreDriverMemory {
		return nil, nil, fmt.Errorf("store driver %q has nothing to classify from the cli", cfg.Store.Driver)
	}
	store, err := persistence.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	var classifier sentiment.Classifier = sentiment.NewHTTPClassifier(cfg.Sentiment, logger)
	if cfg.Sentiment.SwallowErrors {
		classifier = sentiment.NewLenient(classifier, logger)
	}
	svc := service.NewSentimentService(service.SentimentDependencies{
		Router:      store.Router,
		Classifier:  classifier,
		Dispatcher:  events.NewInMemoryDispatcher(logger),
		Logger:      logger,
		MaxAttempts: cfg.Sentiment.MaxAttempts,
	})
	return store, svc, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
