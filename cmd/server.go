package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/courtsched/internal/auth"
	"github.com/example/courtsched/internal/booking"
	"github.com/example/courtsched/internal/config"
	"github.com/example/courtsched/internal/coordinator"
	"github.com/example/courtsched/internal/credentials"
	"github.com/example/courtsched/internal/crypto"
	"github.com/example/courtsched/internal/db"
	"github.com/example/courtsched/internal/migrate"
	"github.com/example/courtsched/internal/notifier"
	"github.com/example/courtsched/internal/portal"
	"github.com/example/courtsched/internal/postgres"
	"github.com/example/courtsched/internal/scheduler"
	"github.com/example/courtsched/internal/web"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the web UI, scheduler engine, and execution workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			policy, err := cfg.WindowPolicy()
			if err != nil {
				return err
			}

			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			log := logger.Sugar()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.Ping(ctx); err != nil {
				return errors.Wrap(err, "db ping")
			}
			if migrateUp {
				if err := migrate.Up(ctx, d); err != nil {
					return err
				}
			}

			aead, err := crypto.New(cfg.EncryptionKey)
			if err != nil {
				return err
			}

			authStore := auth.NewStore(d, cfg.CookieHashKey, cfg.CookieBlockKey)
			store := postgres.NewBookingStore(d)
			credStore := credentials.NewStore(d, aead)

			var sink notifier.Sink = notifier.LogSink{Log: log}
			if cfg.TelegramToken != "" {
				sink = notifier.MultiSink{
					sink,
					notifier.NewTelegramSink(cfg.TelegramToken, authStore, log),
				}
			}
			events := notifier.NewDispatcher(sink, log)
			go events.Run(ctx)

			coord := coordinator.New(
				store,
				portal.New(cfg.PortalBaseURL),
				credStore,
				events,
				coordinator.Config{Workers: cfg.Workers, RetryDelay: cfg.RetryDelay},
				log,
			)
			engine := scheduler.NewEngine(store, coord, log)
			coord.SetWaker(engine)

			go func() {
				if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Errorw("scheduler stopped", "error", err)
					cancel()
				}
			}()

			svc := booking.NewService(store, policy, engine, cfg.MaxAttempts, log)
			ws := &web.Server{
				Auth:     authStore,
				Bookings: svc,
				Creds:    credStore,
				Log:      log,
			}

			err = web.Start(ctx, cfg.ListenAddr, ws.Routes())

			// Let in-flight attempts and buffered notifications drain.
			coord.Wait()
			events.Wait()
			return err
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}
