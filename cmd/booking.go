package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/courtsched/internal/booking"
	"github.com/example/courtsched/internal/config"
	"github.com/example/courtsched/internal/db"
	"github.com/example/courtsched/internal/migrate"
	"github.com/example/courtsched/internal/postgres"
)

func newBookingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "booking",
		Short: "Manage scheduled bookings (non-UI)",
	}
	cmd.AddCommand(newBookingCreateCmd())
	cmd.AddCommand(newBookingListCmd())
	cmd.AddCommand(newBookingCancelCmd())
	return cmd
}

// bookingService opens the database and builds a service with no waker:
// the running server notices CLI-created bookings on its next wake.
func bookingService(ctx context.Context, cfg config.Config) (*booking.Service, func(), error) {
	policy, err := cfg.WindowPolicy()
	if err != nil {
		return nil, nil, err
	}
	d, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Up(ctx, d); err != nil {
		d.Close()
		return nil, nil, err
	}
	svc := booking.NewService(postgres.NewBookingStore(d), policy, nil, cfg.MaxAttempts, zap.NewNop().Sugar())
	return svc, d.Close, nil
}

func newBookingCreateCmd() *cobra.Command {
	var (
		ownerID     int64
		court       string
		date        string
		slotTime    string
		maxAttempts int
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Schedule a booking; it fires when the portal window opens",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			svc, closeDB, err := bookingService(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			td, err := time.Parse("2006-01-02", date)
			if err != nil {
				return errors.New("invalid --date (want YYYY-MM-DD)")
			}

			b, err := svc.Submit(ctx, booking.SubmitRequest{
				OwnerID:     ownerID,
				Court:       court,
				TargetDate:  td,
				TargetTime:  slotTime,
				MaxAttempts: maxAttempts,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "scheduled booking id=%s fire_at=%s\n",
				b.ID, b.FireAt.Format(time.RFC3339))
			return nil
		},
	}

	c.Flags().Int64Var(&ownerID, "owner-id", 0, "owner id")
	c.Flags().StringVar(&court, "court", "", "court name")
	c.Flags().StringVar(&date, "date", "", "target date YYYY-MM-DD")
	c.Flags().StringVar(&slotTime, "time", "", "slot time HH:MM (portal-local)")
	c.Flags().IntVar(&maxAttempts, "max-attempts", 0, "retry budget (default from config)")
	_ = c.MarkFlagRequired("owner-id")
	_ = c.MarkFlagRequired("court")
	_ = c.MarkFlagRequired("date")
	_ = c.MarkFlagRequired("time")
	return c
}

func newBookingListCmd() *cobra.Command {
	var ownerID int64

	c := &cobra.Command{
		Use:   "list",
		Short: "List an owner's bookings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			svc, closeDB, err := bookingService(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			bs, err := svc.ListForOwner(ctx, ownerID)
			if err != nil {
				return err
			}
			for _, b := range bs {
				detail := b.LastError
				if b.ResultReference != "" {
					detail = "ref " + b.ResultReference
				}
				fmt.Fprintf(os.Stdout, "id=%s slot=%s fire_at=%s status=%s attempts=%d/%d %s\n",
					b.ID, b.Slot().Key(), b.FireAt.Format(time.RFC3339),
					b.Status, b.AttemptCount, b.MaxAttempts, detail)
			}
			return nil
		},
	}

	c.Flags().Int64Var(&ownerID, "owner-id", 0, "owner id")
	_ = c.MarkFlagRequired("owner-id")
	return c
}

func newBookingCancelCmd() *cobra.Command {
	var (
		ownerID int64
		id      string
	)

	c := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a booking that has not started executing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			svc, closeDB, err := bookingService(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			ok, err := svc.Cancel(ctx, ownerID, id)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("booking already executing or finished")
			}
			fmt.Fprintf(os.Stdout, "cancelled booking %s\n", id)
			return nil
		},
	}

	c.Flags().Int64Var(&ownerID, "owner-id", 0, "owner id")
	c.Flags().StringVar(&id, "id", "", "booking id")
	_ = c.MarkFlagRequired("owner-id")
	_ = c.MarkFlagRequired("id")
	return c
}
