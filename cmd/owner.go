package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/courtsched/internal/auth"
	"github.com/example/courtsched/internal/config"
	"github.com/example/courtsched/internal/credentials"
	"github.com/example/courtsched/internal/crypto"
	"github.com/example/courtsched/internal/db"
	"github.com/example/courtsched/internal/migrate"
	"github.com/example/courtsched/internal/reserve"
)

func newOwnerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owner",
		Short: "Manage owner accounts",
	}
	cmd.AddCommand(newOwnerAddCmd())
	cmd.AddCommand(newOwnerCredsCmd())
	return cmd
}

func newOwnerAddCmd() *cobra.Command {
	var (
		username     string
		password     string
		telegramChat int64
	)

	c := &cobra.Command{
		Use:   "add",
		Short: "Add an owner account (username/password, optional Telegram chat)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := migrate.Up(ctx, d); err != nil {
				return err
			}

			store := auth.NewStore(d, cfg.CookieHashKey, cfg.CookieBlockKey)
			id, err := store.CreateOwner(ctx, username, password, telegramChat)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "created owner %q id=%d\n", username, id)
			return nil
		},
	}

	c.Flags().StringVar(&username, "username", "", "username")
	c.Flags().StringVar(&password, "password", "", "password")
	c.Flags().Int64Var(&telegramChat, "telegram-chat", 0, "Telegram chat id for notifications (optional)")
	_ = c.MarkFlagRequired("username")
	_ = c.MarkFlagRequired("password")
	return c
}

func newOwnerCredsCmd() *cobra.Command {
	var (
		ownerID  int64
		username string
		password string
	)

	c := &cobra.Command{
		Use:   "creds",
		Short: "Store an owner's portal credentials (encrypted at rest)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			aead, err := crypto.New(cfg.EncryptionKey)
			if err != nil {
				return err
			}
			store := credentials.NewStore(d, aead)
			err = store.Set(ctx, ownerID, reserve.Credentials{Username: username, Password: password})
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "stored portal credentials for owner %d\n", ownerID)
			return nil
		},
	}

	c.Flags().Int64Var(&ownerID, "owner-id", 0, "owner id (from `owner add`)")
	c.Flags().StringVar(&username, "username", "", "portal username")
	c.Flags().StringVar(&password, "password", "", "portal password")
	_ = c.MarkFlagRequired("owner-id")
	_ = c.MarkFlagRequired("username")
	_ = c.MarkFlagRequired("password")
	return c
}
