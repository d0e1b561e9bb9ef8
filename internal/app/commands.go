package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"iptrack/internal/app/bootstrap"
	"iptrack/internal/auth"
	"iptrack/internal/blocklist"
	"iptrack/internal/config"
	"iptrack/internal/database"
	"iptrack/internal/detector"
	"iptrack/internal/support"
)

// withStore opens the database for a one-shot command and closes it after fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store *database.Store) error) error {
	store, err := bootstrap.OpenStore()
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := store.DB().DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, store)
}

func NewBlockCmd() *cobra.Command {
	var reason string

	cmdBlock := &cobra.Command{
		Use:               "block <ip>",
		Short:             "Add an IP address to the block list",
		Example:           `iptrack block 203.0.113.7 --reason "Credential stuffing"`,
		Args:              cobra.ExactArgs(1),
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *database.Store) error {
				entry, created, err := blocklist.NewService(store).Block(ctx, args[0], reason)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if !created {
					fmt.Fprintf(out, "IP address %s is already blocked\n", entry.IPAddress)
					return nil
				}
				fmt.Fprintf(out, "Successfully blocked IP %s (reason: %s)\n", entry.IPAddress, entry.ReasonOrEmpty())
				return nil
			})
		},
	}

	cmdBlock.Flags().StringVar(&reason, "reason", blocklist.DefaultReason, "Reason recorded with the block")

	return cmdBlock
}

func NewUnblockCmd() *cobra.Command {
	cmdUnblock := &cobra.Command{
		Use:               "unblock <ip>",
		Short:             "Remove an IP address from the block list",
		Args:              cobra.ExactArgs(1),
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *database.Store) error {
				removed, err := blocklist.NewService(store).Unblock(ctx, args[0])
				if err != nil {
					return err
				}

				address := support.NormalizeIP(args[0])
				if !removed {
					fmt.Fprintf(cmd.OutOrStdout(), "IP address %s is not blocked\n", address)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "IP %s has been unblocked\n", address)
				return nil
			})
		},
	}

	return cmdUnblock
}

func NewPromoteCmd() *cobra.Command {
	cmdPromote := &cobra.Command{
		Use:               "promote <ip>...",
		Short:             "Block suspicious IP addresses using their detection reason",
		Args:              cobra.MinimumNArgs(1),
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, store *database.Store) error {
				outcomes, err := blocklist.NewService(store).PromoteAll(ctx, args)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				failed := 0
				for _, outcome := range outcomes {
					switch {
					case outcome.Error != "":
						failed++
						fmt.Fprintf(out, "%s: %s\n", outcome.Address, outcome.Error)
					case outcome.Created:
						fmt.Fprintf(out, "IP %s has been blocked (reason: %s)\n", outcome.Address, outcome.Entry.ReasonOrEmpty())
					default:
						fmt.Fprintf(out, "IP address %s is already blocked\n", outcome.Address)
					}
				}

				if failed > 0 {
					return fmt.Errorf("%d of %d addresses could not be promoted", failed, len(outcomes))
				}
				return nil
			})
		},
	}

	return cmdPromote
}

func NewDetectCmd() *cobra.Command {
	cmdDetect := &cobra.Command{
		Use:               "detect",
		Short:             "Run one anomaly detection pass now",
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(ctx context.Context, store *database.Store) error {
				d := detector.New(store, bootstrap.DetectorRules(config.GetConfig()))

				flagged, err := d.RunOnce(ctx, time.Now().UTC())
				out := cmd.OutOrStdout()
				for _, address := range flagged {
					fmt.Fprintln(out, address)
				}
				if err != nil {
					return fmt.Errorf("anomaly detection: %w", err)
				}
				if len(flagged) == 0 {
					fmt.Fprintln(out, "No new suspicious IP addresses")
				}
				return nil
			})
		},
	}

	return cmdDetect
}

var errNoJWTSecret = errors.New("JWT_SECRET must be set so the server accepts the token")

func NewTokenCmd() *cobra.Command {
	var subject string

	cmdToken := &cobra.Command{
		Use:               "token",
		Short:             "Mint an admin token for automation",
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(support.GetEnv("JWT_SECRET", "")) == "" {
				return errNoJWTSecret
			}

			token, err := auth.GenerateJWT(subject, auth.RoleAdmin)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmdToken.Flags().StringVar(&subject, "subject", "automation", "Subject recorded in the token")

	return cmdToken
}
