/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/accountkit/authserver/config"
	"github.com/accountkit/authserver/internal/auth"
	"github.com/accountkit/authserver/internal/db"
	"github.com/accountkit/authserver/internal/events"
	"github.com/accountkit/authserver/internal/mq"
	"github.com/accountkit/authserver/internal/services"
	"github.com/accountkit/authserver/internal/store"
	"github.com/accountkit/authserver/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// usersCmd groups account administration commands.
var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Administer user accounts",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccountService(cmd, func(accounts *services.AccountService) error {
			views, err := accounts.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tUSERNAME\tEMAIL\tROLE")
			for _, view := range views {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", view.ID, view.Username, view.Email, view.Role.Label())
			}
			return tw.Flush()
		})
	},
}

var usersSetRoleCmd = &cobra.Command{
	Use:   "set-role <username> <manager|default_user>",
	Short: "Change the role of an account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAccountService(cmd, func(accounts *services.AccountService) error {
			view, err := accounts.SetRole(cmd.Context(), args[0], types.Role(args[1]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", view.Username, view.Role.Label())
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersListCmd)
	usersCmd.AddCommand(usersSetRoleCmd)
}

// withAccountService opens the database and queue, builds an AccountService
// and releases both once fn returns.
func withAccountService(cmd *cobra.Command, fn func(*services.AccountService) error) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = dbConn.Close() }()

	queue, err := mq.NewFromConfig(ctx, cfg.MQ)
	if err != nil {
		logger.Warn("account events disabled", zap.Error(err))
		queue = nil
	}
	if queue != nil {
		defer func() { _ = queue.Close() }()
	}

	tokens, err := adminTokenService(cfg)
	if err != nil {
		return err
	}
	accounts := services.NewAccountService(store.NewUserRepository(dbConn), tokens,
		services.WithEvents(events.NewPublisher(queue, cfg.MQ.Channel, logger, nil)),
	)
	return fn(accounts)
}

// adminTokenService builds the token service the account service requires.
// Admin commands never issue tokens, so a missing secret is tolerated.
func adminTokenService(cfg config.Config) (*auth.TokenService, error) {
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = "unused-admin-secret"
	}
	return auth.NewTokenService(secret)
}
