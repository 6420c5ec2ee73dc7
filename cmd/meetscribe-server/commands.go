package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"meetscribe-server/internal/bootstrap"
	"meetscribe-server/internal/domain/auth"
	"meetscribe-server/internal/platform/config"
	"meetscribe-server/internal/platform/errors"
	"meetscribe-server/internal/platform/storage"
)

type rootFlags struct {
	configPath string
	dotEnv     bool
}

func (f *rootFlags) load() (*config.Config, error) {
	res, err := config.NewLoader().WithDotEnv(f.dotEnv).WithPath(f.configPath).Load()
	if err != nil {
		return nil, err
	}
	return res.Config, nil
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	serve := func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "[%s] [INFO] [BOOT] starting meetscribe-server...\n", time.Now().Format("2006-01-02 15:04:05.000"))
		return bootstrap.Run(cmd.Context(), bootstrap.Options{ConfigPath: flags.configPath, DotEnv: flags.dotEnv})
	}

	root := &cobra.Command{
		Use:   "meetscribe-server",
		Short: "Live meeting transcription server",
		Long: `meetscribe-server accepts audio streams over websocket, runs them through
the configured speech recognizer and keeps per-meeting transcripts.
Without a subcommand it runs the server.`,
		SilenceErrors: true,
		RunE:          serve,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config.yaml")
	root.PersistentFlags().BoolVar(&flags.dotEnv, "dotenv", true, "load variables from .env")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the websocket and HTTP servers",
		Args:  cobra.NoArgs,
		RunE:  serve,
	})
	root.AddCommand(newMigrateCmd(flags))
	root.AddCommand(newTokenCmd(flags))
	return root
}

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	var rollback string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and print the schema history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			db, err := storage.Open(cfg.Storage.SQLite.DSN)
			if err != nil {
				return err
			}
			defer storage.Close(db)

			manager := storage.Migrations(db)
			if rollback != "" {
				if err := manager.RollbackMigration(rollback); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", rollback)
			}

			history, err := manager.GetMigrationHistory()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "database %s\n", cfg.Storage.SQLite.DSN)
			for _, rec := range history {
				_, _ = fmt.Fprintf(out, "  %-24s %s  %s\n", rec.Version, rec.AppliedAt.Format(time.RFC3339), rec.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rollback, "rollback", "", "revert the given migration version after migrating")
	return cmd
}

func newTokenCmd(flags *rootFlags) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <client-id>",
		Short: "Mint a handshake token for a websocket client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if cfg.Server.Auth.Secret == "" {
				return errors.New(errors.KindConfig, "token.generate", "server.auth.secret is not set")
			}
			if ttl <= 0 {
				ttl = cfg.Server.Auth.Expiry
			}
			token, err := auth.NewAuthToken(cfg.Server.Auth.Secret).WithTTL(ttl).GenerateToken(args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to server.auth.expiry")
	return cmd
}
