// Command setup-admin creates an admin account, or grants admin privileges to
// an existing one.
//
//	setup-admin <email> <password> [--config waitlist.toml]
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"waitlist/internal/adapters/storage"
	accountStore "waitlist/internal/adapters/storage/account"
	"waitlist/internal/application/orchestrators"
	"waitlist/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "setup-admin <email> <password>",
	Short:         "Create or promote a waitlist admin account",
	Args:          cobra.ExactArgs(2),
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "path to configuration file (optional)")
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error setting up admin: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	email, password := args[0], args[1]

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Logger.Level = "warn"
	slog.SetDefault(cfg.Logger.NewLogger(os.Stderr))

	db, err := storage.Open(cfg.DB.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := storage.InitDB(db); err != nil {
		return fmt.Errorf("init database: %w", err)
	}

	result, err := orchestrators.ExecuteSetupAdmin(cmd.Context(), orchestrators.SetupAdminInput{
		Email:    email,
		Password: password,
	}, orchestrators.SetupAdminDeps{
		AccountStore: accountStore.NewSQLiteStore(db),
		GenerateID:   uuid.NewString,
		Now:          time.Now,
		IsNotFound:   func(err error) bool { return errors.Is(err, accountStore.ErrNotFound) },
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if result.Created {
		color.New(color.FgGreen).Fprintf(out, "Created user: %s\n", email)
	} else {
		color.New(color.FgYellow).Fprintln(out, "User already exists. Updating admin privileges...")
	}
	color.New(color.FgGreen, color.Bold).Fprintf(out, "Admin privileges granted to %s (id %s)\n", email, result.AccountID)
	fmt.Fprintf(out, "Sign in at %s/login\n", cfg.HTTP.BaseURL)
	return nil
}
