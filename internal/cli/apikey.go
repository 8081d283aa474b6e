package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	mw "github.com/kiranshivaraju/dupreaper/internal/api/middleware"
	"github.com/kiranshivaraju/dupreaper/internal/config"
	"github.com/kiranshivaraju/dupreaper/internal/store"
)

func newAPIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for the HTTP API",
	}
	cmd.AddCommand(newAPIKeyCreateCmd(), newAPIKeyListCmd())
	return cmd
}

func newAPIKeyCreateCmd() *cobra.Command {
	var name string
	var scopes []string
	var migrationsDir string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print it once",
		Long: `Create an API key. The raw key is printed once and cannot be recovered.

Examples:
  dupreaper apikey create --name bootstrap --scopes admin,read,write
  dupreaper apikey create --name dashboard`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			return withStore(cmd.Context(), migrationsDir, func(ctx context.Context, s store.Store) error {
				key, raw, err := mw.GenerateAPIKey(name, scopes)
				if err != nil {
					return err
				}
				if err := s.CreateAPIKey(ctx, key); err != nil {
					return fmt.Errorf("create api key: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "id:     %s\n", key.ID)
				fmt.Fprintf(out, "scopes: %s\n", strings.Join(key.Scopes, ","))
				fmt.Fprintf(out, "key:    %s\n", raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	cmd.Flags().StringSliceVar(&scopes, "scopes", []string{mw.ScopeRead}, "comma-separated scopes (read, write, admin)")
	cmd.Flags().StringVar(&migrationsDir, "migrations", "migrations", "directory of SQL migrations")
	return cmd
}

func newAPIKeyListCmd() *cobra.Command {
	var migrationsDir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), migrationsDir, func(ctx context.Context, s store.Store) error {
				keys, err := s.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tPREFIX\tSCOPES\tLAST USED")
				for _, k := range keys {
					lastUsed := "never"
					if k.LastUsedAt != nil {
						lastUsed = k.LastUsedAt.UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.KeyPrefix, strings.Join(k.Scopes, ","), lastUsed)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&migrationsDir, "migrations", "migrations", "directory of SQL migrations")
	return cmd
}

// withStore connects to the configured database, applies migrations and
// calls fn with the store.
func withStore(ctx context.Context, migrationsDir string, fn func(context.Context, store.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := store.RunMigrations(cfg.Database.URL, migrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return fn(ctx, store.NewPostgresStore(pool))
}
