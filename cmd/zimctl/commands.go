package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"zimupdates/internal/collections"
	"zimupdates/internal/config"
	"zimupdates/internal/logging"
	"zimupdates/internal/relsync"
	"zimupdates/internal/richtext"
	"zimupdates/internal/search"
	"zimupdates/internal/store"
)

type cli struct {
	cfg         config.Config
	logger      *zap.Logger
	databaseURL string
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "zimctl",
		Short:         "Maintenance tasks for the Zim updates backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if c.databaseURL != "" {
				cfg.DatabaseURL = c.databaseURL
			}
			c.cfg = cfg
			logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
			if err != nil {
				return err
			}
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.databaseURL, "database-url", "", "database URL (overrides DATABASE_URL)")

	root.AddCommand(c.migrateCmd(), c.reconcileCmd(), c.renderCmd(), c.reindexCmd())
	return root
}

func (c *cli) openStore(ctx context.Context) (*sql.DB, *store.SQLStore, error) {
	db, dialect, err := store.Open(ctx, c.cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := store.ApplyMigrations(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, store.NewSQLStore(db, dialect), nil
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, records, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := store.MigrationVersion(ctx, db, records.Dialect())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database at version %d (%s)\n", version, records.Dialect().Name)
			return nil
		},
	}
}

func (c *cli) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Repair kids.sponsors from sponsors.sponsoredKids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, records, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			return runReconcile(ctx, cmd.OutOrStdout(), records, c.logger)
		},
	}
}

func runReconcile(ctx context.Context, out io.Writer, s relsync.Store, logger *zap.Logger) error {
	report, err := relsync.NewReconciler(s, collections.KidSponsors, logger).Reconcile(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "scanned %d, repaired %d\n", report.Scanned, len(report.Repaired))
	for _, id := range report.Repaired {
		fmt.Fprintf(out, "  repaired %s %d\n", collections.KidSponsors.Collection, id)
	}
	if len(report.Failures) > 0 {
		for _, failure := range report.Failures {
			fmt.Fprintf(out, "  failed: %v\n", failure)
		}
		return fmt.Errorf("%d records could not be repaired", len(report.Failures))
	}
	return nil
}

func (c *cli) renderCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "render <file.json|->",
		Short: "Print the sanitized HTML of a rich text document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			var sanitizerOpts []richtext.SanitizerOption
			if !raw {
				sanitizerOpts = append(sanitizerOpts, richtext.WithURLSchemes(c.cfg.SanitizeURLSchemes...))
			}
			return runRender(cmd.Context(), in, cmd.OutOrStdout(), richtext.NewRenderer(
				richtext.WithLogger(c.logger),
				richtext.WithSanitizer(richtext.NewSanitizer(sanitizerOpts...)),
			))
		},
	}
	cmd.Flags().BoolVar(&raw, "any-scheme", false, "keep links regardless of URL scheme")
	return cmd
}

func runRender(ctx context.Context, in io.Reader, out io.Writer, renderer *richtext.Renderer) error {
	var doc any
	if err := json.NewDecoder(in).Decode(&doc); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	// a stored update may be passed whole
	if m, ok := doc.(map[string]any); ok {
		if content, ok := m["content"]; ok {
			doc = content
		}
	}
	html, err := renderer.Render(ctx, doc)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, strings.TrimSpace(html))
	return err
}

func (c *cli) reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Push every update into Meilisearch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(c.cfg.MeiliURL) == "" {
				return fmt.Errorf("MEILI_URL is not set")
			}
			ctx := cmd.Context()
			db, records, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			meili := search.NewMeili(c.cfg.MeiliURL, c.cfg.MeiliMasterKey, c.logger)
			defer meili.Close()
			if !meili.Healthy() {
				return fmt.Errorf("meilisearch at %s is unavailable", c.cfg.MeiliURL)
			}
			return search.NewService(meili, nil, c.logger).ReindexAll(ctx, records)
		},
	}
}
