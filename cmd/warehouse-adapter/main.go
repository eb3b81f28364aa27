package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/warehouse/internal/config"
	"github.com/ehr/warehouse/internal/domain/result"
	"github.com/ehr/warehouse/internal/platform/db"
	"github.com/ehr/warehouse/migrations"
	"github.com/ehr/warehouse/pkg/resource"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "warehouse-adapter",
		Short: "Query adapter for i2b2 and i2b2/tranSMART clinical data warehouses",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(browseCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	adapter, err := buildAdapter(cfg, logger)
	if err != nil {
		return errors.Wrap(err, "build adapter")
	}
	logger.Info().Str("resource", adapter.Name()).Str("type", adapter.Type()).Msg("adapter ready")

	ctx := context.Background()
	var pool *pgxpool.Pool
	repo := result.NewMemRepo()
	if cfg.DatabaseURL != "" {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return errors.Wrap(err, "connect to database")
		}
		defer pool.Close()
		repo = result.NewRepoPG(pool)
		logger.Info().Msg("connected to database")
	} else {
		logger.Warn().Msg("DATABASE_URL not set, results are kept in memory")
	}

	svc := result.NewService(adapter, repo, logger)
	e := newServer(cfg, adapter, svc, pool, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("running queries did not stop in time")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the result store schema",
	}

	openMigrator := func(cmd *cobra.Command) (*db.Migrator, func(), error) {
		schema, _ := cmd.Flags().GetString("schema")
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		if cfg.DatabaseURL == "" {
			return nil, nil, errors.New("DATABASE_URL is required for migrations")
		}
		pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		return db.NewMigrator(pool, migrations.Files, schema), pool.Close, nil
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeFn, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			count, err := migrator.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeFn, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func queryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a query file against the warehouse and write the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			out, _ := cmd.Flags().GetString("out")
			token, _ := cmd.Flags().GetString("token")

			q, err := readQuery(file)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			adapter, err := buildAdapter(cfg, logger)
			if err != nil {
				return err
			}

			svc := result.NewService(adapter, result.NewMemRepo(), logger)
			res, err := svc.Run(cmd.Context(), sessionFor(token), q)
			if err != nil {
				return err
			}
			if res.Status != resource.StatusComplete {
				return errors.Newf("query %s ended %s: %s", res.ID, res.Status, res.Message)
			}
			return writeResult(cmd.OutOrStdout(), out, res)
		},
	}
	cmd.Flags().String("file", "", "Path to a JSON query")
	cmd.Flags().String("out", "", "Output file (.csv, .xlsx or .json); stdout JSON when empty")
	cmd.Flags().String("token", os.Getenv("WAREHOUSE_TOKEN"), "Bearer token forwarded to the warehouse")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readQuery(path string) (resource.Query, error) {
	var q resource.Query
	raw, err := os.ReadFile(path)
	if err != nil {
		return q, errors.Wrapf(err, "read query %s", path)
	}
	if err := json.Unmarshal(raw, &q); err != nil {
		return q, errors.Wrapf(err, "decode query %s", path)
	}
	if len(q.Select) == 0 {
		return q, errors.Newf("query %s selects no fields", path)
	}
	return q, nil
}

func sessionFor(token string) *resource.Session {
	if token == "" {
		return nil
	}
	return &resource.Session{UserID: "cli", Token: token}
}

// writeResult picks the export format from the output file extension.
func writeResult(stdout io.Writer, path string, res *resource.Result) error {
	if path == "" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res.Data)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		err = result.WriteCSV(f, res.Data)
	case ".xlsx":
		err = result.WriteXLSX(f, res.Data)
	case ".json":
		err = json.NewEncoder(f).Encode(res.Data)
	default:
		err = errors.Newf("unsupported output format %q", filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	return f.Close()
}

func browseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "browse <pui>",
		Short: "List the children of an ontology path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, _ := cmd.Flags().GetString("token")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			adapter, err := buildAdapter(cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			children, err := adapter.GetPathRelationship(cmd.Context(), sessionFor(token),
				resource.Entity{PUI: args[0]}, resource.RelationshipChild)
			if err != nil {
				return err
			}
			printEntities(cmd.OutOrStdout(), children)
			return nil
		},
	}
	cmd.Flags().String("token", os.Getenv("WAREHOUSE_TOKEN"), "Bearer token forwarded to the warehouse")
	return cmd
}

func printEntities(w io.Writer, entities []resource.Entity) {
	fmt.Fprintf(w, "%-60s %-30s %s\n", "PUI", "NAME", "COUNT")
	for _, ent := range entities {
		count := ""
		if n, ok := ent.Counts["count"]; ok {
			count = fmt.Sprint(n)
		}
		fmt.Fprintf(w, "%-60s %-30s %s\n", ent.PUI, ent.Name, count)
	}
}
