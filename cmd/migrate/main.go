package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clovapay/offramp-engine/internal/config"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	dir := flag.String("dir", "migrations", "directory holding *.sql migrations")
	flag.Parse()

	cfg, err := config.Load("")
	if err != nil {
		fatal("config load failed", err)
	}
	if cfg.DB.URL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DB.URL)
	if err != nil {
		fatal("database connection failed", err)
	}
	defer pool.Close()

	if err := ensureSchemaTable(ctx, pool); err != nil {
		fatal("ensure schema table failed", err)
	}

	files, err := listSQLFiles(*dir)
	if err != nil {
		fatal("list migrations failed", err)
	}

	for _, file := range files {
		applied, err := isApplied(ctx, pool, file)
		if err != nil {
			fatal("check migration failed", err, "file", file)
		}
		if applied {
			continue
		}
		if err := apply(ctx, pool, file); err != nil {
			fatal("apply migration failed", err, "file", file)
		}
		slog.Info("applied migration", "file", file)
	}
}

func fatal(msg string, err error, args ...any) {
	slog.Error(msg, append([]any{"err", err}, args...)...)
	os.Exit(1)
}

func ensureSchemaTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (filename TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`)
	return err
}

func listSQLFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	for i, name := range files {
		files[i] = filepath.Join(dir, name)
	}
	return files, nil
}

func isApplied(ctx context.Context, pool *pgxpool.Pool, file string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename = $1)`, filepath.Base(file)).Scan(&exists)
	return exists, err
}

// apply runs the migration and records it in one transaction.
func apply(ctx context.Context, pool *pgxpool.Pool, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if strings.TrimSpace(string(data)) != "" {
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, filepath.Base(file)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
