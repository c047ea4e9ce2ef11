package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store is the PostgreSQL record store for contracts and generated invoices.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// New opens the record store against the given DSN. The pool is verified
// with a ping before any contract or invoice query runs over it.
func New(dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("record store connected")
	return &Store{db: pool, logger: logger}, nil
}

// Migrate applies the contracts and invoices schema. Every *.up.sql file in
// migrationsDir runs in lexical order; statements are idempotent so repeated
// startup runs are safe.
func (s *Store) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("schema migration applied", zap.String("file", f))
	}
	return nil
}

// Close releases the pool. Callers stop the pipeline engine first so no
// invoice write races the shutdown.
func (s *Store) Close() {
	s.db.Close()
}
