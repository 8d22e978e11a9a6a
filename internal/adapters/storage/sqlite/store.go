package sqlite

import (
	"context"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Supported database/sql driver names
const (
	DriverMattn   = "sqlite3"
	DriverModernc = "sqlite"
)

// Options configures a Store
type Options struct {
	// Driver is DriverMattn (cgo) or DriverModernc (pure Go)
	Driver string
	// Path is the database file, or ":memory:"
	Path string
	// AuditRetention is how long audit records are kept; zero keeps them forever
	AuditRetention time.Duration
	// CleanupFrequency is how often expired audit records are pruned
	CleanupFrequency time.Duration
}

// Store is the SQLite implementation of the message, reputation and audit repositories
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
	opts   Options
	now    func() time.Time
	stopCh chan struct{}
	doneCh chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewStore opens the database, applies migrations and starts the audit cleanup task
func NewStore(opts Options, logger *zap.Logger) (*Store, error) {
	if opts.Driver == "" {
		opts.Driver = DriverMattn
	}
	if opts.Driver != DriverMattn && opts.Driver != DriverModernc {
		return nil, fmt.Errorf("unsupported SQLite driver: %s", opts.Driver)
	}

	db, err := sqlx.Connect(opts.Driver, opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// a single connection keeps pragmas and serializes writers
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA synchronous=normal`,
		`PRAGMA foreign_keys=ON`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	source := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationFS,
		Root:       "migrations",
	}
	applied, err := migrate.Exec(db.DB, "sqlite3", source, migrate.Up)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger = logger.Named("sqlite")
	logger.Info("Opened SQLite store",
		zap.String("path", opts.Path),
		zap.String("driver", opts.Driver),
		zap.Int("migrations_applied", applied))

	s := &Store{
		db:     db,
		logger: logger,
		opts:   opts,
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	if opts.AuditRetention > 0 && opts.CleanupFrequency > 0 {
		go s.startCleanupTask()
	} else {
		close(s.doneCh)
	}

	return s, nil
}

// Messages returns the message repository
func (s *Store) Messages() *MessageRepo {
	return &MessageRepo{s: s}
}

// Reputation returns the sender reputation repository
func (s *Store) Reputation() *ReputationRepo {
	return &ReputationRepo{s: s}
}

// Audit returns the audit log repository
func (s *Store) Audit() *AuditRepo {
	return &AuditRepo{s: s}
}

// Cleanup removes audit records older than the configured retention
func (s *Store) Cleanup(ctx context.Context) error {
	if s.opts.AuditRetention <= 0 {
		return nil
	}
	removed, err := s.Audit().PruneOlderThan(ctx, s.now().Add(-s.opts.AuditRetention))
	if err != nil {
		return err
	}
	s.logger.Debug("Cleaned up expired audit records", zap.Int64("expired_count", removed))
	return nil
}

// startCleanupTask prunes the audit log until Close is called
func (s *Store) startCleanupTask() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.opts.CleanupFrequency)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Cleanup(context.Background()); err != nil {
				s.logger.Error("Failed to clean up audit log", zap.Error(err))
			}
		case <-s.stopCh:
			return
		}
	}
}

// Close stops the cleanup task and closes the database. Later calls return
// the result of the first.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		if err := s.db.Close(); err != nil {
			s.closeErr = fmt.Errorf("failed to close SQLite database: %w", err)
			return
		}
		s.logger.Info("Closed SQLite store")
	})
	return s.closeErr
}

func txEnd(tx *sqlx.Tx, err error) error {
	if err == nil {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	}
	if rollbackErr := tx.Rollback(); rollbackErr != nil {
		return fmt.Errorf("%s, failed to roll back transaction: %w", err.Error(), rollbackErr)
	}
	return err
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
