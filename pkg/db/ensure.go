package db

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ensureLogPrefix = "db:ensure"

// maintenanceDatabase is the database connected to while creating the journal's.
const maintenanceDatabase = "postgres"

// Postgres truncates identifiers longer than NAMEDATALEN-1 bytes.
const maxDatabaseName = 63

var journalDBName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// journalTarget is the journal database named by a DATABASE_URL and the
// maintenance URL used to create it.
type journalTarget struct {
	name     string
	adminURL string
}

func parseJournalTarget(databaseURL string) (journalTarget, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return journalTarget{}, fmt.Errorf("%s - invalid database URL: %w", ensureLogPrefix, err)
	}
	name := strings.TrimSpace(strings.TrimPrefix(u.Path, "/"))
	switch {
	case name == "":
		return journalTarget{}, fmt.Errorf("%s - journal database name missing from URL", ensureLogPrefix)
	case name == maintenanceDatabase:
		return journalTarget{}, fmt.Errorf("%s - journal cannot live in the %q maintenance database", ensureLogPrefix, name)
	case len(name) > maxDatabaseName:
		return journalTarget{}, fmt.Errorf("%s - journal database name %q is longer than %d bytes", ensureLogPrefix, name, maxDatabaseName)
	case !journalDBName.MatchString(name):
		return journalTarget{}, fmt.Errorf("%s - journal database name %q is invalid", ensureLogPrefix, name)
	}

	admin := *u
	admin.Path = "/" + maintenanceDatabase
	admin.RawPath = ""
	return journalTarget{name: name, adminURL: admin.String()}, nil
}

func (t journalTarget) createSQL() string {
	return "CREATE DATABASE " + pgx.Identifier{t.name}.Sanitize()
}

// EnsureDatabase creates the journal database named in databaseURL when it is
// missing and reports whether it had to.
func EnsureDatabase(ctx context.Context, databaseURL string) (bool, error) {
	target, err := parseJournalTarget(databaseURL)
	if err != nil {
		return false, err
	}

	config, err := pgxpool.ParseConfig(target.adminURL)
	if err != nil {
		return false, fmt.Errorf("%s - failed to parse maintenance URL: %w", ensureLogPrefix, err)
	}
	config.MaxConns = 1
	config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	admin, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return false, fmt.Errorf("%s - failed to connect to %s: %w", ensureLogPrefix, maintenanceDatabase, err)
	}
	defer admin.Close()

	var exists bool
	err = admin.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, target.name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s - failed to look up journal database: %w", ensureLogPrefix, err)
	}
	if exists {
		slog.Debug(fmt.Sprintf("%s - Journal database %q already exists", ensureLogPrefix, target.name))
		return false, nil
	}

	if _, err := admin.Exec(ctx, target.createSQL()); err != nil {
		return false, fmt.Errorf("%s - failed to create journal database %q: %w", ensureLogPrefix, target.name, err)
	}
	slog.Info(fmt.Sprintf("%s - Created journal database %q", ensureLogPrefix, target.name))
	return true, nil
}

// JournalOptions controls how OpenJournal prepares the journal database.
type JournalOptions struct {
	// EnsureDatabase creates the database first when it is missing.
	EnsureDatabase bool
	// MigrationPath, when set, is applied after connecting.
	MigrationPath string
	Pool          PoolOptions
}

// OpenJournal returns a pool on a journal database that is ready for
// NewCallJournal. Bad targets and unreadable migrations fail before any
// connection is made.
func OpenJournal(ctx context.Context, databaseURL string, opts JournalOptions) (*pgxpool.Pool, error) {
	var migrationSQL []string
	if opts.MigrationPath != "" {
		files, err := LoadMigrationFiles(ResolveMigrationPath(opts.MigrationPath))
		if err != nil {
			return nil, fmt.Errorf("%s - failed to load journal migrations: %w", ensureLogPrefix, err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("%s - no journal migrations found in %s", ensureLogPrefix, opts.MigrationPath)
		}
		migrationSQL = files
	}

	if opts.EnsureDatabase {
		if _, err := EnsureDatabase(ctx, databaseURL); err != nil {
			return nil, err
		}
	}

	pool, err := NewPool(ctx, databaseURL, opts.Pool)
	if err != nil {
		return nil, err
	}
	if migrationSQL != nil {
		if err := RunMigrations(ctx, pool, migrationSQL); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return pool, nil
}
