// Package main is the entrypoint for rpcmesh, which hosts the sample contract.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/morezero/rpcmesh/internal/config"
	"github.com/morezero/rpcmesh/internal/sample"
	"github.com/morezero/rpcmesh/internal/server"
	"github.com/morezero/rpcmesh/pkg/commsutil"
	"github.com/morezero/rpcmesh/pkg/db"
	"github.com/morezero/rpcmesh/pkg/dispatcher"
	"github.com/morezero/rpcmesh/pkg/invoke"
)

const usage = `Usage: rpcmesh [command]
       rpcmesh serve               Host the sample contract on COMMS and HTTP.
       rpcmesh migrate up          Run call journal migrations.
       rpcmesh migrate down        Roll back (not supported; migrations are forward-only).
       rpcmesh migrate status      Show migration status.
       rpcmesh ensure-db [name]    Create the journal database if missing (default name: rpcmesh).
       rpcmesh clear               Truncate the call journal; schema is preserved.
       rpcmesh prune <duration>    Delete journaled calls older than duration (e.g. 72h).
       rpcmesh describe [roles]    Ask a running service on RPC_SUBJECT for its methods.

Commands:
  serve            (default) Start the service. Stops on SIGINT/SIGTERM after draining in-flight calls.
  migrate up       Run database migrations only.
  migrate status   Show current migration status.
  ensure-db [name] Create database on the same host as DATABASE_URL.
  clear            Truncate the rpc_calls table.
  prune <duration> Delete calls older than duration.
  describe [roles] Comma-separated roles; prints the method descriptions as JSON.

Environment: COMMS_URL, RPC_SUBJECT, RPC_QUEUE_GROUP, RPC_REQUEST_TIMEOUT, RPC_DRAIN_TIMEOUT,
HTTP_ADDR / HTTP_PORT, DATABASE_URL (optional; enables the call journal), MIGRATION_PATH, LOG_LEVEL.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("rpcmesh migrate: require subcommand (up, down, status)")
		}
		if err := runMigrate(args[1]); err != nil {
			log.Fatalf("rpcmesh migrate %s: %v", args[1], err)
		}
		return
	case "ensure-db":
		dbName := "rpcmesh"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("rpcmesh ensure-db: %v", err)
		}
		return
	case "clear":
		if err := withJournalPool(func(ctx context.Context, q db.Querier) error {
			return db.ClearJournal(ctx, q)
		}); err != nil {
			log.Fatalf("rpcmesh clear: %v", err)
		}
		return
	case "prune":
		if len(args) < 2 {
			log.Fatalf("rpcmesh prune: require a duration (e.g. 72h)")
		}
		if err := runPrune(args[1]); err != nil {
			log.Fatalf("rpcmesh prune: %v", err)
		}
		return
	case "describe":
		roles := ""
		if len(args) > 1 {
			roles = args[1]
		}
		if err := runDescribe(roles); err != nil {
			log.Fatalf("rpcmesh describe: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	instances := []*invoke.Instance{(&sample.Service{}).Instance()}
	if err := server.Run(instances); err != nil {
		log.Fatalf("rpcmesh: %v", err)
	}
}

func loadDBConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withJournalPool(fn func(ctx context.Context, q db.Querier) error) error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	return fn(ctx, pool)
}

func runMigrate(sub string) error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrationPath := db.ResolveMigrationPath(cfg.MigrationPath)
	switch sub {
	case "up":
		migrationSQL, err := db.LoadMigrationFiles(migrationPath)
		if err != nil {
			return fmt.Errorf("load migrations: %w", err)
		}
		return db.RunMigrations(ctx, pool, migrationSQL)
	case "status":
		return db.MigrationStatus(ctx, pool, migrationPath)
	case "down":
		return db.MigrationDown(ctx, pool, migrationPath)
	}
	return fmt.Errorf("unknown subcommand %q (use up, down, status)", sub)
}

func runEnsureDB(dbName string) error {
	cfg, err := loadDBConfig()
	if err != nil {
		return err
	}
	targetURL, err := withDatabaseName(cfg.DatabaseURL, dbName)
	if err != nil {
		return err
	}
	created, err := db.EnsureDatabase(context.Background(), targetURL)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("Database %q created.\n", dbName)
	} else {
		fmt.Printf("Database %q already exists.\n", dbName)
	}
	return nil
}

// withDatabaseName replaces the database in databaseURL, keeping its query.
func withDatabaseName(databaseURL, dbName string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	u.Path = "/" + dbName
	return u.String(), nil
}

func runPrune(arg string) error {
	retention, err := time.ParseDuration(arg)
	if err != nil || retention <= 0 {
		return fmt.Errorf("invalid duration %q", arg)
	}
	return withJournalPool(func(ctx context.Context, q db.Querier) error {
		n, err := db.PruneJournal(ctx, q, retention)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d calls.\n", n)
		return nil
	})
}

func runDescribe(roles string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName+"-cli")
	if err != nil {
		return err
	}
	defer nc.Close()

	req := dispatcher.DescribeRequest{Roles: splitRoles(roles)}
	data, err := commsutil.EncodePayload(req)
	if err != nil {
		return err
	}
	msg, err := nc.Request(commsutil.BuildDescribeSubject(cfg.Subject), data, cfg.RequestTimeout)
	if err != nil {
		return fmt.Errorf("request %s: %w", commsutil.BuildDescribeSubject(cfg.Subject), err)
	}
	var resp dispatcher.DescribeResponse
	if err := commsutil.DecodePayload(msg.Data, &resp); err != nil {
		return err
	}
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func splitRoles(s string) []string {
	var out []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
