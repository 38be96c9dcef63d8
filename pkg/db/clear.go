package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const clearLogPrefix = "db:clear"

// ClearJournal truncates the call journal. The schema is preserved.
func ClearJournal(ctx context.Context, db Querier) error {
	slog.Info(fmt.Sprintf("%s - Clearing %s", clearLogPrefix, journalTable))

	if _, err := db.Exec(ctx, `TRUNCATE TABLE rpc_calls RESTART IDENTITY`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}
	return nil
}

// PruneJournal deletes calls started before now minus retention and returns
// the number of rows removed.
func PruneJournal(ctx context.Context, db Querier, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	tag, err := db.Exec(ctx, `DELETE FROM rpc_calls WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s - prune failed: %w", clearLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Pruned %d calls older than %s", clearLogPrefix, tag.RowsAffected(), retention))
	return tag.RowsAffected(), nil
}
