package db

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/morezero/rpcmesh/pkg/events"
)

const journalLogPrefix = "db:journal"

const defaultRecentLimit = 50

// Querier is the subset of *pgxpool.Pool the journal uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// CallJournal records finished calls in the rpc_calls table. It implements
// events.EventPublisher.
type CallJournal struct {
	db Querier
}

// NewCallJournal creates a CallJournal over db, usually a *pgxpool.Pool.
func NewCallJournal(db Querier) *CallJournal {
	return &CallJournal{db: db}
}

// PublishCall inserts one call event.
func (j *CallJournal) PublishCall(ctx context.Context, e *events.CallEvent) error {
	var faultCode *string
	if e.FaultCode != "" {
		faultCode = &e.FaultCode
	}
	_, err := j.db.Exec(ctx,
		`INSERT INTO rpc_calls
		   (call_id, connection_id, channel, contract, method, outcome, fault_code,
		    callbacks, stream_length, started_at, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.CallID, e.ConnectionID, e.Channel, e.Contract, e.Method, string(e.Outcome), faultCode,
		e.Callbacks, e.StreamLength, e.StartedAt.UTC(), float64(e.Duration)/float64(time.Millisecond))
	if err != nil {
		return fmt.Errorf("%s - insert call %s: %w", journalLogPrefix, e.CallID, err)
	}
	slog.Debug(fmt.Sprintf("%s - recorded %s %s (%s)", journalLogPrefix, e.Method, e.CallID, e.Outcome))
	return nil
}

// Recent returns the newest calls matching p, newest first.
func (j *CallJournal) Recent(ctx context.Context, p RecentParams) ([]CallRecord, error) {
	sql, args := recentQuery(p)
	rows, err := j.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s - query recent: %w", journalLogPrefix, err)
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var r CallRecord
		if err := rows.Scan(&r.ID, &r.CallID, &r.ConnectionID, &r.Channel, &r.Contract, &r.Method,
			&r.Outcome, &r.FaultCode, &r.Callbacks, &r.StreamLength, &r.StartedAt, &r.DurationMS, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("%s - scan: %w", journalLogPrefix, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - rows: %w", journalLogPrefix, err)
	}
	return out, nil
}

func recentQuery(p RecentParams) (string, []any) {
	var where []string
	var args []any
	if p.Contract != "" {
		args = append(args, p.Contract)
		where = append(where, fmt.Sprintf("contract = $%d", len(args)))
	}
	if p.Outcome != "" {
		args = append(args, p.Outcome)
		where = append(where, fmt.Sprintf("outcome = $%d", len(args)))
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	args = append(args, limit)

	var b strings.Builder
	b.WriteString(`SELECT id, call_id, connection_id, channel, contract, method, outcome, fault_code,
	        callbacks, stream_length, started_at, duration_ms, recorded_at
	 FROM rpc_calls`)
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY started_at DESC, id DESC LIMIT $%d", len(args))
	return b.String(), args
}
