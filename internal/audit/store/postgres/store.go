// Package postgres persists audit events in PostgreSQL. The consumer is
// the only writer; inserts are idempotent on event_id so re-delivered
// Kafka records collapse into a single row.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	_ "embed"

	"github.com/lib/pq"

	"poscore/internal/audit"
	"poscore/pkg/platform/sentinel"
)

//go:embed schema.sql
var Schema string

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects with the driver settings used across the service and
// verifies the connection before returning.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", classify(err))
	}
	return db, nil
}

const insertColumns = `event_id, schema_version, action, severity, tenant_id, actor_id, roles, trace_id, occurred_at, ingested_at, payload, meta`

// UpsertBatch inserts the batch in a single statement. Rows whose
// event_id already exists are skipped, not updated.
func (s *Store) UpsertBatch(ctx context.Context, records []audit.StoredRecord) error {
	if len(records) == 0 {
		return nil
	}

	var (
		sb   strings.Builder
		args = make([]any, 0, len(records)*12)
	)
	sb.WriteString(`INSERT INTO audit_events (` + insertColumns + `) VALUES `)
	for i, rec := range records {
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload for %s: %w", rec.EventID, err)
		}
		meta, err := json.Marshal(rec.Meta)
		if err != nil {
			return fmt.Errorf("marshal meta for %s: %w", rec.EventID, err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 12
		sb.WriteString("(")
		for j := 1; j <= 12; j++ {
			if j > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+j)
		}
		sb.WriteString(")")
		args = append(args,
			rec.EventID,
			rec.SchemaVersion,
			rec.Action,
			rec.Severity,
			rec.TenantID,
			rec.ActorID,
			pq.Array(rec.Roles),
			rec.TraceID,
			rec.OccurredAt,
			rec.IngestedAt,
			payload,
			meta,
		)
	}
	sb.WriteString(` ON CONFLICT (event_id) DO NOTHING`)

	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("insert audit batch: %w", classify(err))
	}
	return nil
}

// List returns events for one tenant, newest first, event ID breaking
// timestamp ties. The tenant filter is always applied; callers must not
// pass an empty tenant ID.
func (s *Store) List(ctx context.Context, filter audit.ListFilter) ([]audit.StoredRecord, error) {
	if filter.TenantID == "" {
		return nil, fmt.Errorf("list audit events: tenant id required: %w", sentinel.ErrInvalidState)
	}

	var (
		sb   strings.Builder
		args []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sb.WriteString(`SELECT ` + insertColumns + ` FROM audit_events WHERE tenant_id = ` + next(filter.TenantID))
	if filter.ActorID != "" {
		sb.WriteString(` AND actor_id = ` + next(filter.ActorID))
	}
	if filter.Action != "" {
		sb.WriteString(` AND action = ` + next(filter.Action))
	}
	if filter.Severity != "" {
		sb.WriteString(` AND severity = ` + next(string(filter.Severity)))
	}
	if filter.EntityID != "" {
		sb.WriteString(` AND payload->>'entity_id' = ` + next(filter.EntityID))
	}
	if !filter.From.IsZero() {
		sb.WriteString(` AND occurred_at >= ` + next(filter.From))
	}
	if !filter.To.IsZero() {
		sb.WriteString(` AND occurred_at <= ` + next(filter.To))
	}
	if filter.Cursor != nil {
		a := next(filter.Cursor.OccurredAt)
		b := next(filter.Cursor.EventID)
		sb.WriteString(` AND (occurred_at, event_id) < (` + a + `, ` + b + `::uuid)`)
	}
	sb.WriteString(` ORDER BY occurred_at DESC, event_id DESC`)
	if filter.Limit > 0 {
		sb.WriteString(` LIMIT ` + next(filter.Limit))
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", classify(err))
	}
	defer rows.Close()

	var records []audit.StoredRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: %w", classify(err))
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (audit.StoredRecord, error) {
	var (
		rec     audit.StoredRecord
		roles   pq.StringArray
		payload []byte
		meta    []byte
	)
	if err := rows.Scan(
		&rec.EventID,
		&rec.SchemaVersion,
		&rec.Action,
		&rec.Severity,
		&rec.TenantID,
		&rec.ActorID,
		&roles,
		&rec.TraceID,
		&rec.OccurredAt,
		&rec.IngestedAt,
		&payload,
		&meta,
	); err != nil {
		return audit.StoredRecord{}, fmt.Errorf("scan audit event: %w", err)
	}
	rec.Roles = []string(roles)
	rec.OccurredAt = rec.OccurredAt.UTC()
	rec.IngestedAt = rec.IngestedAt.UTC()
	if err := json.Unmarshal(payload, &rec.Payload); err != nil {
		return audit.StoredRecord{}, fmt.Errorf("decode payload for %s: %w", rec.EventID, err)
	}
	if err := json.Unmarshal(meta, &rec.Meta); err != nil {
		return audit.StoredRecord{}, fmt.Errorf("decode meta for %s: %w", rec.EventID, err)
	}
	return rec, nil
}

// CountExpired reports how many events fall before the cutoff.
func (s *Store) CountExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM audit_events WHERE occurred_at < $1`, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count expired audit events: %w", classify(err))
	}
	return n, nil
}

// DeleteExpired removes at most limit events older than the cutoff and
// returns how many rows were deleted. The purger calls this in a loop
// so a large backlog never turns into one long-running delete.
func (s *Store) DeleteExpired(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_events
		 WHERE ctid IN (
		     SELECT ctid FROM audit_events WHERE occurred_at < $1 LIMIT $2
		 )`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired audit events: %w", classify(err))
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired audit events: %w", err)
	}
	return deleted, nil
}

// classify maps driver failures that are worth retrying onto
// sentinel.ErrUnavailable so callers can back off instead of
// dead-lettering.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57": // connection, resource, operator intervention
			return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
		}
	}
	return err
}
