package audit

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxoptima/rxoptima/internal/shared"
)

const timelineQuery = `SELECT occurred_at, action, entity, entity_id, meta
FROM audit_logs
WHERE actor_id = $1
  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
  AND ($3::timestamptz IS NULL OR occurred_at < $3)
  AND ($4::text IS NULL OR action = $4)
ORDER BY occurred_at DESC, id DESC`

// PGRepository reads audit_logs written by shared.AuditLogger.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a PostgreSQL-backed repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Window implements Repository.
func (r *PGRepository) Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, timelineQuery+` OFFSET $5 LIMIT $6`, append(filterArgs(filters), offset, limit)...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

// All implements Repository.
func (r *PGRepository) All(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, timelineQuery, filterArgs(filters)...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

func collectRows(rows pgx.Rows) ([]TimelineRow, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var out TimelineRow
		err := row.Scan(&out.At, &out.Action, &out.Entity, &out.EntityID, &out.Meta)
		return out, err
	})
}

func filterArgs(filters TimelineFilters) []any {
	return []any{filters.Actor, toPgTime(filters.From), toPgTime(filters.To), optionalText(filters.Action)}
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}

// MemoryLog records and serves the audit trail in memory for the memory
// store driver and tests.
type MemoryLog struct {
	mu   sync.Mutex
	logs []shared.AuditLog
	now  func() time.Time
}

var (
	_ Repository           = (*MemoryLog)(nil)
	_ shared.AuditRecorder = (*MemoryLog)(nil)
)

// NewMemoryLog returns an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{now: func() time.Time { return time.Now().UTC() }}
}

// Record implements shared.AuditRecorder.
func (m *MemoryLog) Record(_ context.Context, log shared.AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	if log.At.IsZero() {
		log.At = m.now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

// Window implements Repository.
func (m *MemoryLog) Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	all, err := m.All(ctx, filters)
	if err != nil {
		return nil, err
	}
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// All implements Repository.
func (m *MemoryLog) All(_ context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	action := strings.TrimSpace(filters.Action)
	out := make([]TimelineRow, 0, len(m.logs))
	// Newest first; ties keep the later record first.
	for _, log := range slices.Backward(m.logs) {
		if log.ActorID != filters.Actor {
			continue
		}
		if !filters.From.IsZero() && log.At.Before(filters.From) {
			continue
		}
		if !filters.To.IsZero() && !log.At.Before(filters.To) {
			continue
		}
		if action != "" && log.Action != action {
			continue
		}
		out = append(out, TimelineRow{At: log.At, Action: log.Action, Entity: log.Entity, EntityID: log.EntityID, Meta: log.Meta})
	}
	slices.SortStableFunc(out, func(a, b TimelineRow) int { return b.At.Compare(a.At) })
	return out, nil
}
