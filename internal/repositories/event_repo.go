package repositories

import (
	"context"

	"github.com/google/uuid"
)

// EventRepository exposes the tenant-owned event records the core reports on.
type EventRepository interface {
	CountByStatus(ctx context.Context, tenantID uuid.UUID) (map[string]int, error)
}

type eventRepo struct {
	db DB
}

func NewEventRepo(db DB) EventRepository {
	return &eventRepo{db: db}
}

func (r *eventRepo) CountByStatus(ctx context.Context, tenantID uuid.UUID) (map[string]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM events
		WHERE tenant_id = $1
		GROUP BY status
	`
	rows, err := conn(ctx, r.db).Query(ctx, query, tenantID)
	if err != nil {
		return nil, storeError(err, "count events")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, storeError(err, "scan event count")
		}
		counts[status] = int(count)
	}
	return counts, storeError(rows.Err(), "count events")
}
