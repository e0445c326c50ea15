// Package catalog reads the event service's tables. Events and event dates
// are owned elsewhere; nothing here writes them.
package catalog

import (
	"context"
	"fmt"
	"time"

	"ms-ticketing-engine/internal/models"

	"github.com/uptrace/bun"
)

type Catalog struct {
	db bun.IDB
}

func New(db bun.IDB) *Catalog {
	return &Catalog{db: db}
}

// EventStatuses returns the status of every listed event that exists.
func (c *Catalog) EventStatuses(ctx context.Context, eventIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(eventIDs))
	if len(eventIDs) == 0 {
		return out, nil
	}

	var events []models.Event
	err := c.db.NewSelect().
		Model(&events).
		Column("id", "status").
		Where("id IN (?)", bun.In(eventIDs)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load event statuses: %w", err)
	}
	for _, e := range events {
		out[e.ID] = e.Status
	}
	return out, nil
}

// EndedEventDates selects the ids of event dates whose end boundary is
// before now. It is meant to be embedded as a subquery.
func (c *Catalog) EndedEventDates(now time.Time) *bun.SelectQuery {
	return c.db.NewSelect().
		Model((*models.EventDate)(nil)).
		Column("id").
		Where("end_at < ?", now)
}

// EndedEvents selects the ids of events whose end time is before now.
func (c *Catalog) EndedEvents(now time.Time) *bun.SelectQuery {
	return c.db.NewSelect().
		Model((*models.Event)(nil)).
		Column("id").
		Where("end_time < ?", now)
}
