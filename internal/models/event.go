package models

import (
	"time"

	"github.com/uptrace/bun"
)

const EventStatusApproved = "approved"

// Event is owned by the event service. The engine only reads it for the
// approval check and post-event ticket expiry.
type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID        string    `bun:"id,pk" json:"id"`
	Title     string    `bun:"title" json:"title"`
	Status    string    `bun:"status" json:"status"`
	StartTime time.Time `bun:"start_time" json:"start_time"`
	EndTime   time.Time `bun:"end_time" json:"end_time"`
}

type EventDate struct {
	bun.BaseModel `bun:"table:event_dates"`

	ID      string    `bun:"id,pk" json:"id"`
	EventID string    `bun:"event_id" json:"event_id"`
	StartAt time.Time `bun:"start_at" json:"start_at"`
	EndAt   time.Time `bun:"end_at" json:"end_at"`
}
