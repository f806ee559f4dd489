package domain

import "time"

// Reminder is a recurring user notification. NextRun is precomputed from the
// rule so the scheduler can find due reminders with a single indexed query.
type Reminder struct {
	ID        int64
	UserID    int64
	Title     string
	Notes     string
	Rule      RecurrenceRule
	IsActive  bool
	LastSent  *time.Time
	NextRun   *time.Time
	CreatedAt time.Time
}
