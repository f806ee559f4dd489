package caldav

import "time"

// Event is one agenda entry to publish. RRule carries the iCalendar recurrence
// text (e.g. "FREQ=WEEKLY;BYDAY=MO,WE") so the remote calendar expands the
// series itself.
type Event struct {
	UID         string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	RRule       string
}
