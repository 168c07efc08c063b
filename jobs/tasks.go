package jobs

import "github.com/google/uuid"

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
)

// newRunID tags a scheduled task instance so worker log lines from one run
// can be correlated.
func newRunID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return "unknown"
	}
	return id.String()
}
