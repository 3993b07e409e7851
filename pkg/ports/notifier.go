package ports

import (
	"context"
	"time"
)

// Notification is an asynchronous escalation message: advisory fan-out for
// level 1, alerts for levels 2 and 3.
type Notification struct {
	RunID     string    `json:"run_id"`
	Level     int       `json:"level"`
	Action    string    `json:"action"`
	Message   string    `json:"message"`
	Health    float64   `json:"health"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier fans escalation notifications out to an external channel.
// Delivery failures are logged by callers, never fatal to a run.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
