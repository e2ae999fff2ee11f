package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"longscribe/internal/stitch"
)

// Job statuses reported to downstream systems
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Event describes the outcome of a stitched job
type Event struct {
	JobID   string            `json:"job_id"`
	Status  string            `json:"status"`
	Outputs map[string]string `json:"outputs"`
	Meta    stitch.MergeStats `json:"meta"`
}

// Notifier delivers job outcome events
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Nop discards every event
type Nop struct{}

// Notify does nothing
func (Nop) Notify(context.Context, Event) error { return nil }

// Multi fans an event out to several notifiers, attempting all of them
type Multi []Notifier

// Notify delivers event to every notifier and joins their errors
func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BestEffort logs delivery failures instead of returning them
type BestEffort struct {
	Notifier Notifier
	Logger   *zap.Logger
}

// Notify delivers event and always returns nil
func (b BestEffort) Notify(ctx context.Context, event Event) error {
	if b.Notifier == nil {
		return nil
	}
	if err := b.Notifier.Notify(ctx, event); err != nil {
		b.Logger.Warn("job notification failed",
			zap.String("job_id", event.JobID),
			zap.String("status", event.Status),
			zap.Error(err))
	}
	return nil
}
