package audit

import "context"

// Store persists audit events. Error Contract: Append returns nil on success
// and a wrapped error for infrastructure failures.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subjectID string) ([]Event, error)
}
