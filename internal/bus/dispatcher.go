package bus

import (
	"context"

	"github.com/richardliu001/eventkernel/internal/es"
)

// Dispatcher hands freshly committed events to a local publisher.
type Dispatcher struct {
	publisher Publisher
}

// NewDispatcher accepts a nil publisher, in which case Dispatch only marks
// aggregates committed.
func NewDispatcher(p Publisher) *Dispatcher {
	return &Dispatcher{publisher: p}
}

// Dispatch takes the pending events of every aggregate and marks each one
// committed before publishing anything, so a retried commit cannot dispatch
// the same events twice. Events go out in aggregate-then-event order; the
// first publish error is returned to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, aggs ...es.Aggregate) error {
	var pending []es.Event
	for _, agg := range aggs {
		pending = append(pending, agg.Changes()...)
		agg.MarkCommitted()
	}
	if d == nil || d.publisher == nil {
		return nil
	}
	for _, evt := range pending {
		if err := d.publisher.Publish(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}
