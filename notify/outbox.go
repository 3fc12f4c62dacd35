package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Outbox collects the events of one unit of work and publishes them only after
// the transaction commits. It plugs into a unit of work as a participant.
type Outbox struct {
	mu     sync.Mutex
	pub    Publisher
	events []Event
	logger *zap.Logger
}

func NewOutbox(pub Publisher, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Outbox{pub: pub, logger: logger}
}

// Stage queues ev for publication on commit.
func (o *Outbox) Stage(ev Event) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()
}

// OnCommit publishes the staged events. Failures only delay other processes.
func (o *Outbox) OnCommit() {
	o.mu.Lock()
	events := o.events
	o.events = nil
	o.mu.Unlock()

	ctx := context.Background()
	for _, ev := range events {
		if err := o.pub.Publish(ctx, ev); err != nil {
			o.logger.Warn("publish change notification",
				zap.String("table", ev.Table),
				zap.Stringer("id", ev.ID),
				zap.Error(err),
			)
		}
	}
}

func (o *Outbox) OnRollback() {
	o.mu.Lock()
	o.events = nil
	o.mu.Unlock()
}
