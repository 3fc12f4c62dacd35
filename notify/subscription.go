package notify

import (
	"context"
	"sort"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
)

// Handler applies a committed change to a process-local cache.
type Handler interface {
	Apply(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) Apply(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Resyncer is implemented by handlers that can rebuild their cache from scratch
// after notifications may have been lost.
type Resyncer interface {
	Resync(ctx context.Context) error
}

// Notification is what a Source delivers: either a raw payload or a request to
// resync because the transport may have dropped events.
type Notification struct {
	Payload string
	Resync  bool
}

// Source is a stream of notifications, typically a LISTEN connection.
type Source interface {
	Notifications() <-chan Notification
	Close() error
}

// Stats counts what a Subscription has processed.
type Stats struct {
	Received int64 `json:"received"`
	Applied  int64 `json:"applied"`
	Failed   int64 `json:"failed"`
	Dropped  int64 `json:"dropped"`
	Resyncs  int64 `json:"resyncs"`
}

type registration struct {
	name    string
	handler Handler
}

// Subscription routes change events to the handlers registered per table.
// Handlers are registered once at startup.
type Subscription struct {
	mu       sync.RWMutex
	handlers map[string][]registration
	names    map[string]string
	logger   *zap.Logger

	received *xsync.Counter
	applied  *xsync.Counter
	failed   *xsync.Counter
	dropped  *xsync.Counter
	resyncs  *xsync.Counter
}

func NewSubscription(logger *zap.Logger) *Subscription {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscription{
		handlers: make(map[string][]registration),
		names:    make(map[string]string),
		logger:   logger.Named("notify"),
		received: xsync.NewCounter(),
		applied:  xsync.NewCounter(),
		failed:   xsync.NewCounter(),
		dropped:  xsync.NewCounter(),
		resyncs:  xsync.NewCounter(),
	}
}

// Register attaches handler to table under a process-unique name.
func (s *Subscription) Register(table, name string, handler Handler) error {
	if table == "" || name == "" || handler == nil {
		return dataerr.Validation("register handler: table, name and handler are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.names[name]; ok {
		return dataerr.Validation("handler %q already registered for table %q", name, existing)
	}
	s.names[name] = table
	s.handlers[table] = append(s.handlers[table], registration{name: name, handler: handler})
	s.logger.Debug("handler registered", zap.String("table", table), zap.String("handler", name))
	return nil
}

// Tables lists the tables with at least one handler, sorted.
func (s *Subscription) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tables := make([]string, 0, len(s.handlers))
	for table := range s.handlers {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}

// Dispatch hands ev to every handler of its table. Handler failures are logged
// and counted; they only leave that cache stale.
func (s *Subscription) Dispatch(ctx context.Context, ev Event) {
	s.received.Inc()

	s.mu.RLock()
	regs := s.handlers[ev.Table]
	s.mu.RUnlock()

	if len(regs) == 0 {
		s.dropped.Inc()
		return
	}

	for _, reg := range regs {
		if err := reg.handler.Apply(ctx, ev); err != nil {
			s.failed.Inc()
			s.logger.Warn("change handler failed",
				zap.String("handler", reg.name),
				zap.String("table", ev.Table),
				zap.String("op", string(ev.Op)),
				zap.Stringer("id", ev.ID),
				zap.Error(err),
			)
			continue
		}
		s.applied.Inc()
	}
}

// Resync asks every handler that supports it to rebuild its cache.
func (s *Subscription) Resync(ctx context.Context) {
	s.resyncs.Inc()

	s.mu.RLock()
	var regs []registration
	for _, list := range s.handlers {
		regs = append(regs, list...)
	}
	s.mu.RUnlock()

	for _, reg := range regs {
		r, ok := reg.handler.(Resyncer)
		if !ok {
			continue
		}
		if err := r.Resync(ctx); err != nil {
			s.failed.Inc()
			s.logger.Warn("resync failed", zap.String("handler", reg.name), zap.Error(err))
		}
	}
	s.logger.Info("caches resynced", zap.Int("handlers", len(regs)))
}

// Run consumes src until ctx is done or the source closes its channel.
func (s *Subscription) Run(ctx context.Context, src Source) error {
	ch := src.Notifications()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, n)
		}
	}
}

func (s *Subscription) handle(ctx context.Context, n Notification) {
	if n.Resync {
		s.Resync(ctx)
		return
	}

	ev, err := Decode(n.Payload)
	if err != nil {
		s.received.Inc()
		s.dropped.Inc()
		s.logger.Warn("malformed change notification", zap.String("payload", n.Payload), zap.Error(err))
		return
	}
	s.Dispatch(ctx, ev)
}

func (s *Subscription) Stats() Stats {
	return Stats{
		Received: s.received.Value(),
		Applied:  s.applied.Value(),
		Failed:   s.failed.Value(),
		Dropped:  s.dropped.Value(),
		Resyncs:  s.resyncs.Value(),
	}
}
