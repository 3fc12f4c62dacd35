package notify

import (
	"context"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/lib/pq"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
)

// PQConfig configures a Postgres LISTEN connection.
type PQConfig struct {
	DSN                  string        `mapstructure:"dsn"`
	Channel              string        `mapstructure:"channel"`
	MinReconnectInterval time.Duration `mapstructure:"min_reconnect_interval"`
	MaxReconnectInterval time.Duration `mapstructure:"max_reconnect_interval"`
	PingInterval         time.Duration `mapstructure:"ping_interval"`
	Buffer               int           `mapstructure:"buffer"`
}

// DefaultChannel is the channel the installed triggers notify on.
const DefaultChannel = "ledger_changes"

func DefaultPQConfig() PQConfig {
	return PQConfig{
		Channel:              DefaultChannel,
		MinReconnectInterval: 10 * time.Second,
		MaxReconnectInterval: time.Minute,
		PingInterval:         90 * time.Second,
		Buffer:               256,
	}
}

func (c PQConfig) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.Channel, validation.Required, validation.Match(identRe)),
		validation.Field(&c.MinReconnectInterval, validation.Required),
		validation.Field(&c.MaxReconnectInterval, validation.Required, validation.Min(c.MinReconnectInterval)),
		validation.Field(&c.PingInterval, validation.Required),
		validation.Field(&c.Buffer, validation.Min(0)),
	)
	return dataerr.FromValidation(err, "invalid listener config")
}

// PQSource listens on a Postgres channel through lib/pq. A dropped and
// re-established connection is reported as a resync notification.
type PQSource struct {
	listener *pq.Listener
	out      chan Notification
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// NewPQSource connects and starts listening on cfg.Channel.
func NewPQSource(cfg PQConfig, logger *zap.Logger) (*PQSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("pq").With(zap.String("channel", cfg.Channel))

	listener := pq.NewListener(cfg.DSN, cfg.MinReconnectInterval, cfg.MaxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventConnected:
				logger.Info("listener connected")
			case pq.ListenerEventDisconnected:
				logger.Warn("listener disconnected", zap.Error(err))
			case pq.ListenerEventReconnected:
				logger.Info("listener reconnected")
			case pq.ListenerEventConnectionAttemptFailed:
				logger.Warn("listener connection attempt failed", zap.Error(err))
			}
		})

	if err := listener.Listen(cfg.Channel); err != nil {
		_ = listener.Close()
		return nil, dataerr.Database(err, "listen on %s", cfg.Channel)
	}

	s := &PQSource{
		listener: listener,
		out:      make(chan Notification, cfg.Buffer),
		done:     make(chan struct{}),
		logger:   logger,
	}
	s.wg.Add(1)
	go s.forward(cfg.PingInterval)
	return s, nil
}

func (s *PQSource) Notifications() <-chan Notification { return s.out }

func (s *PQSource) forward(pingInterval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			go func() {
				if err := s.listener.Ping(); err != nil {
					s.logger.Debug("listener ping failed", zap.Error(err))
				}
			}()
		case n, ok := <-s.listener.Notify:
			if !ok {
				return
			}
			out := Notification{Resync: true}
			if n != nil {
				out = Notification{Payload: n.Extra}
			}
			select {
			case s.out <- out:
			case <-s.done:
				return
			}
		}
	}
}

// Close stops listening and closes the notification channel.
func (s *PQSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.listener.Close()
		s.wg.Wait()
		close(s.out)
	})
	if err != nil {
		return dataerr.Database(err, "close listener")
	}
	return nil
}

// PQPublisher emits events with pg_notify, for tables without triggers.
type PQPublisher struct {
	db      bun.IDB
	channel string
}

func NewPQPublisher(db bun.IDB, channel string) *PQPublisher {
	return &PQPublisher{db: db, channel: channel}
}

func (p *PQPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := ev.Encode()
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, "SELECT pg_notify(?, ?)", p.channel, payload); err != nil {
		return dataerr.Database(err, "pg_notify %s", p.channel)
	}
	return nil
}
