// Package honeypot implements the shared decoy terminal: a dispatcher that
// hands out session identities and the per-connection handler that mirrors
// everything a party types to every other registered channel.
package honeypot

import (
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/Rudd3r/honeymirror/pkg/domain"
	"github.com/Rudd3r/honeymirror/pkg/metrics"
	"github.com/Rudd3r/honeymirror/pkg/registry"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type Options struct {
	Authorizer *Authorizer
	// BroadcastRate limits broadcast bytes per second per session, zero is unlimited.
	BroadcastRate  float64
	BroadcastBurst int
	Metrics        *metrics.Metrics
}

// Dispatcher creates a Session for every accepted connection. All sessions it
// creates share one registry.
type Dispatcher struct {
	log      *slog.Logger
	registry *registry.Registry
	opts     Options
	nextID   atomic.Uint64
}

func NewDispatcher(log *slog.Logger, reg *registry.Registry, opts Options) *Dispatcher {
	d := &Dispatcher{
		log:      log,
		registry: reg,
		opts:     opts,
	}
	opts.Metrics.ObserveRegistry(reg.Len)
	reg.OnEvict(func(key domain.ChannelKey) {
		d.log.Info("evicted channel from registry", "session", key.Session, "channel", key.Channel)
		d.opts.Metrics.Evicted()
	})
	return d
}

func (d *Dispatcher) Registry() *registry.Registry {
	return d.registry
}

// NewSession allocates the next session id and returns a handler bound to the
// shared registry. remote may be nil.
func (d *Dispatcher) NewSession(remote net.Addr) *Session {
	id := domain.SessionID(d.nextID.Add(1))
	conn := uuid.New()

	log := d.log.With("session", uint64(id), "conn", conn.String())
	if remote != nil {
		log = log.With("remote", remote.String())
	}

	var limiter *rate.Limiter
	if d.opts.BroadcastRate > 0 {
		burst := d.opts.BroadcastBurst
		if burst < 1 {
			burst = max(1, int(d.opts.BroadcastRate))
		}
		limiter = rate.NewLimiter(rate.Limit(d.opts.BroadcastRate), burst)
	}

	d.opts.Metrics.SessionOpened()
	log.Info("new session")

	return &Session{
		id:       id,
		conn:     conn,
		remote:   remote,
		log:      log,
		registry: d.registry,
		auth:     d.opts.Authorizer,
		limiter:  limiter,
		metrics:  d.opts.Metrics,
		state:    StateConnecting,
		channels: make(map[domain.ChannelID]registry.Handle),
	}
}
