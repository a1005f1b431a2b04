package honeypot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/Rudd3r/honeymirror/pkg/domain"
	"github.com/Rudd3r/honeymirror/pkg/metrics"
	"github.com/Rudd3r/honeymirror/pkg/registry"
	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/time/rate"
)

type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateChannelOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateChannelOpen:
		return "channel-open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrAuthRejected     = errors.New("authentication rejected")
	ErrNotAuthenticated = errors.New("session is not authenticated")
	ErrUnknownChannel   = errors.New("unknown channel")
	ErrSessionClosed    = errors.New("session closed")
)

// Session is the handler for one accepted connection.
type Session struct {
	id       domain.SessionID
	conn     uuid.UUID
	remote   net.Addr
	log      *slog.Logger
	registry *registry.Registry
	auth     *Authorizer
	limiter  *rate.Limiter
	metrics  *metrics.Metrics

	fsOnce sync.Once
	fs     sftp.Handlers

	mu       sync.Mutex
	state    State
	channels map[domain.ChannelID]registry.Handle
}

func (s *Session) ID() domain.SessionID {
	return s.id
}

// ConnID is a random identifier used to correlate log lines across restarts.
func (s *Session) ConnID() uuid.UUID {
	return s.conn
}

func (s *Session) RemoteAddr() net.Addr {
	return s.remote
}

func (s *Session) Logger() *slog.Logger {
	return s.log
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Authenticate evaluates one credential attempt. A rejected attempt leaves the
// session authenticating and returns ErrAuthRejected.
func (s *Session) Authenticate(cred domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return ErrSessionClosed
	}
	if s.state == StateConnecting {
		s.state = StateAuthenticating
	}

	accepted := s.auth != nil && s.auth.Allow(cred)
	s.metrics.AuthAttempt(cred.Method, accepted)
	s.log.Info("authentication attempt",
		"user", cred.User,
		"method", cred.Method,
		"password", cred.Password,
		"key", cred.PublicKey,
		"accepted", accepted)

	if !accepted {
		return ErrAuthRejected
	}
	if s.state == StateAuthenticating {
		s.state = StateActive
	}
	return nil
}

// OpenChannel registers h as the write handle for channel ch.
func (s *Session) OpenChannel(ch domain.ChannelID, h registry.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateActive, StateChannelOpen:
	case StateClosed:
		return ErrSessionClosed
	default:
		return ErrNotAuthenticated
	}

	s.channels[ch] = h
	s.registry.Insert(s.key(ch), h)
	s.state = StateChannelOpen
	s.log.Info("channel registered", "channel", ch)
	return nil
}

// CloseChannel forgets channel ch and removes it from the registry.
func (s *Session) CloseChannel(ch domain.ChannelID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.channels[ch]; !ok {
		return
	}
	delete(s.channels, ch)
	s.registry.Remove(s.key(ch))
	if len(s.channels) == 0 && s.state == StateChannelOpen {
		s.state = StateActive
	}
	s.log.Info("channel closed", "channel", ch)
}

// Close removes every channel of the session from the registry. It is safe to
// call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	clear(s.channels)
	removed := s.registry.RemoveSession(s.id)
	s.metrics.SessionClosed()
	s.log.Info("session closed", "removed", removed)
}

// Data mirrors data received on ch to every other registered channel and then
// echoes it back on ch. Recipients that fail to take the write are skipped.
func (s *Session) Data(ctx context.Context, ch domain.ChannelID, data []byte) error {
	s.mu.Lock()
	own, ok := s.channels[ch]
	state := s.state
	s.mu.Unlock()

	if state == StateClosed {
		return ErrSessionClosed
	}
	if !ok {
		return ErrUnknownChannel
	}

	for len(data) > 0 {
		n := len(data)
		if s.limiter != nil {
			n = min(n, s.limiter.Burst())
			if err := s.limiter.WaitN(ctx, n); err != nil {
				return fmt.Errorf("broadcast throttled: %w", err)
			}
		}
		s.broadcast(ch, own, data[:n])
		data = data[n:]
	}
	return nil
}

func (s *Session) broadcast(ch domain.ChannelID, own registry.Handle, chunk []byte) {
	// The caller may reuse its buffer; recipients share this copy read-only.
	payload := bytes.Clone(chunk)

	delivered, dropped := 0, 0
	s.registry.ForEachOther(s.key(ch), func(key domain.ChannelKey, h registry.Handle) {
		if err := h.Send(payload); err != nil {
			dropped++
			s.metrics.Dropped()
			s.log.Debug("skipping recipient", "recipient", key.String(), "error", err)
			return
		}
		delivered++
		s.metrics.Delivered(len(payload))
	})

	if err := own.Send(payload); err != nil {
		s.log.Debug("echo failed", "channel", ch, "error", err)
	}
	s.log.Debug("broadcast", "channel", ch, "bytes", len(payload), "delivered", delivered, "dropped", dropped)
}

// Filesystem returns the in-memory filesystem served to this connection over
// SFTP. It is created on first use and never shared with other sessions.
func (s *Session) Filesystem() sftp.Handlers {
	s.fsOnce.Do(func() {
		s.fs = sftp.InMemHandler()
	})
	return s.fs
}

func (s *Session) key(ch domain.ChannelID) domain.ChannelKey {
	return domain.ChannelKey{Session: s.id, Channel: ch}
}
