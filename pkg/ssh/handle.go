package ssh

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrQueueFull    = errors.New("channel write queue is full")
	ErrHandleClosed = errors.New("channel handle is closed")
)

const handleFlushTimeout = time.Second

// channelHandle is the registry handle for one SSH channel. Send only
// enqueues; a single goroutine performs the channel writes in order, so a slow
// peer never blocks the session that is broadcasting to it. Writes queued
// before Start are held back until the client asks for a terminal.
type channelHandle struct {
	w     io.Writer
	queue chan []byte

	start     chan struct{}
	startOnce sync.Once

	done     chan struct{}
	doneOnce sync.Once
	discard  atomic.Bool
	stopped  chan struct{}
}

func newChannelHandle(w io.Writer, depth int) *channelHandle {
	h := &channelHandle{
		w:       w,
		queue:   make(chan []byte, depth),
		start:   make(chan struct{}),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *channelHandle) Send(data []byte) error {
	select {
	case <-h.done:
		return ErrHandleClosed
	default:
	}
	select {
	case h.queue <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start lets queued writes through to the channel.
func (h *channelHandle) Start() {
	h.startOnce.Do(func() { close(h.start) })
}

// Close stops accepting writes and gives the writer a short time to flush
// what is already queued. A writer stuck on the peer is left to fail when the
// channel itself is closed.
func (h *channelHandle) Close() {
	h.shutdown()
	h.wait()
}

func (h *channelHandle) wait() {
	select {
	case <-h.stopped:
	case <-time.After(handleFlushTimeout):
	}
}

// Abort stops the writer and drops anything still queued. Like Close, it does
// not wait past handleFlushTimeout for a write stuck on the peer.
func (h *channelHandle) Abort() {
	h.discard.Store(true)
	h.shutdown()
	h.wait()
}

func (h *channelHandle) shutdown() {
	h.doneOnce.Do(func() { close(h.done) })
}

func (h *channelHandle) run() {
	defer close(h.stopped)

	select {
	case <-h.start:
	case <-h.done:
		return
	}

	for {
		select {
		case <-h.done:
			h.flush()
			return
		case data := <-h.queue:
			if _, err := h.w.Write(data); err != nil {
				h.shutdown()
				return
			}
		}
	}
}

func (h *channelHandle) flush() {
	for !h.discard.Load() {
		select {
		case data := <-h.queue:
			if _, err := h.w.Write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}
