// Package registry holds the bounded, shared map from a session channel to the
// handle used to write into it.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Rudd3r/honeymirror/pkg/domain"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Handle pushes raw bytes into one channel's outbound stream. Implementations
// must be safe for concurrent use and must not block on network I/O.
type Handle interface {
	Send(data []byte) error
}

var ErrInvalidCapacity = errors.New("registry capacity must be at least 1")

// Registry is a mutex guarded LRU of channel handles. It never holds more than
// its capacity; inserting a new key into a full registry evicts the least
// recently used entry. Evicted handles are only dropped, the channel behind
// them is left to the transport.
type Registry struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[domain.ChannelKey, Handle]
	capacity int
	onEvict []func(key domain.ChannelKey)
	evicted []domain.ChannelKey
}

func New(capacity int) (*Registry, error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	r := &Registry{capacity: capacity}
	lru, err := simplelru.NewLRU[domain.ChannelKey, Handle](capacity, r.evict)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	r.lru = lru
	return r, nil
}

// OnEvict registers f to be called, outside the lock, for every entry dropped
// to make room for a new one. Explicit removals do not trigger it.
func (r *Registry) OnEvict(f func(key domain.ChannelKey)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = append(r.onEvict, f)
}

// evict runs under r.mu from inside the lru.
func (r *Registry) evict(key domain.ChannelKey, _ Handle) {
	r.evicted = append(r.evicted, key)
}

// Insert adds or replaces the handle for key. It always succeeds.
func (r *Registry) Insert(key domain.ChannelKey, h Handle) {
	r.mu.Lock()
	r.lru.Add(key, h)
	evicted, hooks := r.takeEvicted()
	r.mu.Unlock()

	for _, k := range evicted {
		for _, f := range hooks {
			f(k)
		}
	}
}

func (r *Registry) takeEvicted() ([]domain.ChannelKey, []func(domain.ChannelKey)) {
	if len(r.evicted) == 0 {
		return nil, nil
	}
	evicted := r.evicted
	r.evicted = nil
	return evicted, r.onEvict
}

// Remove deletes key if present. Removal is not an eviction.
func (r *Registry) Remove(key domain.ChannelKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(key)
}

func (r *Registry) removeLocked(key domain.ChannelKey) bool {
	// simplelru.Remove fires the eviction callback, drop what it recorded.
	ok := r.lru.Remove(key)
	r.evicted = r.evicted[:0]
	return ok
}

// RemoveSession deletes every channel registered by session id and returns how
// many entries were removed.
func (r *Registry) RemoveSession(id domain.SessionID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, key := range r.lru.Keys() {
		if key.Session == id && r.removeLocked(key) {
			n++
		}
	}
	return n
}

// ForEachOther calls fn with every registered handle whose key is not exclude.
// Entries are copied out under the lock and fn runs after it is released, so
// fn may block without stalling other sessions. The excluded key, if present,
// is marked as recently used; recipients are not.
func (r *Registry) ForEachOther(exclude domain.ChannelKey, fn func(key domain.ChannelKey, h Handle)) {
	type entry struct {
		key    domain.ChannelKey
		handle Handle
	}

	r.mu.Lock()
	r.lru.Get(exclude)
	keys := r.lru.Keys()
	entries := make([]entry, 0, len(keys))
	for _, key := range keys {
		if key == exclude {
			continue
		}
		if h, ok := r.lru.Peek(key); ok {
			entries = append(entries, entry{key: key, handle: h})
		}
	}
	r.mu.Unlock()

	for _, e := range entries {
		fn(e.key, e.handle)
	}
}

func (r *Registry) Contains(key domain.ChannelKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Contains(key)
}

// Keys returns the registered keys from least to most recently used.
func (r *Registry) Keys() []domain.ChannelKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Keys()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lru.Len()
}

func (r *Registry) Cap() int {
	return r.capacity
}
