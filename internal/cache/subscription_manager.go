package cache

import (
	"sort"
	"sync"

	"github.com/kingsmao/exchange-adapter/pkg/interfaces"
)

type subscription struct {
	id        int64
	confirmed bool
}

type pendingRequest struct {
	stream      string
	unsubscribe bool
}

// SubscriptionManagerImpl implements SubscriptionManager interface
type SubscriptionManagerImpl struct {
	mu sync.RWMutex

	nextID int64
	// stream name -> subscription
	streams map[string]*subscription
	// correlation id -> request awaiting a reply
	pending map[int64]pendingRequest
}

// NewSubscriptionManager creates a new subscription manager
func NewSubscriptionManager() interfaces.SubscriptionManager {
	return &SubscriptionManagerImpl{
		streams: make(map[string]*subscription),
		pending: make(map[int64]pendingRequest),
	}
}

func (sm *SubscriptionManagerImpl) allocID() int64 {
	sm.nextID++
	return sm.nextID
}

// Subscribe registers stream as pending and returns its correlation id
func (sm *SubscriptionManagerImpl) Subscribe(stream string) (int64, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sub, exists := sm.streams[stream]; exists {
		return sub.id, false
	}
	id := sm.allocID()
	sm.streams[stream] = &subscription{id: id}
	sm.pending[id] = pendingRequest{stream: stream}
	return id, true
}

// Unsubscribe drops stream and allocates the id for the UNSUBSCRIBE request
func (sm *SubscriptionManagerImpl) Unsubscribe(stream string) (int64, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sub, exists := sm.streams[stream]
	if !exists {
		return 0, false
	}
	delete(sm.streams, stream)
	delete(sm.pending, sub.id)

	id := sm.allocID()
	sm.pending[id] = pendingRequest{stream: stream, unsubscribe: true}
	return id, true
}

// Resolve handles a successful reply for id
func (sm *SubscriptionManagerImpl) Resolve(id int64) (string, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	req, ok := sm.pending[id]
	if !ok {
		return "", false
	}
	delete(sm.pending, id)
	if !req.unsubscribe {
		if sub, exists := sm.streams[req.stream]; exists && sub.id == id {
			sub.confirmed = true
		}
	}
	return req.stream, true
}

// Fail handles an error reply for id; only the subscription behind id is dropped
func (sm *SubscriptionManagerImpl) Fail(id int64) (string, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if req, ok := sm.pending[id]; ok {
		delete(sm.pending, id)
		if sub, exists := sm.streams[req.stream]; exists && sub.id == id {
			delete(sm.streams, req.stream)
		}
		return req.stream, true
	}
	// 已确认的订阅也可能在之后收到错误
	for stream, sub := range sm.streams {
		if sub.id == id {
			delete(sm.streams, stream)
			return stream, true
		}
	}
	return "", false
}

// IsConfirmed reports whether stream has been acknowledged
func (sm *SubscriptionManagerImpl) IsConfirmed(stream string) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sub, exists := sm.streams[stream]
	return exists && sub.confirmed
}

// Streams returns all tracked streams sorted
func (sm *SubscriptionManagerImpl) Streams() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	streams := make([]string, 0, len(sm.streams))
	for stream := range sm.streams {
		streams = append(streams, stream)
	}
	sort.Strings(streams)
	return streams
}

// ClearAll clears all subscriptions
func (sm *SubscriptionManagerImpl) ClearAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.streams = make(map[string]*subscription)
	sm.pending = make(map[int64]pendingRequest)
}
