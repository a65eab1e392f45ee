package registry

import "sync"

// Domain selects one of the two independent membership domains.
type Domain int

const (
	// DomainMarket holds market topics keyed by CLOB token id.
	DomainMarket Domain = iota

	// DomainComment holds comment topics keyed by event id.
	DomainComment
)

// String returns the domain name used in logs.
func (d Domain) String() string {
	switch d {
	case DomainMarket:
		return "market"
	case DomainComment:
		return "comment"
	default:
		return "unknown"
	}
}

// domainState holds one domain's mutually consistent membership maps.
type domainState struct {
	// Topic -> set of subscribed client ids.
	subscribers map[string]map[int64]struct{}

	// Client id -> set of subscribed topics.
	topics map[int64]map[string]struct{}
}

func newDomainState() *domainState {
	return &domainState{
		subscribers: make(map[string]map[int64]struct{}),
		topics:      make(map[int64]map[string]struct{}),
	}
}

// Registry is the shared topic membership store. Construct with New; the
// zero value is not usable.
type Registry struct {
	mu      sync.RWMutex
	domains [2]*domainState
}

// New returns an empty registry covering both domains.
func New() *Registry {
	return &Registry{
		domains: [2]*domainState{newDomainState(), newDomainState()},
	}
}

// Subscribe adds the client to the topic. It returns true exactly on the
// call that produced the topic's first subscriber. Duplicate subscribes are
// idempotent: the second call changes nothing and returns false.
func (r *Registry) Subscribe(clientID int64, topic string, d Domain) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.domains[d]

	subs, ok := s.subscribers[topic]
	if !ok {
		subs = make(map[int64]struct{})
		s.subscribers[topic] = subs
		first = true
	}
	subs[clientID] = struct{}{}

	tops, ok := s.topics[clientID]
	if !ok {
		tops = make(map[string]struct{})
		s.topics[clientID] = tops
	}
	tops[topic] = struct{}{}

	return first
}

// Unsubscribe removes the client from the topic. It returns true exactly on
// the call that removed the topic's last subscriber. Unsubscribing a
// non-member is a no-op returning false.
func (r *Registry) Unsubscribe(clientID int64, topic string, d Domain) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.unsubscribeLocked(clientID, topic, d)
}

// unsubscribeLocked removes one membership (caller must hold the write lock).
func (r *Registry) unsubscribeLocked(clientID int64, topic string, d Domain) (last bool) {
	s := r.domains[d]

	subs, ok := s.subscribers[topic]
	if !ok {
		return false
	}
	if _, member := subs[clientID]; !member {
		return false
	}

	delete(subs, clientID)
	if len(subs) == 0 {
		delete(s.subscribers, topic)
		last = true
	}

	if tops, ok := s.topics[clientID]; ok {
		delete(tops, topic)
		if len(tops) == 0 {
			delete(s.topics, clientID)
		}
	}

	return last
}

// RemoveClient removes the client from every topic in both domains and
// returns, per domain, the topics this call emptied. Callers use the result
// to tear down upstream connections that lost their final subscriber.
func (r *Registry) RemoveClient(clientID int64) map[Domain][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	emptied := make(map[Domain][]string)
	for d := DomainMarket; d <= DomainComment; d++ {
		tops, ok := r.domains[d].topics[clientID]
		if !ok {
			continue
		}
		for topic := range tops {
			if r.unsubscribeLocked(clientID, topic, d) {
				emptied[d] = append(emptied[d], topic)
			}
		}
	}
	return emptied
}

// SubscribersOf returns a snapshot of the topic's current subscribers.
// The returned slice is the caller's to keep.
func (r *Registry) SubscribersOf(topic string, d Domain) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs, ok := r.domains[d].subscribers[topic]
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(subs))
	for id := range subs {
		out = append(out, id)
	}
	return out
}

// TopicsOf returns a snapshot of the topics the client is subscribed to in
// the given domain.
func (r *Registry) TopicsOf(clientID int64, d Domain) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tops, ok := r.domains[d].topics[clientID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(tops))
	for topic := range tops {
		out = append(out, topic)
	}
	return out
}

// Topics returns a snapshot of every active topic in the given domain.
func (r *Registry) Topics(d Domain) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.domains[d]
	out := make([]string, 0, len(s.subscribers))
	for topic := range s.subscribers {
		out = append(out, topic)
	}
	return out
}

// SubscriberCount returns the number of subscribers of one topic.
func (r *Registry) SubscriberCount(topic string, d Domain) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.domains[d].subscribers[topic])
}

// Counts reports distinct clients holding at least one subscription and the
// number of active topics per domain.
func (r *Registry) Counts() (clients, marketTopics, commentTopics int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[int64]struct{})
	for _, s := range r.domains {
		for id := range s.topics {
			seen[id] = struct{}{}
		}
	}
	return len(seen), len(r.domains[DomainMarket].subscribers), len(r.domains[DomainComment].subscribers)
}
