package registry

import (
	"errors"
	"sync"

	"github.com/adwski/waypoint/backend/model"
)

var (
	ErrUnknownPeer = errors.New("peer is not registered")
)

// State is the relay role of one connection. A connection may advertise one
// code and subscribe to any number of codes at the same time.
type State struct {
	Advertising   string
	Subscriptions map[string]struct{}
}

func (s State) Idle() bool {
	return s.Advertising == "" && len(s.Subscriptions) == 0
}

// Registry tracks live relay connections and their state.
type Registry struct {
	mx    *sync.Mutex
	peers map[*model.Peer]*State
}

func New() *Registry {
	return &Registry{
		mx:    &sync.Mutex{},
		peers: make(map[*model.Peer]*State),
	}
}

func (r *Registry) Register(peer *model.Peer) {
	r.mx.Lock()
	defer r.mx.Unlock()

	if _, ok := r.peers[peer]; !ok {
		r.peers[peer] = &State{Subscriptions: make(map[string]struct{})}
	}
}

// Unregister forgets peer and returns its last state.
func (r *Registry) Unregister(peer *model.Peer) (State, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	st, ok := r.peers[peer]
	if !ok {
		return State{}, ErrUnknownPeer
	}
	delete(r.peers, peer)
	return *st, nil
}

// SetAdvertising makes code the current advertising code of peer
// and returns the one it replaced.
func (r *Registry) SetAdvertising(peer *model.Peer, code string) (string, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	st, ok := r.peers[peer]
	if !ok {
		return "", ErrUnknownPeer
	}
	prev := st.Advertising
	st.Advertising = code
	return prev, nil
}

// Advertising returns the current advertising code of peer, empty if there is none.
func (r *Registry) Advertising(peer *model.Peer) string {
	r.mx.Lock()
	defer r.mx.Unlock()

	if st, ok := r.peers[peer]; ok {
		return st.Advertising
	}
	return ""
}

// Advertised reports whether any live peer advertises code.
func (r *Registry) Advertised(code string) bool {
	r.mx.Lock()
	defer r.mx.Unlock()

	for _, st := range r.peers {
		if st.Advertising == code {
			return true
		}
	}
	return false
}

func (r *Registry) AddSubscription(peer *model.Peer, code string) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	st, ok := r.peers[peer]
	if !ok {
		return ErrUnknownPeer
	}
	st.Subscriptions[code] = struct{}{}
	return nil
}

// Stats counts connections by role. Codes is left for the caller to fill.
func (r *Registry) Stats() model.RelayStats {
	r.mx.Lock()
	defer r.mx.Unlock()

	stats := model.RelayStats{Connections: len(r.peers)}
	for _, st := range r.peers {
		if st.Advertising != "" {
			stats.Advertisers++
		}
		if len(st.Subscriptions) > 0 {
			stats.Subscribers++
		}
	}
	return stats
}
