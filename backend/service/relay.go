package service

import (
	"sync"

	"github.com/adwski/waypoint/backend/code"
	"github.com/adwski/waypoint/backend/model"
	"github.com/adwski/waypoint/backend/registry"
	"github.com/rs/zerolog"
)

const (
	welcomeText = "Welcome to the location relay"
)

type (
	Directory interface {
		Ensure(code string)
		Attach(code string, peer *model.Peer) error
		Broadcast(code string, exclude *model.Peer, msg model.Message) int
		Detach(peer *model.Peer)
		DropIfEmpty(code string) bool
		Len() int
	}

	Registry interface {
		Register(peer *model.Peer)
		Unregister(peer *model.Peer) (registry.State, error)
		SetAdvertising(peer *model.Peer, code string) (string, error)
		Advertising(peer *model.Peer) string
		Advertised(code string) bool
		AddSubscription(peer *model.Peer, code string) error
		Stats() model.RelayStats
	}

	// Relay interprets relay messages of every connection.
	// Calls for one peer must come in arrival order, calls for
	// different peers may run concurrently.
	Relay struct {
		// advMx orders entry creation against entry release by advertisers.
		advMx      *sync.Mutex
		dir        Directory
		reg        Registry
		codeLength int
		logger     zerolog.Logger
	}

	RelayConfig struct {
		Directory  Directory
		Registry   Registry
		Logger     *zerolog.Logger
		CodeLength int
	}
)

func NewRelay(cfg RelayConfig) *Relay {
	return &Relay{
		advMx:      &sync.Mutex{},
		dir:        cfg.Directory,
		reg:        cfg.Registry,
		codeLength: cfg.CodeLength,
		logger:     cfg.Logger.With().Str("component", "relay").Logger(),
	}
}

// Open registers a new connection and greets it.
func (r *Relay) Open(peer *model.Peer) {
	r.reg.Register(peer)
	r.reply(peer, model.Welcome{Message: welcomeText})
	r.logger.Debug().Str("peer", peer.ID).Msg("peer connected")
}

// Handle processes one inbound frame from peer. Errors are reported back
// to the peer, the connection stays usable.
func (r *Relay) Handle(peer *model.Peer, raw []byte) {
	msg, err := model.DecodeMessage(raw)
	if err != nil {
		r.logger.Debug().Err(err).Str("peer", peer.ID).Msg("undecodable message")
		r.reply(peer, model.Error{Message: model.ErrTextUnknownType})
		return
	}

	switch m := msg.(type) {
	case model.Advertise:
		r.advertise(peer, m)
	case model.Subscribe:
		r.subscribe(peer, m)
	case model.Location:
		r.location(peer, m)
	default:
		r.logger.Debug().
			Str("peer", peer.ID).
			Str("type", msg.MessageType()).
			Msg("message type is not accepted from clients")
		r.reply(peer, model.Error{Message: model.ErrTextUnknownType})
	}
}

// Close is the connection close hook, it purges peer from the directory.
func (r *Relay) Close(peer *model.Peer) {
	r.advMx.Lock()
	st, err := r.reg.Unregister(peer)
	if err != nil {
		r.logger.Warn().Err(err).Str("peer", peer.ID).Msg("closing unregistered peer")
	}
	r.dir.Detach(peer)
	r.release(st.Advertising)
	r.advMx.Unlock()

	logger := r.logger.With().Str("peer", peer.ID).Logger()
	if st.Idle() {
		logger.Debug().Msg("idle peer disconnected")
		return
	}
	logger.Debug().
		Str("advertising", st.Advertising).
		Int("subscriptions", len(st.Subscriptions)).
		Msg("peer disconnected")
}

// Stats reports connection and directory counters.
func (r *Relay) Stats() model.RelayStats {
	stats := r.reg.Stats()
	stats.Codes = r.dir.Len()
	return stats
}

func (r *Relay) advertise(peer *model.Peer, m model.Advertise) {
	c := m.Code
	if !code.Valid(c) {
		c = code.Generate(r.codeLength)
	}
	r.advMx.Lock()
	r.dir.Ensure(c)
	prev, err := r.reg.SetAdvertising(peer, c)
	if err != nil {
		r.logger.Error().Err(err).Str("peer", peer.ID).Msg("cannot record advertising code")
	}
	if prev != c {
		r.release(prev)
	}
	r.advMx.Unlock()

	r.logger.Debug().
		Str("peer", peer.ID).
		Str("code", c).
		Str("previous", prev).
		Msg("advertising")
	r.reply(peer, model.Advertising{Code: c})
}

// release drops the empty entry of a code no live peer advertises anymore.
// Must be called with advMx held.
func (r *Relay) release(c string) {
	if c == "" || r.reg.Advertised(c) {
		return
	}
	r.dir.DropIfEmpty(c)
}

func (r *Relay) subscribe(peer *model.Peer, m model.Subscribe) {
	if !code.Valid(m.Code) {
		r.reply(peer, model.Error{Message: model.ErrTextInvalidCode})
		return
	}
	if err := r.dir.Attach(m.Code, peer); err != nil {
		r.logger.Debug().Err(err).
			Str("peer", peer.ID).
			Str("code", m.Code).
			Msg("subscribe rejected")
		r.reply(peer, model.Error{Message: model.ErrTextInvalidCode})
		return
	}
	if err := r.reg.AddSubscription(peer, m.Code); err != nil {
		r.logger.Error().Err(err).Str("peer", peer.ID).Msg("cannot record subscription")
	}
	r.reply(peer, model.Subscribed{Code: m.Code})
}

func (r *Relay) location(peer *model.Peer, m model.Location) {
	c := r.reg.Advertising(peer)
	if c == "" {
		r.logger.Trace().Str("peer", peer.ID).Msg("location from peer that never advertised")
		return
	}
	n := r.dir.Broadcast(c, peer, model.Location{Location: m.Location, Route: m.Route})
	r.logger.Trace().
		Str("peer", peer.ID).
		Str("code", c).
		Int("delivered", n).
		Msg("location relayed")
}

func (r *Relay) reply(peer *model.Peer, msg model.Message) {
	if !peer.Send(msg) {
		r.logger.Debug().
			Str("peer", peer.ID).
			Str("type", msg.MessageType()).
			Msg("reply dropped")
	}
}
