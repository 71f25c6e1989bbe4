package directory

import (
	"errors"
	"sync"

	"github.com/adwski/waypoint/backend/model"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

var (
	ErrNotFound = errors.New("code is not found")
)

// Directory maps session codes to the peers subscribed to them.
// An entry with no subscribers is valid and stays until Detach empties it
// or its advertiser drops it.
type Directory struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	subs   map[string][]*model.Peer
}

func New(logger *zerolog.Logger) *Directory {
	return &Directory{
		logger: logger.With().Str("component", "directory").Logger(),
		mx:     &sync.RWMutex{},
		subs:   make(map[string][]*model.Peer),
	}
}

// Ensure creates an empty entry for code if there is none.
func (d *Directory) Ensure(code string) {
	d.mx.Lock()
	defer d.mx.Unlock()

	if _, ok := d.subs[code]; !ok {
		d.subs[code] = make([]*model.Peer, 0, 1)
		d.logger.Debug().Str("code", code).Msg("entry created")
	}
}

// Attach subscribes peer to code. Repeated attach of the same peer is a no-op.
func (d *Directory) Attach(code string, peer *model.Peer) error {
	d.mx.Lock()
	defer d.mx.Unlock()

	peers, ok := d.subs[code]
	if !ok {
		return ErrNotFound
	}
	if !lo.Contains(peers, peer) {
		d.subs[code] = append(peers, peer)
	}
	d.logger.Debug().
		Str("code", code).
		Str("peer", peer.ID).
		Msg("peer attached")
	return nil
}

// Broadcast hands msg to every subscriber of code except the excluded peer
// and returns the number of peers that accepted it. Unknown codes are not an error.
func (d *Directory) Broadcast(code string, exclude *model.Peer, msg model.Message) int {
	d.mx.RLock()
	recipients := lo.Without(d.subs[code], exclude)
	d.mx.RUnlock()

	var sent int
	for _, peer := range recipients {
		if peer.Send(msg) {
			sent++
			continue
		}
		d.logger.Debug().
			Str("code", code).
			Str("dst", peer.ID).
			Msg("message dropped, peer is gone or lagging")
	}
	return sent
}

// Detach removes peer from every entry. Entries emptied by this removal are deleted.
func (d *Directory) Detach(peer *model.Peer) {
	d.mx.Lock()
	defer d.mx.Unlock()

	for code, peers := range d.subs {
		if !lo.Contains(peers, peer) {
			continue
		}
		rest := lo.Without(peers, peer)
		if len(rest) == 0 {
			delete(d.subs, code)
			d.logger.Debug().Str("code", code).Msg("entry removed, no subscribers left")
			continue
		}
		d.subs[code] = rest
	}
}

// DropIfEmpty deletes the entry for code when it has no subscribers
// and reports whether it was deleted.
func (d *Directory) DropIfEmpty(code string) bool {
	d.mx.Lock()
	defer d.mx.Unlock()

	peers, ok := d.subs[code]
	if !ok || len(peers) > 0 {
		return false
	}
	delete(d.subs, code)
	d.logger.Debug().Str("code", code).Msg("empty entry released")
	return true
}

// Subscribers returns the number of peers attached to code and whether the entry exists.
func (d *Directory) Subscribers(code string) (int, bool) {
	d.mx.RLock()
	defer d.mx.RUnlock()

	peers, ok := d.subs[code]
	return len(peers), ok
}

// Len returns the number of entries.
func (d *Directory) Len() int {
	d.mx.RLock()
	defer d.mx.RUnlock()

	return len(d.subs)
}
