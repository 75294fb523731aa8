package app

import (
	"sync"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/rs/zerolog/log"
)

// Peer is one live signaling connection bound to a session.
type Peer struct {
	ConnID    core.ConnID
	SessionID domain.SessionID
	UserID    domain.UserID
	Conn      core.SignalConnection
}

type room struct {
	mu     sync.Mutex
	byUser map[domain.UserID]Peer
	closed bool
}

// Registry routes signaling traffic: session -> user -> connection, and
// connection -> (session, user). Each session has its own lock, so traffic in
// different sessions never contends. It holds no authority over participant state.
type Registry struct {
	rooms sync.Map // domain.SessionID -> *room
	conns sync.Map // core.ConnID -> Peer
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Bind maps the connection into its session. A previous connection of the same user in
// the same session is unmapped and returned so the caller can close it.
func (r *Registry) Bind(p Peer) (superseded *Peer) {
	for {
		v, _ := r.rooms.LoadOrStore(p.SessionID, &room{byUser: make(map[domain.UserID]Peer)})
		rm := v.(*room)
		rm.mu.Lock()
		if rm.closed {
			rm.mu.Unlock()
			continue
		}
		if old, ok := rm.byUser[p.UserID]; ok && old.ConnID != p.ConnID {
			r.conns.Delete(old.ConnID)
			superseded = &old
		}
		rm.byUser[p.UserID] = p
		r.conns.Store(p.ConnID, p)
		rm.mu.Unlock()

		log.Info().Str("module", "app.registry").
			Str("conn", string(p.ConnID)).
			Str("session", string(p.SessionID)).
			Str("user", string(p.UserID)).
			Bool("superseded", superseded != nil).
			Msg("bound connection")
		return superseded
	}
}

// Unbind removes the connection. Only the first call for a connection id reports ok,
// so cleanup triggered from several places runs once. Connections already superseded
// or dropped with their session report !ok.
func (r *Registry) Unbind(id core.ConnID) (Peer, bool) {
	v, ok := r.conns.LoadAndDelete(id)
	if !ok {
		return Peer{}, false
	}
	p := v.(Peer)

	rv, ok := r.rooms.Load(p.SessionID)
	if !ok {
		return p, true
	}
	rm := rv.(*room)
	rm.mu.Lock()
	if cur, ok := rm.byUser[p.UserID]; ok && cur.ConnID == id {
		delete(rm.byUser, p.UserID)
	}
	if len(rm.byUser) == 0 && !rm.closed {
		rm.closed = true
		r.rooms.CompareAndDelete(p.SessionID, rm)
	}
	rm.mu.Unlock()

	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("session", string(p.SessionID)).Msg("unbound connection")
	return p, true
}

// Lookup finds the connection of userID in sessionID.
func (r *Registry) Lookup(sessionID domain.SessionID, userID domain.UserID) (Peer, bool) {
	v, ok := r.rooms.Load(sessionID)
	if !ok {
		return Peer{}, false
	}
	rm := v.(*room)
	rm.mu.Lock()
	defer rm.mu.Unlock()
	p, ok := rm.byUser[userID]
	return p, ok
}

// Identity resolves a connection to the session and user it is bound to.
func (r *Registry) Identity(id core.ConnID) (Peer, bool) {
	v, ok := r.conns.Load(id)
	if !ok {
		return Peer{}, false
	}
	return v.(Peer), true
}

// Peers snapshots the session's connections, leaving out except.
func (r *Registry) Peers(sessionID domain.SessionID, except domain.UserID) []Peer {
	v, ok := r.rooms.Load(sessionID)
	if !ok {
		return nil
	}
	rm := v.(*room)
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]Peer, 0, len(rm.byUser))
	for uid, p := range rm.byUser {
		if uid != except {
			out = append(out, p)
		}
	}
	return out
}

// Drop unmaps the whole session and returns the connections it held.
func (r *Registry) Drop(sessionID domain.SessionID) []Peer {
	v, ok := r.rooms.LoadAndDelete(sessionID)
	if !ok {
		return nil
	}
	rm := v.(*room)
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.closed = true
	out := make([]Peer, 0, len(rm.byUser))
	for _, p := range rm.byUser {
		r.conns.Delete(p.ConnID)
		out = append(out, p)
	}
	rm.byUser = make(map[domain.UserID]Peer)
	log.Info().Str("module", "app.registry").Str("session", string(sessionID)).Int("conns", len(out)).Msg("dropped session")
	return out
}

// Sessions lists sessions with at least one bound connection.
func (r *Registry) Sessions() []domain.SessionID {
	var out []domain.SessionID
	r.rooms.Range(func(k, _ any) bool {
		out = append(out, k.(domain.SessionID))
		return true
	})
	return out
}

// Len counts bound connections.
func (r *Registry) Len() int {
	n := 0
	r.conns.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
