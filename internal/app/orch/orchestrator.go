package orch

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

var ErrNotJoined = errors.New("connection has not joined a session")

// endedSessions bounds how many ended session ids the relay remembers. The set only
// has to outlive the window between AuthorizeSignal and Bind; older sessions are
// already refused by the directory.
const endedSessions = 4096

// Directory is the lifecycle authority the relay defers to.
type Directory interface {
	AuthorizeSignal(ctx context.Context, sessionID domain.SessionID, userID domain.UserID) (domain.Participant, error)
	Participants(ctx context.Context, sessionID domain.SessionID) ([]domain.Participant, error)
	UpdateMediaState(ctx context.Context, userID domain.UserID, camera, mic bool) (domain.Participant, error)
	Disconnect(ctx context.Context, sessionID domain.SessionID, userID domain.UserID) error
}

// Orchestrator is the signaling relay: it routes negotiation messages between the
// connections of a session and keeps peers informed of who is present.
// Directory calls happen outside registry locks.
type Orchestrator struct {
	Registry  *app.Registry
	Directory Directory
	Policy    app.Policy

	ended *lru.Cache[domain.SessionID, struct{}]
}

func New(reg *app.Registry, dir Directory, policy app.Policy) *Orchestrator {
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	ended, err := lru.New[domain.SessionID, struct{}](endedSessions)
	if err != nil {
		panic(err)
	}
	return &Orchestrator{Registry: reg, Directory: dir, Policy: policy, ended: ended}
}

func encode(v any) (core.Frame, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("marshal frame")
		return nil, false
	}
	return b, true
}

// Send delivers v to one connection that is not necessarily bound yet.
func (o *Orchestrator) Send(conn core.SignalConnection, v any) {
	if f, ok := encode(v); ok {
		_ = conn.TrySend(f)
	}
}

func (o *Orchestrator) deliver(p app.Peer, f core.Frame) {
	err := p.Conn.TrySend(f)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrBackpressure):
		switch o.Policy.OnBackPressure(p.SessionID, p.UserID) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("session", string(p.SessionID)).Str("user", string(p.UserID)).Msg("slow peer kicked")
			p.Conn.Close()
		case app.DropFrame, app.NoAction:
		}
	default:
		log.Debug().Err(err).Str("module", "orch").Str("user", string(p.UserID)).Msg("deliver failed")
	}
}

// broadcast is fire-and-forget per peer.
func (o *Orchestrator) broadcast(peers []app.Peer, v any) {
	if len(peers) == 0 {
		return
	}
	f, ok := encode(v)
	if !ok {
		return
	}
	for _, p := range peers {
		o.deliver(p, f)
	}
}
