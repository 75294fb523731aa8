package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/rs/zerolog/log"
)

func peerState(p domain.Participant) core.PeerState {
	return core.PeerState{
		UserID:        string(p.UserID),
		DisplayName:   p.DisplayName,
		CameraEnabled: p.CameraEnabled,
		MicEnabled:    p.MicEnabled,
	}
}

// Join admits conn into sessionID for userID, sends it the room state and tells the
// others. On error nothing is bound and the caller should close conn.
func (o *Orchestrator) Join(ctx context.Context, id core.ConnID, sessionID domain.SessionID, userID domain.UserID, conn core.SignalConnection) error {
	if o.ended.Contains(sessionID) {
		return app.ErrSessionEnded
	}
	self, err := o.Directory.AuthorizeSignal(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	parts, err := o.Directory.Participants(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load participants: %w", err)
	}

	if old := o.Registry.Bind(app.Peer{ConnID: id, SessionID: sessionID, UserID: userID, Conn: conn}); old != nil {
		log.Info().Str("module", "orch").Str("user", string(userID)).Str("conn", string(old.ConnID)).Msg("closing superseded connection")
		old.Conn.Close()
	}
	// EndSession marks before it drops, so a bind racing it is caught here.
	if o.ended.Contains(sessionID) {
		o.Registry.Unbind(id)
		return app.ErrSessionEnded
	}

	// only peers holding a signaling connection can answer an offer
	peers := o.Registry.Peers(sessionID, userID)
	bound := make(map[domain.UserID]bool, len(peers))
	for _, peer := range peers {
		bound[peer.UserID] = true
	}
	state := core.RoomState{Type: core.TypeRoomState, SessionID: string(sessionID), Participants: make([]core.PeerState, 0, len(peers))}
	for _, p := range parts {
		if bound[p.UserID] {
			state.Participants = append(state.Participants, peerState(p))
		}
	}
	o.Send(conn, state)

	o.broadcast(peers, core.ParticipantJoined{
		Type:      core.TypeParticipantJoined,
		PeerState: peerState(self),
	})
	log.Info().Str("module", "orch").Str("session", string(sessionID)).Str("user", string(userID)).Msg("joined")
	return nil
}

// OnDisconnect cleans up after a closed connection. Repeated calls for the same id,
// and calls for superseded connections, do nothing.
func (o *Orchestrator) OnDisconnect(ctx context.Context, id core.ConnID) {
	p, ok := o.Registry.Unbind(id)
	if !ok {
		return
	}
	o.broadcast(o.Registry.Peers(p.SessionID, p.UserID), core.ParticipantLeft{
		Type:   core.TypeParticipantLeft,
		UserID: string(p.UserID),
	})
	// the relay's view is already consistent; a failed write only delays the directory
	if err := o.Directory.Disconnect(ctx, p.SessionID, p.UserID); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("session", string(p.SessionID)).Str("user", string(p.UserID)).Msg("directory disconnect failed")
	}
	log.Info().Str("module", "orch").Str("session", string(p.SessionID)).Str("user", string(p.UserID)).Msg("left")
}

// Kick drops the signaling connection of a user who left through the directory,
// telling the remaining peers. Registered as the directory's participant-left hook;
// when the relay itself reported the disconnect the connection is already unbound
// and nothing happens.
func (o *Orchestrator) Kick(_ context.Context, sessionID domain.SessionID, userID domain.UserID) {
	peer, ok := o.Registry.Lookup(sessionID, userID)
	if !ok {
		return
	}
	if _, ok := o.Registry.Unbind(peer.ConnID); !ok {
		return
	}
	o.broadcast(o.Registry.Peers(sessionID, userID), core.ParticipantLeft{
		Type:   core.TypeParticipantLeft,
		UserID: string(userID),
	})
	peer.Conn.Close()
	log.Info().Str("module", "orch").Str("session", string(sessionID)).Str("user", string(userID)).Msg("kicked after leave")
}

// EndSession tells every remaining connection the session is over and closes them.
// Registered with the directory as its session-ended hook.
func (o *Orchestrator) EndSession(_ context.Context, sessionID domain.SessionID) {
	o.ended.Add(sessionID, struct{}{})
	peers := o.Registry.Drop(sessionID)
	o.broadcast(peers, core.SessionEnded{Type: core.TypeSessionEnded, SessionID: string(sessionID)})
	for _, p := range peers {
		p.Conn.Close()
	}
	log.Info().Str("module", "orch").Str("session", string(sessionID)).Int("closed", len(peers)).Msg("session ended")
}

// CloseAll drops every session without touching lifecycle state. Used on shutdown.
func (o *Orchestrator) CloseAll() {
	for _, id := range o.Registry.Sessions() {
		for _, p := range o.Registry.Drop(id) {
			p.Conn.Close()
		}
	}
}
