package orch

import (
	"context"

	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/rs/zerolog/log"
)

// Forward relays an offer, answer or ice-candidate to its target only. A target that
// is not connected is dropped silently; retrying negotiation is the client's job.
func (o *Orchestrator) Forward(id core.ConnID, msg core.RelayMessage) error {
	from, ok := o.Registry.Identity(id)
	if !ok {
		return ErrNotJoined
	}
	target := domain.UserID(msg.TargetUserID)
	if target == from.UserID {
		return nil
	}
	to, ok := o.Registry.Lookup(from.SessionID, target)
	if !ok {
		log.Debug().Str("module", "orch").Str("session", string(from.SessionID)).Str("target", msg.TargetUserID).Msg("relay target absent, dropped")
		return nil
	}
	f, ok := encode(core.Relayed{Type: msg.Type, FromUserID: string(from.UserID), Data: msg.Data})
	if !ok {
		return nil
	}
	o.deliver(to, f)
	return nil
}

// MediaState persists the sender's camera and mic flags and announces them to the others.
func (o *Orchestrator) MediaState(ctx context.Context, id core.ConnID, camera, mic bool) error {
	from, ok := o.Registry.Identity(id)
	if !ok {
		return ErrNotJoined
	}
	p, err := o.Directory.UpdateMediaState(ctx, from.UserID, camera, mic)
	if err != nil {
		return err
	}
	o.MediaChanged(p)
	return nil
}

// MediaChanged announces p's media flags to the rest of its session. Used for changes
// made outside the signaling channel too.
func (o *Orchestrator) MediaChanged(p domain.Participant) {
	o.broadcast(o.Registry.Peers(p.SessionID, p.UserID), core.MediaStateChanged{
		Type:          core.TypeMediaStateChanged,
		UserID:        string(p.UserID),
		CameraEnabled: p.CameraEnabled,
		MicEnabled:    p.MicEnabled,
	})
}
