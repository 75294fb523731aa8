package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/app/orch"
	"github.com/dkeye/Parley/internal/core"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	ctl.sendJSON(conn, core.Envelope{Type: core.TypePong})
}

func (ctl *SignalWSController) handleMediaState(ctx context.Context, conn *WsSignalConn, st *connState, data []byte) {
	if !st.joined {
		ctl.sendError(conn, core.CodeNotJoined, "join a session first")
		return
	}
	var m core.MediaStateMessage
	if err := json.Unmarshal(data, &m); err != nil {
		ctl.sendError(conn, core.CodeBadPayload, "bad media-state payload")
		return
	}

	err := ctl.Orch.MediaState(ctx, st.id, m.CameraEnabled, m.MicEnabled)
	var appErr *app.Error
	switch {
	case err == nil:
	case errors.Is(err, orch.ErrNotJoined):
		ctl.sendError(conn, core.CodeNotJoined, "connection is no longer in a session")
	case errors.As(err, &appErr):
		ctl.sendError(conn, appErr.Code, appErr.Error())
	default:
		log.Error().Err(err).Str("module", "signal").Str("conn", string(st.id)).Msg("media state")
		ctl.sendError(conn, core.CodeInternal, "media state not saved")
	}
}
