package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/core"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/rs/zerolog/log"
)

// handleJoin binds the connection to a session. Any failure closes the connection.
func (ctl *SignalWSController) handleJoin(ctx context.Context, conn *WsSignalConn, st *connState, data []byte) bool {
	if st.joined {
		ctl.sendError(conn, core.CodeAlreadyJoined, "connection already joined a session")
		return true
	}

	var p core.JoinMessage
	if err := json.Unmarshal(data, &p); err != nil || p.SessionID == "" {
		log.Warn().Str("module", "signal").Str("conn", string(st.id)).Msg("bad join payload")
		ctl.sendError(conn, core.CodeBadPayload, "join needs sessionId")
		return false
	}

	switch {
	case st.userID == "" && p.UserID == "":
		ctl.sendError(conn, core.CodeForbidden, "unknown user")
		return false
	case st.userID == "":
		uid, err := domain.ParseUserID(p.UserID)
		if err != nil {
			ctl.sendError(conn, core.CodeBadPayload, err.Error())
			return false
		}
		st.userID = uid
	case p.UserID != "" && domain.UserID(p.UserID) != st.userID:
		ctl.sendError(conn, core.CodeForbidden, "userId does not match caller")
		return false
	}
	st.limitBy(ctl.Limiter, st.rateKey())

	sessionID := domain.SessionID(p.SessionID)
	if err := ctl.Orch.Join(ctx, st.id, sessionID, st.userID, conn); err != nil {
		var appErr *app.Error
		if errors.As(err, &appErr) {
			ctl.sendError(conn, appErr.Code, appErr.Error())
		} else {
			log.Error().Err(err).Str("module", "signal").Str("session", p.SessionID).Msg("join failed")
			ctl.sendError(conn, core.CodeInternal, "join failed")
		}
		return false
	}

	st.joined = true
	st.sessionID = sessionID
	log.Info().Str("module", "signal").Str("conn", string(st.id)).Str("session", p.SessionID).Str("user", string(st.userID)).Msg("join")
	return true
}
