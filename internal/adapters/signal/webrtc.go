package signal

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/Parley/internal/adapters/rtc"
	"github.com/dkeye/Parley/internal/app/orch"
	"github.com/dkeye/Parley/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func validateRelay(typ string, data json.RawMessage) error {
	switch typ {
	case core.TypeOffer:
		return rtc.ValidateDescription(data, webrtc.SDPTypeOffer)
	case core.TypeAnswer:
		return rtc.ValidateDescription(data, webrtc.SDPTypeAnswer)
	default:
		return rtc.ValidateCandidate(data)
	}
}

// handleRelay forwards offer, answer and ice-candidate messages. data is passed on verbatim.
func (ctl *SignalWSController) handleRelay(conn *WsSignalConn, st *connState, typ string, data []byte) {
	if !st.joined {
		ctl.sendError(conn, core.CodeNotJoined, "join a session first")
		return
	}
	var m core.RelayMessage
	if err := json.Unmarshal(data, &m); err != nil || m.TargetUserID == "" {
		ctl.sendError(conn, core.CodeBadPayload, typ+" needs targetUserId and data")
		return
	}
	if err := validateRelay(typ, m.Data); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(st.id)).Str("type", typ).Msg("bad negotiation payload")
		ctl.sendError(conn, core.CodeBadPayload, err.Error())
		return
	}
	m.Type = typ
	if err := ctl.Orch.Forward(st.id, m); errors.Is(err, orch.ErrNotJoined) {
		ctl.sendError(conn, core.CodeNotJoined, "connection is no longer in a session")
	}
}
