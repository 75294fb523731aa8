package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/Parley/internal/adapters/rtc"
	"github.com/dkeye/Parley/internal/adapters/signal"
	"github.com/dkeye/Parley/internal/app"
	"github.com/dkeye/Parley/internal/config"
	"github.com/dkeye/Parley/internal/domain"
	"github.com/dkeye/Parley/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	svc *Services
	cfg *config.Config
}

func statusOf(err error) int {
	var e *app.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e {
	case app.ErrSlotNotFound, app.ErrSessionNotFound:
		return http.StatusNotFound
	case app.ErrNotRegistered:
		return http.StatusForbidden
	case app.ErrInvalidSlot:
		return http.StatusBadRequest
	case app.ErrRegistrationClosed, app.ErrCancellationDeadlinePassed, app.ErrSessionNotOpen, app.ErrSessionEnded,
		app.ErrNoActiveSession:
		return http.StatusUnprocessableEntity
	}
	return http.StatusConflict
}

func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
		c.JSON(status, gin.H{"code": app.CodeOf(err), "message": "internal error"})
		return
	}
	c.JSON(status, gin.H{"code": app.CodeOf(err), "message": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": msg})
}

func requireUser(c *gin.Context) (domain.UserID, bool) {
	uid := c.GetString(signal.IdentityKey)
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHENTICATED", "message": userHeader + " header required"})
		return "", false
	}
	return domain.UserID(uid), true
}

func (h *handlers) listSlots(c *gin.Context) {
	filter := store.SlotFilter{
		LanguageCode: c.Query("language"),
		Level:        domain.Level(c.Query("level")),
	}
	for key, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, key+" must be RFC3339")
			return
		}
		*dst = t
	}
	slots, err := h.svc.Catalog.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, slots)
}

func (h *handlers) createSlot(c *gin.Context) {
	var in app.SlotInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err.Error())
		return
	}
	slot, err := h.svc.Catalog.Create(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, slot)
}

func (h *handlers) getSlot(c *gin.Context) {
	view, err := h.svc.Catalog.Get(c.Request.Context(), domain.SlotID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handlers) deactivateSlot(c *gin.Context) {
	if err := h.svc.Catalog.Deactivate(c.Request.Context(), domain.SlotID(c.Param("id"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) reserve(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	reg, err := h.svc.Ledger.Reserve(c.Request.Context(), domain.SlotID(c.Param("id")), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, reg)
}

func (h *handlers) cancel(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.svc.Ledger.Cancel(c.Request.Context(), domain.SlotID(c.Param("id")), uid); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) myRegistrations(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	regs, err := h.svc.Ledger.ActiveRegistrations(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, regs)
}

type joinRequest struct {
	TimeSlotID       string `json:"timeSlotId" binding:"required"`
	RecordingConsent bool   `json:"recordingConsent"`
	DisplayName      string `json:"displayName"`
}

func (h *handlers) joinSession(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	name, err := domain.CleanDisplayName(req.DisplayName)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	view, err := h.svc.Directory.JoinSession(c.Request.Context(), uid, domain.SlotID(req.TimeSlotID), app.JoinOptions{
		RecordingConsent: req.RecordingConsent,
		DisplayName:      name,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handlers) leaveSession(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	if err := h.svc.Directory.LeaveSession(c.Request.Context(), uid); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type mediaRequest struct {
	CameraEnabled *bool `json:"cameraEnabled" binding:"required"`
	MicEnabled    *bool `json:"micEnabled" binding:"required"`
}

func (h *handlers) updateMedia(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	var req mediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := h.svc.Directory.UpdateMediaState(c.Request.Context(), uid, *req.CameraEnabled, *req.MicEnabled)
	if err != nil {
		writeError(c, err)
		return
	}
	if h.svc.Signal != nil {
		h.svc.Signal.Orch.MediaChanged(p)
	}
	c.JSON(http.StatusOK, p)
}

func (h *handlers) getSession(c *gin.Context) {
	view, err := h.svc.Directory.GetSession(c.Request.Context(), domain.SessionID(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handlers) closeSession(c *gin.Context) {
	if err := h.svc.Directory.CloseSession(c.Request.Context(), domain.SessionID(c.Param("id"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) iceServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": rtc.ICEServers(h.cfg.ICEServers)})
}
