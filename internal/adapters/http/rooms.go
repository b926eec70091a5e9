package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/videocall/internal/adapters/wire"
	"github.com/dkeye/videocall/internal/core"
	"github.com/dkeye/videocall/internal/domain"
)

// RoomsController exposes a core.SignalingStore over HTTP.
type RoomsController struct {
	Store      core.SignalingStore
	ReadLimit  int64
	PingPeriod time.Duration

	ctx context.Context
}

func (h *RoomsController) fail(c *gin.Context, err error) {
	code := wire.CodeFor(err)
	status := http.StatusServiceUnavailable
	switch code {
	case wire.CodeRoomNotFound:
		status = http.StatusNotFound
	case wire.CodeAlreadyAnswered:
		status = http.StatusConflict
	default:
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("store error")
	}
	c.JSON(status, wire.ErrorResponse{Error: code})
}

func badRequest(c *gin.Context, code string) {
	c.JSON(http.StatusBadRequest, wire.ErrorResponse{Error: code})
}

func roomID(c *gin.Context) domain.RoomID { return domain.RoomID(c.Param("id")) }

func (h *RoomsController) ListRooms(c *gin.Context) {
	rooms, err := h.Store.ListRooms(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

func (h *RoomsController) CreateRoom(c *gin.Context) {
	var req wire.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Offer == nil || req.Offer.SDP == "" {
		badRequest(c, wire.CodeBadPayload)
		return
	}
	if req.Offer.Type != "offer" {
		badRequest(c, wire.CodeBadPayload)
		return
	}
	creator := req.Creator
	if creator == "" {
		creator = c.GetString("client_token")
	}

	id, err := h.Store.CreateRoom(c.Request.Context(), *req.Offer, creator)
	if err != nil {
		h.fail(c, err)
		return
	}

	sess := sessions.Default(c)
	sess.Set("last_room", string(id))
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
	}
	c.JSON(http.StatusCreated, wire.CreateRoomResponse{ID: id})
}

func (h *RoomsController) GetRoom(c *gin.Context) {
	room, err := h.Store.GetRoom(c.Request.Context(), roomID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *RoomsController) SetAnswer(c *gin.Context) {
	var answer domain.SessionDescription
	if err := c.ShouldBindJSON(&answer); err != nil || answer.SDP == "" || answer.Type != "answer" {
		badRequest(c, wire.CodeBadPayload)
		return
	}
	if err := h.Store.SetAnswer(c.Request.Context(), roomID(c), answer); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RoomsController) DeleteRoom(c *gin.Context) {
	if err := h.Store.DeleteRoom(c.Request.Context(), roomID(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RoomsController) AppendCandidate(c *gin.Context) {
	l, err := domain.ParseCandidateLog(c.Param("log"))
	if err != nil {
		badRequest(c, wire.CodeBadLog)
		return
	}
	limit := h.readLimit()
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
	if err == nil && int64(len(body)) > limit {
		c.JSON(http.StatusRequestEntityTooLarge, wire.ErrorResponse{Error: wire.CodePayloadTooLarge})
		return
	}
	if err != nil || !json.Valid(body) {
		badRequest(c, wire.CodeBadPayload)
		return
	}
	if err := h.Store.AppendCandidate(c.Request.Context(), roomID(c), l, body); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (h *RoomsController) ListCandidates(c *gin.Context) {
	l, err := domain.ParseCandidateLog(c.Param("log"))
	if err != nil {
		badRequest(c, wire.CodeBadLog)
		return
	}
	recs, err := h.Store.ListCandidates(c.Request.Context(), roomID(c), l)
	if err != nil {
		h.fail(c, err)
		return
	}
	if recs == nil {
		recs = []domain.CandidateRecord{}
	}
	c.JSON(http.StatusOK, recs)
}

func (h *RoomsController) readLimit() int64 {
	if h.ReadLimit > 0 {
		return h.ReadLimit
	}
	return 32768
}
