package handlers

import (
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mossy-p/rendezvous/internal/collider"
	"github.com/mossy-p/rendezvous/internal/models"
	"github.com/mossy-p/rendezvous/internal/params"
	"github.com/mossy-p/rendezvous/internal/rooms"
	"github.com/mossy-p/rendezvous/internal/signaling"
	"github.com/rs/zerolog"
)

type Config struct {
	Service *signaling.Service
	Params  *params.Builder
	Logger  *zerolog.Logger
}

// Signaling serves the room page and the join, message and leave endpoints.
type Signaling struct {
	svc    *signaling.Service
	params *params.Builder
	logger zerolog.Logger
}

func NewSignaling(cfg Config) *Signaling {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Signaling{
		svc:    cfg.Service,
		params: cfg.Params,
		logger: logger.With().Str("component", "handlers").Logger(),
	}
}

func (h *Signaling) Register(r gin.IRouter) {
	r.GET("/", h.Index)
	r.GET("/r/:roomId", h.RoomPage)
	r.POST("/join/:roomId", h.Join)
	r.POST("/message/:roomId/:clientId", h.Message)
	r.POST("/leave/:roomId/:clientId", h.Leave)
}

// Index returns the parameters of the landing page.
func (h *Signaling) Index(c *gin.Context) {
	p := h.params.Build(paramsRequest(c), "", "", nil)
	c.JSON(http.StatusOK, models.RoomPageResponse{Result: models.ResultSuccess, Params: &p})
}

// RoomPage returns the parameters that launch roomId, or FULL when two
// participants are already in it.
func (h *Signaling) RoomPage(c *gin.Context) {
	roomID := c.Param("roomId")
	req := paramsRequest(c)

	state, err := h.svc.Room(c.Request.Context(), target(req, roomID))
	if err == nil && state.Occupancy() >= 2 {
		h.logger.Info().Str("roomID", roomID).Msg("room is full")
		c.JSON(http.StatusOK, models.RoomPageResponse{Result: models.ResultRoomFull})
		return
	}

	p := h.params.Build(req, roomID, "", nil)
	c.JSON(http.StatusOK, models.RoomPageResponse{Result: models.ResultSuccess, Params: &p})
}

func (h *Signaling) Join(c *gin.Context) {
	roomID := c.Param("roomId")
	clientID := uuid.NewString()
	req := paramsRequest(c)

	adm, err := h.svc.Join(c.Request.Context(), target(req, roomID), clientID, req.IsLoopback())
	if err != nil {
		c.JSON(http.StatusOK, models.JoinErrorResponse{
			Result: resultFor(err),
			Params: models.JoinFailure{IsInitiator: false, Messages: []string{}},
		})
		return
	}

	isInitiator := adm.Role == rooms.Initiator
	messages := make([]string, 0, len(adm.Messages))
	for _, m := range adm.Messages {
		messages = append(messages, string(m))
	}
	c.JSON(http.StatusOK, models.JoinResponse{
		Result: models.ResultSuccess,
		Params: &models.JoinParams{
			RoomParameters: h.params.Build(req, roomID, clientID, &isInitiator),
			Messages:       messages,
		},
	})
}

func (h *Signaling) Message(c *gin.Context) {
	roomID := c.Param("roomId")
	clientID := c.Param("clientId")
	req := paramsRequest(c)

	// Payloads are echoed back inside JSON strings on join, so they must be
	// text.
	payload, err := c.GetRawData()
	if err != nil || len(payload) == 0 || !utf8.Valid(payload) {
		c.JSON(http.StatusOK, models.Response{Result: models.ResultInvalidRequest})
		return
	}

	postURL := h.params.Collider(req).WSSPostURL
	_, err = h.svc.PostMessage(c.Request.Context(), target(req, roomID), clientID, postURL, payload)
	if err != nil {
		var fwdErr *collider.ForwardError
		switch {
		case errors.As(err, &fwdErr):
			c.JSON(forwardStatus(fwdErr.StatusCode), models.Response{
				Result:         models.ResultError,
				UpstreamStatus: fwdErr.StatusCode,
			})
		case errors.Is(err, rooms.ErrUnknownRoom), errors.Is(err, rooms.ErrUnknownClient):
			c.JSON(http.StatusOK, models.Response{Result: resultFor(err)})
		default:
			h.logger.Error().Err(err).
				Str("roomID", roomID).
				Str("clientID", clientID).
				Msg("failed to deliver message")
			c.JSON(http.StatusBadGateway, models.Response{Result: models.ResultError})
		}
		return
	}
	c.JSON(http.StatusOK, models.Response{Result: models.ResultSuccess})
}

// Leave reports UNKNOWN_ROOM and UNKNOWN_CLIENT to the caller instead of
// acknowledging a removal that did not happen.
func (h *Signaling) Leave(c *gin.Context) {
	roomID := c.Param("roomId")
	clientID := c.Param("clientId")
	req := paramsRequest(c)

	if _, err := h.svc.Leave(c.Request.Context(), target(req, roomID), clientID); err != nil {
		c.JSON(http.StatusOK, models.Response{Result: resultFor(err)})
		return
	}
	c.JSON(http.StatusOK, models.Response{Result: models.ResultSuccess})
}

// forwardStatus mirrors an upstream error status. Other non-OK statuses,
// some of which forbid a response body, become a bad gateway.
func forwardStatus(upstream int) int {
	if upstream >= http.StatusBadRequest {
		return upstream
	}
	return http.StatusBadGateway
}

func paramsRequest(c *gin.Context) params.Request {
	return params.Request{
		Query:          c.Request.URL.Query(),
		Host:           c.Request.Host,
		UserAgent:      c.Request.UserAgent(),
		ForwardedProto: c.GetHeader("X-Forwarded-Proto"),
	}
}

func target(req params.Request, roomID string) signaling.Target {
	return signaling.Target{Host: req.Host, RoomID: roomID}
}

func resultFor(err error) models.Result {
	switch {
	case errors.Is(err, rooms.ErrRoomFull):
		return models.ResultRoomFull
	case errors.Is(err, rooms.ErrDuplicateClient):
		return models.ResultDuplicateClient
	case errors.Is(err, rooms.ErrUnknownRoom):
		return models.ResultUnknownRoom
	case errors.Is(err, rooms.ErrUnknownClient):
		return models.ResultUnknownClient
	}
	return models.ResultError
}
