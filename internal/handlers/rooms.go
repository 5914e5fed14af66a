package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/rendezvous/internal/middleware"
	"github.com/mossy-p/rendezvous/internal/models"
	"github.com/mossy-p/rendezvous/internal/rooms"
	"github.com/mossy-p/rendezvous/internal/signaling"
)

// RegisterOperator mounts the room inspection API. Rooms are namespaced by
// host; the host query parameter selects one, defaulting to the request host.
func (h *Signaling) RegisterOperator(r gin.IRouter) {
	r.GET("/rooms/:roomId", h.GetRoom)
	r.DELETE("/rooms/:roomId", h.ResetRoom)
}

// GetRoom returns the participants of a room.
func (h *Signaling) GetRoom(c *gin.Context) {
	t := operatorTarget(c)

	state, err := h.svc.Room(c.Request.Context(), t)
	if errors.Is(err, rooms.ErrUnknownRoom) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("roomID", t.RoomID).Msg("failed to read room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read room"})
		return
	}

	c.JSON(http.StatusOK, models.RoomInfo{
		RoomID:       t.RoomID,
		Host:         t.Host,
		Participants: state.Participants,
		Occupancy:    state.Occupancy(),
		Full:         state.Occupancy() >= 2,
	})
}

// ResetRoom replaces a room with an empty one, disconnecting its
// participants from the buffered state.
func (h *Signaling) ResetRoom(c *gin.Context) {
	t := operatorTarget(c)

	if err := h.svc.Reset(c.Request.Context(), t); err != nil {
		h.logger.Error().Err(err).Str("roomID", t.RoomID).Msg("failed to reset room")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset room"})
		return
	}

	h.logger.Info().
		Str("roomID", t.RoomID).
		Str("operator", c.GetString(middleware.OperatorKey)).
		Msg("room reset by operator")
	c.JSON(http.StatusOK, gin.H{"message": "Room reset"})
}

func operatorTarget(c *gin.Context) signaling.Target {
	host := c.Query("host")
	if host == "" {
		host = c.Request.Host
	}
	return signaling.Target{Host: host, RoomID: c.Param("roomId")}
}
