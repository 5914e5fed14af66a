// Package signaling implements the join, leave and message operations of
// the rendezvous service. A message posted while the sender waits alone is
// buffered on its session; once both participants are present messages are
// handed to the external delivery service instead.
package signaling

import (
	"context"
	"errors"
	"fmt"

	"github.com/mossy-p/rendezvous/internal/rooms"
	"github.com/rs/zerolog"
)

//go:generate go run go.uber.org/mock/mockgen -source=service.go -destination=../mocks/mock_forwarder.go -package=mocks

// maxAdmitAttempts bounds the retries when a room is evicted between
// lookup and join.
const maxAdmitAttempts = 3

// Forwarder delivers a message to the peer through the external service.
type Forwarder interface {
	Forward(ctx context.Context, postURL, roomID, clientID string, payload []byte) error
}

// Delivery tells how a posted message was handled.
type Delivery int

const (
	Buffered Delivery = iota + 1
	Forwarded
)

func (d Delivery) String() string {
	switch d {
	case Buffered:
		return "buffered"
	case Forwarded:
		return "forwarded"
	}
	return "none"
}

// Target addresses a room on the host serving it.
type Target struct {
	Host   string
	RoomID string
}

func (t Target) key() string {
	return rooms.CacheKey(t.Host, t.RoomID)
}

type Config struct {
	Registry  rooms.Registry
	Forwarder Forwarder
	Logger    *zerolog.Logger
}

type Service struct {
	registry  rooms.Registry
	forwarder Forwarder
	logger    zerolog.Logger
}

func NewService(cfg Config) *Service {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Service{
		registry:  cfg.Registry,
		forwarder: cfg.Forwarder,
		logger:    logger.With().Str("component", "signaling").Logger(),
	}
}

// Join adds clientID to the room, creating the room if needed. With loopback
// set, a first joiner is paired with the reserved loopback participant.
func (s *Service) Join(ctx context.Context, target Target, clientID string, loopback bool) (rooms.Admission, error) {
	for attempt := 0; ; attempt++ {
		session, err := s.registry.GetOrCreate(ctx, target.key())
		if err != nil {
			return rooms.Admission{}, err
		}
		adm, err := session.Admit(ctx, clientID, loopback)
		if errors.Is(err, rooms.ErrRoomClosed) && attempt+1 < maxAdmitAttempts {
			continue
		}
		if err != nil {
			s.logger.Warn().Err(err).
				Str("roomID", target.RoomID).
				Str("clientID", clientID).
				Stringer("roomState", adm.State).
				Msg("error adding client to room")
			return adm, err
		}
		s.logger.Info().
			Str("roomID", target.RoomID).
			Str("clientID", clientID).
			Stringer("role", adm.Role).
			Int("messages", len(adm.Messages)).
			Stringer("roomState", adm.State).
			Msg("client joined room")
		return adm, nil
	}
}

// PostMessage buffers payload while the sender is alone in the room and
// forwards it otherwise. Forwarding happens after the room operation has
// completed so no room state is held while the request is in flight.
func (s *Service) PostMessage(ctx context.Context, target Target, clientID, postURL string, payload []byte) (Delivery, error) {
	session, err := s.registry.Get(ctx, target.key())
	if err != nil {
		s.logger.Warn().Err(err).Str("roomID", target.RoomID).Msg("unknown room")
		return 0, err
	}
	saved, err := session.Save(ctx, clientID, payload)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("roomID", target.RoomID).
			Str("clientID", clientID).
			Msg("failed to save message")
		return 0, err
	}
	if saved {
		s.logger.Debug().
			Str("roomID", target.RoomID).
			Str("clientID", clientID).
			Msg("saved message for client")
		return Buffered, nil
	}

	s.logger.Debug().
		Str("roomID", target.RoomID).
		Str("clientID", clientID).
		Msg("forwarding message to collider")
	if err := s.forwarder.Forward(ctx, postURL, target.RoomID, clientID, payload); err != nil {
		return Forwarded, fmt.Errorf("forward message: %w", err)
	}
	return Forwarded, nil
}

// Leave removes clientID from the room. A loopback pair leaves together,
// otherwise the remaining participant becomes initiator.
func (s *Service) Leave(ctx context.Context, target Target, clientID string) (rooms.Departure, error) {
	session, err := s.registry.Get(ctx, target.key())
	if err != nil {
		s.logger.Warn().Err(err).Str("roomID", target.RoomID).Msg("unknown room")
		return rooms.Departure{}, err
	}
	dep, err := session.Remove(ctx, clientID)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("roomID", target.RoomID).
			Str("clientID", clientID).
			Msg("failed to remove client")
		return dep, err
	}
	s.logger.Info().
		Str("roomID", target.RoomID).
		Str("clientID", clientID).
		Str("promoted", dep.Promoted).
		Bool("loopbackRemoved", dep.LoopbackRemoved).
		Stringer("roomState", dep.State).
		Msg("client left room")
	return dep, nil
}

// Room returns the participants of an existing room.
func (s *Service) Room(ctx context.Context, target Target) (rooms.State, error) {
	session, err := s.registry.Get(ctx, target.key())
	if err != nil {
		return rooms.State{}, err
	}
	return session.Snapshot(ctx)
}

// Reset replaces the room with an empty one.
func (s *Service) Reset(ctx context.Context, target Target) error {
	if _, err := s.registry.Create(ctx, target.key()); err != nil {
		return err
	}
	s.logger.Info().Str("roomID", target.RoomID).Msg("room reset")
	return nil
}
