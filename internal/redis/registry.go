package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mossy-p/rendezvous/internal/rooms"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultRoomTTL = 24 * time.Hour

var errUnexpectedReply = errors.New("unexpected reply from redis")

// Registry stores rooms in Redis so that several service instances can
// share them. Each room operation runs as a single Lua script.
type Registry struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger zerolog.Logger
}

type Config struct {
	Client  redis.UniversalClient
	RoomTTL time.Duration
	Logger  *zerolog.Logger
}

func NewRegistry(cfg Config) *Registry {
	ttl := cfg.RoomTTL
	if ttl <= 0 {
		ttl = defaultRoomTTL
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Registry{
		client: cfg.Client,
		ttl:    ttl,
		logger: logger.With().Str("component", "redis-registry").Logger(),
	}
}

func (r *Registry) Get(ctx context.Context, key string) (rooms.Session, error) {
	n, err := r.client.Exists(ctx, markerKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("lookup room %s: %w", key, err)
	}
	if n == 0 {
		return nil, rooms.ErrUnknownRoom
	}
	return r.session(key), nil
}

func (r *Registry) Create(ctx context.Context, key string) (rooms.Session, error) {
	err := createScript.Run(ctx, r.client,
		roomKeys(key), stamp(), r.ttl.Milliseconds(),
	).Err()
	if err != nil {
		return nil, fmt.Errorf("create room %s: %w", key, err)
	}
	r.logger.Debug().Str("roomKey", key).Msg("room created")
	return r.session(key), nil
}

func (r *Registry) GetOrCreate(ctx context.Context, key string) (rooms.Session, error) {
	created, err := r.client.SetNX(ctx, markerKey(key), stamp(), r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("create room %s: %w", key, err)
	}
	if created {
		r.logger.Debug().Str("roomKey", key).Msg("room created")
	}
	return r.session(key), nil
}

func (r *Registry) session(key string) *Room {
	return &Room{key: key, client: r.client, ttl: r.ttl}
}

// Room is a handle on a room stored in Redis.
type Room struct {
	key    string
	client redis.UniversalClient
	ttl    time.Duration
}

func (r *Room) Key() string {
	return r.key
}

func (r *Room) keys() []string {
	return roomKeys(r.key)
}

func (r *Room) Admit(ctx context.Context, clientID string, loopback bool) (rooms.Admission, error) {
	flag := "0"
	if loopback {
		flag = "1"
	}
	reply, err := admitScript.Run(ctx, r.client, r.keys(),
		clientID, flag, rooms.LoopbackClientID, r.ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return rooms.Admission{}, fmt.Errorf("join room %s: %w", r.key, err)
	}
	if len(reply) != 4 {
		return rooms.Admission{}, errUnexpectedReply
	}
	status, _ := reply[0].(string)
	state := sorted(rooms.State{Participants: toStrings(reply[2])})
	switch status {
	case "SUCCESS":
	case "CLOSED":
		return rooms.Admission{}, rooms.ErrRoomClosed
	case "FULL":
		return rooms.Admission{State: state}, rooms.ErrRoomFull
	case "DUPLICATE_CLIENT":
		return rooms.Admission{State: state}, rooms.ErrDuplicateClient
	default:
		return rooms.Admission{}, fmt.Errorf("%w: %v", errUnexpectedReply, status)
	}

	roleName, _ := reply[1].(string)
	role, err := rooms.ParseRole(roleName)
	if err != nil {
		return rooms.Admission{}, err
	}
	messages := [][]byte{}
	for _, m := range toStrings(reply[3]) {
		messages = append(messages, []byte(m))
	}
	return rooms.Admission{Role: role, Messages: messages, State: state}, nil
}

func (r *Room) Save(ctx context.Context, clientID string, payload []byte) (bool, error) {
	status, err := saveScript.Run(ctx, r.client, r.keys(),
		clientID, payload, r.ttl.Milliseconds(),
	).Text()
	if err != nil {
		return false, fmt.Errorf("save message in room %s: %w", r.key, err)
	}
	switch status {
	case "BUFFERED":
		return true, nil
	case "FORWARD":
		return false, nil
	case "UNKNOWN_ROOM":
		return false, rooms.ErrUnknownRoom
	case "UNKNOWN_CLIENT":
		return false, rooms.ErrUnknownClient
	}
	return false, fmt.Errorf("%w: %v", errUnexpectedReply, status)
}

func (r *Room) Remove(ctx context.Context, clientID string) (rooms.Departure, error) {
	reply, err := removeScript.Run(ctx, r.client, r.keys(),
		clientID, rooms.LoopbackClientID, r.ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return rooms.Departure{}, fmt.Errorf("leave room %s: %w", r.key, err)
	}
	if len(reply) != 4 {
		return rooms.Departure{}, errUnexpectedReply
	}
	status, _ := reply[0].(string)
	state := sorted(rooms.State{Participants: toStrings(reply[3])})
	switch status {
	case "SUCCESS":
	case "UNKNOWN_ROOM":
		return rooms.Departure{}, rooms.ErrUnknownRoom
	case "UNKNOWN_CLIENT":
		return rooms.Departure{State: state}, rooms.ErrUnknownClient
	default:
		return rooms.Departure{}, fmt.Errorf("%w: %v", errUnexpectedReply, status)
	}
	promoted, _ := reply[1].(string)
	removed, _ := reply[2].(int64)
	return rooms.Departure{
		Promoted:        promoted,
		LoopbackRemoved: removed == 1,
		State:           state,
	}, nil
}

func (r *Room) Snapshot(ctx context.Context) (rooms.State, error) {
	reply, err := snapshotScript.Run(ctx, r.client, r.keys()).Slice()
	if err != nil {
		return rooms.State{}, fmt.Errorf("read room %s: %w", r.key, err)
	}
	if len(reply) != 2 {
		return rooms.State{}, errUnexpectedReply
	}
	if status, _ := reply[0].(string); status != "SUCCESS" {
		return rooms.State{}, rooms.ErrUnknownRoom
	}
	return sorted(rooms.State{Participants: toStrings(reply[1])}), nil
}

func markerKey(key string) string {
	return "room:{" + key + "}"
}

func clientsKey(key string) string {
	return "room:{" + key + "}:clients"
}

func messagesKey(key string) string {
	return "room:{" + key + "}:messages"
}

// roomKeys lists every key a room script touches.
func roomKeys(key string) []string {
	return []string{markerKey(key), clientsKey(key), messagesKey(key)}
}

func stamp() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

func toStrings(v interface{}) []string {
	items, _ := v.([]interface{})
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func sorted(s rooms.State) rooms.State {
	return rooms.NewState(s.Participants)
}
