package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mossy-p/rendezvous/internal/rooms"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRegistry(Config{Client: client, RoomTTL: time.Hour}), server
}

func TestRegistry_Get_UnknownRoom(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, err := registry.Get(context.Background(), "host/1")

	require.ErrorIs(t, err, rooms.ErrUnknownRoom)
}

func TestRegistry_JoinBufferForwardFlow(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry, _ := newTestRegistry(t)

	room, err := registry.GetOrCreate(ctx, "host/1")
	req.NoError(err)

	// Given a first participant that buffers two messages
	first, err := room.Admit(ctx, "c1", false)
	req.NoError(err)
	req.Equal(rooms.Initiator, first.Role)
	req.Empty(first.Messages)
	for _, m := range []string{"m1", "m2"} {
		saved, err := room.Save(ctx, "c1", []byte(m))
		req.NoError(err)
		req.True(saved)
	}

	// When the peer joins through a fresh lookup
	again, err := registry.Get(ctx, "host/1")
	req.NoError(err)
	second, err := again.Admit(ctx, "c2", false)

	// Then it receives the messages in order
	req.NoError(err)
	req.Equal(rooms.Responder, second.Role)
	req.Equal([][]byte{[]byte("m1"), []byte("m2")}, second.Messages)
	req.Equal([]string{"c1", "c2"}, second.State.Participants)

	// And further messages are forwarded, not buffered
	saved, err := room.Save(ctx, "c1", []byte("m3"))
	req.NoError(err)
	req.False(saved)
}

func TestRegistry_Admit_Errors(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry, _ := newTestRegistry(t)
	room, _ := registry.GetOrCreate(ctx, "host/1")

	_, err := room.Admit(ctx, "c1", false)
	req.NoError(err)
	_, err = room.Admit(ctx, "c1", false)
	req.ErrorIs(err, rooms.ErrDuplicateClient)
	_, err = room.Admit(ctx, "c2", false)
	req.NoError(err)
	adm, err := room.Admit(ctx, "c3", false)
	req.ErrorIs(err, rooms.ErrRoomFull)
	req.Equal(2, adm.State.Occupancy())
}

func TestRegistry_Admit_Loopback(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry, _ := newTestRegistry(t)
	room, _ := registry.GetOrCreate(ctx, "host/1")

	adm, err := room.Admit(ctx, "c1", true)
	req.NoError(err)
	req.Equal(rooms.Initiator, adm.Role)
	req.ElementsMatch([]string{"c1", rooms.LoopbackClientID}, adm.State.Participants)

	dep, err := room.Remove(ctx, "c1")
	req.NoError(err)
	req.True(dep.LoopbackRemoved)
	req.Empty(dep.State.Participants)
}

func TestRegistry_Admit_LoopbackIDJoinsOccupiedRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry, _ := newTestRegistry(t)
	room, _ := registry.GetOrCreate(ctx, "host/1")

	// An empty room cannot pair the reserved id with itself
	_, err := room.Admit(ctx, rooms.LoopbackClientID, true)
	req.ErrorIs(err, rooms.ErrDuplicateClient)

	// Once a participant waits, the reserved id joins as an ordinary peer
	_, err = room.Admit(ctx, "c1", false)
	req.NoError(err)
	adm, err := room.Admit(ctx, rooms.LoopbackClientID, true)
	req.NoError(err)
	req.Equal(rooms.Responder, adm.Role)
	req.Equal([]string{rooms.LoopbackClientID, "c1"}, adm.State.Participants)
}

func TestRegistry_Save_BuffersInRoomMessageHash(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry, server := newTestRegistry(t)
	room, _ := registry.GetOrCreate(ctx, "host/1")
	_, _ = room.Admit(ctx, "c1", false)

	_, err := room.Save(ctx, "c1", []byte("offer"))
	req.NoError(err)
	_, err = room.Save(ctx, "c1", []byte("candidate"))
	req.NoError(err)

	buffered, err := server.HKeys(messagesKey("host/1"))
	req.NoError(err)
	req.Equal([]string{"c1"}, buffered)
	req.Equal([]string{markerKey("host/1"), clientsKey("host/1"), messagesKey("host/1")}, room.(*Room).keys())

	_, err = room.Admit(ctx, "c2", false)
	req.NoError(err)
	req.False(server.Exists(messagesKey("host/1")))
}

func TestRegistry_Remove_PromotesPeer(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry, server := newTestRegistry(t)
	room, _ := registry.GetOrCreate(ctx, "host/1")
	_, _ = room.Admit(ctx, "c1", false)
	_, _ = room.Admit(ctx, "c2", false)

	dep, err := room.Remove(ctx, "c1")

	req.NoError(err)
	req.Equal("c2", dep.Promoted)
	req.Equal([]string{"c2"}, dep.State.Participants)
	role := server.HGet(clientsKey("host/1"), "c2")
	req.Equal("initiator", role)
}

func TestRegistry_Remove_UnknownClientAndRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry, _ := newTestRegistry(t)
	room, _ := registry.GetOrCreate(ctx, "host/1")

	_, err := room.Remove(ctx, "unknown")
	req.ErrorIs(err, rooms.ErrUnknownClient)

	_, err = registry.session("host/other").Remove(ctx, "c1")
	req.ErrorIs(err, rooms.ErrUnknownRoom)

	_, err = registry.session("host/other").Save(ctx, "c1", []byte("m"))
	req.ErrorIs(err, rooms.ErrUnknownRoom)
}

func TestRegistry_Create_ResetsRoom(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry, server := newTestRegistry(t)
	room, _ := registry.GetOrCreate(ctx, "host/1")
	_, _ = room.Admit(ctx, "c1", false)
	_, _ = room.Save(ctx, "c1", []byte("m1"))

	fresh, err := registry.Create(ctx, "host/1")

	req.NoError(err)
	state, err := fresh.Snapshot(ctx)
	req.NoError(err)
	req.Empty(state.Participants)
	req.False(server.Exists(messagesKey("host/1")))
}

func TestRegistry_GetOrCreate_InstallsOnce(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry, server := newTestRegistry(t)

	var wg sync.WaitGroup
	wg.Add(100)
	for i := 0; i < 100; i++ {
		go func() {
			defer wg.Done()
			_, _ = registry.GetOrCreate(ctx, "host/shared")
		}()
	}
	wg.Wait()

	first, err := server.Get(markerKey("host/shared"))
	req.NoError(err)

	// A later call must not reinstall the room
	_, err = registry.GetOrCreate(ctx, "host/shared")
	req.NoError(err)
	again, err := server.Get(markerKey("host/shared"))
	req.NoError(err)
	req.Equal(first, again)
}

func TestRegistry_RoomExpires(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry, server := newTestRegistry(t)
	room, _ := registry.GetOrCreate(ctx, "host/1")
	_, _ = room.Admit(ctx, "c1", false)

	server.FastForward(2 * time.Hour)

	_, err := registry.Get(ctx, "host/1")
	req.ErrorIs(err, rooms.ErrUnknownRoom)
}
