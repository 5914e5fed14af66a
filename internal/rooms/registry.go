package rooms

import (
	"context"
	"sync"
	"time"
)

//go:generate go run go.uber.org/mock/mockgen -source=registry.go -destination=../mocks/mock_registry.go -package=mocks

// Session is a room as seen by the signaling service. Each method is atomic
// with respect to the other methods of the same room.
type Session interface {
	Key() string
	Admit(ctx context.Context, clientID string, loopback bool) (Admission, error)
	Save(ctx context.Context, clientID string, payload []byte) (bool, error)
	Remove(ctx context.Context, clientID string) (Departure, error)
	Snapshot(ctx context.Context) (State, error)
}

// Registry maps room keys to sessions.
type Registry interface {
	// Get returns ErrUnknownRoom when no session exists for key.
	Get(ctx context.Context, key string) (Session, error)
	// Create installs a new empty session at key, replacing any previous one.
	Create(ctx context.Context, key string) (Session, error)
	// GetOrCreate returns the session at key, installing one if absent.
	GetOrCreate(ctx context.Context, key string) (Session, error)
}

// CacheKey namespaces a room id by the host serving it.
func CacheKey(host, roomID string) string {
	return host + "/" + roomID
}

// MemoryRegistry keeps rooms in process memory.
type MemoryRegistry struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{rooms: make(map[string]*Room)}
}

func (m *MemoryRegistry) Get(_ context.Context, key string) (Session, error) {
	room, ok := m.Room(key)
	if !ok {
		return nil, ErrUnknownRoom
	}
	return room, nil
}

func (m *MemoryRegistry) Create(_ context.Context, key string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.rooms[key]; ok {
		old.close()
	}
	room := NewRoom(key)
	m.rooms[key] = room
	return room, nil
}

func (m *MemoryRegistry) GetOrCreate(_ context.Context, key string) (Session, error) {
	return m.RoomOrCreate(key), nil
}

// Room is the typed lookup used by tests and the janitor.
func (m *MemoryRegistry) Room(key string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[key]
	return room, ok
}

func (m *MemoryRegistry) RoomOrCreate(key string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[key]
	if !ok {
		room = NewRoom(key)
		m.rooms[key] = room
	} else {
		room.mu.Lock()
		room.touch()
		room.mu.Unlock()
	}
	return room
}

func (m *MemoryRegistry) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Sweep evicts empty rooms idle for at least ttl and returns their keys.
func (m *MemoryRegistry) Sweep(now time.Time, ttl time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var evicted []string
	for key, room := range m.rooms {
		if room.closeIfIdle(now, ttl) {
			delete(m.rooms, key)
			evicted = append(evicted, key)
		}
	}
	return evicted
}

// RunJanitor sweeps the registry every interval until ctx is done.
func (m *MemoryRegistry) RunJanitor(ctx context.Context, interval, ttl time.Duration, onEvict func(keys []string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if keys := m.Sweep(now, ttl); len(keys) > 0 && onEvict != nil {
				onEvict(keys)
			}
		}
	}
}
