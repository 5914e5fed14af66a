package rooms

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

const maxParticipants = 2

// Admission is the outcome of a successful join.
type Admission struct {
	Role Role
	// Messages buffered by the peer that was already waiting in the room.
	Messages [][]byte
	State    State
}

// Departure is the outcome of a successful leave.
type Departure struct {
	// Promoted is the id of the remaining participant that became initiator.
	Promoted        string
	LoopbackRemoved bool
	State           State
}

// State is a snapshot of the participants of a room.
type State struct {
	Participants []string `json:"participants"`
}

func (s State) Occupancy() int {
	return len(s.Participants)
}

func (s State) String() string {
	data, _ := json.Marshal(s.Participants)
	return string(data)
}

func NewState(ids []string) State {
	sort.Strings(ids)
	if ids == nil {
		ids = []string{}
	}
	return State{Participants: ids}
}

// Room holds at most two participants of a call. All methods are safe for
// concurrent use.
type Room struct {
	key string

	mu         sync.Mutex
	clients    map[string]*Client
	lastActive time.Time
	closed     bool
}

func NewRoom(key string) *Room {
	return &Room{
		key:        key,
		clients:    make(map[string]*Client),
		lastActive: time.Now(),
	}
}

func (r *Room) Key() string {
	return r.key
}

func (r *Room) Occupancy() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *Room) HasClient(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[clientID]
	return ok
}

// Client returns a snapshot of the session of clientID.
func (r *Room) Client(clientID string) (Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientID]
	if !ok {
		return Client{}, false
	}
	return c.snapshot(), true
}

// Join admits clientID and returns a snapshot of its session.
func (r *Room) Join(clientID string) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch()
	c, _, err := r.join(clientID)
	if err != nil {
		return Client{}, err
	}
	return c.snapshot(), nil
}

// Leave removes clientID. The remaining participant, if any, is promoted to
// initiator unless the departing participant is the loopback placeholder.
func (r *Room) Leave(clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch()
	other, err := r.leave(clientID)
	if err != nil {
		return err
	}
	if other != nil && clientID != LoopbackClientID {
		other.role = Initiator
	}
	return nil
}

func (r *Room) BufferMessage(clientID string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientID]
	if !ok {
		return ErrUnknownClient
	}
	r.touch()
	c.addMessage(payload)
	return nil
}

// DrainMessages returns and clears the buffer of clientID.
func (r *Room) DrainMessages(clientID string) ([][]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientID]
	if !ok {
		return nil, ErrUnknownClient
	}
	return c.drain(), nil
}

// Admit performs a complete join under the room lock: capacity and duplicate
// checks, the optional loopback pairing and the hand-over of the messages
// buffered by the waiting peer.
func (r *Room) Admit(_ context.Context, clientID string, loopback bool) (Admission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Admission{}, ErrRoomClosed
	}
	r.touch()

	client, other, err := r.join(clientID)
	if err != nil {
		return Admission{State: r.state()}, err
	}
	if loopback && client.IsInitiator() {
		if _, _, err := r.join(LoopbackClientID); err != nil {
			delete(r.clients, clientID)
			return Admission{State: r.state()}, err
		}
	}

	messages := [][]byte{}
	if other != nil {
		messages = other.drain()
	}
	return Admission{
		Role:     client.role,
		Messages: messages,
		State:    r.state(),
	}, nil
}

// Save buffers payload on the sender's session while the sender is alone.
// It reports false, leaving all buffers untouched, once the peer is present.
func (r *Room) Save(_ context.Context, clientID string, payload []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, ErrUnknownRoom
	}
	c, ok := r.clients[clientID]
	if !ok {
		return false, ErrUnknownClient
	}
	r.touch()
	if len(r.clients) > 1 {
		return false, nil
	}
	c.addMessage(payload)
	return true, nil
}

// Remove performs a complete leave: a loopback pair is removed together,
// otherwise the remaining participant becomes initiator.
func (r *Room) Remove(_ context.Context, clientID string) (Departure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Departure{}, ErrUnknownRoom
	}
	r.touch()

	other, err := r.leave(clientID)
	if err != nil {
		return Departure{State: r.state()}, err
	}

	var dep Departure
	if _, ok := r.clients[LoopbackClientID]; ok {
		delete(r.clients, LoopbackClientID)
		dep.LoopbackRemoved = true
	} else if other != nil {
		other.role = Initiator
		dep.Promoted = r.peerID("")
	}
	dep.State = r.state()
	return dep, nil
}

func (r *Room) Snapshot(_ context.Context) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return State{}, ErrUnknownRoom
	}
	return r.state(), nil
}

func (r *Room) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state().String()
}

func (r *Room) join(clientID string) (*Client, *Client, error) {
	if len(r.clients) >= maxParticipants {
		return nil, nil, ErrRoomFull
	}
	if _, ok := r.clients[clientID]; ok {
		return nil, nil, ErrDuplicateClient
	}
	var other *Client
	if id := r.peerID(clientID); id != "" {
		other = r.clients[id]
	}
	role := Responder
	if other == nil {
		role = Initiator
	}
	client := newClient(role)
	r.clients[clientID] = client
	return client, other, nil
}

func (r *Room) leave(clientID string) (*Client, error) {
	if _, ok := r.clients[clientID]; !ok {
		return nil, ErrUnknownClient
	}
	delete(r.clients, clientID)
	if id := r.peerID(clientID); id != "" {
		return r.clients[id], nil
	}
	return nil, nil
}

// peerID returns the id of a participant other than clientID, or "".
func (r *Room) peerID(clientID string) string {
	for id := range r.clients {
		if id != clientID {
			return id
		}
	}
	return ""
}

func (r *Room) state() State {
	return NewState(lo.Keys(r.clients))
}

func (r *Room) touch() {
	r.lastActive = time.Now()
}

// closeIfIdle marks the room closed when it is empty and has been idle for
// at least ttl.
func (r *Room) closeIfIdle(now time.Time, ttl time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.clients) > 0 || now.Sub(r.lastActive) < ttl {
		return false
	}
	r.closed = true
	return true
}

func (r *Room) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}
