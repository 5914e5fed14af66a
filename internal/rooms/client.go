package rooms

import "fmt"

// Role of a participant in a room.
type Role int

const (
	Responder Role = iota
	Initiator
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// LoopbackClientID is the reserved id of the synthetic peer added to a room
// joined in loopback mode.
const LoopbackClientID = "LOOPBACK_CLIENT_ID"

// Client is the state of one participant inside a room. The copy held by a
// Room is guarded by its mutex; Room methods only hand out snapshots.
type Client struct {
	role     Role
	messages [][]byte
}

func newClient(role Role) *Client {
	return &Client{role: role}
}

func (c Client) Role() Role {
	return c.role
}

func (c Client) IsInitiator() bool {
	return c.role == Initiator
}

// Messages returns a copy of the buffered messages in insertion order.
func (c Client) Messages() [][]byte {
	out := make([][]byte, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Client) snapshot() Client {
	return Client{role: c.role, messages: c.Messages()}
}

func (c *Client) addMessage(payload []byte) {
	c.messages = append(c.messages, payload)
}

// drain returns the buffered messages and empties the buffer.
func (c *Client) drain() [][]byte {
	out := c.messages
	c.messages = nil
	if out == nil {
		return [][]byte{}
	}
	return out
}

func (c Client) String() string {
	return fmt.Sprintf("{ %t, %d }", c.IsInitiator(), len(c.messages))
}

// ParseRole is the inverse of Role.String.
func ParseRole(s string) (Role, error) {
	switch s {
	case "initiator":
		return Initiator, nil
	case "responder":
		return Responder, nil
	}
	return Responder, fmt.Errorf("invalid role %q", s)
}
