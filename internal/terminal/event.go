package terminal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Socket event names shared by the browser, the API and the worker.
const (
	EventRegister         = "register"
	EventCommand          = "command"
	EventOutput           = "output"
	EventError            = "error"
	EventPeerDisconnected = "peerDisconnected"
	EventSessionEnd       = "sessionEnd"
)

// Event is the wire frame exchanged over a terminal socket.
type Event struct {
	Event   string `json:"event"`
	Payload string `json:"payload,omitempty"`
}

// Role identifies which side of a relay session a connection plays.
type Role string

// Relay roles.
const (
	RoleClient   Role = "client"
	RoleInstance Role = "instance"
)

// Key is the typed rendezvous key a connection registers under.
type Key struct {
	ProjectID int64
	Role      Role
}

// String renders the key in its wire form, e.g. "client:42".
func (k Key) String() string {
	return string(k.Role) + ":" + strconv.FormatInt(k.ProjectID, 10)
}

// ClientKey returns the browser-side key for a project.
func ClientKey(projectID int64) Key {
	return Key{ProjectID: projectID, Role: RoleClient}
}

// InstanceKey returns the sandbox-side key for a project.
func InstanceKey(projectID int64) Key {
	return Key{ProjectID: projectID, Role: RoleInstance}
}

// ParseKey parses the wire form of a rendezvous key.
func ParseKey(s string) (Key, error) {
	role, id, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, fmt.Errorf("malformed registration key %q", s)
	}
	parsed := Role(role)
	if parsed != RoleClient && parsed != RoleInstance {
		return Key{}, fmt.Errorf("unknown registration role %q", role)
	}
	projectID, err := strconv.ParseInt(id, 10, 64)
	if err != nil || projectID <= 0 {
		return Key{}, fmt.Errorf("invalid project id in registration key %q", s)
	}
	return Key{ProjectID: projectID, Role: parsed}, nil
}

// ErrConnClosed is returned by ReadEvent once a connection has gone away.
var ErrConnClosed = errors.New("terminal: connection closed")

// Conn abstracts a registered duplex event connection.
type Conn interface {
	ReadEvent() (Event, error)
	WriteEvent(Event) error
	Close() error
}
