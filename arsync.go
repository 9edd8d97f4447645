package arsync

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// Action is the value of a message's "action" field.
type Action string

// The actions understood by clients and replicas.
const (
	ActionLogin      Action = "login"
	ActionUpdate     Action = "update"
	ActionReceived   Action = "received"
	ActionShutdown   Action = "shutdown"
	ActionDisconnect Action = "disconnect"
)

// EventType is the kind of filesystem change carried by an update message.
type EventType string

const (
	EventModified EventType = "modified"
	EventCreated  EventType = "created"
	EventDeleted  EventType = "deleted"
	EventMoved    EventType = "moved"
)

// Structure says whether an update refers to a file or a directory.
type Structure string

const (
	StructureFile Structure = "file"
	StructureDir  Structure = "dir"
)

// Login results.
const (
	LoginSuccessful = "successful"
	LoginFailed     = "failed"
)

// MessageID identifies a tracked message.
// IDs are assigned by a client in increasing order starting at 0
// and are never reused within one client process.
type MessageID int64

// Message is one protocol message.
// Which fields are meaningful depends on Action.
// Unknown fields on input are ignored.
type Message struct {
	Action Action     `json:"action"`
	ID     *MessageID `json:"id,omitempty"`

	// Login.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Result   string `json:"result,omitempty"`
	Text     string `json:"text,omitempty"`

	// Update.
	Path      string    `json:"path,omitempty"`
	EventType EventType `json:"event_type,omitempty"`
	Data      []byte    `json:"data,omitempty"`
	Structure Structure `json:"structure,omitempty"`
	SrcPath   string    `json:"src_path,omitempty"`
	DestPath  string    `json:"dest_path,omitempty"`
}

// SetID stamps m with id.
func (m *Message) SetID(id MessageID) {
	m.ID = &id
}

// MessageID returns m's id and whether it has one.
func (m *Message) MessageID() (MessageID, bool) {
	if m.ID == nil {
		return 0, false
	}
	return *m.ID, true
}

// Listener receives every inbound message together with the endpoint that sent it.
type Listener interface {
	Notify(msg *Message, from Endpoint)
}

// Endpoint is the network address of a replica (or, seen from a replica, of a client).
// Two endpoints are the same replica exactly when they are equal.
type Endpoint struct {
	Host string
	Port int
}

var _ net.Addr = Endpoint{}

// Network implements net.Addr.
func (e Endpoint) Network() string { return "udp" }

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// ParseEndpoint parses a host:port string without resolving the host.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portstr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, errors.Wrapf(err, "splitting %s", s)
	}
	port, err := strconv.Atoi(portstr)
	if err != nil {
		return Endpoint{}, errors.Wrapf(err, "parsing port in %s", s)
	}
	if port <= 0 || port > 65535 {
		return Endpoint{}, errors.Errorf("port %d out of range in %s", port, s)
	}
	return Endpoint{Host: host, Port: port}, nil
}

// ResolveEndpoint parses a host:port string and replaces the host with its resolved IP address.
// Replies arrive from IP addresses,
// so endpoints configured by hostname must be resolved
// for sender identities to compare equal to them.
func ResolveEndpoint(s string) (Endpoint, error) {
	addr, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		return Endpoint{}, errors.Wrapf(err, "resolving %s", s)
	}
	return EndpointFromUDPAddr(addr), nil
}

// EndpointFromUDPAddr converts a *net.UDPAddr to an Endpoint.
func EndpointFromUDPAddr(addr *net.UDPAddr) Endpoint {
	ip := addr.IP
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}
	return Endpoint{Host: ip.String(), Port: addr.Port}
}

var (
	// ErrQuorumLost means the replica set is empty and can never be refilled.
	ErrQuorumLost = errors.New("all replicas lost")

	// ErrNotLoggedIn is returned when an update is sent before a successful login.
	ErrNotLoggedIn = errors.New("not logged in")
)
