// Package transport defines the datagram connection used by clients and replicas,
// with a UDP implementation.
package transport

import (
	stderrs "errors"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/arsync"
)

// Conn sends and receives datagrams addressed by Endpoint.
// Implementations must allow Send and Receive to be called concurrently,
// and Close to be called from any goroutine.
type Conn interface {
	// Send transmits one datagram to ep.
	Send(b []byte, ep arsync.Endpoint) error

	// Receive waits at most timeout for one datagram,
	// reading it into buf.
	// It returns ErrTimeout when the wait expires
	// and ErrClosed once the Conn is closed.
	Receive(buf []byte, timeout time.Duration) (int, arsync.Endpoint, error)

	// LocalEndpoint is the address datagrams to this Conn should be sent to.
	LocalEndpoint() arsync.Endpoint

	Close() error
}

var (
	ErrClosed  = errors.New("connection closed")
	ErrTimeout = errors.New("receive timed out")
)

var _ Conn = &UDP{}

// UDP is a Conn on a UDP socket.
type UDP struct {
	conn *net.UDPConn

	mu    sync.Mutex
	addrs map[arsync.Endpoint]*net.UDPAddr
}

// ListenUDP opens a UDP socket on addr.
// Use ":0" for an ephemeral port.
func ListenUDP(addr string) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", addr)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", addr)
	}
	return &UDP{conn: conn, addrs: make(map[arsync.Endpoint]*net.UDPAddr)}, nil
}

// Send implements Conn.Send.
func (u *UDP) Send(b []byte, ep arsync.Endpoint) error {
	addr, err := u.resolve(ep)
	if err != nil {
		return err
	}
	_, err = u.conn.WriteToUDP(b, addr)
	if stderrs.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return errors.Wrapf(err, "sending to %s", ep)
}

func (u *UDP) resolve(ep arsync.Endpoint) (*net.UDPAddr, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if addr, ok := u.addrs[ep]; ok {
		return addr, nil
	}
	addr, err := net.ResolveUDPAddr("udp", ep.String())
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", ep)
	}
	u.addrs[ep] = addr
	return addr, nil
}

// Receive implements Conn.Receive.
func (u *UDP) Receive(buf []byte, timeout time.Duration) (int, arsync.Endpoint, error) {
	err := u.conn.SetReadDeadline(time.Now().Add(timeout))
	if stderrs.Is(err, net.ErrClosed) {
		return 0, arsync.Endpoint{}, ErrClosed
	}
	if err != nil {
		return 0, arsync.Endpoint{}, errors.Wrap(err, "setting read deadline")
	}

	n, addr, err := u.conn.ReadFromUDP(buf)
	if err != nil {
		if stderrs.Is(err, net.ErrClosed) {
			return 0, arsync.Endpoint{}, ErrClosed
		}
		var nerr net.Error
		if stderrs.As(err, &nerr) && nerr.Timeout() {
			return 0, arsync.Endpoint{}, ErrTimeout
		}
		return 0, arsync.Endpoint{}, errors.Wrap(err, "receiving")
	}
	return n, arsync.EndpointFromUDPAddr(addr), nil
}

// LocalEndpoint implements Conn.LocalEndpoint.
func (u *UDP) LocalEndpoint() arsync.Endpoint {
	return arsync.EndpointFromUDPAddr(u.conn.LocalAddr().(*net.UDPAddr))
}

// Close implements Conn.Close.
func (u *UDP) Close() error {
	err := u.conn.Close()
	if stderrs.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
