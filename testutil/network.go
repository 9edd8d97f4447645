// Package testutil contains an in-memory datagram network
// and scripted replicas for testing clients.
package testutil

import (
	"sync"
	"time"

	"github.com/bobg/arsync"
	"github.com/bobg/arsync/transport"
)

// Network delivers datagrams between Conns in memory.
// Delivery is immediate and in order,
// except to endpoints marked with Drop,
// whose datagrams silently vanish.
type Network struct {
	mu    sync.Mutex
	conns map[arsync.Endpoint]*Conn
	drop  map[arsync.Endpoint]bool
}

func NewNetwork() *Network {
	return &Network{
		conns: make(map[arsync.Endpoint]*Conn),
		drop:  make(map[arsync.Endpoint]bool),
	}
}

// Listen creates a Conn at ep.
func (n *Network) Listen(ep arsync.Endpoint) *Conn {
	c := &Conn{
		net:    n,
		ep:     ep,
		inbox:  make(chan packet, 1024),
		closed: make(chan struct{}),
	}
	n.mu.Lock()
	n.conns[ep] = c
	n.mu.Unlock()
	return c
}

// Drop makes datagrams addressed to ep vanish (or stop vanishing).
func (n *Network) Drop(ep arsync.Endpoint, drop bool) {
	n.mu.Lock()
	n.drop[ep] = drop
	n.mu.Unlock()
}

func (n *Network) deliver(b []byte, from, to arsync.Endpoint) {
	n.mu.Lock()
	c, ok := n.conns[to]
	drop := n.drop[to]
	n.mu.Unlock()

	if !ok || drop {
		return
	}

	p := packet{data: append([]byte(nil), b...), from: from}
	select {
	case <-c.closed:
	case c.inbox <- p:
	default:
		// Full inbox; lost like any other datagram.
	}
}

type packet struct {
	data []byte
	from arsync.Endpoint
}

var _ transport.Conn = &Conn{}

// Conn is one endpoint on a Network.
type Conn struct {
	net   *Network
	ep    arsync.Endpoint
	inbox chan packet

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *Conn) Send(b []byte, to arsync.Endpoint) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	c.net.deliver(b, c.ep, to)
	return nil
}

func (c *Conn) Receive(buf []byte, timeout time.Duration) (int, arsync.Endpoint, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.closed:
		return 0, arsync.Endpoint{}, transport.ErrClosed
	case p := <-c.inbox:
		return copy(buf, p.data), p.from, nil
	case <-timer.C:
		return 0, arsync.Endpoint{}, transport.ErrTimeout
	}
}

func (c *Conn) LocalEndpoint() arsync.Endpoint {
	return c.ep
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Closed tells whether Close has been called.
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
