package transport

import (
	"log"
	"time"

	"github.com/bobg/arsync"
)

var _ Conn = &Logging{}

// Logging is a Conn that delegates to a nested Conn,
// logging every datagram as it passes.
type Logging struct {
	c Conn
}

// NewLogging produces a Logging wrapping c.
func NewLogging(c Conn) *Logging {
	return &Logging{c: c}
}

func (l *Logging) Send(b []byte, ep arsync.Endpoint) error {
	err := l.c.Send(b, ep)
	if err != nil {
		log.Printf("ERROR sending %d bytes to %s: %s", len(b), ep, err)
	} else {
		log.Printf("sent %d bytes to %s: %s", len(b), ep, b)
	}
	return err
}

func (l *Logging) Receive(buf []byte, timeout time.Duration) (int, arsync.Endpoint, error) {
	n, ep, err := l.c.Receive(buf, timeout)
	switch err {
	case nil:
		log.Printf("received %d bytes from %s: %s", n, ep, buf[:n])
	case ErrTimeout, ErrClosed:
	default:
		log.Printf("ERROR receiving: %s", err)
	}
	return n, ep, err
}

func (l *Logging) LocalEndpoint() arsync.Endpoint {
	return l.c.LocalEndpoint()
}

func (l *Logging) Close() error {
	log.Printf("closing %s", l.c.LocalEndpoint())
	return l.c.Close()
}
