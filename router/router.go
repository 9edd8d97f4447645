// Package router receives datagrams, decodes them,
// and hands each message to every registered arsync.Listener.
package router

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/arsync"
	"github.com/bobg/arsync/frame"
	"github.com/bobg/arsync/transport"
)

// DefaultPollInterval bounds each receive wait,
// and so how long Run takes to notice cancellation.
const DefaultPollInterval = 100 * time.Millisecond

// Router delivers messages arriving on a Conn to its listeners.
type Router struct {
	conn transport.Conn

	// PollInterval is the receive wait.
	PollInterval time.Duration

	mu        sync.Mutex
	seq       int
	listeners map[arsync.Listener]int // value is registration order
}

// New produces a Router reading from conn with no listeners.
func New(conn transport.Conn) *Router {
	return &Router{
		conn:         conn,
		PollInterval: DefaultPollInterval,
		listeners:    make(map[arsync.Listener]int),
	}
}

// AddListener registers l.
// Adding a listener that is already registered does nothing.
func (r *Router) AddListener(l arsync.Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.listeners[l]; ok {
		return
	}
	r.listeners[l] = r.seq
	r.seq++
}

// RemoveListener unregisters l.
func (r *Router) RemoveListener(l arsync.Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, l)
}

func (r *Router) snapshot() []arsync.Listener {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]arsync.Listener, 0, len(r.listeners))
	for l := range r.listeners {
		result = append(result, l)
	}
	sort.Slice(result, func(i, j int) bool {
		return r.listeners[result[i]] < r.listeners[result[j]]
	})
	return result
}

// Run receives datagrams until ctx is canceled or the connection is closed,
// in either case returning nil.
// Undecodable fragments and receive errors are logged and skipped.
func (r *Router) Run(ctx context.Context) error {
	buf := make([]byte, frame.MaxDatagram)

	for {
		if err := ctx.Err(); err != nil {
			log.Print("context canceled, exiting router")
			return nil
		}

		n, from, err := r.conn.Receive(buf, r.PollInterval)
		if errors.Is(err, transport.ErrTimeout) {
			continue
		}
		if errors.Is(err, transport.ErrClosed) {
			log.Print("connection closed, exiting router")
			return nil
		}
		if err != nil {
			log.Printf("ERROR receiving: %s", err)
			continue
		}

		msgs, err := frame.Decode(buf[:n])
		if err != nil {
			log.Printf("ERROR decoding datagram from %s: %s", from, err)
		}
		if len(msgs) == 0 {
			continue
		}

		listeners := r.snapshot()
		for _, msg := range msgs {
			for _, l := range listeners {
				l.Notify(msg, from)
			}
		}
	}
}
