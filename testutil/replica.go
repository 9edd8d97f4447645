package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/bobg/arsync"
	"github.com/bobg/arsync/frame"
	"github.com/bobg/arsync/transport"
)

// Replica is a scripted replica on a Network.
// It records every message it receives,
// answers login requests with a fixed result,
// and acknowledges updates while acking is enabled.
type Replica struct {
	Conn *Conn

	mu         sync.Mutex
	ack        bool
	result     string
	text       string
	loginDelay time.Duration
	msgs       []*arsync.Message
	clients    map[arsync.Endpoint]bool
}

// NewReplica creates a Replica at ep that acks updates and accepts every login.
func NewReplica(n *Network, ep arsync.Endpoint) *Replica {
	return &Replica{
		Conn:    n.Listen(ep),
		ack:     true,
		result:  arsync.LoginSuccessful,
		text:    "Logged in successfully",
		clients: make(map[arsync.Endpoint]bool),
	}
}

// SetAck turns acknowledgment of updates on or off.
func (r *Replica) SetAck(ack bool) {
	r.mu.Lock()
	r.ack = ack
	r.mu.Unlock()
}

// SetLogin sets the reply to login requests and a delay before sending it.
func (r *Replica) SetLogin(result, text string, delay time.Duration) {
	r.mu.Lock()
	r.result, r.text, r.loginDelay = result, text, delay
	r.mu.Unlock()
}

// Messages returns the messages received so far.
func (r *Replica) Messages() []*arsync.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*arsync.Message(nil), r.msgs...)
}

// Updates returns the update messages received so far.
func (r *Replica) Updates() []*arsync.Message {
	var result []*arsync.Message
	for _, msg := range r.Messages() {
		if msg.Action == arsync.ActionUpdate {
			result = append(result, msg)
		}
	}
	return result
}

// Endpoint is where the replica listens.
func (r *Replica) Endpoint() arsync.Endpoint {
	return r.Conn.LocalEndpoint()
}

// Run serves until ctx is canceled or the Conn is closed.
func (r *Replica) Run(ctx context.Context) {
	buf := make([]byte, frame.MaxDatagram)
	for ctx.Err() == nil {
		n, from, err := r.Conn.Receive(buf, 10*time.Millisecond)
		if err == transport.ErrTimeout {
			continue
		}
		if err != nil {
			return
		}
		msgs, _ := frame.Decode(buf[:n])
		for _, msg := range msgs {
			r.handle(msg, from)
		}
	}
}

func (r *Replica) handle(msg *arsync.Message, from arsync.Endpoint) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	ack := r.ack
	result, text, delay := r.result, r.text, r.loginDelay
	r.clients[from] = true
	r.mu.Unlock()

	switch msg.Action {
	case arsync.ActionLogin:
		reply := &arsync.Message{Action: arsync.ActionLogin, Result: result, Text: text}
		if delay > 0 {
			time.AfterFunc(delay, func() { r.send(reply, from) })
		} else {
			r.send(reply, from)
		}

	case arsync.ActionUpdate:
		if id, ok := msg.MessageID(); ok && ack {
			reply := &arsync.Message{Action: arsync.ActionReceived}
			reply.SetID(id)
			r.send(reply, from)
		}
	}
}

// Shutdown sends a shutdown notice to every endpoint this replica has heard from.
func (r *Replica) Shutdown() {
	r.mu.Lock()
	var clients []arsync.Endpoint
	for ep := range r.clients {
		clients = append(clients, ep)
	}
	r.mu.Unlock()

	for _, ep := range clients {
		r.send(&arsync.Message{Action: arsync.ActionShutdown}, ep)
	}
}

// SendTo sends an arbitrary message to ep.
func (r *Replica) SendTo(msg *arsync.Message, ep arsync.Endpoint) {
	r.send(msg, ep)
}

func (r *Replica) send(msg *arsync.Message, to arsync.Endpoint) {
	chunks, err := frame.Encode(msg)
	if err != nil {
		panic(err)
	}
	for _, c := range chunks {
		r.Conn.Send(c, to)
	}
}
