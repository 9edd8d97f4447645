// Package dispatch sends messages to every replica in a replica set.
package dispatch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/arsync"
	"github.com/bobg/arsync/frame"
	"github.com/bobg/arsync/replicaset"
	"github.com/bobg/arsync/transport"
)

// Dispatcher assigns message ids and fans messages out to replicas.
// Sends never wait for acknowledgments;
// those are matched up by the replicaset.Manager as they arrive.
type Dispatcher struct {
	mgr  *replicaset.Manager
	conn transport.Conn
	next int64 // accessed atomically

	// Now is the clock used to timestamp sends.
	Now func() time.Time
}

// New produces a Dispatcher sending on conn to the replicas in mgr.
func New(mgr *replicaset.Manager, conn transport.Conn) *Dispatcher {
	return &Dispatcher{mgr: mgr, conn: conn, Now: time.Now}
}

// Send assigns msg the next message id,
// records it as pending for every current replica,
// and transmits it to all of them.
// Every replica is attempted even if sending to another fails;
// the first such failure is returned.
func (d *Dispatcher) Send(ctx context.Context, msg *arsync.Message) (arsync.MessageID, error) {
	id := arsync.MessageID(atomic.AddInt64(&d.next, 1) - 1)
	msg.SetID(id)

	chunks, err := frame.Encode(msg)
	if err != nil {
		return id, errors.Wrapf(err, "encoding message %d", id)
	}

	now := d.Now()
	d.mgr.SweepTimeouts(now)
	d.mgr.RegisterSend(id, now)

	replicas := d.mgr.Replicas()
	if len(replicas) == 0 {
		return id, arsync.ErrQuorumLost
	}
	return id, errors.Wrapf(d.fanout(ctx, chunks, replicas), "sending message %d", id)
}

// Broadcast transmits msg to every current replica without tracking acknowledgments.
// It is for login and disconnect messages.
func (d *Dispatcher) Broadcast(ctx context.Context, msg *arsync.Message) error {
	chunks, err := frame.Encode(msg)
	if err != nil {
		return errors.Wrapf(err, "encoding %s message", msg.Action)
	}
	replicas := d.mgr.Replicas()
	if len(replicas) == 0 {
		return arsync.ErrQuorumLost
	}
	return errors.Wrapf(d.fanout(ctx, chunks, replicas), "broadcasting %s message", msg.Action)
}

func (d *Dispatcher) fanout(ctx context.Context, chunks [][]byte, replicas []arsync.Endpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var g errgroup.Group
	for _, ep := range replicas {
		ep := ep
		g.Go(func() error {
			for _, c := range chunks {
				if err := d.conn.Send(c, ep); err != nil {
					return errors.Wrapf(err, "sending to %s", ep)
				}
			}
			return nil
		})
	}
	return g.Wait()
}
