// Package client is the replicating side of arsync.
//
// A Client logs in to its replicas,
// sends updates to all of them,
// and listens for their acknowledgments and shutdown notices.
// It stops when told to
// or when the last replica is gone.
//
// Login is first-reply-wins:
// whichever replica answers first decides the outcome,
// even if others would disagree.
// Nothing here makes replicas agree with one another.
package client

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/arsync"
	"github.com/bobg/arsync/dispatch"
	"github.com/bobg/arsync/replicaset"
	"github.com/bobg/arsync/router"
	"github.com/bobg/arsync/transport"
)

// Defaults for Options.
const (
	DefaultLoginTimeout  = 10 * time.Second
	DefaultSweepInterval = time.Second
)

// QuorumLostMessage is shown when the last replica is evicted.
const QuorumLostMessage = "All replicas disconnected. Closing client..."

// State is the login state of a Client.
type State int

const (
	NotAttempted State = iota
	AwaitingReply
	LoggedIn
	Disconnected
)

func (s State) String() string {
	switch s {
	case NotAttempted:
		return "not attempted"
	case AwaitingReply:
		return "awaiting reply"
	case LoggedIn:
		return "logged in"
	case Disconnected:
		return "disconnected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrLoginTimeout means no replica answered a login request in time.
	ErrLoginTimeout = errors.New("no login reply")

	// ErrTerminated means the Client has shut down.
	ErrTerminated = errors.New("client terminated")
)

// Options configures a Client.
type Options struct {
	// Timeout is the server timeout (see replicaset.DefaultTimeout).
	Timeout time.Duration

	// SweepInterval is how often pending acknowledgments are checked for timeouts.
	SweepInterval time.Duration

	// LoginTimeout is how long Login waits for a reply.
	LoginTimeout time.Duration

	// PollInterval bounds each receive wait (see router.DefaultPollInterval).
	PollInterval time.Duration

	// Out receives user-visible notices.
	// The default is os.Stdout.
	Out io.Writer
}

// Result is the outcome of a login attempt that got a reply.
type Result struct {
	OK   bool
	Text string
}

var _ arsync.Listener = &Client{}

type Client struct {
	conn   transport.Conn
	mgr    *replicaset.Manager
	disp   *dispatch.Dispatcher
	router *router.Router
	out    io.Writer

	loginTimeout  time.Duration
	sweepInterval time.Duration

	mu      sync.Mutex
	state   State
	replies chan Result // non-nil while awaiting a login reply
	cancel  context.CancelFunc
	reason  string

	wg           sync.WaitGroup
	shutdownOnce sync.Once
	done         chan struct{}
}

// New produces a Client that will talk to replicas over conn.
// Call Start before Login.
func New(conn transport.Conn, replicas []arsync.Endpoint, opts Options) *Client {
	c := &Client{
		conn:          conn,
		out:           opts.Out,
		loginTimeout:  opts.LoginTimeout,
		sweepInterval: opts.SweepInterval,
		done:          make(chan struct{}),
	}
	if c.out == nil {
		c.out = os.Stdout
	}
	if c.loginTimeout <= 0 {
		c.loginTimeout = DefaultLoginTimeout
	}
	if c.sweepInterval <= 0 {
		c.sweepInterval = DefaultSweepInterval
	}

	c.mgr = replicaset.New(replicas, replicaset.Options{
		Timeout:      opts.Timeout,
		OnEvict:      c.evicted,
		OnQuorumLost: c.quorumLost,
	})
	c.disp = dispatch.New(c.mgr, conn)
	c.router = router.New(conn)
	if opts.PollInterval > 0 {
		c.router.PollInterval = opts.PollInterval
	}
	c.router.AddListener(c)

	return c
}

// Start launches the receive loop and the timeout sweeper.
// They run until ctx is canceled or the Client shuts down.
func (c *Client) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		if err := c.router.Run(ctx); err != nil {
			log.Printf("ERROR in receive loop: %s", err)
		}
	}()
	go func() {
		defer c.wg.Done()
		c.mgr.Run(ctx, c.sweepInterval)
	}()
}

// Manager is the replica set manager of c.
func (c *Client) Manager() *replicaset.Manager {
	return c.mgr
}

// State is c's login state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Login sends a login request to every replica
// and waits for the first reply.
// It returns ErrLoginTimeout if none arrives within the login timeout;
// the caller may try again.
func (c *Client) Login(ctx context.Context, username, password string) (Result, error) {
	replies := make(chan Result, 1)

	c.mu.Lock()
	switch c.state {
	case Disconnected:
		c.mu.Unlock()
		return Result{}, ErrTerminated
	case LoggedIn:
		c.mu.Unlock()
		return Result{}, errors.New("already logged in")
	}
	c.state = AwaitingReply
	c.replies = replies
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.replies == replies {
			c.replies = nil
			if c.state == AwaitingReply {
				c.state = NotAttempted
			}
		}
		c.mu.Unlock()
	}()

	err := c.disp.Broadcast(ctx, &arsync.Message{
		Action:   arsync.ActionLogin,
		Username: username,
		Password: password,
	})
	if errors.Is(err, arsync.ErrQuorumLost) {
		return Result{}, ErrTerminated
	}
	if err != nil {
		return Result{}, errors.Wrap(err, "sending login request")
	}

	timer := time.NewTimer(c.loginTimeout)
	defer timer.Stop()

	select {
	case res := <-replies:
		return res, nil
	case <-timer.C:
		return Result{}, ErrLoginTimeout
	case <-c.done:
		return Result{}, ErrTerminated
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Send transmits an update to every replica.
// It does not wait for acknowledgments.
func (c *Client) Send(ctx context.Context, msg *arsync.Message) (arsync.MessageID, error) {
	switch c.State() {
	case LoggedIn:
	case Disconnected:
		return 0, ErrTerminated
	default:
		return 0, arsync.ErrNotLoggedIn
	}
	return c.disp.Send(ctx, msg)
}

// Notify implements arsync.Listener.
func (c *Client) Notify(msg *arsync.Message, from arsync.Endpoint) {
	switch msg.Action {
	case arsync.ActionReceived:
		id, ok := msg.MessageID()
		if !ok {
			log.Printf("ERROR received message from %s has no id", from)
			return
		}
		c.mgr.SweepTimeouts(time.Now())
		c.mgr.RegisterAck(id, from)

	case arsync.ActionShutdown:
		c.mgr.Evict(from, replicaset.Shutdown)

	case arsync.ActionLogin:
		c.loginReply(msg, from)

	default:
		log.Printf("ignoring %s message from %s", msg.Action, from)
	}
}

func (c *Client) loginReply(msg *arsync.Message, from arsync.Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != AwaitingReply || c.replies == nil {
		log.Printf("ignoring login reply from %s", from)
		return
	}

	res := Result{OK: msg.Result == arsync.LoginSuccessful, Text: msg.Text}
	if res.OK {
		c.state = LoggedIn
	} else {
		c.state = NotAttempted
	}
	c.replies <- res
	c.replies = nil
}

func (c *Client) evicted(ep arsync.Endpoint, reason replicaset.Reason, remaining int) {
	if remaining == 0 {
		return
	}
	switch reason {
	case replicaset.Timeout:
		fmt.Fprintf(c.out, "Replica %s timed out and has been removed from the replica set.\n", ep)
	case replicaset.Shutdown:
		fmt.Fprintf(c.out, "Replica %s disconnected. Still enough backups available.\n", ep)
	}
}

func (c *Client) quorumLost() {
	c.Shutdown(QuorumLostMessage)
}

// Shutdown stops c:
// it tells the remaining replicas it is disconnecting,
// stops the background goroutines,
// closes the connection,
// and shows reason to the user.
// Only the first call has any effect.
func (c *Client) Shutdown(reason string) {
	c.shutdownOnce.Do(func() {
		err := c.disp.Broadcast(context.Background(), &arsync.Message{Action: arsync.ActionDisconnect})
		if err != nil && !errors.Is(err, arsync.ErrQuorumLost) {
			log.Printf("ERROR sending disconnect: %s", err)
		}

		c.mu.Lock()
		c.state = Disconnected
		c.reason = reason
		cancel := c.cancel
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if err := c.conn.Close(); err != nil {
			log.Printf("ERROR closing connection: %s", err)
		}

		fmt.Fprintln(c.out, reason)
		close(c.done)
	})
}

// Done is closed when c has shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Reason is the argument of the Shutdown call that stopped c.
func (c *Client) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Wait blocks until the goroutines launched by Start have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}
