package replica_test

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bobg/arsync"
	"github.com/bobg/arsync/auth/mem"
	"github.com/bobg/arsync/client"
	"github.com/bobg/arsync/replica"
	"github.com/bobg/arsync/testutil"
	"github.com/bobg/arsync/watch"
)

func TestEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	users := mem.New()
	require.NoError(t, users.Add(ctx, "alice", "pw"))

	var (
		n     = testutil.NewNetwork()
		eps   = []arsync.Endpoint{{Host: "h1", Port: 9000}, {Host: "h1", Port: 9001}}
		roots []string
		stops []context.CancelFunc
		dones []chan error
	)
	for _, ep := range eps {
		root := t.TempDir()
		roots = append(roots, root)
		s := replica.New(n.Listen(ep), root, users)

		sctx, stop := context.WithCancel(ctx)
		stops = append(stops, stop)
		done := make(chan error, 1)
		dones = append(dones, done)
		go func() { done <- s.Serve(sctx) }()
	}

	out := ioutil.Discard
	c := client.New(n.Listen(arsync.Endpoint{Host: "client", Port: 5000}), eps, client.Options{
		PollInterval: 10 * time.Millisecond,
		Out:          out,
	})
	c.Start(ctx)

	res, err := c.Login(ctx, "alice", "wrong")
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, "Password is wrong", res.Text)

	// Login is first-reply-wins;
	// let the slower replica's answer to the last attempt go by.
	time.Sleep(100 * time.Millisecond)

	res, err = c.Login(ctx, "bob", "pw")
	require.NoError(t, err)
	require.Equal(t, client.Result{OK: false, Text: "Username does not exist"}, res)
	time.Sleep(100 * time.Millisecond)

	res, err = c.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	require.True(t, res.OK)

	// Every replica must have logged alice in before updates arrive,
	// since only the first reply was awaited.
	time.Sleep(100 * time.Millisecond)

	local := t.TempDir()
	tr, err := watch.NewTranslator(local, c)
	require.NoError(t, err)

	file := filepath.Join(local, "a.txt")
	require.NoError(t, ioutil.WriteFile(file, []byte("hello"), 0644))
	require.NoError(t, tr.Handle(ctx, watch.Event{Op: watch.Created, Path: file}))

	mgr := c.Manager()
	require.Eventually(t, func() bool { return mgr.Len() == 0 }, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, eps, mgr.Replicas())

	for _, root := range roots {
		got, err := ioutil.ReadFile(filepath.Join(root, "alice", "a.txt"))
		require.NoError(t, err)
		require.Equal(t, "hello", string(got))
	}

	require.NoError(t, os.Remove(file))
	require.NoError(t, tr.Handle(ctx, watch.Event{Op: watch.Deleted, Path: file}))
	require.Eventually(t, func() bool { return mgr.Len() == 0 }, 5*time.Second, 5*time.Millisecond)
	for _, root := range roots {
		_, err := os.Stat(filepath.Join(root, "alice", "a.txt"))
		require.True(t, os.IsNotExist(err))
	}

	// Stopping one replica evicts it; stopping the other ends the client.
	stops[0]()
	require.NoError(t, <-dones[0])
	require.Eventually(t, func() bool { return len(mgr.Replicas()) == 1 }, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, eps[1:], mgr.Replicas())

	stops[1]()
	require.NoError(t, <-dones[1])
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client did not terminate")
	}
	c.Wait()
	require.Equal(t, client.QuorumLostMessage, c.Reason())
}
