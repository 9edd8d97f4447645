package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/arsync"
	"github.com/bobg/arsync/testutil"
)

type recorder struct {
	name string
	log  *[]string
	mu   *sync.Mutex
	got  chan *arsync.Message
}

func (r *recorder) Notify(msg *arsync.Message, from arsync.Endpoint) {
	r.mu.Lock()
	*r.log = append(*r.log, r.name+":"+string(msg.Action)+"@"+from.String())
	r.mu.Unlock()
	r.got <- msg
}

func TestRouter(t *testing.T) {
	var (
		mu  sync.Mutex
		log []string
	)
	a := &recorder{name: "a", log: &log, mu: &mu, got: make(chan *arsync.Message, 10)}
	b := &recorder{name: "b", log: &log, mu: &mu, got: make(chan *arsync.Message, 10)}

	n := testutil.NewNetwork()
	replica := arsync.Endpoint{Host: "h1", Port: 9000}
	rconn := n.Listen(replica)
	me := arsync.Endpoint{Host: "client", Port: 5000}
	conn := n.Listen(me)

	r := New(conn)
	r.PollInterval = 10 * time.Millisecond
	r.AddListener(a)
	r.AddListener(b)
	r.AddListener(a)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Garbage first; the router must survive it.
	rconn.Send([]byte("{not json\n"), me)
	rconn.Send([]byte(`{"action":"received","id":0}`+"\n"+`{"action":"shutdown"}`+"\n"), me)

	for _, rec := range []*recorder{a, b} {
		for i := 0; i < 2; i++ {
			select {
			case <-rec.got:
			case <-time.After(5 * time.Second):
				t.Fatalf("listener %s got %d messages, want 2", rec.name, i)
			}
		}
	}

	want := []string{
		"a:received@h1:9000",
		"b:received@h1:9000",
		"a:shutdown@h1:9000",
		"b:shutdown@h1:9000",
	}
	mu.Lock()
	if diff := cmp.Diff(want, log); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	mu.Unlock()

	r.RemoveListener(a)
	rconn.Send([]byte(`{"action":"shutdown"}`+"\n"), me)
	select {
	case <-b.got:
	case <-time.After(5 * time.Second):
		t.Fatal("listener b got nothing")
	}
	select {
	case <-a.got:
		t.Error("removed listener was notified")
	case <-time.After(50 * time.Millisecond):
	}

	start := time.Now()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("router did not stop")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("router took %s to stop", elapsed)
	}
}

func TestRouterStopsOnClose(t *testing.T) {
	n := testutil.NewNetwork()
	conn := n.Listen(arsync.Endpoint{Host: "client", Port: 5000})
	r := New(conn)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	conn.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("router did not stop")
	}
}
