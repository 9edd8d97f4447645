package transport

import (
	"testing"
	"time"
)

func TestUDP(t *testing.T) {
	a, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	b, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	buf := make([]byte, 1024)

	_, _, err = b.Receive(buf, 10*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("got error %v, want ErrTimeout", err)
	}

	la := NewLogging(a)
	if err = la.Send([]byte("hello\n"), b.LocalEndpoint()); err != nil {
		t.Fatal(err)
	}

	n, from, err := b.Receive(buf, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(buf[:n]); got != "hello\n" {
		t.Errorf("got %q, want %q", got, "hello\n")
	}
	if from != a.LocalEndpoint() {
		t.Errorf("got sender %s, want %s", from, a.LocalEndpoint())
	}

	if err = b.Close(); err != nil {
		t.Fatal(err)
	}
	_, _, err = b.Receive(buf, time.Second)
	if err != ErrClosed {
		t.Errorf("got error %v after Close, want ErrClosed", err)
	}
	if err = b.Close(); err != nil {
		t.Errorf("second Close: %s", err)
	}
}
