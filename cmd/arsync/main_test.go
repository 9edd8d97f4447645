package main

import (
	"bufio"
	"bytes"
	"context"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/bobg/subcmd"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/bobg/arsync/auth"
	"github.com/bobg/arsync/config"
)

func testCmd(conf config.Config, input string) (maincmd, *bytes.Buffer) {
	out := new(bytes.Buffer)
	return maincmd{
		conf:  conf,
		stdin: bufio.NewReader(strings.NewReader(input)),
		out:   out,
		tty:   -1,
	}, out
}

func TestSubcmds(t *testing.T) {
	c, _ := testCmd(config.Default(), "")

	var got []string
	for name := range c.Subcmds() {
		got = append(got, name)
	}
	sort.Strings(got)

	want := []string{"adduser", "serve", "status", "sync", "users"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	err := subcmd.Run(context.Background(), c, []string{"frobnicate"})
	if !errors.Is(err, subcmd.ErrUnknown) {
		t.Errorf("got %v for an unknown subcommand, want %v", err, subcmd.ErrUnknown)
	}
}

func TestAddUsers(t *testing.T) {
	ctx := context.Background()

	conf := config.Default()
	conf.Replica.Auth = map[string]interface{}{
		"type": "sqlite3",
		"conn": filepath.Join(t.TempDir(), "users.db"),
	}

	for _, user := range []string{"bob", "alice"} {
		c, _ := testCmd(conf, "pw-"+user+"\n")
		if err := subcmd.Run(ctx, c, []string{"adduser", "-user", user}); err != nil {
			t.Fatal(err)
		}
	}

	c, _ := testCmd(conf, "")
	if err := subcmd.Run(ctx, c, []string{"adduser"}); err == nil {
		t.Error("no error from adduser without -user")
	}

	c, out := testCmd(conf, "")
	if err := subcmd.Run(ctx, c, []string{"users"}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff("alice\nbob\n", out.String()); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	s, err := auth.Create(ctx, "sqlite3", conf.Replica.Auth)
	if err != nil {
		t.Fatal(err)
	}
	if err = s.Verify(ctx, "alice", "pw-alice"); err != nil {
		t.Error(err)
	}
	if err = s.Verify(ctx, "alice", "pw-bob"); !errors.Is(err, auth.ErrWrongPassword) {
		t.Errorf("got %v, want %v", err, auth.ErrWrongPassword)
	}
}

func TestStatus(t *testing.T) {
	addr, stop, err := serveHealth("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	c, out := testCmd(config.Default(), "")
	if err = subcmd.Run(context.Background(), c, []string{"status", "-addr", addr.String()}); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != "SERVING" {
		t.Errorf("got status %q, want SERVING", got)
	}
}
