package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bobg/subcmd"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/bobg/arsync/config"
)

type maincmd struct {
	conf  config.Config
	stdin *bufio.Reader
	out   io.Writer
	tty   int // file descriptor of a terminal to read passwords from, or -1
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Loading config: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("got signal %s", sig)
		cancel()
	}()

	c := maincmd{
		conf:  conf,
		stdin: bufio.NewReader(os.Stdin),
		out:   os.Stdout,
		tty:   -1,
	}
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		c.tty = fd
	}
	err = subcmd.Run(ctx, c, flag.Args())
	if err != nil {
		log.Fatal(err)
	}
}

// Subcmds implements subcmd.Cmd.
// Flag defaults come from the loaded config.
func (c maincmd) Subcmds() subcmd.Map {
	cc, rc := c.conf.Client, c.conf.Replica

	return subcmd.Commands(
		"adduser", c.adduser, subcmd.Params(
			"user", subcmd.String, "", "username",
		),
		"serve", c.serve, subcmd.Params(
			"addr", subcmd.String, rc.Addr, "UDP address to listen on",
			"dir", subcmd.String, rc.Dir, "storage directory",
			"health-addr", subcmd.String, rc.HealthAddr, "TCP address for gRPC health checks (default: none)",
			"debug", subcmd.Bool, rc.Debug, "log every datagram",
		),
		"status", c.status, subcmd.Params(
			"addr", subcmd.String, rc.HealthAddr, "replica health-check address",
			"timeout", subcmd.Duration, 5*time.Second, "how long to wait",
		),
		"sync", c.sync, subcmd.Params(
			"hosts", subcmd.String, "", "comma-separated replica hosts",
			"ports", subcmd.String, "", "comma-separated replica ports",
			"dir", subcmd.String, cc.Dir, "directory to synchronize",
			"debug", subcmd.Bool, cc.Debug, "log every datagram",
			"user", subcmd.String, "", "username (default: prompt)",
		),
		"users", c.users, nil,
	)
}

// prompt reads a line from the terminal,
// without echo if secret is true.
// It gives up when ctx is canceled.
func (c maincmd) prompt(ctx context.Context, label string, secret bool) (string, error) {
	type result struct {
		s   string
		err error
	}
	ch := make(chan result, 1)

	fmt.Fprint(c.out, label)
	go func() {
		var r result
		if secret && c.tty >= 0 {
			var b []byte
			b, r.err = term.ReadPassword(c.tty)
			fmt.Fprintln(c.out)
			r.s = string(b)
		} else {
			r.s, r.err = c.stdin.ReadString('\n')
		}
		ch <- result{s: strings.TrimRight(r.s, "\r\n"), err: r.err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.s, errors.Wrap(r.err, "reading input")
	}
}
