package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/pkg/errors"

	"github.com/bobg/arsync"
	"github.com/bobg/arsync/client"
	"github.com/bobg/arsync/config"
	"github.com/bobg/arsync/transport"
	"github.com/bobg/arsync/watch"
)

func (c maincmd) sync(ctx context.Context, hosts, ports, dir string, debug bool, username string, _ []string) error {
	cc := c.conf.Client
	cc.Dir = dir
	cc.Debug = debug

	var err error
	if hosts != "" || ports != "" {
		cc.Replicas, err = config.ParseReplicas(hosts, ports)
		if err != nil {
			return errors.Wrap(err, "parsing -hosts and -ports")
		}
	}
	if err = cc.Validate(); err != nil {
		return err
	}

	var eps []arsync.Endpoint
	for _, r := range cc.Replicas {
		ep, err := arsync.ResolveEndpoint(r)
		if err != nil {
			return err
		}
		eps = append(eps, ep)
	}

	if err = os.MkdirAll(cc.Dir, 0755); err != nil {
		return errors.Wrapf(err, "making dir %s", cc.Dir)
	}

	u, err := transport.ListenUDP(cc.Listen)
	if err != nil {
		return err
	}
	var conn transport.Conn = u
	if cc.Debug {
		conn = transport.NewLogging(u)
	}

	cl := client.New(conn, eps, client.Options{
		Timeout:       cc.ServerTimeout,
		SweepInterval: cc.SweepInterval,
		LoginTimeout:  cc.LoginTimeout,
		Out:           c.out,
	})
	cl.Start(ctx)
	defer func() {
		cl.Shutdown("Closing client...")
		cl.Wait()
	}()

	err = c.login(ctx, cl, username)
	if errors.Is(err, client.ErrTerminated) || errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return err
	}

	tr, err := watch.NewTranslator(cc.Dir, cl)
	if err != nil {
		return err
	}

	wctx, wcancel := context.WithCancel(ctx)
	defer wcancel()
	go func() {
		select {
		case <-cl.Done():
			wcancel()
		case <-wctx.Done():
		}
	}()

	log.Printf("watching %s", tr.Root)
	return tr.Run(wctx)
}

func (c maincmd) login(ctx context.Context, cl *client.Client, username string) error {
	for {
		user := username
		if user == "" {
			var err error
			user, err = c.prompt(ctx, "Username: ", false)
			if err != nil {
				return err
			}
		}
		password, err := c.prompt(ctx, "Password: ", true)
		if err != nil {
			return err
		}

		res, err := cl.Login(ctx, user, password)
		if errors.Is(err, client.ErrLoginTimeout) {
			fmt.Fprintln(c.out, "Replicas are not responding. Please try again.")
			continue
		}
		if err != nil {
			return err
		}

		fmt.Fprintln(c.out, res.Text)
		if res.OK {
			return nil
		}
	}
}
