package main

import (
	"context"
	"fmt"
	"log"
	"net"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/bobg/arsync/auth"
	_ "github.com/bobg/arsync/auth/mem"
	_ "github.com/bobg/arsync/auth/sqlstore"
	"github.com/bobg/arsync/replica"
	"github.com/bobg/arsync/transport"
)

func (c maincmd) serve(ctx context.Context, addr, dir, healthAddr string, debug bool, _ []string) error {
	rc := c.conf.Replica
	rc.Addr, rc.Dir, rc.HealthAddr, rc.Debug = addr, dir, healthAddr, debug
	if err := rc.Validate(); err != nil {
		return err
	}

	users, err := c.authStore(ctx)
	if err != nil {
		return err
	}

	u, err := transport.ListenUDP(rc.Addr)
	if err != nil {
		return err
	}
	defer u.Close()

	var conn transport.Conn = u
	if rc.Debug {
		conn = transport.NewLogging(u)
	}

	if rc.HealthAddr != "" {
		_, stop, err := serveHealth(rc.HealthAddr)
		if err != nil {
			return err
		}
		defer stop()
	}

	fmt.Fprintf(c.out, "Listening on %s\n", u.LocalEndpoint())

	return replica.New(conn, rc.Dir, users).Serve(ctx)
}

// serveHealth runs a gRPC health service on addr.
// It returns the address actually listened on
// and a function that marks the service as not serving and stops it.
func serveHealth(addr string) (net.Addr, func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "listening on %s", addr)
	}

	gs := grpc.NewServer()
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		if err := gs.Serve(lis); err != nil {
			log.Printf("ERROR serving health checks: %s", err)
		}
	}()

	log.Printf("health checks on %s", lis.Addr())

	return lis.Addr(), func() {
		hs.Shutdown()
		gs.GracefulStop()
	}, nil
}

func (c maincmd) authStore(ctx context.Context) (auth.Store, error) {
	conf := c.conf.Replica.Auth
	typ, ok := conf["type"].(string)
	if !ok {
		return nil, errors.New(`auth config missing "type"`)
	}
	s, err := auth.Create(ctx, typ, conf)
	return s, errors.Wrapf(err, "creating %s-type credential store", typ)
}
