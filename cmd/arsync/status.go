package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func (c maincmd) status(ctx context.Context, addr string, timeout time.Duration, _ []string) error {
	if addr == "" {
		return errors.New("must supply -addr")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cc, err := grpc.DialContext(ctx, addr, grpc.WithInsecure(), grpc.WithBlock())
	if err != nil {
		return errors.Wrapf(err, "connecting to %s", addr)
	}
	defer cc.Close()

	resp, err := grpc_health_v1.NewHealthClient(cc).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return errors.Wrap(err, "checking health")
	}
	fmt.Fprintln(c.out, resp.Status)
	return nil
}
