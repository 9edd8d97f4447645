package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

func (c maincmd) adduser(ctx context.Context, username string, _ []string) error {
	if username == "" {
		return errors.New("must supply -user")
	}

	s, err := c.authStore(ctx)
	if err != nil {
		return err
	}

	password, err := c.prompt(ctx, "Password: ", true)
	if err != nil {
		return err
	}
	return s.Add(ctx, username, password)
}

func (c maincmd) users(ctx context.Context, _ []string) error {
	s, err := c.authStore(ctx)
	if err != nil {
		return err
	}
	return s.Users(ctx, func(name string) error {
		fmt.Fprintln(c.out, name)
		return nil
	})
}
