// Package authtest checks implementations of auth.Store.
package authtest

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/arsync/auth"
)

// Store exercises an empty auth.Store.
func Store(ctx context.Context, t *testing.T, s auth.Store) {
	if err := s.Verify(ctx, "alice", "pw"); err != auth.ErrUnknownUser {
		t.Errorf("got %v for unknown user, want ErrUnknownUser", err)
	}

	for _, u := range []struct{ name, pw string }{{"bob", "b"}, {"alice", "a"}, {"alice", "pw"}} {
		if err := s.Add(ctx, u.name, u.pw); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Verify(ctx, "alice", "pw"); err != nil {
		t.Errorf("verifying alice: %s", err)
	}
	if err := s.Verify(ctx, "alice", "a"); err != auth.ErrWrongPassword {
		t.Errorf("got %v for replaced password, want ErrWrongPassword", err)
	}
	if err := s.Verify(ctx, "bob", "b"); err != nil {
		t.Errorf("verifying bob: %s", err)
	}

	var users []string
	err := s.Users(ctx, func(name string) error {
		users = append(users, name)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"alice", "bob"}, users); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
