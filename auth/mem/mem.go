// Package mem implements an in-memory credential store.
package mem

import (
	"context"
	"sort"
	"sync"

	"github.com/bobg/arsync/auth"
)

var _ auth.Store = &Store{}

type Store struct {
	mu     sync.Mutex
	hashes map[string]string
}

func New() *Store {
	return &Store{hashes: make(map[string]string)}
}

func (s *Store) Verify(_ context.Context, username, password string) error {
	s.mu.Lock()
	hash, ok := s.hashes[username]
	s.mu.Unlock()

	if !ok {
		return auth.ErrUnknownUser
	}
	return auth.Match(hash, password)
}

func (s *Store) Add(_ context.Context, username, password string) error {
	hash, err := auth.Hash(password)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.hashes[username] = hash
	s.mu.Unlock()
	return nil
}

func (s *Store) Users(_ context.Context, f func(string) error) error {
	s.mu.Lock()
	var names []string
	for name := range s.hashes {
		names = append(names, name)
	}
	s.mu.Unlock()

	sort.Strings(names)
	for _, name := range names {
		if err := f(name); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	auth.Register("mem", func(ctx context.Context, conf map[string]interface{}) (auth.Store, error) {
		s := New()
		users, _ := conf["users"].(map[string]interface{})
		for name, pw := range users {
			pwstr, _ := pw.(string)
			if err := s.Add(ctx, name, pwstr); err != nil {
				return nil, err
			}
		}
		return s, nil
	})
}
