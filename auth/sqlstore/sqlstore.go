// Package sqlstore implements a credential store in a SQL database.
// Importing it registers the "sqlite3" and "postgres" store types,
// each configured with a "conn" parameter naming the database.
package sqlstore

import (
	"context"
	"database/sql"
	stderrs "errors"

	"github.com/bobg/sqlutil"
	_ "github.com/lib/pq"           // register the postgres type for sql.Open
	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/pkg/errors"

	"github.com/bobg/arsync/auth"
)

var _ auth.Store = &Store{}

// Store is a credential store in Sqlite or Postgresql.
type Store struct {
	db *sql.DB
}

// Schema is the SQL that New executes.
// It creates the `users` table if it does not exist.
// Both Sqlite and Postgresql accept it.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
  username TEXT PRIMARY KEY NOT NULL,
  password TEXT NOT NULL
);
`

// New produces a new Store using `db` for storage.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(ctx, Schema)
	return &Store{db: db}, errors.Wrap(err, "creating schema")
}

// Verify implements auth.Store.Verify.
func (s *Store) Verify(ctx context.Context, username, password string) error {
	const q = `SELECT password FROM users WHERE username = $1`

	var hash string
	err := s.db.QueryRowContext(ctx, q, username).Scan(&hash)
	if stderrs.Is(err, sql.ErrNoRows) {
		return auth.ErrUnknownUser
	}
	if err != nil {
		return errors.Wrapf(err, "looking up user %s", username)
	}
	return auth.Match(hash, password)
}

// Add implements auth.Store.Add.
func (s *Store) Add(ctx context.Context, username, password string) error {
	const q = `INSERT INTO users (username, password) VALUES ($1, $2) ON CONFLICT (username) DO UPDATE SET password = excluded.password`

	hash, err := auth.Hash(password)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, q, username, hash)
	return errors.Wrapf(err, "adding user %s", username)
}

// Users implements auth.Store.Users.
func (s *Store) Users(ctx context.Context, f func(string) error) error {
	const q = `SELECT username FROM users ORDER BY username`
	return sqlutil.ForQueryRows(ctx, s.db, q, func(username string) error {
		return f(username)
	})
}

func open(driver string) auth.Factory {
	return func(ctx context.Context, conf map[string]interface{}) (auth.Store, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			return nil, errors.New(`missing "conn" parameter`)
		}
		db, err := sql.Open(driver, conn)
		if err != nil {
			return nil, errors.Wrap(err, "opening db")
		}
		return New(ctx, db)
	}
}

func init() {
	auth.Register("sqlite3", open("sqlite3"))
	auth.Register("postgres", open("postgres"))
}
