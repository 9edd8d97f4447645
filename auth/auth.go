// Package auth holds the credentials a replica checks login requests against.
package auth

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/bobg/arsync"
)

// Store is a set of users and their password hashes.
type Store interface {
	// Verify checks a username and password.
	// It returns ErrUnknownUser or ErrWrongPassword on failure.
	Verify(ctx context.Context, username, password string) error

	// Add adds a user or replaces the user's password.
	Add(ctx context.Context, username, password string) error

	// Users calls f on each username in order.
	Users(ctx context.Context, f func(string) error) error
}

var (
	ErrUnknownUser   = errors.New("Username does not exist")
	ErrWrongPassword = errors.New("Password is wrong")
)

// LoginOK is the reply text for a successful login.
const LoginOK = "Logged in successfully"

// Hash produces the stored form of a password,
// a salted bcrypt hash.
func Hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(h), errors.Wrap(err, "hashing password")
}

// Match checks password against a hash produced by Hash.
// It returns ErrWrongPassword if they do not match.
func Match(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrWrongPassword
	}
	return errors.Wrap(err, "checking password")
}

// Reply produces the login reply for the outcome of Verify.
// Errors other than ErrUnknownUser and ErrWrongPassword are returned as is.
func Reply(err error) (*arsync.Message, error) {
	msg := &arsync.Message{Action: arsync.ActionLogin, Result: arsync.LoginFailed}
	switch {
	case err == nil:
		msg.Result = arsync.LoginSuccessful
		msg.Text = LoginOK
	case errors.Is(err, ErrUnknownUser):
		msg.Text = ErrUnknownUser.Error()
	case errors.Is(err, ErrWrongPassword):
		msg.Text = ErrWrongPassword.Error()
	default:
		return nil, err
	}
	return msg, nil
}
