// Package replica is a simple arsync replica server.
//
// A replica keeps one directory per user under its root.
// Logged-in clients send updates,
// which the replica applies to the user's directory and acknowledges.
// Replicas know nothing of one another;
// each applies whatever reaches it.
// An update that cannot be applied is not acknowledged,
// so the sending client soon stops trusting this replica.
package replica

import (
	"context"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bobg/flock"
	"github.com/pkg/errors"

	"github.com/bobg/arsync"
	"github.com/bobg/arsync/auth"
	"github.com/bobg/arsync/frame"
	"github.com/bobg/arsync/router"
	"github.com/bobg/arsync/transport"
)

var _ arsync.Listener = &Server{}

type Server struct {
	conn    transport.Conn
	root    string
	auth    auth.Store
	router  *router.Router
	flocker flock.Locker

	ctx context.Context

	mu      sync.Mutex
	clients map[arsync.Endpoint]string // logged-in clients and their usernames
}

// New produces a Server storing files under root
// and checking logins against a.
func New(conn transport.Conn, root string, a auth.Store) *Server {
	s := &Server{
		conn:    conn,
		root:    root,
		auth:    a,
		router:  router.New(conn),
		ctx:     context.Background(),
		clients: make(map[arsync.Endpoint]string),
	}
	s.router.AddListener(s)
	return s
}

// Serve handles requests until ctx is canceled,
// then tells every logged-in client that this replica is shutting down.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return errors.Wrapf(err, "making root dir %s", s.root)
	}

	s.ctx = ctx
	err := s.router.Run(ctx)
	s.Shutdown()
	return err
}

// Shutdown sends a shutdown notice to every logged-in client.
func (s *Server) Shutdown() {
	s.mu.Lock()
	var clients []arsync.Endpoint
	for ep := range s.clients {
		clients = append(clients, ep)
	}
	s.clients = make(map[arsync.Endpoint]string)
	s.mu.Unlock()

	for _, ep := range clients {
		log.Printf("sending shutdown to %s", ep)
		s.send(&arsync.Message{Action: arsync.ActionShutdown}, ep)
	}
}

// Clients returns the logged-in clients and their usernames.
func (s *Server) Clients() map[arsync.Endpoint]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[arsync.Endpoint]string, len(s.clients))
	for ep, user := range s.clients {
		result[ep] = user
	}
	return result
}

// Notify implements arsync.Listener.
func (s *Server) Notify(msg *arsync.Message, from arsync.Endpoint) {
	switch msg.Action {
	case arsync.ActionLogin:
		s.login(msg, from)

	case arsync.ActionUpdate:
		s.mu.Lock()
		username, ok := s.clients[from]
		s.mu.Unlock()
		if !ok {
			log.Printf("ignoring update from %s, not logged in", from)
			return
		}
		id, ok := msg.MessageID()
		if !ok {
			log.Printf("ERROR update from %s has no id", from)
			return
		}
		if err := s.Apply(username, msg); err != nil {
			log.Printf("ERROR applying update %d from %s: %s", id, from, err)
			return
		}
		reply := &arsync.Message{Action: arsync.ActionReceived}
		reply.SetID(id)
		s.send(reply, from)

	case arsync.ActionDisconnect:
		s.mu.Lock()
		delete(s.clients, from)
		s.mu.Unlock()
		log.Printf("client %s disconnected", from)

	default:
		log.Printf("ignoring %s message from %s", msg.Action, from)
	}
}

func (s *Server) login(msg *arsync.Message, from arsync.Endpoint) {
	verr := s.auth.Verify(s.ctx, msg.Username, msg.Password)
	reply, err := auth.Reply(verr)
	if err != nil {
		log.Printf("ERROR checking login of %s from %s: %s", msg.Username, from, err)
		return
	}

	if verr == nil {
		dir, err := s.userDir(msg.Username)
		if err == nil {
			err = os.MkdirAll(dir, 0755)
		}
		if err != nil {
			log.Printf("ERROR preparing directory for %s: %s", msg.Username, err)
			return
		}
		s.mu.Lock()
		s.clients[from] = msg.Username
		s.mu.Unlock()
		log.Printf("%s logged in from %s", msg.Username, from)
	}

	s.send(reply, from)
}

func (s *Server) send(msg *arsync.Message, to arsync.Endpoint) {
	chunks, err := frame.Encode(msg)
	if err != nil {
		log.Printf("ERROR encoding %s message: %s", msg.Action, err)
		return
	}
	for _, c := range chunks {
		if err := s.conn.Send(c, to); err != nil {
			log.Printf("ERROR sending %s message to %s: %s", msg.Action, to, err)
			return
		}
	}
}

func (s *Server) userDir(username string) (string, error) {
	if username == "" || username == "." || username == ".." || strings.ContainsAny(username, `/\`) {
		return "", errors.Errorf("bad username %q", username)
	}
	return filepath.Join(s.root, username), nil
}

// resolve turns a slash-separated path from a client into a path under dir.
func resolve(dir, p string) (string, error) {
	full := filepath.Join(dir, filepath.FromSlash(p))
	rel, err := filepath.Rel(dir, full)
	if err != nil {
		return "", errors.Wrapf(err, "resolving %s", p)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("path %s escapes the user directory", p)
	}
	return full, nil
}

// Apply carries out an update on username's directory.
// A move is described by SrcPath and DestPath alone;
// its Path, if any, is ignored.
func (s *Server) Apply(username string, msg *arsync.Message) error {
	dir, err := s.userDir(username)
	if err != nil {
		return err
	}

	lockPath := dir + ".lock"
	if err = s.flocker.Lock(lockPath); err != nil {
		return errors.Wrapf(err, "locking %s", lockPath)
	}
	defer s.flocker.Unlock(lockPath)

	switch msg.EventType {
	case arsync.EventModified:
		path, err := resolve(dir, msg.Path)
		if err != nil {
			return err
		}
		return writeFile(path, msg.Data)

	case arsync.EventCreated:
		path, err := resolve(dir, msg.Path)
		if err != nil {
			return err
		}
		if msg.Structure == arsync.StructureDir {
			return errors.Wrapf(os.MkdirAll(path, 0755), "making dir %s", path)
		}
		return writeFile(path, msg.Data)

	case arsync.EventDeleted:
		path, err := resolve(dir, msg.Path)
		if err != nil {
			return err
		}
		if msg.Structure == arsync.StructureDir {
			return errors.Wrapf(os.RemoveAll(path), "removing dir %s", path)
		}
		err = os.Remove(path)
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "removing %s", path)

	case arsync.EventMoved:
		src, err := resolve(dir, msg.SrcPath)
		if err != nil {
			return err
		}
		dest, err := resolve(dir, msg.DestPath)
		if err != nil {
			return err
		}
		if err = os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return errors.Wrapf(err, "making dir %s", filepath.Dir(dest))
		}
		return errors.Wrapf(os.Rename(src, dest), "moving %s to %s", src, dest)
	}

	return errors.Errorf("unknown event type %q", msg.EventType)
}

func writeFile(path string, data []byte) error {
	d := filepath.Dir(path)
	if err := os.MkdirAll(d, 0755); err != nil {
		return errors.Wrapf(err, "making dir %s", d)
	}
	return errors.Wrapf(ioutil.WriteFile(path, data, 0644), "writing %s", path)
}
