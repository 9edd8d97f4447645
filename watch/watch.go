// Package watch turns changes in a local directory tree into update messages.
package watch

import (
	"context"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rjeczalik/notify"

	"github.com/bobg/arsync"
)

// Op is a kind of filesystem change.
type Op int

const (
	Created Op = iota
	Modified
	Deleted
	Moved
)

func (op Op) eventType() arsync.EventType {
	switch op {
	case Created:
		return arsync.EventCreated
	case Modified:
		return arsync.EventModified
	case Deleted:
		return arsync.EventDeleted
	case Moved:
		return arsync.EventMoved
	}
	return ""
}

// Event is one filesystem change.
// Paths are absolute.
// DestPath is for Moved only.
type Event struct {
	Op       Op
	Path     string
	DestPath string
	IsDir    bool
}

// Sender sends an update to the replicas.
// *client.Client is a Sender.
type Sender interface {
	Send(context.Context, *arsync.Message) (arsync.MessageID, error)
}

// Translator converts Events under Root into update messages for a Sender.
type Translator struct {
	Root   string
	S      Sender
	Marker *Marker

	mu   sync.Mutex
	dirs map[string]bool // absolute paths of known directories
}

// NewTranslator produces a Translator
// with a Marker holding up to 1024 marks for DefaultMarkerTTL.
func NewTranslator(root string, s Sender) (*Translator, error) {
	m, err := NewMarker(1024, DefaultMarkerTTL)
	if err != nil {
		return nil, errors.Wrap(err, "creating marker")
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "making %s absolute", root)
	}
	return &Translator{
		Root:   root,
		S:      s,
		Marker: m,
		dirs:   make(map[string]bool),
	}, nil
}

// Scan records the directories already present under t.Root,
// so that their later deletion is reported as a directory deletion.
func (t *Translator) Scan() error {
	return filepath.Walk(t.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && path != t.Root {
			t.setDir(path, true)
		}
		return nil
	})
}

func (t *Translator) setDir(path string, isDir bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if isDir {
		t.dirs[path] = true
	} else {
		delete(t.dirs, path)
	}
}

func (t *Translator) isDir(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dirs[path]
}

func (t *Translator) rel(path string) (string, error) {
	rel, err := filepath.Rel(t.Root, path)
	if err != nil {
		return "", errors.Wrapf(err, "computing path of %s relative to %s", path, t.Root)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("%s is not under %s", path, t.Root)
	}
	return filepath.ToSlash(rel), nil
}

// Message builds the update message for ev.
// It returns nil for events that produce no message:
// modifications of directories,
// and the write that notify reports right after a file's creation,
// whose content went out with the creation.
func (t *Translator) Message(ev Event) (*arsync.Message, error) {
	rel, err := t.rel(ev.Path)
	if err != nil {
		return nil, err
	}

	msg := &arsync.Message{
		Action:    arsync.ActionUpdate,
		Path:      rel,
		EventType: ev.Op.eventType(),
		Structure: structure(ev.IsDir),
	}

	switch ev.Op {
	case Modified:
		if ev.IsDir {
			return nil, nil
		}
		if t.Marker.Consume(ev.Path) {
			return nil, nil
		}
		msg.Structure = ""
		msg.Data, err = ioutil.ReadFile(ev.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", ev.Path)
		}

	case Created:
		t.setDir(ev.Path, ev.IsDir)
		if ev.IsDir {
			break
		}
		msg.Data, err = ioutil.ReadFile(ev.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", ev.Path)
		}
		// Only creations are marked.
		// notify has no close event to pair with a write,
		// so every later write is a real change.
		t.Marker.Mark(ev.Path)

	case Deleted:
		t.setDir(ev.Path, false)

	case Moved:
		dest, err := t.rel(ev.DestPath)
		if err != nil {
			return nil, err
		}
		msg.SrcPath = rel
		msg.DestPath = dest
		if ev.IsDir {
			t.setDir(ev.Path, false)
			t.setDir(ev.DestPath, true)
		}

	default:
		return nil, errors.Errorf("unknown op %d", ev.Op)
	}

	return msg, nil
}

func structure(isDir bool) arsync.Structure {
	if isDir {
		return arsync.StructureDir
	}
	return arsync.StructureFile
}

// Handle sends the update message for ev, if there is one.
func (t *Translator) Handle(ctx context.Context, ev Event) error {
	msg, err := t.Message(ev)
	if err != nil || msg == nil {
		return err
	}
	_, err = t.S.Send(ctx, msg)
	return errors.Wrapf(err, "sending %s update for %s", msg.EventType, msg.Path)
}

// Event converts a notify event to an Event.
// Renames are reported by notify once for each side;
// the side that still exists is treated as a creation
// and the side that is gone as a deletion.
func (t *Translator) Event(ei notify.EventInfo) Event {
	path := ei.Path()

	var (
		info, statErr = os.Lstat(path)
		exists        = statErr == nil
		isDir         = exists && info.IsDir()
	)
	if !exists {
		isDir = t.isDir(path)
	}

	switch ei.Event() {
	case notify.Create:
		return Event{Op: Created, Path: path, IsDir: isDir}
	case notify.Remove:
		return Event{Op: Deleted, Path: path, IsDir: isDir}
	case notify.Rename:
		if exists {
			return Event{Op: Created, Path: path, IsDir: isDir}
		}
		return Event{Op: Deleted, Path: path, IsDir: isDir}
	default:
		return Event{Op: Modified, Path: path, IsDir: isDir}
	}
}

// Run watches t.Root recursively,
// sending an update for each change,
// until ctx is canceled.
func (t *Translator) Run(ctx context.Context) error {
	if err := t.Scan(); err != nil {
		return errors.Wrapf(err, "scanning %s", t.Root)
	}

	fsch := make(chan notify.EventInfo, 100)
	err := notify.Watch(t.Root+"/...", fsch, notify.All)
	if err != nil {
		return errors.Wrapf(err, "watching %s/...", t.Root)
	}
	defer notify.Stop(fsch)

	for {
		select {
		case <-ctx.Done():
			log.Print("context canceled, exiting filesystem watcher")
			return nil

		case ei := <-fsch:
			if ei.Path() == t.Root {
				continue
			}
			ev := t.Event(ei)
			if err := t.Handle(ctx, ev); err != nil {
				log.Printf("ERROR handling change of %s: %s", ev.Path, err)
			}
		}
	}
}
