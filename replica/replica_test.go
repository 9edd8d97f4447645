package replica

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/bobg/arsync"
	"github.com/bobg/arsync/auth/mem"
	"github.com/bobg/arsync/testutil"
)

func TestApply(t *testing.T) {
	root := t.TempDir()
	n := testutil.NewNetwork()
	s := New(n.Listen(arsync.Endpoint{Host: "h1", Port: 9000}), root, mem.New())

	steps := []struct {
		msg     arsync.Message
		present []string
		absent  []string
	}{{
		msg:     arsync.Message{Path: "d", EventType: arsync.EventCreated, Structure: arsync.StructureDir},
		present: []string{"d"},
	}, {
		msg:     arsync.Message{Path: "d/a.txt", EventType: arsync.EventCreated, Structure: arsync.StructureFile, Data: []byte("hi")},
		present: []string{"d/a.txt"},
	}, {
		msg:     arsync.Message{Path: "d/a.txt", EventType: arsync.EventModified, Data: []byte("bye")},
		present: []string{"d/a.txt"},
	}, {
		msg:     arsync.Message{Path: "d/a.txt", EventType: arsync.EventMoved, SrcPath: "d/a.txt", DestPath: "e/b.txt", Structure: arsync.StructureFile},
		present: []string{"e/b.txt"},
		absent:  []string{"d/a.txt"},
	}, {
		// Clients need not send a path with a move.
		msg:     arsync.Message{EventType: arsync.EventMoved, SrcPath: "e/b.txt", DestPath: "e/c.txt"},
		present: []string{"e/c.txt"},
		absent:  []string{"e/b.txt"},
	}, {
		msg:     arsync.Message{EventType: arsync.EventMoved, SrcPath: "e/c.txt", DestPath: "e/b.txt"},
		present: []string{"e/b.txt"},
		absent:  []string{"e/c.txt"},
	}, {
		msg:    arsync.Message{Path: "d", EventType: arsync.EventDeleted, Structure: arsync.StructureDir},
		absent: []string{"d"},
	}, {
		msg:    arsync.Message{Path: "e/b.txt", EventType: arsync.EventDeleted, Structure: arsync.StructureFile},
		absent: []string{"e/b.txt"},
	}, {
		// Deleting what is already gone is fine.
		msg: arsync.Message{Path: "e/b.txt", EventType: arsync.EventDeleted, Structure: arsync.StructureFile},
	}}

	for i, step := range steps {
		step.msg.Action = arsync.ActionUpdate
		if err := s.Apply("alice", &step.msg); err != nil {
			t.Fatalf("step %d: %s", i, err)
		}
		for _, p := range step.present {
			if _, err := os.Stat(filepath.Join(root, "alice", p)); err != nil {
				t.Errorf("step %d: %s", i, err)
			}
		}
		for _, p := range step.absent {
			if _, err := os.Stat(filepath.Join(root, "alice", p)); !os.IsNotExist(err) {
				t.Errorf("step %d: %s still present", i, p)
			}
		}
	}

	err := s.Apply("alice", &arsync.Message{Action: arsync.ActionUpdate, Path: "c.txt", EventType: arsync.EventModified, Data: []byte("xyz")})
	if err != nil {
		t.Fatal(err)
	}
	got, err := ioutil.ReadFile(filepath.Join(root, "alice", "c.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "xyz" {
		t.Errorf("got %q, want xyz", got)
	}
}

func TestApplyEscape(t *testing.T) {
	root := t.TempDir()
	n := testutil.NewNetwork()
	s := New(n.Listen(arsync.Endpoint{Host: "h1", Port: 9000}), root, mem.New())

	bad := []*arsync.Message{
		{Action: arsync.ActionUpdate, Path: "../bob/x", EventType: arsync.EventModified},
		{Action: arsync.ActionUpdate, Path: ".", EventType: arsync.EventDeleted, Structure: arsync.StructureDir},
		{Action: arsync.ActionUpdate, Path: "a", EventType: arsync.EventMoved, SrcPath: "a", DestPath: "../../x"},
		{Action: arsync.ActionUpdate, Path: "a", EventType: "renamed"},
	}
	for _, msg := range bad {
		if err := s.Apply("alice", msg); err == nil {
			t.Errorf("no error applying %+v", msg)
		}
	}
	if err := s.Apply("../alice", &arsync.Message{Action: arsync.ActionUpdate, Path: "x", EventType: arsync.EventModified}); err == nil {
		t.Error("no error for a bad username")
	}
}
