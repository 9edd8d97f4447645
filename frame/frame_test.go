package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/arsync"
)

func TestRoundTrip(t *testing.T) {
	id := arsync.MessageID(0)
	cases := []*arsync.Message{
		{Action: arsync.ActionLogin, Username: "alice", Password: "hunter2"},
		{Action: arsync.ActionUpdate, ID: &id, Path: "a.txt", EventType: arsync.EventModified, Data: []byte("hi"), Structure: arsync.StructureFile},
		{Action: arsync.ActionUpdate, Path: "x", EventType: arsync.EventMoved, SrcPath: "x", DestPath: "y", Structure: arsync.StructureDir},
		{Action: arsync.ActionDisconnect},
	}

	for _, msg := range cases {
		msg := msg
		t.Run(string(msg.Action), func(t *testing.T) {
			chunks, err := Encode(msg)
			if err != nil {
				t.Fatal(err)
			}
			if len(chunks) != 1 {
				t.Fatalf("got %d chunks, want 1", len(chunks))
			}
			got, err := Decode(chunks[0])
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff([]*arsync.Message{msg}, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeData(t *testing.T) {
	id := arsync.MessageID(0)
	msg := &arsync.Message{Action: arsync.ActionUpdate, ID: &id, Path: "a.txt", EventType: arsync.EventModified, Data: []byte("hi")}
	chunks, err := Encode(msg)
	if err != nil {
		t.Fatal(err)
	}
	j := chunks[0]
	if !bytes.HasSuffix(j, []byte{'\n'}) {
		t.Errorf("%q lacks trailing newline", j)
	}
	if bytes.Count(j, []byte{'\n'}) != 1 {
		t.Errorf("%q has embedded newlines", j)
	}
	if !bytes.Contains(j, []byte(`"data":"aGk="`)) {
		t.Errorf("%q does not carry base64 data", j)
	}
	if !bytes.Contains(j, []byte(`"id":0`)) {
		t.Errorf("%q does not carry id 0", j)
	}
}

func TestChunking(t *testing.T) {
	msg := &arsync.Message{Action: arsync.ActionUpdate, Path: "big", Data: bytes.Repeat([]byte("x"), 1000)}

	whole, err := encode(msg, 1<<20)
	if err != nil {
		t.Fatal(err)
	}

	chunks, err := encode(msg, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 100 {
			t.Errorf("chunk %d has length %d", i, len(c))
		}
	}
	if got := bytes.Join(chunks, nil); !bytes.Equal(got, whole[0]) {
		t.Error("chunks do not reassemble to the encoded message")
	}

	// A receiver sees each chunk on its own.
	_, err = Decode(chunks[0])
	var ferr *FramingError
	if !errors.As(err, &ferr) {
		t.Fatalf("got error %v, want a framing error", err)
	}
}

func TestDecode(t *testing.T) {
	cases := []struct {
		name      string
		datagram  string
		want      []*arsync.Message
		wantBad   int
		wantError error
	}{{
		name:     "two messages",
		datagram: `{"action":"received","id":3}` + "\n" + `{"action":"shutdown"}` + "\n",
		want: []*arsync.Message{
			{Action: arsync.ActionReceived, ID: idp(3)},
			{Action: arsync.ActionShutdown},
		},
	}, {
		name:     "empty fragments",
		datagram: "\n\n" + `{"action":"shutdown"}` + "\n\n",
		want:     []*arsync.Message{{Action: arsync.ActionShutdown}},
	}, {
		name:     "unknown fields",
		datagram: `{"action":"login","result":"successful","text":"Logged in successfully","type":"serverMessage"}` + "\n",
		want:     []*arsync.Message{{Action: arsync.ActionLogin, Result: "successful", Text: "Logged in successfully"}},
	}, {
		name:     "malformed in the middle",
		datagram: `{"action":"received","id":1}` + "\n" + `{"action":` + "\n" + `{"action":"received","id":2}` + "\n",
		want: []*arsync.Message{
			{Action: arsync.ActionReceived, ID: idp(1)},
			{Action: arsync.ActionReceived, ID: idp(2)},
		},
		wantBad: 1,
	}, {
		name:      "unterminated",
		datagram:  `{"action":"shutdown"}`,
		wantBad:   1,
		wantError: ErrUnterminated,
	}, {
		name:      "no action",
		datagram:  `{"id":4}` + "\n",
		wantBad:   1,
		wantError: ErrNoAction,
	}}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.datagram))
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
			if tc.wantBad == 0 {
				if err != nil {
					t.Fatal(err)
				}
				return
			}
			var ferr *FramingError
			if !errors.As(err, &ferr) {
				t.Fatalf("got error %v, want a framing error", err)
			}
			if len(ferr.Fragments) != tc.wantBad {
				t.Errorf("got %d bad fragments, want %d", len(ferr.Fragments), tc.wantBad)
			}
			if tc.wantError != nil && !errors.Is(ferr.Fragments[0].Err, tc.wantError) {
				t.Errorf("got fragment error %v, want %v", ferr.Fragments[0].Err, tc.wantError)
			}
		})
	}
}

func idp(n int64) *arsync.MessageID {
	id := arsync.MessageID(n)
	return &id
}
