// Package frame converts between protocol messages and UDP datagrams.
//
// On the wire,
// each message is a JSON object followed by a single newline.
// A datagram may carry several messages.
// The encoded form of one message is cut into chunks no larger than MaxDatagram,
// each of which is sent as its own datagram.
// A receiver never reassembles chunks,
// so a message longer than one datagram fails to decode
// and is reported as a framing error.
package frame

import (
	"bytes"
	"fmt"
	"strings"

	canonicaljson "github.com/gibson042/canonicaljson-go"
	"github.com/pkg/errors"

	"github.com/bobg/arsync"
)

// MaxDatagram is the largest datagram Encode produces
// and the receive buffer size a reader should use.
const MaxDatagram = 65536

// Delim terminates every encoded message.
const Delim = '\n'

// Encode produces the datagrams carrying msg.
// Concatenating the result gives the message's canonical JSON form followed by Delim.
func Encode(msg *arsync.Message) ([][]byte, error) {
	return encode(msg, MaxDatagram)
}

func encode(msg *arsync.Message, size int) ([][]byte, error) {
	j, err := canonicaljson.Marshal(msg)
	if err != nil {
		return nil, errors.Wrapf(err, "marshaling %s message", msg.Action)
	}
	j = append(j, Delim)

	var chunks [][]byte
	for len(j) > 0 {
		n := size
		if n > len(j) {
			n = len(j)
		}
		chunks = append(chunks, j[:n])
		j = j[n:]
	}
	return chunks, nil
}

// Decode extracts the messages in a single datagram.
// Empty fragments are skipped.
// Every fragment that decodes is returned,
// even when others do not;
// those are described by a non-nil *FramingError.
func Decode(datagram []byte) ([]*arsync.Message, error) {
	var (
		msgs []*arsync.Message
		ferr FramingError
	)

	frags := bytes.Split(datagram, []byte{Delim})
	for i, frag := range frags {
		if len(bytes.TrimSpace(frag)) == 0 {
			continue
		}
		if i == len(frags)-1 {
			// No delimiter after this one.
			ferr.Fragments = append(ferr.Fragments, BadFragment{Data: frag, Err: ErrUnterminated})
			continue
		}
		var msg arsync.Message
		if err := canonicaljson.Unmarshal(frag, &msg); err != nil {
			ferr.Fragments = append(ferr.Fragments, BadFragment{Data: frag, Err: err})
			continue
		}
		if msg.Action == "" {
			ferr.Fragments = append(ferr.Fragments, BadFragment{Data: frag, Err: ErrNoAction})
			continue
		}
		msgs = append(msgs, &msg)
	}

	if len(ferr.Fragments) > 0 {
		return msgs, &ferr
	}
	return msgs, nil
}

var (
	// ErrUnterminated describes a fragment with no trailing delimiter,
	// typically one chunk of a message too large for a single datagram.
	ErrUnterminated = errors.New("unterminated fragment")

	// ErrNoAction describes a JSON value with no "action" field.
	ErrNoAction = errors.New(`missing "action"`)
)

// FramingError reports the fragments of a datagram that could not be decoded.
type FramingError struct {
	Fragments []BadFragment
}

// BadFragment is one undecodable fragment.
type BadFragment struct {
	Data []byte
	Err  error
}

func (e *FramingError) Error() string {
	var parts []string
	for _, f := range e.Fragments {
		parts = append(parts, fmt.Sprintf("%s (%d bytes)", f.Err, len(f.Data)))
	}
	return "framing error: " + strings.Join(parts, "; ")
}
