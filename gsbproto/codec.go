package gsbproto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
)

// MaxFrameSize bounds a single frame's payload to guard against a
// corrupt or hostile length prefix driving an unbounded allocation.
const MaxFrameSize = 16 << 20

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Frame is one decoded wire frame: a tag plus its still-encoded
// payload. Callers switch on Tag and unmarshal Payload into the
// matching struct.
type Frame struct {
	Tag     Tag
	Payload []byte
}

// ErrFrameTooLarge is returned by ReadFrame when the declared length
// exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("gsbproto: frame exceeds maximum size")

// ReadFrame reads one `[4-byte big-endian length][1-byte tag][payload]`
// frame from r. The length covers the tag byte plus the payload.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return Frame{}, fmt.Errorf("gsbproto: empty frame")
	}
	if n > MaxFrameSize {
		return Frame{}, ErrFrameTooLarge
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, err
	}
	return Frame{Tag: Tag(body[0]), Payload: body[1:]}, nil
}

// WriteFrame encodes tag+msg as one frame and writes it to w.
func WriteFrame(w io.Writer, tag Tag, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if len(payload)+1 > MaxFrameSize {
		return ErrFrameTooLarge
	}

	buf := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)+1))
	buf[4] = byte(tag)
	copy(buf[5:], payload)

	_, err = w.Write(buf)
	return err
}

// Decode unmarshals f's payload into v.
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Payload, v)
}
