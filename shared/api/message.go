package api

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Message is the wire record written to a PD's send pipe for a single
// PPC request. SendBack does not carry a raw file descriptor number -
// those are not stable across a process's exec() boundary - it carries
// the stable index of the calling PD within the system, which the
// receiving PD resolves against its own inherited reply handles.
type Message struct {
	Ch       uint64
	Info     MsgInfo
	SendBack uint32
}

// messageWireSize is the encoded size of a Message: two 8-byte words
// plus a 4-byte index, written as fixed fields rather than via
// encoding/binary on the struct directly so there is no dependency on
// Go's struct layout/padding rules matching the wire format.
const messageWireSize = 8 + 8 + 4

// WriteMessage writes m to w as a contiguous, fixed-size record. A
// single Write call keeps the record atomic with respect to readers
// draining the same pipe from a different goroutine/process, matching
// the "atomic blob write/read" contract of the primitive endpoints.
func WriteMessage(w io.Writer, m Message) error {
	var buf [messageWireSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], m.Ch)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(m.Info))
	binary.LittleEndian.PutUint32(buf[16:20], m.SendBack)

	n, err := w.Write(buf[:])
	if err != nil {
		return err
	}

	if n != messageWireSize {
		return fmt.Errorf("api: short write of message record: wrote %d of %d bytes", n, messageWireSize)
	}

	return nil
}

// ReadMessage reads one Message record from r, blocking until a full
// record is available.
func ReadMessage(r io.Reader) (Message, error) {
	var buf [messageWireSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Message{}, err
	}

	return Message{
		Ch:       binary.LittleEndian.Uint64(buf[0:8]),
		Info:     MsgInfo(binary.LittleEndian.Uint64(buf[8:16])),
		SendBack: binary.LittleEndian.Uint32(buf[16:20]),
	}, nil
}

// WriteReply writes a single msginfo word to w - the entire payload of
// a PPC reply written to a caller's receive pipe.
func WriteReply(w io.Writer, info MsgInfo) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(info))

	n, err := w.Write(buf[:])
	if err != nil {
		return err
	}

	if n != 8 {
		return fmt.Errorf("api: short write of reply word: wrote %d of 8 bytes", n)
	}

	return nil
}

// ReadReply reads one msginfo reply word from r, blocking until it is
// available.
func ReadReply(r io.Reader) (MsgInfo, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}

	return MsgInfo(binary.LittleEndian.Uint64(buf[:])), nil
}
