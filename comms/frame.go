// Package comms implements the duplex Command/Response transport between a
// boss and a doer, over either an in-process Go channel or an AEAD-protected
// TCP socket (spec.md §4.1). The split between a frame codec (this file), a
// session cipher (cipher.go), and a session with its byte-credit gate
// (session.go) follows the original implementation's
// layering in encrypted_comms.rs: framing and encryption are independent of
// message content, and a session runs one dedicated receiver and one
// dedicated sender so the caller's main goroutine never blocks on the
// socket directly.
package comms

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// MaxFrameLength is the default ceiling a Session enforces on any single
// frame's ciphertext+tag length, guarding against a corrupted or hostile
// length prefix triggering unbounded allocation (spec.md §4.1: "implementations
// MUST reject frames above a configured ceiling").
const MaxFrameLength = 256 << 20 // 256 MiB

// writeFrame writes [len: u32 LE][payload] to w, where payload is already
// whatever ciphertext+tag (or, for the in-process transport, plaintext) the
// caller has produced.
func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "writing frame length")
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "writing frame payload")
	}
	return nil
}

// readFrame reads one [len: u32 LE][payload] unit from r, rejecting any
// length above maxLen.
func readFrame(r io.Reader, maxLen uint32) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err // EOF/disconnect propagates unwrapped so callers can tell peer-closed from corruption.
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxLen {
		return nil, errors.Errorf("frame length %d exceeds ceiling %d", n, maxLen)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, "reading frame payload")
	}
	return payload, nil
}
