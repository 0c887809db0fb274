package comms

import (
	"bytes"
	"context"
	"net"

	"github.com/mirrorsync/mirrorsync/wire"
)

// NewInProcessPair returns two connected net.Conns with no network or OS
// process involved, for a boss driving a local doer in the same process.
// net.Pipe is the standard library's synchronous in-memory full-duplex
// connection; spec.md §4.1 only requires that the in-process transport
// skip encryption, not that it skip framing, so the same Session plumbing
// (frame.go) runs over it as runs over a real TCP socket.
func NewInProcessPair() (net.Conn, net.Conn) {
	return net.Pipe()
}

// CommandSession is the boss-side duplex: it sends Commands and receives
// Responses (spec.md §4.1's "(Sender<Command>, Receiver<Response>)
// abstraction on the boss side").
type CommandSession struct {
	raw *rawSession
}

// NewCommandSession wraps conn as a boss-side session. key is nil for the
// in-process transport.
func NewCommandSession(ctx context.Context, conn net.Conn, key []byte) (*CommandSession, error) {
	raw, err := newRawSession(ctx, conn, key, MaxFrameLength, DefaultChannelMemoryCapacity)
	if err != nil {
		return nil, err
	}
	return &CommandSession{raw: raw}, nil
}

func (s *CommandSession) Send(cmd wire.Command) error {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	cmd.Encode(w)
	if err := w.Err(); err != nil {
		return err
	}
	return s.raw.send(buf.Bytes())
}

func (s *CommandSession) Recv() (wire.Response, error) {
	payload, err := s.raw.recv()
	if err != nil {
		return wire.Response{}, err
	}
	r := wire.NewReader(bytes.NewReader(payload))
	res := wire.DecodeResponse(r)
	if err := r.Err(); err != nil {
		return wire.Response{}, err
	}
	return res, nil
}

func (s *CommandSession) Close() error {
	return s.raw.close()
}

// ResponseSession is the doer-side duplex, symmetric to CommandSession: it
// receives Commands and sends Responses.
type ResponseSession struct {
	raw *rawSession
}

func NewResponseSession(ctx context.Context, conn net.Conn, key []byte) (*ResponseSession, error) {
	raw, err := newRawSession(ctx, conn, key, MaxFrameLength, DefaultChannelMemoryCapacity)
	if err != nil {
		return nil, err
	}
	return &ResponseSession{raw: raw}, nil
}

func (s *ResponseSession) Recv() (wire.Command, error) {
	payload, err := s.raw.recv()
	if err != nil {
		return wire.Command{}, err
	}
	r := wire.NewReader(bytes.NewReader(payload))
	cmd := wire.DecodeCommand(r)
	if err := r.Err(); err != nil {
		return wire.Command{}, err
	}
	return cmd, nil
}

func (s *ResponseSession) Send(res wire.Response) error {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	res.Encode(w)
	if err := w.Err(); err != nil {
		return err
	}
	return s.raw.send(buf.Bytes())
}

func (s *ResponseSession) Close() error {
	return s.raw.close()
}
