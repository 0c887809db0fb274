package comms

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultChannelMemoryCapacity is BOSS_DOER_CHANNEL_MEMORY_CAPACITY from
// spec.md §4.1: the default byte-credit capacity of the bounded channel in
// each direction, before the sender blocks.
const DefaultChannelMemoryCapacity = 256 << 20 // 256 MiB

// rawSession runs the two dedicated goroutines spec.md §4.1/§5 calls for
// per endpoint ("a receiver thread... and a sender thread... The main
// worker thread interacts only with the queues"): one that encrypts and
// writes outbound frames, one that reads and decrypts inbound frames. It
// operates on raw message bytes; CommandSession and ResponseSession below
// add the typed Command/Response encode/decode on top.
//
// Grounded on encrypted_comms.rs's AsyncEncryptedComms, reimplemented with
// golang.org/x/sync/errgroup in place of manual thread spawn/join and
// golang.org/x/sync/semaphore in place of the original's hand-rolled
// crossbeam atomic-counter byte-credit channel (memory_bound_channel.rs) —
// see DESIGN.md.
type rawSession struct {
	conn net.Conn

	sealer *sessionCipher  // nil for the in-process, unencrypted transport.
	opener *sessionOpener  // nil for the in-process, unencrypted transport.

	maxFrameLen uint32
	credit      *semaphore.Weighted

	outboundCh chan []byte
	inboundCh  chan inboundResult

	g      *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

type inboundResult struct {
	payload []byte
	err     error
}

// newRawSession starts a session's sender and receiver goroutines. key is
// nil for the in-process transport, which per spec.md §4.1 "skips
// encryption and sends framed plaintext"; otherwise it is the 128-bit
// AES-GCM session key shared out-of-band by the launcher.
func newRawSession(ctx context.Context, conn net.Conn, key []byte, maxFrameLen uint32, creditCapacity int64) (*rawSession, error) {
	var sealer *sessionCipher
	var opener *sessionOpener
	if key != nil {
		var err error
		sealer, err = newSessionCipher(key)
		if err != nil {
			return nil, err
		}
		opener, err = newSessionOpener(key)
		if err != nil {
			return nil, err
		}
	}

	sessCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(sessCtx)

	s := &rawSession{
		conn:        conn,
		sealer:      sealer,
		opener:      opener,
		maxFrameLen: maxFrameLen,
		credit:      semaphore.NewWeighted(creditCapacity),
		outboundCh:  make(chan []byte, 64),
		inboundCh:   make(chan inboundResult, 64),
		g:           g,
		ctx:         gctx,
		cancel:      cancel,
	}
	g.Go(s.senderLoop)
	g.Go(s.receiverLoop)
	return s, nil
}

func (s *rawSession) senderLoop() error {
	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case payload, ok := <-s.outboundCh:
			if !ok {
				return nil
			}
			// Credit is released here, the moment a message leaves the
			// bounded queue for the socket, since spec.md §4.1 defines the
			// credit as queued bytes "excluding in-flight bytes on the
			// socket".
			s.credit.Release(int64(len(payload)))
			wire := payload
			if s.sealer != nil {
				sealed, err := s.sealer.seal(payload)
				if err != nil {
					return errors.Wrap(err, "sealing frame")
				}
				wire = sealed
			}
			if err := writeFrame(s.conn, wire); err != nil {
				return errors.Wrap(err, "writing frame")
			}
		}
	}
}

func (s *rawSession) receiverLoop() error {
	for {
		raw, err := readFrame(s.conn, s.maxFrameLen)
		if err != nil {
			s.deliver(inboundResult{err: err})
			return err
		}
		plaintext := raw
		if s.opener != nil {
			plaintext, err = s.opener.open(raw)
			if err != nil {
				s.deliver(inboundResult{err: errors.Wrap(err, "opening frame")})
				return err
			}
		}
		select {
		case s.inboundCh <- inboundResult{payload: plaintext}:
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
}

func (s *rawSession) deliver(r inboundResult) {
	select {
	case s.inboundCh <- r:
	default:
		// Receiver is gone; the error is still observable via Close's
		// errgroup.Wait, so dropping it here isn't a silent loss.
	}
}

// send enqueues payload for the sender goroutine, blocking until enough
// byte credit is available.
func (s *rawSession) send(payload []byte) error {
	if err := s.credit.Acquire(s.ctx, int64(len(payload))); err != nil {
		return err
	}
	select {
	case s.outboundCh <- payload:
		return nil
	case <-s.ctx.Done():
		s.credit.Release(int64(len(payload)))
		return s.ctx.Err()
	}
}

// recv blocks for the next inbound message, or returns the terminal error
// that ended the receiver loop (peer disconnect, decrypt failure, frame
// ceiling exceeded, or nonce-order violation — spec.md §4.1 "Failures").
func (s *rawSession) recv() ([]byte, error) {
	select {
	case r, ok := <-s.inboundCh:
		if !ok {
			return nil, io.EOF
		}
		return r.payload, r.err
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

// close tears down the session: cancels both goroutines, closes the
// underlying connection, and waits for both to exit. It is idempotent.
// Closing a healthy session returns nil; the cancellation and closed-conn
// errors close itself causes are not reported. If the session had already
// failed (or its parent context was cancelled) before close, that error is
// returned.
func (s *rawSession) close() error {
	s.closeOnce.Do(func() {
		healthy := s.ctx.Err() == nil
		s.cancel()
		_ = s.conn.Close()
		err := s.g.Wait()
		if !healthy {
			s.closeErr = err
		}
	})
	return s.closeErr
}
