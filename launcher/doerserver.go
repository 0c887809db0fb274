package launcher

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mirrorsync/mirrorsync/comms"
	"github.com/mirrorsync/mirrorsync/doer"
	"github.com/mirrorsync/mirrorsync/wire"
)

// DefaultIdleTimeout is how long ServeDoer waits for a boss to connect
// (after the handshake) or to send its next command before it gives up
// and exits, the Go equivalent of the original's shell-channel liveness
// deadline: a doer launched over ssh and then abandoned (the boss
// process died, the network partitioned) must not run forever.
const DefaultIdleTimeout = 5 * time.Minute

// ServeDoer is the doer-side half of Launch: it speaks the handshake
// protocol over stdin/stdout (so it can run as the command a boss's ssh
// spawns), accepts exactly one TCP connection using the key the boss
// sent over stdin, and then dispatches commands to a doer.Doer until the
// connection closes, a CommandShutdown arrives, or idleTimeout elapses
// with no activity.
func ServeDoer(ctx context.Context, log *zap.Logger, idleTimeout time.Duration) error {
	if log == nil {
		log = zap.NewNop()
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}

	if _, err := fmt.Fprintln(os.Stdout, formatHandshakeStarted(ProtocolVersion)); err != nil {
		return errors.Wrap(err, "writing handshake-started line")
	}

	stdin := bufio.NewReader(os.Stdin)
	keyLine, err := readLineWithDeadline(stdin, idleTimeout)
	if err != nil {
		return errors.Wrap(err, "reading session key from stdin")
	}
	key, err := base64.StdEncoding.DecodeString(trimNewline(keyLine))
	if err != nil {
		return errors.Wrap(err, "decoding session key")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return errors.Wrap(err, "binding doer listener")
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	if _, err := fmt.Fprintln(os.Stdout, formatHandshakeCompleted(port)); err != nil {
		return errors.Wrap(err, "writing handshake-completed line")
	}

	conn, err := acceptWithDeadline(ln, idleTimeout)
	if err != nil {
		return errors.Wrap(err, "waiting for boss connection")
	}
	defer conn.Close()

	session, err := comms.NewResponseSession(ctx, conn, key)
	if err != nil {
		return errors.Wrap(err, "establishing session")
	}
	defer session.Close()

	d := doer.New(log)
	return serveCommands(ctx, d, session, idleTimeout, log)
}

func serveCommands(ctx context.Context, d *doer.Doer, session *comms.ResponseSession, idleTimeout time.Duration, log *zap.Logger) error {
	for {
		cmd, err := recvWithDeadline(session, idleTimeout)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "receiving command")
		}
		if err := d.Dispatch(cmd, session.Send); err != nil {
			return errors.Wrap(err, "dispatching command")
		}
		if cmd.IsFinalMessage() {
			log.Debug("doer shutting down on Shutdown command")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func recvWithDeadline(session *comms.ResponseSession, wait time.Duration) (wire.Command, error) {
	type result struct {
		cmd wire.Command
		err error
	}
	ch := make(chan result, 1)
	go func() {
		cmd, err := session.Recv()
		ch <- result{cmd, err}
	}()
	select {
	case res := <-ch:
		return res.cmd, res.err
	case <-time.After(wait):
		return wire.Command{}, errors.New("idle timeout waiting for next command")
	}
}

func acceptWithDeadline(ln net.Listener, wait time.Duration) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn, err}
	}()
	select {
	case res := <-ch:
		return res.conn, res.err
	case <-time.After(wait):
		return nil, errors.New("idle timeout waiting for boss to connect")
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
