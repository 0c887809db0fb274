package launcher

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	mirrorsync "github.com/mirrorsync/mirrorsync"
	"github.com/mirrorsync/mirrorsync/comms"
)

// RemoteTarget is everything needed to reach a doer over ssh, analogous
// to boss_launch.rs's Comms::Remote parameters.
type RemoteTarget struct {
	User           string // empty to let ssh use the local user / ssh config.
	Host           string
	MirrorsyncPath string        // remote binary path; defaults to "mirrorsync" on PATH.
	HandshakeWait  time.Duration // zero means DefaultHandshakeWait.
}

// DefaultHandshakeWait bounds how long Launch waits for the remote doer to
// print both handshake lines before giving up.
const DefaultHandshakeWait = 30 * time.Second

// Deployer builds and installs a compatible doer binary on the remote
// host when the handshake reports a version mismatch. It is supplied by
// the caller (cmd/mirrorsync) so launcher itself stays free of any
// decision about which embedded binary or ssh credentials to use beyond
// what the handshake already established.
type Deployer interface {
	Deploy(ctx context.Context, target RemoteTarget) error
}

// remoteSession bundles the spawned ssh process with the CommandSession
// built on top of the TCP connection it negotiated. Close tears down both
// the session and the ssh process.
type remoteSession struct {
	cmd     *exec.Cmd
	session *comms.CommandSession
}

// Session returns the CommandSession, which satisfies engine.Endpoint
// structurally (Send(wire.Command) error / Recv() (wire.Response, error)).
func (r *remoteSession) Session() *comms.CommandSession { return r.session }

func (r *remoteSession) Close() error {
	err := r.session.Close()
	_ = r.cmd.Process.Kill()
	_ = r.cmd.Wait()
	return err
}

// Launch spawns `ssh <host> -- <mirrorsyncPath> --doer`, runs the
// handshake, deploys a fresh doer via deployer if the reported protocol
// version doesn't match, and returns a ready-to-use remote session.
//
// Grounded on boss_launch.rs's setup_comms/launch_doer_via_ssh: ssh is
// spawned with piped stdin/stdout/stderr, stdout is read line-by-line on
// a background goroutine looking for the two handshake markers, the AES
// session key is generated here and sent over ssh's stdin (never over
// the TCP socket, which doesn't exist yet when the key is sent), and the
// negotiated port from the second handshake line is what the boss then
// dials directly — the ssh tunnel itself carries only the handshake
// preamble, not the sync protocol.
func Launch(ctx context.Context, target RemoteTarget, deployer Deployer, log *zap.Logger) (*remoteSession, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if target.MirrorsyncPath == "" {
		target.MirrorsyncPath = "mirrorsync"
	}
	wait := target.HandshakeWait
	if wait == 0 {
		wait = DefaultHandshakeWait
	}

	cmd, stdin, stdout, err := spawnSSH(ctx, target)
	if err != nil {
		return nil, &mirrorsync.Error{Kind: mirrorsync.ErrorLaunch, Side: mirrorsync.SideDest, Cause: errors.Wrap(err, "spawning ssh")}
	}

	version, err := awaitHandshakeStarted(stdout, wait)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, &mirrorsync.Error{Kind: mirrorsync.ErrorLaunch, Side: mirrorsync.SideDest, Cause: err}
	}
	log.Debug("remote doer handshake started", zap.String("host", target.Host), zap.String("version", version))

	if version != ProtocolVersion {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		if deployer == nil {
			return nil, &mirrorsync.Error{Kind: mirrorsync.ErrorLaunch, Side: mirrorsync.SideDest, Cause: errors.Errorf("remote doer version %q != %q, no deployer configured", version, ProtocolVersion)}
		}
		if err := deployer.Deploy(ctx, target); err != nil {
			return nil, &mirrorsync.Error{Kind: mirrorsync.ErrorLaunch, Side: mirrorsync.SideDest, Cause: errors.Wrap(err, "deploying compatible doer")}
		}
		cmd, stdin, stdout, err = spawnSSH(ctx, target)
		if err != nil {
			return nil, &mirrorsync.Error{Kind: mirrorsync.ErrorLaunch, Side: mirrorsync.SideDest, Cause: errors.Wrap(err, "spawning ssh after deploy")}
		}
		version, err = awaitHandshakeStarted(stdout, wait)
		if err != nil {
			_ = cmd.Process.Kill()
			return nil, &mirrorsync.Error{Kind: mirrorsync.ErrorLaunch, Side: mirrorsync.SideDest, Cause: err}
		}
		if version != ProtocolVersion {
			_ = cmd.Process.Kill()
			return nil, &mirrorsync.Error{Kind: mirrorsync.ErrorLaunch, Side: mirrorsync.SideDest, Cause: errors.Errorf("remote doer still reports version %q after deploy", version)}
		}
	}

	key, err := comms.NewSessionKey()
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, &mirrorsync.Error{Kind: mirrorsync.ErrorLaunch, Side: mirrorsync.SideDest, Cause: err}
	}
	if _, err := fmt.Fprintln(stdin, base64.StdEncoding.EncodeToString(key)); err != nil {
		_ = cmd.Process.Kill()
		return nil, &mirrorsync.Error{Kind: mirrorsync.ErrorLaunch, Side: mirrorsync.SideDest, Cause: errors.Wrap(err, "sending session key over ssh stdin")}
	}

	port, err := awaitHandshakeCompleted(stdout, wait)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, &mirrorsync.Error{Kind: mirrorsync.ErrorLaunch, Side: mirrorsync.SideDest, Cause: err}
	}
	log.Debug("remote doer handshake completed", zap.String("host", target.Host), zap.Int("port", port))

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", target.Host, port), wait)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, &mirrorsync.Error{Kind: mirrorsync.ErrorLaunch, Side: mirrorsync.SideDest, Cause: errors.Wrap(err, "dialing remote doer")}
	}

	session, err := comms.NewCommandSession(ctx, conn, key)
	if err != nil {
		_ = conn.Close()
		_ = cmd.Process.Kill()
		return nil, &mirrorsync.Error{Kind: mirrorsync.ErrorLaunch, Side: mirrorsync.SideDest, Cause: err}
	}

	return &remoteSession{cmd: cmd, session: session}, nil
}

func spawnSSH(ctx context.Context, target RemoteTarget) (cmd *exec.Cmd, stdin io.WriteCloser, stdout *bufio.Reader, err error) {
	host := target.Host
	if target.User != "" {
		host = target.User + "@" + target.Host
	}
	cmd = exec.CommandContext(ctx, "ssh", host, "--", target.MirrorsyncPath, "--doer")
	stdin, err = cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, err
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, err
	}
	return cmd, stdin, bufio.NewReader(stdoutPipe), nil
}

// awaitHandshakeStarted reads stdout lines until it sees a
// handshake-started line or the deadline passes, discarding (but not
// losing — a caller wanting doer diagnostics should read stderr
// separately) anything else the remote process prints first, such as a
// shell's MOTD.
func awaitHandshakeStarted(stdout *bufio.Reader, wait time.Duration) (string, error) {
	line, err := readLineWithDeadline(stdout, wait)
	for err == nil {
		if version, ok := parseHandshakeStarted(strings.TrimRight(line, "\n")); ok {
			return version, nil
		}
		line, err = readLineWithDeadline(stdout, wait)
	}
	return "", errors.Wrap(err, "waiting for handshake-started line")
}

func awaitHandshakeCompleted(stdout *bufio.Reader, wait time.Duration) (int, error) {
	line, err := readLineWithDeadline(stdout, wait)
	for err == nil {
		if port, ok := parseHandshakeCompleted(strings.TrimRight(line, "\n")); ok {
			return port, nil
		}
		line, err = readLineWithDeadline(stdout, wait)
	}
	return 0, errors.Wrap(err, "waiting for handshake-completed line")
}

// readLineWithDeadline reads one line on a background goroutine so a
// stalled remote process (no MOTD terminator, ssh hanging on a prompt)
// can't block the launch forever.
func readLineWithDeadline(r *bufio.Reader, wait time.Duration) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := r.ReadString('\n')
		ch <- result{line, err}
	}()
	select {
	case res := <-ch:
		return res.line, res.err
	case <-time.After(wait):
		return "", errors.New("timed out waiting for remote doer output")
	}
}
