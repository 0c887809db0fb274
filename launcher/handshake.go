package launcher

import (
	"strconv"
	"strings"
)

// ProtocolVersion is compared verbatim against the remote doer's
// handshake line; any mismatch triggers the deploy-on-mismatch path
// rather than attempting to speak an incompatible wire protocol.
const ProtocolVersion = "1"

// Handshake line prefixes, analogous to boss_launch.rs's
// HANDSHAKE_STARTED_MSG/HANDSHAKE_COMPLETED_MSG constants. The doer
// writes both to stdout so a boss reading the ssh session's stdout
// stream can drive the exchange without a side channel.
const (
	handshakeStartedPrefix   = "MIRRORSYNC_HANDSHAKE_STARTED "
	handshakeCompletedPrefix = "MIRRORSYNC_HANDSHAKE_COMPLETED "
)

func formatHandshakeStarted(version string) string {
	return handshakeStartedPrefix + version
}

func formatHandshakeCompleted(port int) string {
	return handshakeCompletedPrefix + strconv.Itoa(port)
}

// parseHandshakeStarted extracts the remote's protocol version from a
// handshake-started line, or reports ok=false if line isn't one.
func parseHandshakeStarted(line string) (version string, ok bool) {
	rest, ok := cutPrefix(line, handshakeStartedPrefix)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// parseHandshakeCompleted extracts the TCP port the remote doer bound,
// or reports ok=false if line isn't a handshake-completed line.
func parseHandshakeCompleted(line string) (port int, ok bool) {
	rest, ok := cutPrefix(line, handshakeCompletedPrefix)
	if !ok {
		return 0, false
	}
	port, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0, false
	}
	return port, true
}

func cutPrefix(s, prefix string) (string, bool) {
	if !strings.HasPrefix(s, prefix) {
		return "", false
	}
	return s[len(prefix):], true
}
