package boss

import (
	"github.com/pkg/errors"

	"github.com/mirrorsync/mirrorsync/doer"
	"github.com/mirrorsync/mirrorsync/wire"
)

// LocalEndpoint drives an in-process doer.Doer directly, without going
// through comms at all — the "instantiates an in-process doer (local)"
// half of spec.md §2's control-flow description. Dispatch is synchronous
// and single-threaded, so every Response a command produces (one for most
// commands, many for GetEntries/GetFileContent) is captured eagerly by
// Send and drained one at a time by Recv; this gives LocalEndpoint the
// same Send-then-Recv-until-done shape engine.Endpoint expects from a
// real comms.CommandSession.
type LocalEndpoint struct {
	d     *doer.Doer
	queue []wire.Response
}

func NewLocalEndpoint(d *doer.Doer) *LocalEndpoint {
	return &LocalEndpoint{d: d}
}

func (l *LocalEndpoint) Send(cmd wire.Command) error {
	return l.d.Dispatch(cmd, func(res wire.Response) error {
		l.queue = append(l.queue, res)
		return nil
	})
}

func (l *LocalEndpoint) Recv() (wire.Response, error) {
	if len(l.queue) == 0 {
		return wire.Response{}, errors.New("no pending response from local doer")
	}
	res := l.queue[0]
	l.queue = l.queue[1:]
	return res, nil
}
