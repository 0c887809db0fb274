package engine

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	mirrorsync "github.com/mirrorsync/mirrorsync"
	"github.com/mirrorsync/mirrorsync/wire"
)

// EntryLister is the subset of comms.CommandSession the walk phase needs:
// send a Command and read back the response stream. Both the source and
// destination sides implement it identically whether they're backed by an
// in-process doer or a remote comms.CommandSession, which is exactly why
// the engine drives both through this interface rather than depending on
// comms directly.
type EntryLister interface {
	Send(cmd wire.Command) error
	Recv() (wire.Response, error)
}

// Tree is one side's fully-collected GetEntries result: a sorted-by-path
// listing. spec.md §4.3 step 2 explicitly collects both sides fully before
// diffing ("streaming fine-grained overlap is an acknowledged future
// optimization and MUST NOT be a correctness dependency"), so Tree is a
// plain map plus a precomputed sorted key slice rather than a live
// channel.
type Tree struct {
	Entries map[string]mirrorsync.EntryDetails
	Keys    []string
}

// CollectEntries issues GetEntries against lister and blocks until
// EndOfEntries or an error arrives.
func CollectEntries(lister EntryLister, filter mirrorsync.Filter) (Tree, error) {
	if err := lister.Send(wire.Command{Kind: wire.CommandGetEntries, Filter: filter}); err != nil {
		return Tree{}, errors.Wrap(err, "sending GetEntries")
	}
	entries := make(map[string]mirrorsync.EntryDetails)
	for {
		res, err := lister.Recv()
		if err != nil {
			return Tree{}, errors.Wrap(err, "receiving entries")
		}
		switch res.Kind {
		case wire.ResponseEntry:
			entries[res.Path.Raw()] = res.EntryDetails
		case wire.ResponseEndOfEntries:
			return newTree(entries), nil
		case wire.ResponseError:
			return Tree{}, errors.New(res.ErrorMessage)
		default:
			return Tree{}, errors.Errorf("unexpected response %d while collecting entries", res.Kind)
		}
	}
}

func newTree(entries map[string]mirrorsync.EntryDetails) Tree {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Tree{Entries: entries, Keys: keys}
}

// CollectBothSides runs CollectEntries against the source and destination
// concurrently, the way store/sync.go in the retrieval pack's teacher runs
// ListRefs against every store concurrently via errgroup rather than
// sequentially.
func CollectBothSides(ctx context.Context, src, dest EntryLister, filter mirrorsync.Filter) (srcTree, destTree Tree, err error) {
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := CollectEntries(src, filter)
		srcTree = t
		return err
	})
	g.Go(func() error {
		t, err := CollectEntries(dest, filter)
		destTree = t
		return err
	})
	if err := g.Wait(); err != nil {
		return Tree{}, Tree{}, err
	}
	return srcTree, destTree, nil
}
