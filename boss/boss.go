// Package boss implements the frontend-facing orchestrator of spec.md §2:
// for each configured sync it owns two doer sessions (source and
// destination, local or remote), drives spec.md §4.3's root-resolution,
// walk, diff, plan, and execution phases via package engine, and answers
// prompt callbacks on the user's behalf by delegating to whatever
// PromptFunc the external CLI frontend supplied.
package boss

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	mirrorsync "github.com/mirrorsync/mirrorsync"
	"github.com/mirrorsync/mirrorsync/engine"
	"github.com/mirrorsync/mirrorsync/wire"
)

// SyncRequest is one configured sync: a source and destination path, each
// with the trailing-slash decoration the user wrote, a filter, and
// whether to dry-run.
type SyncRequest struct {
	SourcePath          string
	SourceTrailingSlash bool
	DestPath            string
	DestTrailingSlash   bool
	Filter              mirrorsync.Filter
	DryRun              bool
}

// Boss drives one sync between two already-connected endpoints (each
// either a boss.LocalEndpoint wrapping an in-process doer.Doer, or a
// comms.CommandSession to a remote one — both satisfy engine.Endpoint).
type Boss struct {
	Src      engine.Endpoint
	Dest     engine.Endpoint
	Flags    mirrorsync.BehaviourFlags
	Ask      mirrorsync.PromptFunc
	Log      *zap.Logger
	Progress func(wire.ProgressMarker)
}

func doCmd(ep engine.Endpoint, cmd wire.Command) (wire.Response, error) {
	if err := ep.Send(cmd); err != nil {
		return wire.Response{}, err
	}
	return ep.Recv()
}

func setRoot(ep engine.Endpoint, absPath string, flags mirrorsync.BehaviourFlags) (wire.Response, error) {
	return doCmd(ep, wire.Command{Kind: wire.CommandSetRoot, RootAbsolutePath: absPath, BehaviourFlags: flags})
}

// RunSync executes spec.md §4.3's algorithm for one configured sync and
// returns its aggregated SyncResult. A fatal error (root resolution
// failure, comms failure, a policy set to "error") aborts the sync and is
// returned directly; non-fatal per-action errors are instead collected
// into SyncResult.Errors. ctx is threaded through to engine.CollectBothSides
// and the destructive pre-delete walk (spec.md §5): cancelling it is only
// observed at those suspension points, not mid-command, matching the
// transport-teardown cancellation model described there.
func (b *Boss) RunSync(ctx context.Context, req SyncRequest) (engine.SyncResult, error) {
	log := b.Log
	if log == nil {
		log = zap.NewNop()
	}

	srcRootRes, err := setRoot(b.Src, req.SourcePath, b.Flags)
	if err != nil {
		return engine.SyncResult{}, errors.Wrap(err, "SetRoot on source")
	}
	if srcRootRes.Kind == wire.ResponseError {
		return engine.SyncResult{}, &mirrorsync.Error{Kind: mirrorsync.ErrorUserInput, Side: mirrorsync.SideSource, Path: req.SourcePath, Cause: errors.New(srcRootRes.ErrorMessage)}
	}
	destRootRes, err := setRoot(b.Dest, req.DestPath, b.Flags)
	if err != nil {
		return engine.SyncResult{}, errors.Wrap(err, "SetRoot on destination")
	}
	if destRootRes.Kind == wire.ResponseError {
		return engine.SyncResult{}, &mirrorsync.Error{Kind: mirrorsync.ErrorUserInput, Side: mirrorsync.SideDest, Path: req.DestPath, Cause: errors.New(destRootRes.ErrorMessage)}
	}

	srcKind := engine.EffectiveRootKind(srcRootRes.RootDetails, srcRootRes.RootExists, req.SourceTrailingSlash)
	destKind := engine.EffectiveRootKind(destRootRes.RootDetails, destRootRes.RootExists, req.DestTrailingSlash)

	resolution, err := engine.ResolveRoots(srcKind, req.SourceTrailingSlash, engine.BaseName(req.SourcePath), destKind, req.DestTrailingSlash, req.DestPath)
	if err != nil {
		return engine.SyncResult{}, &mirrorsync.Error{Kind: mirrorsync.ErrorUserInput, Side: mirrorsync.SideNeither, Cause: err}
	}

	if resolution.Destructive {
		proceed, err := b.confirmDestructiveRootReplace(resolution)
		if err != nil {
			return engine.SyncResult{}, err
		}
		if !proceed {
			return engine.SyncResult{}, nil
		}
	}

	// Re-probe the destination at its effective location: the original
	// SetRoot above probed req.DestPath verbatim, which differs from
	// resolution.EffectivePath whenever the source's basename was
	// appended (the "b/a" cells of the decision table).
	effectiveRes, err := setRoot(b.Dest, resolution.EffectivePath, b.Flags)
	if err != nil {
		return engine.SyncResult{}, errors.Wrap(err, "SetRoot on effective destination")
	}
	if effectiveRes.Kind == wire.ResponseError {
		return engine.SyncResult{}, &mirrorsync.Error{Kind: mirrorsync.ErrorUserInput, Side: mirrorsync.SideDest, Path: resolution.EffectivePath, Cause: errors.New(effectiveRes.ErrorMessage)}
	}
	effectiveDestKind := engine.EffectiveRootKind(effectiveRes.RootDetails, effectiveRes.RootExists, false)

	log.Debug("root resolution complete",
		zap.String("effectivePath", resolution.EffectivePath),
		zap.Bool("destructive", resolution.Destructive))

	if srcKind == engine.RootFile {
		return b.runFileSync(ctx, req, srcRootRes.RootDetails, resolution, effectiveDestKind, effectiveRes.RootDetails)
	}
	return b.runFolderSync(ctx, req, resolution, effectiveDestKind)
}

// confirmDestructiveRootReplace consults the replace_file_with_folder /
// replace_folder_with_file policy for a root-level kind mismatch (the
// table's "!" cells), prompting through b.Ask when the policy is
// PolicyPrompt. It returns false (proceed=false, no error) for Skip.
func (b *Boss) confirmDestructiveRootReplace(resolution engine.Resolution) (bool, error) {
	field := &b.Flags.ReplaceFolderWithFile
	kind := mirrorsync.PromptReplaceFolderWithFile
	if resolution.ReplaceFileWithDir {
		field, kind = &b.Flags.ReplaceFileWithFolder, mirrorsync.PromptReplaceFileWithFolder
	}
	answer, err := b.resolvePolicyFlag(field, kind, mirrorsync.Root())
	if err != nil {
		return false, err
	}
	return answer == mirrorsync.AnswerProceed, nil
}

// resolvePolicyFlag consults a single root-level behaviour flag, prompting
// (via b.Ask) when the policy is PolicyPrompt, and persists a "*All"
// answer into *field for the remainder of the run — the same rule
// engine.Diff applies per-entry, applied here to the root itself.
func (b *Boss) resolvePolicyFlag(field *mirrorsync.BehaviourPolicy, kind mirrorsync.PromptKind, p mirrorsync.Path) (mirrorsync.PromptAnswer, error) {
	switch *field {
	case mirrorsync.PolicyProceed:
		return mirrorsync.AnswerProceed, nil
	case mirrorsync.PolicySkip:
		return mirrorsync.AnswerSkip, nil
	case mirrorsync.PolicyError:
		return mirrorsync.AnswerError, &mirrorsync.Error{Kind: mirrorsync.ErrorPolicy, Side: mirrorsync.SideDest, Cause: errors.Errorf("root-level action blocked by policy (prompt kind %d)", kind)}
	default:
		if b.Ask == nil {
			return mirrorsync.AnswerError, &mirrorsync.Error{Kind: mirrorsync.ErrorPolicy, Side: mirrorsync.SideDest, Cause: errors.Errorf("root-level action requires a prompt but none is configured (prompt kind %d)", kind)}
		}
		answer := b.Ask(kind, p)
		if resolved, ok := answer.Resolved(); ok {
			*field = resolved
		}
		return answer.Immediate(), nil
	}
}

// ack collapses an Ack/Error terminal Response to a plain error, the boss
// package's counterpart to engine's private ack helper.
func ack(res wire.Response, err error) error {
	if err != nil {
		return err
	}
	if res.Kind == wire.ResponseError {
		return errors.New(res.ErrorMessage)
	}
	if res.Kind != wire.ResponseAck {
		return errors.Errorf("expected Ack, got response kind %d", res.Kind)
	}
	return nil
}
