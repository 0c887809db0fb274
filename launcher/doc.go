// Package launcher bootstraps a doer session: either a local in-process
// one (the caller constructs a doer.Doer directly and never touches this
// package) or a remote one reached by spawning ssh and running the
// handshake described in spec.md §4.4. It owns the version-mismatch
// deploy path (embedded lite binaries) and the AES session key exchange
// that comms needs before it can open a CommandSession over the
// negotiated TCP port.
//
// Grounded on original_source/src/boss_launch.rs's setup_comms/
// launch_doer_via_ssh (handshake line protocol, key exchange over ssh's
// stdin) and boss_deploy.rs/embedded_binaries.rs (deploy-on-mismatch via
// an embedded per-platform binary payload). launcher sits below engine
// and boss in the dependency order (SPEC_FULL.md §2): it produces a
// *comms.CommandSession, which already satisfies engine.Endpoint
// structurally, so neither this package nor its callers need an adapter
// type for the remote case.
package launcher
