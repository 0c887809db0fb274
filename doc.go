// Package mirrorsync holds the domain types shared by every layer of the
// synchronizer: normalized relative paths, entry and root descriptions,
// filters, planned actions, behaviour flags, and the error taxonomy.
//
// Subpackages build on these types: wire (binary Command/Response codec),
// comms (encrypted/in-process transport), doer (filesystem primitives),
// engine (diff and plan), launcher (remote bootstrap), and boss (frontend).
package mirrorsync
