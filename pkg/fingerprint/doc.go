// Package fingerprint computes the content-derived identifier Rugby uses to
// decide whether a target's binary is reusable from cache.
//
// A fingerprint is a pure function of a target's own declared build
// structure plus the fingerprints of its direct dependencies (never their
// transitive closure, so an unrelated change two levels down in the graph
// does not widen a cache miss past the nodes that actually changed). The
// per-target inputs are handed to small collaborator interfaces
// (BuildPhaseHasher, BuildRulesHasher, ScriptsHasher, ConfigurationsHasher)
// so that callers can swap in project-specific hashing rules without
// touching the traversal itself.
package fingerprint
