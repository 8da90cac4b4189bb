// Package store is the document store contract shared by every backend.
//
// A Store wraps a Backend (internal/store/fsstore, internal/store/sqlstore)
// and enforces the rules that must hold regardless of where documents live:
//
//   - Identity: base.id is set at creation and never rewritten. add fails
//     with ALREADY_EXISTS on a duplicate id; update fails with NOT_FOUND on a
//     missing one.
//   - Referential integrity: every non-empty depends_on value names a stored
//     document (DEPENDENCY_MISSING otherwise) and the dependency graph stays
//     acyclic (DEPENDENCY_CYCLE).
//   - Deletion: a document with dependents is only removed with cascade,
//     which deletes dependents first in reverse topological order
//     (CASCADE_REQUIRED otherwise).
//   - Versioning: SaveUpdates retires the current document and inserts its
//     successor with a fresh id; GetHistory walks the chain oldest first.
//
// Binary attachments live on the filesystem under
// <binary root>/<doc id>/<filename> for every backend. Write streams go to a
// temporary file that is renamed into place on Close.
//
// # Concurrency
//
// Writes to one document id are serialized by a per-id lock. Operations
// that check or change the dependency graph also hold a store-wide graph
// lock, so integrity checks never race with each other.
package store
