// Package sqlstore is the SQL store backend, on SQLite (mattn/go-sqlite3) or
// Postgres (pgx stdlib).
//
// # Tables
//
//   - documents(id, session_id, class_name, body): body is the document tree
//     as JSON (TEXT on SQLite, JSONB on Postgres)
//   - document_classes(doc_id, class_name): class name plus superclasses, for isa
//   - depends_on(doc_id, name, target_id): one row per non-empty dependency
//
// depends_on is indexed on both ends so dependents are found without a scan.
// Queries are compiled by internal/querysql and always order by id with
// byte-wise collation.
//
// # SQLite configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//   - one open connection (single writer)
//
// Schema versions are tracked in PRAGMA user_version.
package sqlstore
