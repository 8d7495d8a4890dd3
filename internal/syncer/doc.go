// Package syncer mirrors relational tables to per-table YAML documents.
//
// # Overview
//
// The synchronizer drives whole-table load and save cycles between the
// embedded SQLite store and the document directory:
//
//	<data-dir>/<table>.yaml  →  decode rows  →  DELETE + bulk INSERT (load)
//	SELECT * per table       →  encode rows  →  <data-dir>/<table>.yaml (save)
//
// Relational mutation happens in a single transaction per call; the
// per-table file work fans out over a bounded worker pool and falls back
// to strictly sequential execution when the pool cannot accept tasks.
//
// # Concurrency
//
// Table documents are independent (one file each), so file operations may
// run in any order. The transaction itself always runs on the calling
// goroutine. A synchronizer instance must not run Load and Save
// concurrently; no internal mutual exclusion is provided.
package syncer
