// Package store provides persistent storage for huddle using SQLite.
//
// # Architecture
//
// The package is organised around a unit of work. Store.InTx opens one
// transaction and hands the callback a Tx, which exposes the statement-level
// primitives the conversation service composes:
//
//   - Conversations: insert, lookup by id or direct key, topic update, viewer listing
//   - Members: batch insert (duplicates ignored), delete, list, membership check
//   - Pins: per-viewer pin rows that order the conversation list
//   - Messages: insert, update, filtered scans, last message, unread counts
//   - Attachments, Reactions, Read markers
//
// The callback's error decides the outcome: nil commits, anything else rolls
// back, so a failed operation never leaves partial rows behind.
//
// # SQLite Configuration
//
// Two drivers are supported and selected by name:
//
//   - "sqlite": modernc.org/sqlite, pure Go (default)
//   - "sqlite3": github.com/mattn/go-sqlite3, requires cgo
//
// The store uses WAL mode and enforces foreign keys:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// The pool is limited to one connection, so writers are serialized and the
// uniqueness constraints (direct key, membership pair, reaction pair, read
// marker pair) are the only concurrency control needed.
//
// Timestamps are stored as fixed-width UTC text so that comparisons in SQL
// order chronologically. Message bodies are stored twice, as written and
// case-folded, for Unicode-aware substring search.
//
// # Error Handling
//
//   - ErrNotFound: requested row does not exist
//   - ErrConflict: insert violated a uniqueness constraint
//
// # Testing
//
// Use NewSQLiteStore with a path under t.TempDir() for tests against real SQLite.
package store
