// Package store provides persistent storage for chats using SQLite.
//
// # Architecture
//
// Store is the single persistence interface used by the chat pipeline.
// SQLiteStore implements it on database/sql; MockStore implements it in
// memory for tests and can inject a failure per operation.
//
// # Data Models
//
//   - Chat: a conversation owned by one user, with title and visibility
//   - Message: a message.Message tagged with its chat; parts stored as JSON
//   - Vote: an up/down rating of a message, one per (chat, message)
//   - Stream: a resumable stream handle registered for a chat
//
// # SQLite Configuration
//
// Two drivers are supported:
//
//	store.Open("sqlite", path)   // modernc.org/sqlite, pure Go (default)
//	store.Open("sqlite3", path)  // mattn/go-sqlite3, requires cgo
//
// Both are opened with WAL journaling, foreign keys and a busy timeout.
// Timestamps are stored as fixed-width UTC text so ordering in SQL matches
// time order; messages with equal timestamps keep insertion order.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicate: an ID is already taken
//
// Deleting a chat removes its votes, messages and stream handles in the
// same transaction.
//
// # Testing
//
//	s := store.NewMockStore()
//	s.Failures["SaveMessages"] = errors.New("disk full")
package store
