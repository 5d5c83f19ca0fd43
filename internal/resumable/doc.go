// Package resumable keeps a turn's output available after the client that
// started it goes away.
//
// Manager.Wrap registers a stream handle for the chat before the first
// chunk is forwarded and then copies every chunk into a Backend. A client
// that reconnects calls Manager.Resume with the sequence number of the last
// chunk it saw; the backend replays what was buffered after that point and
// follows the live stream until it finishes.
//
// Two backends are provided. RedisBackend stores each stream as a Redis
// stream with a TTL and serves followers with XREAD BLOCK, so any gateway
// replica can resume a turn. MemoryBackend keeps streams in process and is
// meant for single-instance deployments and tests.
//
// A nil *Manager is valid and disables resumption: Wrap passes chunks
// through untouched and Resume reports nothing to resume.
package resumable
