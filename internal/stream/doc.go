// Package stream defines the incremental output of a turn and the plumbing
// that carries it to clients.
//
// A turn produces Chunks in the UI message stream shape: a start chunk, then
// per step a start-step, text and reasoning blocks, tool lifecycle chunks
// and a finish-step, and finally a finish chunk. Multiplex merges the
// driver's chunks with the asynchronously derived chat title and numbers
// every chunk so a reconnecting client can resume after the last one it saw.
//
// # Wire format
//
// Chunks are written as server-sent events:
//
//	id: 3
//	event: text-delta
//	data: {"type":"text-delta","id":"t1","delta":"Hel"}
//
// and the stream ends with
//
//	event: done
//	data: [DONE]
package stream
