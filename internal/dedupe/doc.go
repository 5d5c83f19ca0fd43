// Package dedupe guards against the same chat message being submitted twice
// while its turn is still running. Keys are held until released or until
// their TTL passes, so a crashed turn never blocks a chat forever.
package dedupe
