// Package gateway serves the serviceos-chat HTTP API.
//
// # Overview
//
// The Gateway owns the store, the resumable delivery backend and the HTTP
// listener, and hands every chat operation to conversation.Service. New
// builds all collaborators from config.Config; NewWithComponents accepts
// them ready-made.
//
// # HTTP API
//
//   - POST /api/chat - submit a turn; the response is an SSE stream
//   - DELETE /api/chat?id= - delete a chat with its messages, votes and streams
//   - GET /api/chat/{id}/stream - resume a stream after Last-Event-ID (204 when there is nothing to resume)
//   - GET /api/chat/{id}/messages - ordered message history
//   - PATCH /api/chat/{id}/visibility - make a chat public or private
//   - GET /api/history - page through the user's chats
//   - DELETE /api/history - delete all of the user's chats
//   - GET /api/vote?chatId= and PATCH /api/vote - message votes
//   - GET /health and GET /health/ready - liveness and store readiness
//
// # Streaming
//
// Each chunk is written as
//
//	id: <seq>
//	event: <chunk type>
//	data: <chunk json>
//
// and the stream ends with "event: done" / "data: [DONE]". When the client
// disconnects the remaining chunks are drained so the turn still finishes
// and is persisted.
//
// # Errors
//
// Errors are JSON bodies {"code": "<kind>:<surface>", "message": ...} with
// the status of their chaterr kind.
//
// # Authentication
//
// When auth.jwt_secret is configured, Bearer tokens identify the user. A
// request without a valid token is anonymous and gets 401 from every
// operation on chat data.
//
// # Tailscale
//
// With tailscale.enabled the gateway joins the tailnet through tsnet and
// listens on :80, or on :443 with the node's certificate when
// tailscale.https is set.
package gateway
