// Package workflows is the tool-serving side of the assistant: the clinical
// workflow catalog, the disambiguation tool that asks the user to pick a
// workflow, and the confidence meta-tool the chat engine calls to rank
// workflows before each turn.
//
// Server implements mcp.Handler and is mounted by cmd/serviceos-tools. The
// workflow handlers return canned payloads shaped like the real back-office
// responses, wrapped as {"status":"ok","data":...}.
package workflows
