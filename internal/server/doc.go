// Package server provides the HTTP API of the permission engine.
//
// The server is a chi router with request ID, logging, recovery and CORS
// middleware in front of a permission.Checker and the rule aggregator.
//
// # API Endpoints
//
//	GET    /health                       Liveness and project root
//	POST   /permission/check             Decide one invocation; ask is returned, not awaited
//	POST   /permission/check/batch       Decide many invocations against one rule snapshot
//	POST   /permission/request           Decide and, on ask, block until replied
//	GET    /permission/pending           Requests waiting for a reply
//	POST   /permission/{requestID}       Reply once, always or reject
//	GET    /permission/rules?lint=true   Current rule set, optionally with lint findings
//	POST   /permission/reload            Re-read every settings scope
//	GET    /permission/session           Rules added during this run
//	POST   /permission/session           Add session rules
//	DELETE /permission/session           Drop session rules
//	GET    /permission/audit             Audited decisions (sessionID, tool, behavior, since, limit)
//	GET    /permission/audit/{recordID}  One audited decision
//	GET    /mcp                          Status of the prompt tool's MCP servers
//	GET    /event                        Server-Sent Events stream, optionally ?sessionID=
//
// # Request Format
//
//	POST /permission/check
//	{"toolName": "Bash", "content": "git push origin main", "sessionID": "s1"}
//
// When content is empty it is derived from input, for example input.command
// for Bash and input.file_path for Edit.
//
// # Event Streaming
//
// Every event on the bus is written as
//
//	event: message
//	data: {"type": "permission.required", "properties": {...}}
//
// A heartbeat comment is sent every 30 seconds. Events of other sessions are
// filtered out when sessionID is given; rule and settings events always pass.
//
// # Error Handling
//
//	{"error": {"code": "INVALID_REQUEST", "message": "toolName is required"}}
package server
