// Package ws implements the WebSocket surfaces of the terminal service.
//
// The session stream (GET /api/terminals/:id/stream) attaches one viewer:
// the server sends a "history" message first, then "output" messages as the
// process writes, then a single "exited" message carrying exit_code before a
// normal close. Viewers send "input", "resize", "reparent" and "ping".
// A viewer that falls behind is closed with 1013; an unknown session id is
// closed with 4004.
//
// The dashboard channel (GET /api/events) carries sessionCreated,
// sessionRemoved, sessionSpawnFailed and sessionList events. The first event
// is always a sessionList; clients may send {"type":"list"} to request a
// fresh one.
//
// Each connection has exactly one writer goroutine.
package ws
