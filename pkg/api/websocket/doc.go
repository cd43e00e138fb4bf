// Package websocket provides real-time event streaming via WebSocket.
//
// Clients connect to /api/v1/runs/:id/ws. The first message is a snapshot
// of the run; run and step events follow until the run finishes.
package websocket
