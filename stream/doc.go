// Package stream relays turn events over WebSocket connections. A client
// opens a connection, submits one turn request, and receives the turn's
// ordered events as JSON frames: tokens as they are generated, node
// completions, confirmation prompts, and the terminal event. Confirmation
// verdicts travel back on the same connection.
package stream
