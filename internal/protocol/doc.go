// Package protocol owns the wire contract shared by the metadata exchange.
//
// Ownership boundary:
// - error taxonomy (transport, protocol, capacity, argument)
// - sized-message framing (frame)
// - agent metadata codec (metadata)
// - request/response session helpers (session)
package protocol
