// Package session owns the metadata request/response exchange.
//
// Ownership boundary:
// - command and response markers
// - dialing, deadlines, and one-exchange-per-connection serving
// - caller-level retry backoff
//
// Exactly one request/response pair is served per connection; the caller
// closes it afterwards.
package session
