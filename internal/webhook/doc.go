// Package webhook implements the platform-facing callback endpoint.
//
// Every interaction with the platform flows through one HTTP route: GET
// for the URL verification handshake and POST for encrypted message
// delivery. The handler is the only component that speaks the wire
// protocol; it decrypts inbound callbacks, hands real work to the
// conversation queue, and renders stream registry state back into
// signed, encrypted reply envelopes.
//
// The callback transaction is kept short on purpose. Reply generation
// runs asynchronously and the client observes progress by polling the
// stream, so the handler never blocks on the model.
package webhook
