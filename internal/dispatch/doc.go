// Package dispatch produces reply text for inbound messages.
//
// A Dispatcher is invoked from a conversation-queue job, long after the
// webhook transaction that created the reply stream has returned. It
// writes progressive content into the stream registry and issues the
// single terminal finish; the registry's monotonic finished flag makes a
// late write from an abandoned dispatch a harmless no-op.
package dispatch
