// Package heartbeat keeps a stream's visible content non-empty and
// changing while the real answer is still being generated.
//
// Each heartbeat ticks every 3 seconds, overwriting the stream's whole
// content with a rotating "Thinking..." style placeholder. Whole-content
// replacement (never append) keeps ticks from stacking duplicate text.
// The first time a tick observes content that is not one of its own
// placeholder strings it latches off and never writes again, but the
// timer keeps watching so the run can self-stop when the stream finishes
// or disappears. If nothing real arrives within 60 seconds the run fires
// its onTimeout callback exactly once so the caller can finalize the
// stream with a user-visible timeout message.
//
// Detection is by pattern, not a shared flag: the producer writes through
// the ordinary registry API with no knowledge of heartbeats. Content that
// legitimately equals a placeholder string would keep the heartbeat in
// placeholder mode for a tick; that risk is accepted.
package heartbeat
