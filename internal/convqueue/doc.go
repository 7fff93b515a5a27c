// Package convqueue serializes message processing per conversation.
//
// A conversation key (the sender for direct chats, the group for group
// chats) gets at most one executing job at a time, a FIFO backlog of at
// most five waiting jobs, and nothing beyond that: an arrival against a
// full backlog is dropped and reported as QueueFull so the caller can
// surface a "please wait" reply. Jobs for different keys run fully
// concurrently.
//
// Idle per-key state is reclaimed by a delayed sweep fenced with a
// generation counter: the sweep captures the generation when scheduled
// and deletes only if no enqueue has bumped it since, so a new arrival
// during the delay is never clobbered.
package convqueue
