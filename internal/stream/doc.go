// Package stream maintains the in-memory table of in-flight and completed
// reply streams.
//
// # Overview
//
// The messaging platform delivers a user message, expects an immediate
// "empty, not finished" reply, then polls the same stream id repeatedly
// until the reply is marked finished. The Registry is the single source of
// truth those polls read from and the single sink the asynchronous reply
// producer and the heartbeat writer mutate.
//
// # Lifecycle
//
//   - Create: inserted with empty content on first delivery (or for an
//     internally generated notification such as a welcome message)
//   - Update/Append: content mutation, capped at 20,480 UTF-8 bytes by
//     truncation at a rune boundary
//   - QueueAttachment: source references accumulate until completion
//   - Finish: one-shot transition to finished; pending attachments are
//     finalized through the AttachmentPreparer (at most 10 items,
//     per-item failures skipped)
//   - Delete / expiry sweep: explicit removal after the post-completion
//     grace period, or background reclamation after 10 idle minutes
//
// # Concurrency
//
// Every operation is a single atomic read-modify-write of one stream
// under the registry mutex. Finished is monotonic: once set, further
// Update/Append calls are no-ops returning false, which makes late writes
// from an abandoned producer harmless.
//
// The expiry sweeper starts lazily on first use and is stopped by Close,
// so constructing a Registry never leaks a timer.
package stream
