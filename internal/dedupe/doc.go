// Package dedupe drops duplicate webhook deliveries.
//
// The platform redelivers messages at least once; a short-TTL seen-set
// keyed by message id lets the handler process each delivery exactly once
// within the redelivery window. State is in-memory only: after a restart
// a redelivered message is processed again, which the platform tolerates.
package dedupe
