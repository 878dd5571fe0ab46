// Package notify turns pipeline events into tenant-facing notices.
//
// The service subscribes to the event bus and forwards the high-signal
// events (health warnings, rule disablement, dropped flood waits, backfill
// completion) to the owning tenant through a Sender. Routine events such as
// successful deliveries are deliberately not surfaced.
//
// Notices are throttled per tenant with a token bucket so a flapping rule
// cannot flood a tenant's chat; over-budget notices are dropped, never
// queued.
package notify
