// Package billingevents consumes billing-provider webhooks and reconciles
// the user store's subscription fields against provider truth.
//
// Delivery is at-least-once with no ordering guarantee, so every handler
// is idempotent and every write carries the event's creation timestamp as
// a monotonic version: a stale update delivered after a cancellation is
// dropped rather than resurrecting paid access. "User not found" is an
// expected no-op under replay and test traffic and never fails the
// delivery, since a failed delivery makes the provider retry forever.
package billingevents
