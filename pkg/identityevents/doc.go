// Package identityevents consumes identity-provider webhooks and mirrors
// account lifecycle changes into the user store.
//
// Events are svix-signed and delivered at-least-once: the upsert and
// delete handlers are safe under replay, and a user without a resolvable
// email is skipped with a log line rather than failing the delivery.
package identityevents
