// Package entitlement implements the pure access-decision core of the
// membership gate: given a subscription snapshot and a content tier
// requirement, it answers whether the content is accessible.
//
// The package has no I/O and no state. Every writer of subscription state
// (webhook receivers, checkout verification) and every reader (page
// rendering, paywall) shares these types, so the access rule lives in
// exactly one place.
package entitlement
