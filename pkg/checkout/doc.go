// Package checkout orchestrates the purchase flow against the billing
// provider and closes the consistency gap after payment.
//
// The orchestrator owns two known races: a user can start checkout before
// the identity webhook created their row, and a billing customer can be
// deleted at the provider out-of-band. Both are recovered inline (create
// on demand, re-key by email, recreate the customer) instead of failing
// the purchase. The verifier gives the returning buyer a read-your-write
// guarantee: reconciled subscription state is persisted before the
// success response, well ahead of the asynchronous webhook.
package checkout
