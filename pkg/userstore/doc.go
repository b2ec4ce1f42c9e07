// Package userstore persists the one-row-per-identity user record that
// links an identity-provider subject to its billing state.
//
// All coordination between concurrent writers (the two webhook receivers
// and the synchronous checkout verifier) is pushed into the database:
// writes are conditional upserts or keyed updates, never blind inserts,
// and subscription writes carry a monotonic version so a stale event
// replayed out of order can never overwrite newer state.
package userstore
