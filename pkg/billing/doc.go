// Package billing wraps the payment provider behind a narrow facade so the
// rest of the engine never touches provider SDK types.
//
// Provider failures are translated into tagged sentinel errors at this
// boundary (for example ErrCustomerMissing when a customer was deleted
// out-of-band), letting callers dispatch on error identity instead of
// inspecting provider error shapes.
package billing
