// Package errs holds the sentinel error kinds of spec.md §7, shared across
// layers so callers can compare with errors.Is instead of matching on
// error-message text. Grounded on the teacher's own style of returning plain
// errors (e.g. services/ivss.go's StartSharing) rather than a custom
// error-code hierarchy; this package only adds the small set of sentinels
// spec.md names, it does not introduce new error-handling machinery.
package errs

import "errors"

var (
	// ErrInvalidShare marks CSS evidence for two distinct defining
	// polynomials. Not reachable under omission-only faults; treated as a
	// fatal misuse of the package.
	ErrInvalidShare = errors.New("css: inconsistent share evidence")

	// ErrBudgetExhausted is surfaced by the CLI harness (cmd/auction) when a
	// party's result does not arrive within the configured wall-clock
	// timeout. No event budget is enforced.
	ErrBudgetExhausted = errors.New("party: run budget exhausted")

	// ErrDealerMissing marks a dealer that never finalized its CSS
	// instance. ACS recovers from this locally by excluding the dealer;
	// callers outside ACS should not normally observe it.
	ErrDealerMissing = errors.New("css: dealer never finalized")

	// ErrOpenIncomplete marks a public-open instance that never collected
	// f+1 shares. Can only occur if more parties omit than the fault model
	// allows; fatal.
	ErrOpenIncomplete = errors.New("mpcarith: open never reached f+1 shares")
)
