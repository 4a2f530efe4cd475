// Package kangerr defines the typed error kinds shared across the
// coordination server: explicit sentinel errors callers test for with
// errors.Is instead of inspecting ad-hoc error strings.
package kangerr

import "errors"

// Sentinel error kinds, one per error kind named in the design's error
// handling section. Each is surfaced at a specific layer; none of them
// terminates the server process.
var (
	// ErrMalformedInput indicates a request failed shape or value
	// validation: an unrecognized public key prefix, non-hex fields, or an
	// empty/inverted scalar range. No state is changed before this error
	// is returned.
	ErrMalformedInput = errors.New("malformed input")

	// ErrAlreadySolved indicates a configure call arrived after the search
	// reached its terminal state. It is reply-level, not fatal.
	ErrAlreadySolved = errors.New("search already solved")

	// ErrStorageConflict indicates a concurrent insert raced another
	// insert for the same fingerprint. Callers recover by treating the
	// losing insert as a no-op; this error is never surfaced to a wire
	// reply.
	ErrStorageConflict = errors.New("storage conflict")

	// ErrUnresolvable indicates a collision fell into a case the resolver
	// cannot finalize: a tame-tame pairing, a self-collision, or a
	// same-wild/mixed-wild pairing for which full SOTA recovery is not
	// implemented. The collision is logged and retained for status
	// surfacing, but no terminal transition occurs.
	ErrUnresolvable = errors.New("collision not resolvable")

	// ErrVerificationFailed indicates a candidate scalar failed structural
	// or cryptographic verification. It is logged and the search
	// continues; it is never surfaced to a wire reply.
	ErrVerificationFailed = errors.New("candidate scalar failed verification")

	// ErrStorageUnavailable indicates the underlying durable store
	// returned an error performing a read or write. It propagates to the
	// caller as a failure reply; the server process stays up.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
