package hotstuff

import "errors"

// Protocol violations. They are expected from byzantine or slow peers, so the
// core logs and drops the offending message.
var (
	ErrUnknownAuthority = errors.New("unknown authority")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidQC        = errors.New("invalid quorum certificate")
	ErrInvalidTC        = errors.New("invalid timeout certificate")
	ErrNotLeader        = errors.New("author is not the leader of the round")
	ErrInvalidRound     = errors.New("invalid round")
	ErrStaleRound       = errors.New("stale round")
	ErrUnknownMessage   = errors.New("unknown message")
)

// ErrStorage wraps failures of the store. It is fatal: the node stops rather
// than act on state it could not persist.
var ErrStorage = errors.New("storage failure")
