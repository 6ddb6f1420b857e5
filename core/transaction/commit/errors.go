package commit

import "errors"

// --- Error Definitions ---

var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNoParticipants    = errors.New("no participants specified")
	ErrTxnNotFound       = errors.New("distributed transaction not found")
	ErrTxnAlreadyExists  = errors.New("distributed transaction already exists")
	ErrTxnInvalidState   = errors.New("transaction is in an invalid state for this operation")
	ErrPrepareFailed     = errors.New("prepare phase failed")
	ErrPreCommitFailed   = errors.New("pre-commit phase failed")
	ErrCommitFailed      = errors.New("commit phase failed, external reconciliation required")
	ErrTxnAborted        = errors.New("transaction aborted")
	ErrNetwork           = errors.New("network send failed")
	ErrNoQuorum          = errors.New("quorum not reached")
	ErrElectionThrottled = errors.New("election initiation rate limited")
	ErrParticipantLost   = errors.New("required participant lost")
)

// errNegativeResponse marks a wait settled by a negative vote or a
// declared participant failure rather than a timeout.
var errNegativeResponse = errors.New("negative response")
