package app

import "errors"

type ErrorKind int

const (
	// KindAdmission covers reservation rejections.
	KindAdmission ErrorKind = iota + 1
	// KindLifecycle covers session and participant state rejections.
	KindLifecycle
	// KindValidation covers malformed input.
	KindValidation
)

// Error is a user-facing rejection with a stable code. Infrastructure failures are
// never *Error; they propagate wrapped.
type Error struct {
	Code string
	Kind ErrorKind
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(kind ErrorKind, code, msg string) *Error {
	return &Error{Code: code, Kind: kind, msg: msg}
}

var (
	ErrSlotNotFound               = newError(KindAdmission, "SLOT_NOT_FOUND", "time slot not found")
	ErrRegistrationClosed         = newError(KindAdmission, "REGISTRATION_CLOSED", "registration is closed for this time slot")
	ErrAlreadyRegistered          = newError(KindAdmission, "ALREADY_REGISTERED", "already registered for this time slot")
	ErrMaxRegistrationsExceeded   = newError(KindAdmission, "MAX_REGISTRATIONS_EXCEEDED", "maximum active registrations reached")
	ErrSlotFull                   = newError(KindAdmission, "SLOT_FULL", "time slot is full")
	ErrNotRegistered              = newError(KindAdmission, "NOT_REGISTERED", "not registered for this time slot")
	ErrCancellationDeadlinePassed = newError(KindAdmission, "CANCELLATION_DEADLINE_PASSED", "cancellation deadline has passed")

	ErrAlreadyInSession = newError(KindLifecycle, "ALREADY_IN_SESSION", "already in another session")
	ErrSessionFull      = newError(KindLifecycle, "SESSION_FULL", "session is full")
	ErrNoActiveSession  = newError(KindLifecycle, "NO_ACTIVE_SESSION", "no active session")
	ErrSessionNotFound  = newError(KindLifecycle, "SESSION_NOT_FOUND", "session not found")
	ErrSessionNotOpen   = newError(KindLifecycle, "SESSION_NOT_OPEN", "session is not open for joining")
	ErrSessionEnded     = newError(KindLifecycle, "SESSION_ENDED", "session has ended")

	ErrInvalidSlot = newError(KindValidation, "INVALID_SLOT", "invalid time slot")
)

// CodeOf returns the stable code of a user-facing error, or "INTERNAL".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL"
}
