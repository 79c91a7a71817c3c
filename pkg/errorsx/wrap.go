package errorsx

import "errors"

// ReasonedError tags a failure with the stage that produced it.
type ReasonedError struct {
	Err    error
	Reason ReasonCode
}

func (e ReasonedError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e ReasonedError) Unwrap() error { return e.Err }

// Wrap tags err with reason. The innermost reason wins, so a pool timeout
// surfacing through the transcribe stage keeps stt_pool_acquire.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	if Reason(err) != ReasonUnknown {
		return err
	}
	return ReasonedError{Err: err, Reason: reason}
}

func Reason(err error) ReasonCode {
	var re ReasonedError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

// Transient reports whether err only spoils the current pipeline run.
// Untagged errors are treated as permanent.
func Transient(err error) bool {
	return err != nil && Reason(err).Transient()
}
