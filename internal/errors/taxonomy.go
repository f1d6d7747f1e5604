package errors

// The workers split every failure into two kinds. Data errors are
// permanently unprocessable: the triggering message is deleted, logged,
// and never retried. Infrastructure errors leave the message in place
// so the queue's own redelivery acts as the retry mechanism.

// Permanent reports whether err is a data error: the input can never be
// processed, no matter how many times it is redelivered. Anything not
// explicitly classified counts as infrastructure, since deleting a
// message on a transient failure loses work forever while retrying a
// bad message only costs redeliveries.
func Permanent(err error) bool {
	if err == nil {
		return false
	}
	switch GetCode(err) {
	case ErrCodeValidation, ErrCodeConflict, ErrCodeNotFound:
		return true
	case ErrCodeInternal, ErrCodeTimeout, ErrCodeCanceled:
		return false
	default:
		return false
	}
}
