package processor

import "errors"

// ErrInvalidPayload marks a webhook body whose structure does not match the
// processor's contract. Adapters wrap it so the receiver can reject the
// delivery without persisting anything.
var ErrInvalidPayload = errors.New("invalid webhook payload")

// TransientError marks a provider-call failure worth retrying (timeouts,
// 5xx, rate limits). Everything else is treated as permanent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient provider error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
