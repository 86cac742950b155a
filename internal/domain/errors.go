package domain

import "errors"

// Error taxonomy (sentinels). Handlers classify failures against these with
// errors.Is; the stream framework and the router key their dispositions off
// the classification.
var (
	// ErrTransient marks retryable upstream failures: 5xx, timeouts,
	// connection resets. Retried in place, may open a circuit.
	ErrTransient = errors.New("transient upstream error")
	// ErrRateLimited marks HTTP 429 responses. Retried with backoff.
	ErrRateLimited = errors.New("rate limited")
	// ErrMalformedPayload marks stream entries that cannot be decoded. The
	// cursor advances past them after a logged warning; they are never
	// dead-lettered.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrConfig marks missing credentials or unknown policy values. Fails
	// only the affected channel or component.
	ErrConfig = errors.New("configuration error")
	// ErrShutdown marks work abandoned because the caller cancelled.
	ErrShutdown = errors.New("shutting down")
	// ErrNoModels means every model in the chosen pool was filtered out and
	// no fallback applied.
	ErrNoModels = errors.New("no selectable models")
	// ErrEmptyResponse marks a model reply with no usable content.
	ErrEmptyResponse = errors.New("empty model response")
)

// IsRetryable reports whether the stream framework should retry the entry in
// place rather than dead-letter it immediately. Unclassified errors count as
// retryable; only the permanent classifications do not.
func IsRetryable(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrMalformedPayload) &&
		!errors.Is(err, ErrShutdown) &&
		!errors.Is(err, ErrConfig)
}
