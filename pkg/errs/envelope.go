package errs

import "errors"

// Envelope is the standard result wrapper for public operations.
type Envelope struct {
	OK    bool     `json:"ok"`
	Data  any      `json:"data,omitempty"`
	Error *Payload `json:"error,omitempty"`
}

// Payload is the wire form of a domain error.
type Payload struct {
	Kind      Kind           `json:"kind"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

// OK wraps a successful result.
func OK(data any) Envelope {
	return Envelope{OK: true, Data: data}
}

// Fail wraps an error. Non-domain errors are reported as INTERNAL without
// leaking their message verbatim into Details.
func Fail(err error) Envelope {
	var de *Error
	if !errors.As(err, &de) {
		de = &Error{Kind: KindInternal, Message: err.Error()}
	}
	return Envelope{
		OK: false,
		Error: &Payload{
			Kind:      de.Kind,
			Message:   de.Message,
			Retryable: de.Retryable(),
			Details:   de.Details,
		},
	}
}
