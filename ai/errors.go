package ai

import "errors"

var (
	// ErrInvalidMaxAttempts indicates maxAttempts parameter is invalid (must be > 0).
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrUnknownReasoningMode indicates no model is configured for a tier.
	ErrUnknownReasoningMode = errors.New("no model configured for reasoning mode")

	// ErrEmptyResponse indicates the model returned no content.
	ErrEmptyResponse = errors.New("model returned an empty response")

	// ErrRequestRejected indicates the model endpoint refused the request
	// itself (bad credentials, unknown model, invalid payload).
	ErrRequestRejected = errors.New("request rejected by model endpoint")

	// ErrMalformedJSON indicates a structured answer could not be decoded.
	ErrMalformedJSON = errors.New("malformed JSON response")
)
