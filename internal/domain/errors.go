package domain

import "fmt"

// FetchError reports a failed metadata lookup.
type FetchError struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
	Err        error  `json:"-"`
}

// Error formats fetch failures for logs and UI.
func (e *FetchError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// SubmissionError reports a failed processing job.
type SubmissionError struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
	Err        error  `json:"-"`
}

// Error formats submission failures for logs and UI.
func (e *SubmissionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *SubmissionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ValidationError reports a descriptor that cannot be submitted. It never
// reaches the network.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error formats validation failures.
func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
