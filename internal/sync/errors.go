package sync

// ValidationError is a business-rule violation raised by a handler. It
// becomes the offending change's error payload and never aborts the batch.
type ValidationError struct {
	Message string
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

func (e *ValidationError) Error() string { return e.Message }
