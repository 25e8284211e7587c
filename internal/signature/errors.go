package signature

import (
	stderrors "errors"
	"fmt"
)

// VerificationError represents an authentication failure of one delivery
type VerificationError struct {
	Message string
	Header  string
}

func (e *VerificationError) Error() string {
	if e.Header != "" {
		return fmt.Sprintf("signature verification failed for header %s: %s", e.Header, e.Message)
	}
	return fmt.Sprintf("signature verification failed: %s", e.Message)
}

// NewVerificationError creates a new verification error
func NewVerificationError(header, format string, args ...interface{}) *VerificationError {
	return &VerificationError{
		Header:  header,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsVerificationError reports whether err is an authentication failure
func IsVerificationError(err error) bool {
	var ve *VerificationError
	return stderrors.As(err, &ve)
}
