package service

import "errors"

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrUsernameTaken          = errors.New("username already taken")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrWrongPassword          = errors.New("wrong password")
	ErrEmailNotVerified       = errors.New("email not verified")
	ErrInvalidToken           = errors.New("invalid or expired token")
	ErrUserNotFound           = errors.New("user not found")
	ErrDeliveryFailed         = errors.New("failed to send magic link email")
	ErrPassportNotFound       = errors.New("product passport not found")
	ErrQRCodeTaken            = errors.New("a product passport with this QR code already exists")
	ErrSustainabilityNotMap   = errors.New("sustainability data must be a valid JSON object")
)

// FieldError ties a validation failure to a request field. It matches both
// ErrInvalidInput and its own cause under errors.Is.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() []error {
	return []error{ErrInvalidInput, e.Err}
}

func fieldError(field string, err error) error {
	return &FieldError{Field: field, Err: err}
}
