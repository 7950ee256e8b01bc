package errs

import "errors"

// Error taxonomy for the transaction core. Handlers map these to HTTP
// statuses; services wrap them with fmt.Errorf("%w: ...") and callers
// match with errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrAuthorization = errors.New("not allowed")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrGateway       = errors.New("escrow gateway error")
	ErrEncryption    = errors.New("encryption failed")
	ErrDecryption    = errors.New("decryption failed")
	ErrPersistence   = errors.New("persistence failed")
)
