package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNoJobAvailable  = errors.New("no job available")
	ErrJobNotCancelled = errors.New("job not cancellable")
	ErrJobFinished     = errors.New("job already finished")
	ErrBadCredential   = errors.New("credential decryption failed")
)
