package ride

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("ride not found")
	ErrForbidden         = errors.New("caller not allowed for this ride")
	ErrConflict          = errors.New("ride state conflict")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrAlreadyTerminal   = fmt.Errorf("ride already finished: %w", ErrInvalidTransition)
	ErrInvalidCode       = errors.New("invalid verification code")
	ErrBadRequest        = errors.New("bad request")
)
