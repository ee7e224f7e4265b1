package errors

import (
	"errors"
	"fmt"
)

// Common error types for the coaching engine
var (
	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrSessionExpired     = errors.New("session expired")
	ErrNotAuthenticated   = errors.New("not authenticated")

	// Account link errors
	ErrInvalidCode       = errors.New("invalid verification code")
	ErrAccountNotLinked  = errors.New("fitness account not linked")
	ErrNoPendingLink     = errors.New("no account link awaiting verification")
	ErrAlreadyRegistered = errors.New("email already registered")

	// Dashboard errors
	ErrAssemblyFailed = errors.New("dashboard assembly failed")
	ErrSuperseded     = errors.New("superseded by a newer request")
	ErrNoSnapshot     = errors.New("no dashboard snapshot")

	// Advice errors
	ErrGenerationInProgress = errors.New("advice generation already in progress")
	ErrNoWorkout            = errors.New("no workout to sync")

	// General errors
	ErrInvalidState = errors.New("operation not valid in current state")
	ErrInvalidInput = errors.New("invalid input")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors
func Join(errs ...error) error {
	return errors.Join(errs...)
}
