package service

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"registration-service/internal/models"
	"registration-service/internal/repository"
)

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrNotFound          = errors.New("not found")
	ErrWrongStep         = errors.New("wrong registration step")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrExpired           = errors.New("expired")
	ErrAlreadyConsumed   = errors.New("otp already used")
	ErrInvalidCode       = errors.New("invalid otp code")
	ErrConflict          = errors.New("already exists")
	ErrAccountLocked     = errors.New("account is locked")
	ErrInternal          = errors.New("internal error")
)

var sentinels = []error{
	ErrInvalidRequest, ErrNotFound, ErrWrongStep, ErrRateLimitExceeded, ErrExpired,
	ErrAlreadyConsumed, ErrInvalidCode, ErrConflict, ErrAccountLocked, ErrInternal,
}

// StepError reports a request for a step the session is not at. Expected is
// the step the caller submitted for, Actual the session's next step.
type StepError struct {
	Expected models.RegistrationStep
	Actual   models.RegistrationStep
}

func (e *StepError) Error() string {
	return fmt.Sprintf("expected step %s but session is at %s", e.Expected, e.Actual)
}

func (e *StepError) Is(target error) bool { return target == ErrWrongStep }

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, reason)
}

// storeError converts a repository failure into a service error. Errors that
// already carry a service sentinel pass through unchanged.
func storeError(logger *zap.Logger, op string, err error) error {
	if err == nil {
		return nil
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return err
		}
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %s", ErrConflict, op)
	}
	logger.Error("Store operation failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%w: %s", ErrInternal, op)
}
