package repository

import (
	"context"
	"errors"
	"time"

	"registration-service/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

type UserRepository interface {
	// Create fails with ErrConflict when the phone or email hash is taken.
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByPhoneHash(ctx context.Context, phoneHash string) (*models.User, error)
	GetByEmailHash(ctx context.Context, emailHash string) (*models.User, error)
}

type SessionRepository interface {
	// Create fails with ErrConflict when a session exists for the phone hash.
	Create(ctx context.Context, session *models.RegistrationSession) error
	// GetByPhoneHash locks the row when called inside a transaction.
	GetByPhoneHash(ctx context.Context, phoneHash string) (*models.RegistrationSession, error)
	Update(ctx context.Context, session *models.RegistrationSession) error
}

type OTPChallengeRepository interface {
	Create(ctx context.Context, challenge *models.OTPChallenge) error
	// FindLatest returns the most recently created challenge matching q,
	// consumed or not. It locks the row when called inside a transaction.
	FindLatest(ctx context.Context, q models.OTPChallengeQuery) (*models.OTPChallenge, error)
	// MarkConsumed flips is_consumed only if it is still false and reports
	// whether this call did so.
	MarkConsumed(ctx context.Context, id string, at time.Time) (bool, error)
}

type EmailVerificationRepository interface {
	Create(ctx context.Context, challenge *models.EmailVerificationChallenge) error
	GetByToken(ctx context.Context, token string) (*models.EmailVerificationChallenge, error)
}

// Tx exposes the repositories bound to one unit of work.
type Tx interface {
	Users() UserRepository
	Sessions() SessionRepository
	OTPChallenges() OTPChallengeRepository
	EmailVerifications() EmailVerificationRepository
}

// Store is the persistence boundary. Its own repositories autocommit;
// WithinTx runs fn atomically and rolls back when fn returns an error.
type Store interface {
	Tx
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	HealthCheck(ctx context.Context) error
	Close()
}
