package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"registration-service/internal/config"
	"registration-service/internal/encryption"
	"registration-service/internal/hashing"
	"registration-service/internal/models"
	"registration-service/internal/notification"
	"registration-service/internal/repository"
	"registration-service/internal/util"
)

const verificationTokenBytes = 32

// RegistrationService drives a registration session through its fixed step
// sequence. Each transition is one store transaction over the locked session.
type RegistrationService struct {
	store      repository.Store
	hasher     *hashing.Hasher
	encryption *encryption.EncryptionManager
	notifier   notification.Notifier
	auditor    Auditor
	cfg        config.RegistrationConfig
	logger     *zap.Logger
	now        func() time.Time
}

func NewRegistrationService(
	store repository.Store,
	hasher *hashing.Hasher,
	encryptionMgr *encryption.EncryptionManager,
	notifier notification.Notifier,
	auditor Auditor,
	cfg config.RegistrationConfig,
	logger *zap.Logger,
) *RegistrationService {
	return &RegistrationService{
		store:      store,
		hasher:     hasher,
		encryption: encryptionMgr,
		notifier:   notifier,
		auditor:    auditor,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Advance applies patch to the session at expected and moves it to the next
// step. Only the credential-collecting steps are reachable here; email
// submission and verification have their own operations.
func (s *RegistrationService) Advance(ctx context.Context, phoneHash string, expected models.RegistrationStep, patch models.RegistrationPatch) (models.RegistrationStep, error) {
	switch expected {
	case models.StepNameInput, models.StepPasscodeInput, models.StepPasswordInput:
	default:
		return "", invalid(fmt.Sprintf("step %s cannot be submitted directly", expected))
	}

	var next models.RegistrationStep
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		session, err := s.advanceTx(ctx, tx, phoneHash, expected, patch)
		if err != nil {
			return err
		}
		next = session.NextStep
		return nil
	})
	if err != nil {
		return "", storeError(s.logger, "advance registration", err)
	}

	s.auditor.Record(ctx, models.SecurityEvent{
		EventType:   models.EventRegistrationStep,
		SubjectHash: phoneHash,
		Details:     map[string]string{"completed_step": string(expected), "next_step": string(next)},
	})
	return next, nil
}

// advanceTx holds the step check shared by every transition. On a step
// mismatch the session is left as loaded.
func (s *RegistrationService) advanceTx(ctx context.Context, tx repository.Tx, phoneHash string, expected models.RegistrationStep, patch models.RegistrationPatch) (*models.RegistrationSession, error) {
	session, err := s.liveSession(ctx, tx, phoneHash)
	if err != nil {
		return nil, err
	}
	if session.NextStep != expected {
		return nil, &StepError{Expected: expected, Actual: session.NextStep}
	}

	patch.Apply(&session.RegistrationData)
	session.NextStep = expected.Next()
	session.UpdatedAt = s.now().UTC()
	if err := tx.Sessions().Update(ctx, session); err != nil {
		return nil, storeError(s.logger, "update session", err)
	}
	return session, nil
}

func (s *RegistrationService) liveSession(ctx context.Context, tx repository.Tx, phoneHash string) (*models.RegistrationSession, error) {
	session, err := tx.Sessions().GetByPhoneHash(ctx, phoneHash)
	if err != nil {
		return nil, storeError(s.logger, "load session", err)
	}
	if !s.now().Before(session.ExpiresAt) {
		return nil, fmt.Errorf("%w: registration session", ErrExpired)
	}
	return session, nil
}

// CreateSession seeds a session at NAME_INPUT for a phone that has just
// passed OTP verification. It must run inside the consuming transaction.
func (s *RegistrationService) CreateSession(ctx context.Context, tx repository.Tx, phone string, verifiedAt time.Time) (*models.RegistrationSession, error) {
	phoneEnc, err := s.encryption.Encrypt(phone)
	if err != nil {
		s.logger.Error("Failed to encrypt phone", zap.Error(err))
		return nil, fmt.Errorf("%w: encrypt phone", ErrInternal)
	}
	phoneHash := s.hasher.LookupHash(phone)

	now := s.now().UTC()
	verifiedAt = verifiedAt.UTC()
	session := &models.RegistrationSession{
		ID:        uuid.NewString(),
		PhoneHash: phoneHash,
		PhoneEnc:  phoneEnc,
		RegistrationData: models.RegistrationData{
			Contacts: models.ContactFields{PhoneEnc: phoneEnc, PhoneHash: phoneHash},
		},
		VerificationData: models.VerificationData{PhoneVerifiedAt: &verifiedAt},
		NextStep:         models.StepNameInput,
		ExpiresAt:        now.Add(s.cfg.SessionTTL),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := tx.Sessions().Create(ctx, session); err != nil {
		return nil, storeError(s.logger, "create session", err)
	}
	return session, nil
}

// RestartSession wipes an expired session back to NAME_INPUT after a fresh
// phone verification.
func (s *RegistrationService) RestartSession(ctx context.Context, tx repository.Tx, session *models.RegistrationSession, verifiedAt time.Time) error {
	if session.NextStep == models.StepCompleted {
		return fmt.Errorf("%w: registration already completed", ErrConflict)
	}
	now := s.now().UTC()
	verifiedAt = verifiedAt.UTC()
	session.RegistrationData = models.RegistrationData{
		Contacts: models.ContactFields{PhoneEnc: session.PhoneEnc, PhoneHash: session.PhoneHash},
	}
	session.VerificationData = models.VerificationData{PhoneVerifiedAt: &verifiedAt}
	session.NextStep = models.StepNameInput
	session.ExpiresAt = now.Add(s.cfg.SessionTTL)
	session.UpdatedAt = now
	if err := tx.Sessions().Update(ctx, session); err != nil {
		return storeError(s.logger, "restart session", err)
	}
	return nil
}

// Session returns the caller's session without locking it.
func (s *RegistrationService) Session(ctx context.Context, phoneHash string) (*models.RegistrationSession, error) {
	session, err := s.store.Sessions().GetByPhoneHash(ctx, phoneHash)
	if err != nil {
		return nil, storeError(s.logger, "load session", err)
	}
	return session, nil
}

// SubmitEmail records the email, moves the session to EMAIL_VERIFY and sends
// a verification link once the transaction has committed.
func (s *RegistrationService) SubmitEmail(ctx context.Context, phoneHash, email string) (models.RegistrationStep, error) {
	normalized, ok := util.NormalizeEmail(email)
	if !ok {
		return "", invalid("malformed email")
	}
	emailHash := s.hasher.LookupHash(normalized)
	emailEnc, err := s.encryption.Encrypt(normalized)
	if err != nil {
		s.logger.Error("Failed to encrypt email", zap.Error(err))
		return "", fmt.Errorf("%w: encrypt email", ErrInternal)
	}
	token, err := newVerificationToken()
	if err != nil {
		s.logger.Error("Failed to generate verification token", zap.Error(err))
		return "", fmt.Errorf("%w: verification token", ErrInternal)
	}

	var next models.RegistrationStep
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.Users().GetByEmailHash(ctx, emailHash)
		switch {
		case err == nil:
			return fmt.Errorf("%w: email is already registered", ErrConflict)
		case !errors.Is(err, repository.ErrNotFound):
			return storeError(s.logger, "lookup email", err)
		}

		session, err := s.advanceTx(ctx, tx, phoneHash, models.StepEmailInput, models.RegistrationPatch{
			Email: &models.EmailPatch{Enc: emailEnc, Hash: emailHash},
		})
		if err != nil {
			return err
		}
		next = session.NextStep

		now := s.now().UTC()
		return storeError(s.logger, "create email challenge", tx.EmailVerifications().Create(ctx, &models.EmailVerificationChallenge{
			ID:                uuid.NewString(),
			PhoneHash:         phoneHash,
			EmailHash:         emailHash,
			VerificationToken: token,
			ExpiredAt:         now.Add(s.cfg.EmailChallengeTTL),
			CreatedAt:         now,
		}))
	})
	if err != nil {
		return "", storeError(s.logger, "submit email", err)
	}

	if err := s.notifier.Deliver(ctx, notification.Message{
		Kind:        notification.KindEmailVerification,
		Channel:     models.ChannelEmail,
		Destination: normalized,
		Secret:      s.verificationLink(token),
	}); err != nil {
		s.logger.Warn("Email verification delivery failed", util.Subject(phoneHash), zap.Error(err))
	}

	s.auditor.Record(ctx, models.SecurityEvent{
		EventType:   models.EventEmailVerificationSent,
		SubjectHash: phoneHash,
		Channel:     string(models.ChannelEmail),
	})
	return next, nil
}

func (s *RegistrationService) verificationLink(token string) string {
	if s.cfg.EmailVerifyURL == "" {
		return token
	}
	return s.cfg.EmailVerifyURL + "?token=" + url.QueryEscape(token)
}

// CompleteEmailVerification finishes registration and materializes the user.
// Replaying a token for a completed session returns the same user.
func (s *RegistrationService) CompleteEmailVerification(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, invalid("verification token is required")
	}

	var (
		user     *models.User
		replayed bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		challenge, err := tx.EmailVerifications().GetByToken(ctx, token)
		if err != nil {
			return storeError(s.logger, "load email challenge", err)
		}
		now := s.now().UTC()
		if !now.Before(challenge.ExpiredAt) {
			return fmt.Errorf("%w: verification link", ErrExpired)
		}

		session, err := tx.Sessions().GetByPhoneHash(ctx, challenge.PhoneHash)
		if err != nil {
			return storeError(s.logger, "load session", err)
		}
		if session.NextStep == models.StepCompleted {
			user, err = tx.Users().GetByPhoneHash(ctx, session.PhoneHash)
			replayed = true
			return storeError(s.logger, "load user", err)
		}
		if !now.Before(session.ExpiresAt) {
			return fmt.Errorf("%w: registration session", ErrExpired)
		}
		if session.NextStep != models.StepEmailVerify {
			return &StepError{Expected: models.StepEmailVerify, Actual: session.NextStep}
		}
		if session.RegistrationData.Contacts.EmailHash != challenge.EmailHash {
			return fmt.Errorf("%w: verification link does not match the submitted email", ErrInvalidRequest)
		}

		session.VerificationData.EmailVerifiedAt = &now
		session.NextStep = models.StepCompleted
		session.UpdatedAt = now
		if err := tx.Sessions().Update(ctx, session); err != nil {
			return storeError(s.logger, "update session", err)
		}

		if _, err := tx.Users().GetByPhoneHash(ctx, session.PhoneHash); err == nil {
			return fmt.Errorf("%w: phone is already registered", ErrConflict)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return storeError(s.logger, "load user", err)
		}

		user = newUser(session, now)
		if err := tx.Users().Create(ctx, user); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%w: email is already registered", ErrConflict)
			}
			return storeError(s.logger, "create user", err)
		}
		return nil
	})
	if err != nil {
		return nil, storeError(s.logger, "complete email verification", err)
	}

	if !replayed {
		s.auditor.Record(ctx, models.SecurityEvent{
			EventType:   models.EventRegistrationCompleted,
			SubjectHash: user.PhoneHash,
			UserID:      user.ID,
		})
		s.logger.Info("Registration completed", util.Subject(user.PhoneHash), zap.String("user_id", user.ID))
	}
	return user, nil
}

func newUser(session *models.RegistrationSession, now time.Time) *models.User {
	data := session.RegistrationData
	return &models.User{
		ID:              uuid.NewString(),
		FirstName:       data.Name.FirstName,
		LastName:        data.Name.LastName,
		PhoneHash:       session.PhoneHash,
		PhoneEnc:        session.PhoneEnc,
		EmailHash:       data.Contacts.EmailHash,
		EmailEnc:        data.Contacts.EmailEnc,
		PasscodeHash:    data.Credentials.PasscodeHash,
		PasscodeSalt:    data.Credentials.PasscodeSalt,
		PasswordHash:    data.Credentials.PasswordHash,
		PasswordSalt:    data.Credentials.PasswordSalt,
		PhoneVerifiedAt: session.VerificationData.PhoneVerifiedAt,
		EmailVerifiedAt: session.VerificationData.EmailVerifiedAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func newVerificationToken() (string, error) {
	b := make([]byte, verificationTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
