package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"registration-service/internal/config"
	"registration-service/internal/hashing"
	"registration-service/internal/models"
	"registration-service/internal/repository"
	"registration-service/internal/token"
	"registration-service/internal/util"
)

const (
	passcodeLength    = 6
	minPasswordLength = 8
)

type CheckPhoneResult struct {
	IsRegistered bool   `json:"is_registered"`
	Token        string `json:"token,omitempty"`
	UserID       string `json:"user_id,omitempty"`
}

type VerifyOTPResult struct {
	NextStep        models.RegistrationStep `json:"next_step,omitempty"`
	AlreadyVerified bool                    `json:"already_verified"`
	LoginToken      string                  `json:"login_token,omitempty"`
}

type VerifyEmailResult struct {
	UserID     string `json:"user_id"`
	LoginToken string `json:"login_token"`
}

// CredentialService is the entry point for the public registration and
// login flows. It composes OTP verification with the registration state
// machine and mints bearer tokens.
type CredentialService struct {
	otp          *OTPService
	registration *RegistrationService
	store        repository.Store
	hasher       *hashing.Hasher
	signer       token.Signer
	auditor      Auditor
	cfg          config.JWTConfig
	logger       *zap.Logger
	now          func() time.Time
}

func NewCredentialService(
	otp *OTPService,
	registration *RegistrationService,
	store repository.Store,
	hasher *hashing.Hasher,
	signer token.Signer,
	auditor Auditor,
	cfg config.JWTConfig,
	logger *zap.Logger,
) *CredentialService {
	return &CredentialService{
		otp:          otp,
		registration: registration,
		store:        store,
		hasher:       hasher,
		signer:       signer,
		auditor:      auditor,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

func (s *CredentialService) phoneHash(phone string) (string, string, error) {
	normalized, ok := util.NormalizePhone(phone)
	if !ok {
		return "", "", invalid("phone number must be 8 to 15 digits")
	}
	return normalized, s.hasher.LookupHash(normalized), nil
}

// CheckPhone tells the caller whether the phone belongs to an account. An
// unregistered phone receives a registration token bound to it.
func (s *CredentialService) CheckPhone(ctx context.Context, phone string) (*CheckPhoneResult, error) {
	normalized, hash, err := s.phoneHash(phone)
	if err != nil {
		return nil, err
	}

	user, err := s.store.Users().GetByPhoneHash(ctx, hash)
	switch {
	case err == nil:
		if user.IsLocked(s.now()) {
			s.auditor.Record(ctx, models.SecurityEvent{
				EventType:   models.EventAccountLockedRejected,
				SubjectHash: hash,
				UserID:      user.ID,
			})
			return nil, ErrAccountLocked
		}
		return &CheckPhoneResult{IsRegistered: true, UserID: user.ID}, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, storeError(s.logger, "lookup phone", err)
	}

	tok, err := s.signer.Sign(normalized, token.TypeRegistration, s.cfg.RegistrationTTL)
	if err != nil {
		s.logger.Error("Failed to sign registration token", zap.Error(err))
		return nil, fmt.Errorf("%w: sign token", ErrInternal)
	}
	return &CheckPhoneResult{IsRegistered: false, Token: tok}, nil
}

// SendOTP issues a code for req.
func (s *CredentialService) SendOTP(ctx context.Context, req GenerateOTPRequest) error {
	return s.otp.Generate(ctx, req)
}

// VerifyOTP consumes a code. For REGISTER it opens or resumes the caller's
// registration session; for LOGIN it returns a login token.
func (s *CredentialService) VerifyOTP(ctx context.Context, req VerifyOTPRequest) (*VerifyOTPResult, error) {
	normalized, hash, err := s.phoneHash(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	req.PhoneNumber = normalized

	result := &VerifyOTPResult{}
	var (
		userID  string
		started bool
	)
	hook := func(ctx context.Context, tx repository.Tx, challenge *models.OTPChallenge) error {
		switch challenge.Purpose {
		case models.PurposeRegister:
			if _, err := tx.Users().GetByPhoneHash(ctx, hash); err == nil {
				return fmt.Errorf("%w: phone is already registered", ErrConflict)
			} else if !errors.Is(err, repository.ErrNotFound) {
				return storeError(s.logger, "load user", err)
			}

			session, err := tx.Sessions().GetByPhoneHash(ctx, hash)
			switch {
			case err == nil:
				if session.NextStep == models.StepCompleted {
					return fmt.Errorf("%w: registration already completed", ErrConflict)
				}
				if s.now().Before(session.ExpiresAt) {
					result.NextStep = session.NextStep
					result.AlreadyVerified = true
					return nil
				}
				if err := s.registration.RestartSession(ctx, tx, session, *challenge.ConsumedAt); err != nil {
					return err
				}
				result.NextStep = session.NextStep
				started = true
				return nil
			case !errors.Is(err, repository.ErrNotFound):
				return storeError(s.logger, "load session", err)
			}
			session, err = s.registration.CreateSession(ctx, tx, normalized, *challenge.ConsumedAt)
			if err != nil {
				return err
			}
			result.NextStep = session.NextStep
			started = true
		case models.PurposeLogin:
			user, err := tx.Users().GetByPhoneHash(ctx, hash)
			if err != nil {
				return storeError(s.logger, "load user", err)
			}
			if user.IsLocked(s.now()) {
				return ErrAccountLocked
			}
			userID = user.ID
		}
		return nil
	}
	if err := s.otp.Verify(ctx, req, hook); err != nil {
		return nil, err
	}

	if started {
		s.auditor.Record(ctx, models.SecurityEvent{
			EventType:   models.EventRegistrationStarted,
			SubjectHash: hash,
		})
	}
	if userID != "" {
		tok, err := s.signer.Sign(userID, token.TypeLogin, s.cfg.LoginTTL)
		if err != nil {
			s.logger.Error("Failed to sign login token", zap.Error(err))
			return nil, fmt.Errorf("%w: sign token", ErrInternal)
		}
		result.LoginToken = tok
	}
	return result, nil
}

// SubmitName records the applicant's name as given.
func (s *CredentialService) SubmitName(ctx context.Context, phone, firstName, lastName string) (models.RegistrationStep, error) {
	_, hash, err := s.phoneHash(phone)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(firstName) == "" || strings.TrimSpace(lastName) == "" {
		return "", invalid("first and last name are required")
	}

	return s.registration.Advance(ctx, hash, models.StepNameInput, models.RegistrationPatch{
		Name: &models.NameFields{FirstName: firstName, LastName: lastName},
	})
}

// SubmitPasscode records the 6-digit passcode as a salted hash.
func (s *CredentialService) SubmitPasscode(ctx context.Context, phone, passcode, confirmation string) (models.RegistrationStep, error) {
	_, hash, err := s.phoneHash(phone)
	if err != nil {
		return "", err
	}
	if passcode != confirmation {
		return "", invalid("invalid passcode confirmation")
	}
	if len(passcode) != passcodeLength || strings.Trim(passcode, "0123456789") != "" {
		return "", invalid("passcode must be 6 digits")
	}

	secret, err := s.secret(passcode)
	if err != nil {
		return "", err
	}
	return s.registration.Advance(ctx, hash, models.StepPasscodeInput, models.RegistrationPatch{Passcode: secret})
}

// SubmitPassword records the password as a salted hash.
func (s *CredentialService) SubmitPassword(ctx context.Context, phone, password, confirmation string) (models.RegistrationStep, error) {
	_, hash, err := s.phoneHash(phone)
	if err != nil {
		return "", err
	}
	if password != confirmation {
		return "", invalid("invalid password confirmation")
	}
	if utf8.RuneCountInString(password) < minPasswordLength {
		return "", invalid("password must be at least 8 characters")
	}

	secret, err := s.secret(password)
	if err != nil {
		return "", err
	}
	return s.registration.Advance(ctx, hash, models.StepPasswordInput, models.RegistrationPatch{Password: secret})
}

func (s *CredentialService) secret(value string) (*models.SecretPatch, error) {
	salt, err := s.hasher.RandomSalt()
	if err != nil {
		s.logger.Error("Failed to generate salt", zap.Error(err))
		return nil, fmt.Errorf("%w: salt generation", ErrInternal)
	}
	digest, err := s.hasher.SecureHash(value, salt)
	if err != nil {
		s.logger.Error("Failed to hash secret", zap.Error(err))
		return nil, fmt.Errorf("%w: secret hashing", ErrInternal)
	}
	return &models.SecretPatch{Hash: digest, Salt: salt}, nil
}

// SubmitEmail records the email and sends a verification link.
func (s *CredentialService) SubmitEmail(ctx context.Context, phone, email string) (models.RegistrationStep, error) {
	_, hash, err := s.phoneHash(phone)
	if err != nil {
		return "", err
	}
	return s.registration.SubmitEmail(ctx, hash, email)
}

// VerifyEmail completes registration and signs the new user in.
func (s *CredentialService) VerifyEmail(ctx context.Context, verificationToken string) (*VerifyEmailResult, error) {
	user, err := s.registration.CompleteEmailVerification(ctx, verificationToken)
	if err != nil {
		return nil, err
	}
	if user.IsLocked(s.now()) {
		s.auditor.Record(ctx, models.SecurityEvent{
			EventType:   models.EventAccountLockedRejected,
			SubjectHash: user.PhoneHash,
			UserID:      user.ID,
		})
		return nil, ErrAccountLocked
	}
	tok, err := s.signer.Sign(user.ID, token.TypeLogin, s.cfg.LoginTTL)
	if err != nil {
		s.logger.Error("Failed to sign login token", zap.Error(err))
		return nil, fmt.Errorf("%w: sign token", ErrInternal)
	}
	return &VerifyEmailResult{UserID: user.ID, LoginToken: tok}, nil
}

// RegistrationStatus returns the step the caller's session expects next.
func (s *CredentialService) RegistrationStatus(ctx context.Context, phone string) (models.RegistrationStep, error) {
	_, hash, err := s.phoneHash(phone)
	if err != nil {
		return "", err
	}
	session, err := s.registration.Session(ctx, hash)
	if err != nil {
		return "", err
	}
	if session.NextStep != models.StepCompleted && !s.now().Before(session.ExpiresAt) {
		return "", fmt.Errorf("%w: registration session", ErrExpired)
	}
	return session.NextStep, nil
}
