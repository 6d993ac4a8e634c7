package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"registration-service/internal/config"
	"registration-service/internal/hashing"
	"registration-service/internal/models"
	"registration-service/internal/notification"
	"registration-service/internal/repository"
	"registration-service/internal/util"
)

const codeDigits = 6

var codeSpace = big.NewInt(1_000_000)

// CounterStore is the fixed-window counter backend, normally
// redis.RateLimitCache.
type CounterStore interface {
	Get(ctx context.Context, counter models.RateCounter) (int, error)
	Increment(ctx context.Context, counter models.RateCounter, ttl time.Duration) (int, error)
}

// Auditor records security events. Implementations must not fail the caller.
type Auditor interface {
	Record(ctx context.Context, event models.SecurityEvent)
}

type GenerateOTPRequest struct {
	PhoneNumber string
	Purpose     models.Purpose
	Channel     models.Channel
	Email       string
	UserID      string
}

type VerifyOTPRequest struct {
	PhoneNumber string
	Purpose     models.Purpose
	Channel     models.Channel
	Email       string
	Code        string
}

// ConsumedHook runs inside the transaction that consumed a challenge. An
// error rolls the consumption back.
type ConsumedHook func(ctx context.Context, tx repository.Tx, challenge *models.OTPChallenge) error

// OTPService issues and verifies one-time codes.
type OTPService struct {
	store    repository.Store
	counters CounterStore
	hasher   *hashing.Hasher
	notifier notification.Notifier
	auditor  Auditor
	cfg      config.OTPConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewOTPService(
	store repository.Store,
	counters CounterStore,
	hasher *hashing.Hasher,
	notifier notification.Notifier,
	auditor Auditor,
	cfg config.OTPConfig,
	logger *zap.Logger,
) *OTPService {
	return &OTPService{
		store:    store,
		counters: counters,
		hasher:   hasher,
		notifier: notifier,
		auditor:  auditor,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// otpTarget is a validated request subject.
type otpTarget struct {
	phone     string
	phoneHash string
	email     string
	emailHash string
	purpose   models.Purpose
	channel   models.Channel
}

func (s *OTPService) target(phone, email string, purpose models.Purpose, channel models.Channel) (*otpTarget, error) {
	normalized, ok := util.NormalizePhone(phone)
	if !ok {
		return nil, invalid("phone number must be 8 to 15 digits")
	}
	if !purpose.Valid() {
		return nil, invalid("unknown purpose")
	}
	if !channel.Valid() {
		return nil, invalid("unknown channel")
	}

	t := &otpTarget{
		phone:     normalized,
		phoneHash: s.hasher.LookupHash(normalized),
		purpose:   purpose,
		channel:   channel,
	}
	if email != "" {
		e, ok := util.NormalizeEmail(email)
		if !ok {
			return nil, invalid("malformed email")
		}
		t.email = e
		t.emailHash = s.hasher.LookupHash(e)
	}
	if channel == models.ChannelEmail && t.email == "" {
		return nil, invalid("email is required for the EMAIL channel")
	}
	return t, nil
}

func (t *otpTarget) counter(kind models.CounterKind) models.RateCounter {
	return models.RateCounter{Subject: t.phoneHash, Purpose: t.purpose, Channel: t.channel, Kind: kind}
}

func (t *otpTarget) event(eventType string) models.SecurityEvent {
	return models.SecurityEvent{
		EventType:   eventType,
		SubjectHash: t.phoneHash,
		Purpose:     string(t.purpose),
		Channel:     string(t.channel),
	}
}

// checkLimit fails when counter already reached limit.
func (s *OTPService) checkLimit(ctx context.Context, t *otpTarget, kind models.CounterKind, limit int) error {
	count, err := s.counters.Get(ctx, t.counter(kind))
	if err != nil {
		s.logger.Error("Failed to read rate counter", util.Subject(t.phoneHash), zap.Error(err))
		return fmt.Errorf("%w: rate counter", ErrInternal)
	}
	if count >= limit {
		ev := t.event(models.EventOTPRateLimited)
		ev.Details = map[string]string{"kind": string(kind)}
		s.auditor.Record(ctx, ev)
		return ErrRateLimitExceeded
	}
	return nil
}

// Generate issues a new code for the subject and hands it to the notifier.
// The plaintext code is never returned or stored.
func (s *OTPService) Generate(ctx context.Context, req GenerateOTPRequest) error {
	t, err := s.target(req.PhoneNumber, req.Email, req.Purpose, req.Channel)
	if err != nil {
		return err
	}
	if t.purpose != models.PurposeRegister && req.UserID == "" {
		return invalid("user_id is required for this purpose")
	}

	if err := s.checkLimit(ctx, t, models.CounterRequest, s.cfg.RequestLimit); err != nil {
		return err
	}

	code, err := generateCode()
	if err != nil {
		s.logger.Error("Failed to generate otp code", zap.Error(err))
		return fmt.Errorf("%w: code generation", ErrInternal)
	}
	salt, err := s.hasher.RandomSalt()
	if err != nil {
		s.logger.Error("Failed to generate salt", zap.Error(err))
		return fmt.Errorf("%w: salt generation", ErrInternal)
	}
	codeHash, err := s.hasher.SecureHash(code, salt)
	if err != nil {
		s.logger.Error("Failed to hash otp code", zap.Error(err))
		return fmt.Errorf("%w: code hashing", ErrInternal)
	}

	now := s.now().UTC()
	challenge := &models.OTPChallenge{
		ID:        uuid.NewString(),
		PhoneHash: t.phoneHash,
		Channel:   t.channel,
		Purpose:   t.purpose,
		CodeHash:  codeHash,
		CodeSalt:  salt,
		ExpiredAt: now.Add(s.cfg.CodeTTL),
		CreatedAt: now,
	}
	if t.emailHash != "" {
		challenge.EmailHash = &t.emailHash
	}

	if req.UserID != "" {
		user, err := s.store.Users().GetByID(ctx, req.UserID)
		if err != nil {
			return storeError(s.logger, "load user", err)
		}
		if user.PhoneHash != t.phoneHash {
			return fmt.Errorf("%w: user", ErrNotFound)
		}
		challenge.UserID = &user.ID
	}

	if err := s.store.OTPChallenges().Create(ctx, challenge); err != nil {
		return storeError(s.logger, "create otp challenge", err)
	}

	if _, err := s.counters.Increment(ctx, t.counter(models.CounterRequest), s.cfg.RequestWindow); err != nil {
		s.logger.Error("Failed to increment request counter", util.Subject(t.phoneHash), zap.Error(err))
		return fmt.Errorf("%w: rate counter", ErrInternal)
	}

	destination := t.phone
	if t.channel == models.ChannelEmail {
		destination = t.email
	}
	msg := notification.Message{
		Kind:        notification.KindOTP,
		Channel:     t.channel,
		Destination: destination,
		Secret:      code,
		Purpose:     t.purpose,
	}
	if err := s.notifier.Deliver(ctx, msg); err != nil {
		s.logger.Warn("OTP delivery failed",
			util.Subject(t.phoneHash),
			zap.String("channel", string(t.channel)),
			zap.Error(err))
		ev := t.event(models.EventOTPDeliveryFailed)
		ev.Details = map[string]string{"challenge_id": challenge.ID}
		s.auditor.Record(ctx, ev)
	}

	ev := t.event(models.EventOTPIssued)
	ev.Details = map[string]string{"challenge_id": challenge.ID}
	if challenge.UserID != nil {
		ev.UserID = *challenge.UserID
	}
	s.auditor.Record(ctx, ev)

	s.logger.Info("OTP issued",
		util.Subject(t.phoneHash),
		zap.String("purpose", string(t.purpose)),
		zap.String("channel", string(t.channel)))
	return nil
}

// Verify consumes the latest challenge for the subject if code matches, then
// runs onConsumed in the same transaction. Every attempt counts against the
// validation limit, successful or not.
func (s *OTPService) Verify(ctx context.Context, req VerifyOTPRequest, onConsumed ConsumedHook) error {
	t, err := s.target(req.PhoneNumber, req.Email, req.Purpose, req.Channel)
	if err != nil {
		return err
	}
	if len(req.Code) != codeDigits {
		return invalid("code must be 6 digits")
	}

	if err := s.checkLimit(ctx, t, models.CounterValidation, s.cfg.ValidationLimit); err != nil {
		return err
	}
	if _, err := s.counters.Increment(ctx, t.counter(models.CounterValidation), s.cfg.ValidationWindow); err != nil {
		s.logger.Error("Failed to increment validation counter", util.Subject(t.phoneHash), zap.Error(err))
		return fmt.Errorf("%w: rate counter", ErrInternal)
	}

	var challengeID string
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		challenge, err := tx.OTPChallenges().FindLatest(ctx, models.OTPChallengeQuery{
			PhoneHash: t.phoneHash,
			EmailHash: t.emailHash,
			Purpose:   t.purpose,
			Channel:   t.channel,
		})
		if err != nil {
			return storeError(s.logger, "find otp challenge", err)
		}
		challengeID = challenge.ID

		if challenge.IsConsumed {
			return ErrAlreadyConsumed
		}
		now := s.now().UTC()
		if !now.Before(challenge.ExpiredAt) {
			return ErrExpired
		}
		match, err := s.hasher.Verify(req.Code, challenge.CodeSalt, challenge.CodeHash)
		if err != nil {
			s.logger.Error("Stored otp hash is unreadable", zap.String("challenge_id", challenge.ID), zap.Error(err))
			return fmt.Errorf("%w: code verification", ErrInternal)
		}
		if !match {
			return ErrInvalidCode
		}

		consumed, err := tx.OTPChallenges().MarkConsumed(ctx, challenge.ID, now)
		if err != nil {
			return storeError(s.logger, "consume otp challenge", err)
		}
		if !consumed {
			return ErrAlreadyConsumed
		}
		challenge.IsConsumed = true
		challenge.ConsumedAt = &now

		if onConsumed != nil {
			return onConsumed(ctx, tx, challenge)
		}
		return nil
	})
	if err != nil {
		err = storeError(s.logger, "verify otp", err)
		ev := t.event(models.EventOTPRejected)
		ev.Details = map[string]string{"reason": rejectReason(err)}
		if challengeID != "" {
			ev.Details["challenge_id"] = challengeID
		}
		s.auditor.Record(ctx, ev)
		return err
	}

	ev := t.event(models.EventOTPVerified)
	ev.Details = map[string]string{"challenge_id": challengeID}
	s.auditor.Record(ctx, ev)
	return nil
}

func rejectReason(err error) string {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "unknown"
}

// generateCode returns a uniformly random zero-padded decimal code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
