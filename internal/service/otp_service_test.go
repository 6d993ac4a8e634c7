package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registration-service/internal/models"
	"registration-service/internal/repository"
)

func registerVerify(code string) VerifyOTPRequest {
	return VerifyOTPRequest{
		PhoneNumber: testPhone,
		Purpose:     models.PurposeRegister,
		Channel:     models.ChannelSMS,
		Code:        code,
	}
}

func TestGenerateIssuesHashedSixDigitCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	code := env.sendCode(t, models.PurposeRegister, "")
	assert.Len(t, code, 6)
	assert.Empty(t, strings.Trim(code, "0123456789"))

	challenge, err := env.store.OTPChallenges().FindLatest(ctx, models.OTPChallengeQuery{
		PhoneHash: env.phoneHash(), Purpose: models.PurposeRegister, Channel: models.ChannelSMS,
	})
	require.NoError(t, err)
	assert.NotEqual(t, code, challenge.CodeHash)
	assert.False(t, challenge.IsConsumed)
	assert.WithinDuration(t, challenge.CreatedAt.Add(5*time.Minute), challenge.ExpiredAt, time.Second)

	ok, err := env.hasher.Verify(code, challenge.CodeSalt, challenge.CodeHash)
	require.NoError(t, err)
	assert.True(t, ok)

	msg := env.notifier.last(t)
	assert.Equal(t, testPhone, msg.Destination)
	assert.Contains(t, env.auditor.types(), models.EventOTPIssued)
}

func TestGenerateValidatesRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  GenerateOTPRequest
	}{
		{"login without user id", GenerateOTPRequest{PhoneNumber: testPhone, Purpose: models.PurposeLogin, Channel: models.ChannelSMS}},
		{"email channel without email", GenerateOTPRequest{PhoneNumber: testPhone, Purpose: models.PurposeRegister, Channel: models.ChannelEmail}},
		{"bad phone", GenerateOTPRequest{PhoneNumber: "12ab", Purpose: models.PurposeRegister, Channel: models.ChannelSMS}},
		{"unknown channel", GenerateOTPRequest{PhoneNumber: testPhone, Purpose: models.PurposeRegister, Channel: "PIGEON"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, env.otp.Generate(ctx, tc.req), ErrInvalidRequest)
		})
	}
	assert.Empty(t, env.notifier.messages)
}

func TestGenerateRequiresMatchingUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	err := env.otp.Generate(ctx, GenerateOTPRequest{
		PhoneNumber: testPhone, Purpose: models.PurposeLogin, Channel: models.ChannelSMS, UserID: "missing",
	})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, env.store.Users().Create(ctx, &models.User{ID: "u1", PhoneHash: "someone-else", EmailHash: "e"}))
	err = env.otp.Generate(ctx, GenerateOTPRequest{
		PhoneNumber: testPhone, Purpose: models.PurposeLogin, Channel: models.ChannelSMS, UserID: "u1",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGenerateRateLimitPerWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := GenerateOTPRequest{PhoneNumber: testPhone, Purpose: models.PurposeRegister, Channel: models.ChannelSMS}

	for i := 0; i < 5; i++ {
		require.NoError(t, env.otp.Generate(ctx, req), "request %d", i+1)
	}
	assert.ErrorIs(t, env.otp.Generate(ctx, req), ErrRateLimitExceeded)
	assert.Contains(t, env.auditor.types(), models.EventOTPRateLimited)

	// Each channel is counted separately.
	whatsapp := req
	whatsapp.Channel = models.ChannelWhatsApp
	assert.NoError(t, env.otp.Generate(ctx, whatsapp))

	env.redis.FastForward(30 * time.Minute)
	assert.NoError(t, env.otp.Generate(ctx, req))
}

func TestGenerateSurvivesDeliveryFailure(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.err = errBoom

	err := env.otp.Generate(context.Background(), GenerateOTPRequest{
		PhoneNumber: testPhone, Purpose: models.PurposeRegister, Channel: models.ChannelSMS,
	})
	require.NoError(t, err)
	assert.Contains(t, env.auditor.types(), models.EventOTPDeliveryFailed)
}

func TestGenerateEmailChannelDeliversToEmail(t *testing.T) {
	env := newTestEnv(t)

	err := env.otp.Generate(context.Background(), GenerateOTPRequest{
		PhoneNumber: testPhone, Purpose: models.PurposeRegister, Channel: models.ChannelEmail, Email: "Ada@Example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", env.notifier.last(t).Destination)
}

func TestVerifyConsumesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.sendCode(t, models.PurposeRegister, "")

	calls := 0
	hook := func(context.Context, repository.Tx, *models.OTPChallenge) error {
		calls++
		return nil
	}
	require.NoError(t, env.otp.Verify(ctx, registerVerify(code), hook))
	assert.ErrorIs(t, env.otp.Verify(ctx, registerVerify(code), hook), ErrAlreadyConsumed)
	assert.Equal(t, 1, calls)
}

func TestVerifyRejectsExpiredCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issued := time.Now()
	env.setNow(issued)
	code := env.sendCode(t, models.PurposeRegister, "")

	env.setNow(issued.Add(5*time.Minute + time.Second))
	assert.ErrorIs(t, env.otp.Verify(ctx, registerVerify(code), nil), ErrExpired)
}

func TestVerifyRejectsWrongCodeWithoutConsuming(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.sendCode(t, models.PurposeRegister, "")

	assert.ErrorIs(t, env.otp.Verify(ctx, registerVerify(wrongCode(code)), nil), ErrInvalidCode)
	assert.NoError(t, env.otp.Verify(ctx, registerVerify(code), nil))
	assert.Contains(t, env.auditor.types(), models.EventOTPRejected)
	assert.Contains(t, env.auditor.types(), models.EventOTPVerified)
}

func TestVerifyWithoutChallenge(t *testing.T) {
	env := newTestEnv(t)
	assert.ErrorIs(t, env.otp.Verify(context.Background(), registerVerify("123456"), nil), ErrNotFound)
}

func TestVerifyUsesLatestChallenge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.sendCode(t, models.PurposeRegister, "")
	second := env.sendCode(t, models.PurposeRegister, "")

	if first != second {
		assert.ErrorIs(t, env.otp.Verify(ctx, registerVerify(first), nil), ErrInvalidCode)
	}
	assert.NoError(t, env.otp.Verify(ctx, registerVerify(second), nil))
}

func TestVerifyHookFailureRollsBackConsumption(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.sendCode(t, models.PurposeRegister, "")

	failing := func(context.Context, repository.Tx, *models.OTPChallenge) error { return errBoom }
	err := env.otp.Verify(ctx, registerVerify(code), failing)
	assert.ErrorIs(t, err, ErrInternal)

	assert.NoError(t, env.otp.Verify(ctx, registerVerify(code), nil))
}

func TestVerifyAttemptLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.sendCode(t, models.PurposeRegister, "")

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, env.otp.Verify(ctx, registerVerify(wrongCode(code)), nil), ErrInvalidCode)
	}
	assert.ErrorIs(t, env.otp.Verify(ctx, registerVerify(code), nil), ErrRateLimitExceeded)

	env.redis.FastForward(30 * time.Minute)
	assert.NoError(t, env.otp.Verify(ctx, registerVerify(code), nil))
}

func TestVerifyScopesByPurpose(t *testing.T) {
	env := newTestEnv(t)
	code := env.sendCode(t, models.PurposeRegister, "")

	req := registerVerify(code)
	req.Purpose = models.PurposeResetPasscode
	assert.ErrorIs(t, env.otp.Verify(context.Background(), req, nil), ErrNotFound)
}

func TestGenerateCodeFormat(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		assert.Len(t, code, 6)
	}
}

func TestConcurrentVerifyConsumesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	code := env.sendCode(t, models.PurposeRegister, "")

	var (
		wg    sync.WaitGroup
		calls atomic.Int32
	)
	hook := func(context.Context, repository.Tx, *models.OTPChallenge) error {
		calls.Add(1)
		return nil
	}
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = env.otp.Verify(ctx, registerVerify(code), hook)
		}(i)
	}
	wg.Wait()

	var ok, consumed int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyConsumed):
			consumed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, consumed)
	assert.Equal(t, int32(1), calls.Load())
}
