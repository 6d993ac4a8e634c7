package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registration-service/internal/models"
	"registration-service/internal/repository"
	"registration-service/internal/token"
)

func TestCheckPhoneUnregisteredIssuesRegistrationToken(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.credential.CheckPhone(context.Background(), "+62 812-3456-7890")
	require.NoError(t, err)
	assert.False(t, res.IsRegistered)
	assert.Empty(t, res.UserID)

	claims, err := env.signer.Verify(res.Token, token.TypeRegistration)
	require.NoError(t, err)
	assert.Equal(t, testPhone, claims.Subject)
}

func TestCheckPhoneRegisteredAndLocked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now()
	env.setNow(now)

	user := &models.User{ID: "u1", PhoneHash: env.phoneHash(), EmailHash: "e1"}
	require.NoError(t, env.store.Users().Create(ctx, user))

	res, err := env.credential.CheckPhone(ctx, testPhone)
	require.NoError(t, err)
	assert.True(t, res.IsRegistered)
	assert.Equal(t, "u1", res.UserID)
	assert.Empty(t, res.Token)

	locked := &models.User{ID: "u2", PhoneHash: env.hasher.LookupHash("6289999999999"), EmailHash: "e2"}
	until := now.Add(time.Hour)
	locked.LockedUntil = &until
	require.NoError(t, env.store.Users().Create(ctx, locked))

	_, err = env.credential.CheckPhone(ctx, "6289999999999")
	assert.ErrorIs(t, err, ErrAccountLocked)
	assert.Contains(t, env.auditor.types(), models.EventAccountLockedRejected)
}

func TestCheckPhoneRejectsMalformedNumber(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.credential.CheckPhone(context.Background(), "12345")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestVerifyOTPResumesExistingSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.startRegistration(t)
	_, err := env.credential.SubmitName(ctx, testPhone, "Ada", "Lovelace")
	require.NoError(t, err)

	code := env.sendCode(t, models.PurposeRegister, "")
	res, err := env.credential.VerifyOTP(ctx, registerVerify(code))
	require.NoError(t, err)
	assert.True(t, res.AlreadyVerified)
	assert.Equal(t, models.StepPasscodeInput, res.NextStep)
}

func TestVerifyOTPRestartsExpiredSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	start := time.Now()
	env.setNow(start)
	env.startRegistration(t)
	_, err := env.credential.SubmitName(ctx, testPhone, "Ada", "Lovelace")
	require.NoError(t, err)

	env.setNow(start.Add(16 * time.Hour))
	code := env.sendCode(t, models.PurposeRegister, "")
	res, err := env.credential.VerifyOTP(ctx, registerVerify(code))
	require.NoError(t, err)
	assert.False(t, res.AlreadyVerified)
	assert.Equal(t, models.StepNameInput, res.NextStep)

	session, err := env.store.Sessions().GetByPhoneHash(ctx, env.phoneHash())
	require.NoError(t, err)
	assert.Empty(t, session.RegistrationData.Name.FirstName)
}

func TestSubmitCredentialValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.startRegistration(t)

	_, err := env.credential.SubmitName(ctx, testPhone, "  ", "Lovelace")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = env.credential.SubmitName(ctx, testPhone, "Ada", "Lovelace")
	require.NoError(t, err)

	_, err = env.credential.SubmitPasscode(ctx, testPhone, "123456", "654321")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = env.credential.SubmitPasscode(ctx, testPhone, "12ab56", "12ab56")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = env.credential.SubmitPasscode(ctx, testPhone, "123456", "123456")
	require.NoError(t, err)

	_, err = env.credential.SubmitPassword(ctx, testPhone, "longenough", "longenougH")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = env.credential.SubmitPassword(ctx, testPhone, "short", "short")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	status, err := env.credential.RegistrationStatus(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, models.StepPasswordInput, status)
}

func TestSecretsAreStoredHashed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.startRegistration(t)
	completeCredentials(t, env)

	session, err := env.store.Sessions().GetByPhoneHash(ctx, env.phoneHash())
	require.NoError(t, err)
	creds := session.RegistrationData.Credentials
	assert.NotEqual(t, "123456", creds.PasscodeHash)

	ok, err := env.hasher.Verify("123456", creds.PasscodeSalt, creds.PasscodeHash)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = env.hasher.Verify("correct horse battery", creds.PasswordSalt, creds.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegistrationStatusWithoutSession(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.credential.RegistrationStatus(context.Background(), testPhone)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFullRegistrationThenLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	check, err := env.credential.CheckPhone(ctx, testPhone)
	require.NoError(t, err)
	require.False(t, check.IsRegistered)

	env.startRegistration(t)
	completeCredentials(t, env)

	next, err := env.credential.SubmitEmail(ctx, testPhone, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.StepEmailVerify, next)

	msg := env.notifier.last(t)
	assert.Equal(t, "ada@example.com", msg.Destination)
	verified, err := env.credential.VerifyEmail(ctx, verificationToken(t, msg))
	require.NoError(t, err)
	assert.Equal(t, 1, env.store.UserCount())

	claims, err := env.signer.Verify(verified.LoginToken, token.TypeLogin)
	require.NoError(t, err)
	assert.Equal(t, verified.UserID, claims.Subject)

	user, err := env.store.Users().GetByID(ctx, verified.UserID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.FirstName)
	assert.Equal(t, "Lovelace", user.LastName)
	assert.Equal(t, env.phoneHash(), user.PhoneHash)
	assert.Equal(t, env.hasher.LookupHash("ada@example.com"), user.EmailHash)
	require.NotNil(t, user.PhoneVerifiedAt)
	require.NotNil(t, user.EmailVerifiedAt)
	email, err := env.encryption.Decrypt(user.EmailEnc)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", email)

	status, err := env.credential.RegistrationStatus(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, status)

	check, err = env.credential.CheckPhone(ctx, testPhone)
	require.NoError(t, err)
	require.True(t, check.IsRegistered)
	assert.Equal(t, user.ID, check.UserID)

	code := env.sendCode(t, models.PurposeLogin, user.ID)
	login, err := env.credential.VerifyOTP(ctx, VerifyOTPRequest{
		PhoneNumber: testPhone,
		Purpose:     models.PurposeLogin,
		Channel:     models.ChannelSMS,
		Code:        code,
	})
	require.NoError(t, err)
	claims, err = env.signer.Verify(login.LoginToken, token.TypeLogin)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)

	assert.Subset(t, env.auditor.types(), []string{
		models.EventRegistrationStarted,
		models.EventEmailVerificationSent,
		models.EventRegistrationCompleted,
	})
}

// completeRegistration runs the whole flow and returns the new user id.
func completeRegistration(t *testing.T, env *testEnv) string {
	t.Helper()
	ctx := context.Background()
	env.startRegistration(t)
	completeCredentials(t, env)
	_, err := env.credential.SubmitEmail(ctx, testPhone, "ada@example.com")
	require.NoError(t, err)
	verified, err := env.credential.VerifyEmail(ctx, verificationToken(t, env.notifier.last(t)))
	require.NoError(t, err)
	return verified.UserID
}

func TestVerifyOTPRegisterRefusesCompletedRegistration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	start := time.Now()
	env.setNow(start)
	completeRegistration(t, env)

	env.setNow(start.Add(16 * time.Hour))
	code := env.sendCode(t, models.PurposeRegister, "")
	_, err := env.credential.VerifyOTP(ctx, registerVerify(code))
	assert.ErrorIs(t, err, ErrConflict)

	session, err := env.store.Sessions().GetByPhoneHash(ctx, env.phoneHash())
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, session.NextStep)
	assert.Equal(t, 1, env.store.UserCount())
}

func TestVerifyOTPRegisterRefusesExistingUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now()
	env.setNow(now)

	until := now.Add(24 * time.Hour)
	require.NoError(t, env.store.Users().Create(ctx, &models.User{
		ID: "locked-user", PhoneHash: env.phoneHash(), EmailHash: "e1", LockedUntil: &until,
	}))

	_, err := env.credential.CheckPhone(ctx, testPhone)
	require.ErrorIs(t, err, ErrAccountLocked)

	code := env.sendCode(t, models.PurposeRegister, "")
	_, err = env.credential.VerifyOTP(ctx, registerVerify(code))
	assert.ErrorIs(t, err, ErrConflict)

	_, err = env.store.Sessions().GetByPhoneHash(ctx, env.phoneHash())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestVerifyEmailRefusesPhoneRegisteredMeanwhile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.startRegistration(t)
	completeCredentials(t, env)
	_, err := env.credential.SubmitEmail(ctx, testPhone, "attacker@example.com")
	require.NoError(t, err)
	tok := verificationToken(t, env.notifier.last(t))

	until := time.Now().Add(24 * time.Hour)
	require.NoError(t, env.store.Users().Create(ctx, &models.User{
		ID: "locked-user", PhoneHash: env.phoneHash(), EmailHash: "e1", LockedUntil: &until,
	}))

	res, err := env.credential.VerifyEmail(ctx, tok)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Nil(t, res)

	session, err := env.store.Sessions().GetByPhoneHash(ctx, env.phoneHash())
	require.NoError(t, err)
	assert.Equal(t, models.StepEmailVerify, session.NextStep)
	assert.Equal(t, 1, env.store.UserCount())
}
