package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"registration-service/internal/client"
	"registration-service/internal/config"
	"registration-service/internal/encryption"
	"registration-service/internal/hashing"
	"registration-service/internal/models"
	"registration-service/internal/notification"
	"registration-service/internal/repository/memory"
	ratecache "registration-service/internal/repository/redis"
	"registration-service/internal/token"
)

const testPhone = "6281234567890"

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
	err      error
}

func (n *recordingNotifier) Deliver(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return n.err
}

func (n *recordingNotifier) last(t *testing.T) notification.Message {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.messages)
	return n.messages[len(n.messages)-1]
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (a *recordingAuditor) Record(_ context.Context, e models.SecurityEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *recordingAuditor) types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.EventType)
	}
	return out
}

type testEnv struct {
	store        *memory.Store
	redis        *miniredis.Miniredis
	hasher       *hashing.Hasher
	encryption   *encryption.EncryptionManager
	notifier     *recordingNotifier
	auditor      *recordingAuditor
	signer       *token.JWTService
	cfg          *config.Config
	otp          *OTPService
	registration *RegistrationService
	credential   *CredentialService
}

func testConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			Secret:          "test-secret",
			Issuer:          "registration-service",
			RegistrationTTL: 10 * time.Minute,
			LoginTTL:        10 * time.Minute,
		},
		OTP: config.OTPConfig{
			CodeTTL:          5 * time.Minute,
			RequestLimit:     5,
			RequestWindow:    30 * time.Minute,
			ValidationLimit:  5,
			ValidationWindow: 30 * time.Minute,
		},
		Registration: config.RegistrationConfig{
			SessionTTL:        15 * time.Hour,
			EmailChallengeTTL: 15 * time.Minute,
			EmailVerifyURL:    "https://example.test/verify",
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hasher, err := hashing.NewHasherWithParams("test-pepper",
		hashing.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, KeyLength: 32})
	require.NoError(t, err)
	em, err := encryption.NewEncryptionManager(bytes.Repeat([]byte{0x24}, 32))
	require.NoError(t, err)

	cfg := testConfig()
	logger := zaptest.NewLogger(t)
	env := &testEnv{
		store:      memory.NewStore(),
		redis:      mr,
		hasher:     hasher,
		encryption: em,
		notifier:   &recordingNotifier{},
		auditor:    &recordingAuditor{},
		signer:     token.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer),
		cfg:        cfg,
	}

	factory := NewServiceFactory(Dependencies{
		Store:         env.store,
		Counters:      ratecache.NewRateLimitCache(client.WrapRedisClient(rdb)),
		Hasher:        hasher,
		EncryptionMgr: em,
		Notifier:      env.notifier,
		Auditor:       env.auditor,
		Signer:        env.signer,
		Config:        cfg,
		Logger:        logger,
	})
	env.otp = factory.OTPService()
	env.registration = factory.RegistrationService()
	env.credential = factory.CredentialService()
	return env
}

// setNow pins the service clocks.
func (e *testEnv) setNow(now time.Time) {
	clock := func() time.Time { return now }
	e.otp.now = clock
	e.registration.now = clock
	e.credential.now = clock
}

func (e *testEnv) phoneHash() string {
	return e.hasher.LookupHash(testPhone)
}

// sendCode issues an SMS code and returns the delivered plaintext.
func (e *testEnv) sendCode(t *testing.T, purpose models.Purpose, userID string) string {
	t.Helper()
	require.NoError(t, e.credential.SendOTP(context.Background(), GenerateOTPRequest{
		PhoneNumber: testPhone,
		Purpose:     purpose,
		Channel:     models.ChannelSMS,
		UserID:      userID,
	}))
	msg := e.notifier.last(t)
	require.Equal(t, notification.KindOTP, msg.Kind)
	return msg.Secret
}

// startRegistration verifies the phone and leaves a session at NAME_INPUT.
func (e *testEnv) startRegistration(t *testing.T) {
	t.Helper()
	code := e.sendCode(t, models.PurposeRegister, "")
	res, err := e.credential.VerifyOTP(context.Background(), VerifyOTPRequest{
		PhoneNumber: testPhone,
		Purpose:     models.PurposeRegister,
		Channel:     models.ChannelSMS,
		Code:        code,
	})
	require.NoError(t, err)
	require.Equal(t, models.StepNameInput, res.NextStep)
}

// wrongCode returns a 6-digit code different from code.
func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

var errBoom = errors.New("boom")
