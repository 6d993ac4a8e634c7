//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"registration-service/internal/models"
	"registration-service/internal/repository"
)

type StoreSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	pool      *pgxpool.Pool
	store     *Store
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("registration"),
		tcpostgres.WithUsername("registration"),
		tcpostgres.WithPassword("registration"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	pool, err := pgxpool.New(ctx, dsn)
	s.Require().NoError(err)
	s.pool = pool
	s.store = NewStore(pool)
	s.Require().NoError(s.store.ApplySchema(ctx))
}

func (s *StoreSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *StoreSuite) SetupTest() {
	_, err := s.pool.Exec(context.Background(),
		`TRUNCATE users, registration_sessions, otp_challenges, email_verification_challenges`)
	s.Require().NoError(err)
}

func (s *StoreSuite) TestUserUniqueness() {
	ctx := context.Background()
	now := time.Now().UTC()
	u := &models.User{ID: uuid.NewString(), FirstName: "Ada", LastName: "Lovelace",
		PhoneHash: "p1", PhoneEnc: "enc", EmailHash: "e1", EmailEnc: "enc",
		CreatedAt: now, UpdatedAt: now}
	s.Require().NoError(s.store.Users().Create(ctx, u))

	dup := *u
	dup.ID = uuid.NewString()
	dup.EmailHash = "e2"
	s.ErrorIs(s.store.Users().Create(ctx, &dup), repository.ErrConflict)

	got, err := s.store.Users().GetByPhoneHash(ctx, "p1")
	s.Require().NoError(err)
	s.Equal("Ada", got.FirstName)

	_, err = s.store.Users().GetByEmailHash(ctx, "missing")
	s.ErrorIs(err, repository.ErrNotFound)
}

func (s *StoreSuite) TestSessionRoundTripAndRollback() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	session := &models.RegistrationSession{
		ID: uuid.NewString(), PhoneHash: "p1", PhoneEnc: "enc",
		RegistrationData: models.RegistrationData{Contacts: models.ContactFields{PhoneHash: "p1", PhoneEnc: "enc"}},
		VerificationData: models.VerificationData{PhoneVerifiedAt: &now},
		NextStep:         models.StepNameInput,
		ExpiresAt:        now.Add(15 * time.Hour), CreatedAt: now, UpdatedAt: now,
	}
	s.Require().NoError(s.store.Sessions().Create(ctx, session))

	boom := errors.New("boom")
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		locked, err := tx.Sessions().GetByPhoneHash(ctx, "p1")
		s.Require().NoError(err)
		locked.NextStep = models.StepPasscodeInput
		locked.RegistrationData.Name = models.NameFields{FirstName: "Ada", LastName: "Lovelace"}
		s.Require().NoError(tx.Sessions().Update(ctx, locked))
		return boom
	})
	s.ErrorIs(err, boom)

	got, err := s.store.Sessions().GetByPhoneHash(ctx, "p1")
	s.Require().NoError(err)
	s.Equal(models.StepNameInput, got.NextStep)
	s.Empty(got.RegistrationData.Name.FirstName)
	s.Require().NotNil(got.VerificationData.PhoneVerifiedAt)
	s.True(now.Equal(*got.VerificationData.PhoneVerifiedAt))
}

func (s *StoreSuite) TestChallengeLatestAndConsume() {
	ctx := context.Background()
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		s.Require().NoError(s.store.OTPChallenges().Create(ctx, &models.OTPChallenge{
			ID: uuid.NewString(), PhoneHash: "p1", Channel: models.ChannelSMS, Purpose: models.PurposeRegister,
			CodeHash: "h", CodeSalt: "s", ExpiredAt: base.Add(5 * time.Minute),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	latest, err := s.store.OTPChallenges().FindLatest(ctx, models.OTPChallengeQuery{
		PhoneHash: "p1", Purpose: models.PurposeRegister, Channel: models.ChannelSMS})
	s.Require().NoError(err)
	s.True(latest.CreatedAt.After(base.Add(time.Second)))

	ok, err := s.store.OTPChallenges().MarkConsumed(ctx, latest.ID, time.Now())
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.OTPChallenges().MarkConsumed(ctx, latest.ID, time.Now())
	s.Require().NoError(err)
	s.False(ok)
}
