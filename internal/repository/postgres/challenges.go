package postgres

import (
	"context"
	"time"

	"registration-service/internal/models"
)

type challengeRepo conn

func (r challengeRepo) Create(ctx context.Context, c *models.OTPChallenge) error {
	_, err := r.q.Exec(ctx, `INSERT INTO otp_challenges
        (id, phone_hash, email_hash, user_id, channel, purpose, code_hash, code_salt, expired_at, is_consumed, consumed_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.PhoneHash, c.EmailHash, c.UserID, string(c.Channel), string(c.Purpose),
		c.CodeHash, c.CodeSalt, c.ExpiredAt.UTC(), c.IsConsumed, c.ConsumedAt, c.CreatedAt.UTC())
	return translate(err)
}

func (r challengeRepo) FindLatest(ctx context.Context, q models.OTPChallengeQuery) (*models.OTPChallenge, error) {
	query := `SELECT id, phone_hash, email_hash, user_id, channel, purpose, code_hash, code_salt,
        expired_at, is_consumed, consumed_at, created_at
        FROM otp_challenges
        WHERE phone_hash = $1 AND purpose = $2 AND channel = $3
          AND ($4::text = '' OR email_hash = $4::text)
        ORDER BY created_at DESC
        LIMIT 1` + conn(r).forUpdate()

	var (
		c                models.OTPChallenge
		channel, purpose string
	)
	err := r.q.QueryRow(ctx, query, q.PhoneHash, string(q.Purpose), string(q.Channel), q.EmailHash).Scan(
		&c.ID, &c.PhoneHash, &c.EmailHash, &c.UserID, &channel, &purpose, &c.CodeHash, &c.CodeSalt,
		&c.ExpiredAt, &c.IsConsumed, &c.ConsumedAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	c.Channel = models.Channel(channel)
	c.Purpose = models.Purpose(purpose)
	return &c, nil
}

func (r challengeRepo) MarkConsumed(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.q.Exec(ctx, `UPDATE otp_challenges SET is_consumed = TRUE, consumed_at = $2
        WHERE id = $1 AND is_consumed = FALSE`, id, at.UTC())
	if err != nil {
		return false, translate(err)
	}
	return tag.RowsAffected() == 1, nil
}

type emailChallengeRepo conn

func (r emailChallengeRepo) Create(ctx context.Context, c *models.EmailVerificationChallenge) error {
	_, err := r.q.Exec(ctx, `INSERT INTO email_verification_challenges
        (id, phone_hash, email_hash, verification_token, expired_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.PhoneHash, c.EmailHash, c.VerificationToken, c.ExpiredAt.UTC(), c.CreatedAt.UTC())
	return translate(err)
}

func (r emailChallengeRepo) GetByToken(ctx context.Context, token string) (*models.EmailVerificationChallenge, error) {
	var c models.EmailVerificationChallenge
	err := r.q.QueryRow(ctx, `SELECT id, phone_hash, email_hash, verification_token, expired_at, created_at
        FROM email_verification_challenges WHERE verification_token = $1`+conn(r).forUpdate(), token).Scan(
		&c.ID, &c.PhoneHash, &c.EmailHash, &c.VerificationToken, &c.ExpiredAt, &c.CreatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}
