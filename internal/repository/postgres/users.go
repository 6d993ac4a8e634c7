package postgres

import (
	"context"

	"registration-service/internal/models"
)

type userRepo conn

const userColumns = `id, first_name, last_name, phone_hash, phone_enc, email_hash, email_enc,
        passcode_hash, passcode_salt, password_hash, password_salt,
        phone_verified_at, email_verified_at, locked_until, created_at, updated_at`

func (r userRepo) Create(ctx context.Context, u *models.User) error {
	_, err := r.q.Exec(ctx, `INSERT INTO users (`+userColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		u.ID, u.FirstName, u.LastName, u.PhoneHash, u.PhoneEnc, u.EmailHash, u.EmailEnc,
		u.PasscodeHash, u.PasscodeSalt, u.PasswordHash, u.PasswordSalt,
		u.PhoneVerifiedAt, u.EmailVerifiedAt, u.LockedUntil, u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	return translate(err)
}

func (r userRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.get(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r userRepo) GetByPhoneHash(ctx context.Context, phoneHash string) (*models.User, error) {
	return r.get(ctx, `SELECT `+userColumns+` FROM users WHERE phone_hash = $1`, phoneHash)
}

func (r userRepo) GetByEmailHash(ctx context.Context, emailHash string) (*models.User, error) {
	return r.get(ctx, `SELECT `+userColumns+` FROM users WHERE email_hash = $1`, emailHash)
}

func (r userRepo) get(ctx context.Context, query string, arg string) (*models.User, error) {
	var u models.User
	err := r.q.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.FirstName, &u.LastName, &u.PhoneHash, &u.PhoneEnc, &u.EmailHash, &u.EmailEnc,
		&u.PasscodeHash, &u.PasscodeSalt, &u.PasswordHash, &u.PasswordSalt,
		&u.PhoneVerifiedAt, &u.EmailVerifiedAt, &u.LockedUntil, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}
