package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"registration-service/internal/models"
	"registration-service/internal/repository"
)

type sessionRepo conn

func (r sessionRepo) Create(ctx context.Context, s *models.RegistrationSession) error {
	regData, verData, err := marshalSessionData(s)
	if err != nil {
		return err
	}
	_, err = r.q.Exec(ctx, `INSERT INTO registration_sessions
        (id, phone_hash, phone_enc, registration_data, verification_data, next_step, expires_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.PhoneHash, s.PhoneEnc, regData, verData, string(s.NextStep),
		s.ExpiresAt.UTC(), s.CreatedAt.UTC(), s.UpdatedAt.UTC())
	return translate(err)
}

func (r sessionRepo) GetByPhoneHash(ctx context.Context, phoneHash string) (*models.RegistrationSession, error) {
	query := `SELECT id, phone_hash, phone_enc, registration_data, verification_data, next_step,
        expires_at, created_at, updated_at
        FROM registration_sessions WHERE phone_hash = $1` + conn(r).forUpdate()

	var (
		s                models.RegistrationSession
		regData, verData []byte
		step             string
	)
	err := r.q.QueryRow(ctx, query, phoneHash).Scan(
		&s.ID, &s.PhoneHash, &s.PhoneEnc, &regData, &verData, &step,
		&s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, translate(err)
	}
	if err := json.Unmarshal(regData, &s.RegistrationData); err != nil {
		return nil, fmt.Errorf("failed to decode registration data: %w", err)
	}
	if err := json.Unmarshal(verData, &s.VerificationData); err != nil {
		return nil, fmt.Errorf("failed to decode verification data: %w", err)
	}
	s.NextStep = models.RegistrationStep(step)
	return &s, nil
}

func (r sessionRepo) Update(ctx context.Context, s *models.RegistrationSession) error {
	regData, verData, err := marshalSessionData(s)
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, `UPDATE registration_sessions
        SET registration_data = $2, verification_data = $3, next_step = $4, expires_at = $5, updated_at = $6
        WHERE phone_hash = $1`,
		s.PhoneHash, regData, verData, string(s.NextStep), s.ExpiresAt.UTC(), s.UpdatedAt.UTC())
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func marshalSessionData(s *models.RegistrationSession) ([]byte, []byte, error) {
	regData, err := json.Marshal(s.RegistrationData)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode registration data: %w", err)
	}
	verData, err := json.Marshal(s.VerificationData)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode verification data: %w", err)
	}
	return regData, verData, nil
}
