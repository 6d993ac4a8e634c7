// Package memory is an in-process repository.Store used by tests and local
// development. Transactions take the store lock, work on a copy of the data
// and swap it in on commit.
package memory

import (
	"context"
	"sync"
	"time"

	"registration-service/internal/models"
	"registration-service/internal/repository"
)

type dataset struct {
	users           map[string]models.User
	sessions        map[string]models.RegistrationSession
	challenges      []models.OTPChallenge
	emailChallenges map[string]models.EmailVerificationChallenge
}

func newDataset() *dataset {
	return &dataset{
		users:           make(map[string]models.User),
		sessions:        make(map[string]models.RegistrationSession),
		emailChallenges: make(map[string]models.EmailVerificationChallenge),
	}
}

func (d *dataset) clone() *dataset {
	c := &dataset{
		users:           make(map[string]models.User, len(d.users)),
		sessions:        make(map[string]models.RegistrationSession, len(d.sessions)),
		challenges:      make([]models.OTPChallenge, len(d.challenges)),
		emailChallenges: make(map[string]models.EmailVerificationChallenge, len(d.emailChallenges)),
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.sessions {
		c.sessions[k] = v
	}
	copy(c.challenges, d.challenges)
	for k, v := range d.emailChallenges {
		c.emailChallenges[k] = v
	}
	return c
}

type Store struct {
	mu   sync.Mutex
	data *dataset
}

func NewStore() *Store {
	return &Store{data: newDataset()}
}

// WithinTx serializes with every other store operation for its duration.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(ctx, view{run: direct(work)}); err != nil {
		return err
	}
	s.data = work
	return nil
}

func (s *Store) HealthCheck(context.Context) error { return nil }

func (s *Store) Close() {}

func (s *Store) Users() repository.UserRepository { return view{run: s.locked}.Users() }

func (s *Store) Sessions() repository.SessionRepository { return view{run: s.locked}.Sessions() }

func (s *Store) OTPChallenges() repository.OTPChallengeRepository {
	return view{run: s.locked}.OTPChallenges()
}

func (s *Store) EmailVerifications() repository.EmailVerificationRepository {
	return view{run: s.locked}.EmailVerifications()
}

// UserCount is a test helper.
func (s *Store) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data.users)
}

func (s *Store) locked(fn func(d *dataset) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func direct(d *dataset) func(func(*dataset) error) error {
	return func(fn func(*dataset) error) error { return fn(d) }
}

type view struct {
	run func(func(*dataset) error) error
}

func (v view) Users() repository.UserRepository { return users(v) }

func (v view) Sessions() repository.SessionRepository { return sessions(v) }

func (v view) OTPChallenges() repository.OTPChallengeRepository { return challenges(v) }

func (v view) EmailVerifications() repository.EmailVerificationRepository {
	return emailChallenges(v)
}

type users view

func (r users) Create(_ context.Context, user *models.User) error {
	return r.run(func(d *dataset) error {
		for _, existing := range d.users {
			if existing.PhoneHash == user.PhoneHash {
				return repository.ErrConflict
			}
			if user.EmailHash != "" && existing.EmailHash == user.EmailHash {
				return repository.ErrConflict
			}
		}
		if _, ok := d.users[user.ID]; ok {
			return repository.ErrConflict
		}
		d.users[user.ID] = *user
		return nil
	})
}

func (r users) GetByID(_ context.Context, id string) (*models.User, error) {
	return r.find(func(u models.User) bool { return u.ID == id })
}

func (r users) GetByPhoneHash(_ context.Context, phoneHash string) (*models.User, error) {
	return r.find(func(u models.User) bool { return u.PhoneHash == phoneHash })
}

func (r users) GetByEmailHash(_ context.Context, emailHash string) (*models.User, error) {
	return r.find(func(u models.User) bool { return u.EmailHash == emailHash })
}

func (r users) find(match func(models.User) bool) (*models.User, error) {
	var found *models.User
	err := r.run(func(d *dataset) error {
		for _, u := range d.users {
			if match(u) {
				u := u
				found = &u
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return found, err
}

type sessions view

func (r sessions) Create(_ context.Context, session *models.RegistrationSession) error {
	return r.run(func(d *dataset) error {
		if _, ok := d.sessions[session.PhoneHash]; ok {
			return repository.ErrConflict
		}
		d.sessions[session.PhoneHash] = *session
		return nil
	})
}

func (r sessions) GetByPhoneHash(_ context.Context, phoneHash string) (*models.RegistrationSession, error) {
	var found *models.RegistrationSession
	err := r.run(func(d *dataset) error {
		s, ok := d.sessions[phoneHash]
		if !ok {
			return repository.ErrNotFound
		}
		found = &s
		return nil
	})
	return found, err
}

func (r sessions) Update(_ context.Context, session *models.RegistrationSession) error {
	return r.run(func(d *dataset) error {
		if _, ok := d.sessions[session.PhoneHash]; !ok {
			return repository.ErrNotFound
		}
		d.sessions[session.PhoneHash] = *session
		return nil
	})
}

type challenges view

func (r challenges) Create(_ context.Context, challenge *models.OTPChallenge) error {
	return r.run(func(d *dataset) error {
		d.challenges = append(d.challenges, *challenge)
		return nil
	})
}

func (r challenges) FindLatest(_ context.Context, q models.OTPChallengeQuery) (*models.OTPChallenge, error) {
	var found *models.OTPChallenge
	err := r.run(func(d *dataset) error {
		for i := range d.challenges {
			c := d.challenges[i]
			if c.PhoneHash != q.PhoneHash || c.Purpose != q.Purpose || c.Channel != q.Channel {
				continue
			}
			if q.EmailHash != "" && (c.EmailHash == nil || *c.EmailHash != q.EmailHash) {
				continue
			}
			// Ties on created_at go to the later insert.
			if found == nil || !c.CreatedAt.Before(found.CreatedAt) {
				found = &c
			}
		}
		if found == nil {
			return repository.ErrNotFound
		}
		return nil
	})
	return found, err
}

func (r challenges) MarkConsumed(_ context.Context, id string, at time.Time) (bool, error) {
	var flipped bool
	err := r.run(func(d *dataset) error {
		for i := range d.challenges {
			if d.challenges[i].ID != id {
				continue
			}
			if d.challenges[i].IsConsumed {
				return nil
			}
			consumedAt := at
			d.challenges[i].IsConsumed = true
			d.challenges[i].ConsumedAt = &consumedAt
			flipped = true
			return nil
		}
		return repository.ErrNotFound
	})
	return flipped, err
}

type emailChallenges view

func (r emailChallenges) Create(_ context.Context, challenge *models.EmailVerificationChallenge) error {
	return r.run(func(d *dataset) error {
		if _, ok := d.emailChallenges[challenge.VerificationToken]; ok {
			return repository.ErrConflict
		}
		d.emailChallenges[challenge.VerificationToken] = *challenge
		return nil
	})
}

func (r emailChallenges) GetByToken(_ context.Context, token string) (*models.EmailVerificationChallenge, error) {
	var found *models.EmailVerificationChallenge
	err := r.run(func(d *dataset) error {
		c, ok := d.emailChallenges[token]
		if !ok {
			return repository.ErrNotFound
		}
		found = &c
		return nil
	})
	return found, err
}
