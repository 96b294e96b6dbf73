// Package userstest provides an in-memory users.Repository for tests.
package userstest

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mongo-signup/server/internal/users"
)

// Repository is a concurrency-safe in-memory users.Repository.
type Repository struct {
	mu    sync.Mutex
	byID  map[primitive.ObjectID]users.User
	Err   error // returned by every call when set
	Calls int
}

func NewRepository() *Repository {
	return &Repository{byID: make(map[primitive.ObjectID]users.User)}
}

func (r *Repository) Create(_ context.Context, u *users.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls++
	if r.Err != nil {
		return r.Err
	}
	for _, existing := range r.byID {
		if existing.Email == u.Email {
			return users.ErrEmailTaken
		}
	}
	u.ID = primitive.NewObjectID()
	r.byID[u.ID] = *u
	return nil
}

func (r *Repository) FindByEmail(_ context.Context, email string) (*users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls++
	if r.Err != nil {
		return nil, r.Err
	}
	for _, u := range r.byID {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, users.ErrNotFound
}

func (r *Repository) FindByID(_ context.Context, id string) (*users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls++
	if r.Err != nil {
		return nil, r.Err
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, users.ErrNotFound
	}
	u, ok := r.byID[oid]
	if !ok {
		return nil, users.ErrNotFound
	}
	return &u, nil
}

func (r *Repository) TouchLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls++
	if r.Err != nil {
		return r.Err
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return users.ErrNotFound
	}
	u, ok := r.byID[oid]
	if !ok {
		return users.ErrNotFound
	}
	u.LastLoginAt = &at
	u.UpdatedAt = at
	r.byID[oid] = u
	return nil
}

// Delete removes a user, simulating an account that vanished after a token was issued.
func (r *Repository) Delete(id primitive.ObjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}
