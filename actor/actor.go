// Package actor is the directory of people who use tally: their role, their
// credentials and when they were last active.
package actor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role decides what an actor may see and do.
type Role string

const (
	RoleManager  Role = "Manager"
	RoleEmployee Role = "Employee"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrBadCredentials = errors.New("invalid credentials")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidUser    = errors.New("invalid user")
)

// ParseRole maps a role name to a Role. Unknown names are an error.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manager", "admin":
		return RoleManager, nil
	case "employee", "":
		return RoleEmployee, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Privileged reports whether the role sees every task.
func (r Role) Privileged() bool { return r == RoleManager }

// Actor is the explicit identity passed into every operation in place of
// ambient session state.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Privileged reports whether the actor holds a manager-equivalent role.
func (a Actor) Privileged() bool { return a.Role.Privileged() }

// User is a directory entry.
type User struct {
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	LastActive   *time.Time `json:"last_active,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Actor returns the identity for u.
func (u *User) Actor() Actor { return Actor{ID: u.Username, Role: u.Role} }

// Store persists users.
type Store interface {
	// Create inserts u. An existing username reports false with a nil error.
	Create(ctx context.Context, u *User) (bool, error)
	Get(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	Delete(ctx context.Context, username string) error
	Touch(ctx context.Context, username string, at time.Time) error
	ActiveSince(ctx context.Context, since time.Time) ([]string, error)
}

// Directory wraps a Store with hashing and permission rules.
type Directory struct {
	store  Store
	scheme HashScheme
	now    func() time.Time
}

// NewDirectory returns a Directory hashing new passwords with scheme.
func NewDirectory(store Store, scheme HashScheme) *Directory {
	return &Directory{store: store, scheme: scheme, now: time.Now}
}

// Register creates a user. It reports false when the username is taken.
func (d *Directory) Register(ctx context.Context, username, password string, role Role) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.Contains(username, ",") {
		return false, fmt.Errorf("%w: username must be non-empty and contain no commas", ErrInvalidUser)
	}
	if password == "" {
		return false, fmt.Errorf("%w: password is required", ErrInvalidUser)
	}
	hash, err := HashPassword(d.scheme, password)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	return d.store.Create(ctx, &User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    d.now().UTC(),
	})
}

// Bootstrap ensures a manager account exists with an already hashed password.
func (d *Directory) Bootstrap(ctx context.Context, username, passwordHash string) (bool, error) {
	if username == "" || passwordHash == "" {
		return false, nil
	}
	return d.store.Create(ctx, &User{
		Username:     username,
		PasswordHash: passwordHash,
		Role:         RoleManager,
		CreatedAt:    d.now().UTC(),
	})
}

// Authenticate checks credentials and returns the user.
func (d *Directory) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := d.store.Get(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, err
	}
	ok, err := CheckPassword(u.PasswordHash, password)
	if err != nil {
		return nil, fmt.Errorf("check password: %w", err)
	}
	if !ok {
		return nil, ErrBadCredentials
	}
	return u, nil
}

// Get returns a user by name.
func (d *Directory) Get(ctx context.Context, username string) (*User, error) {
	return d.store.Get(ctx, username)
}

// List returns every user.
func (d *Directory) List(ctx context.Context) ([]*User, error) { return d.store.List(ctx) }

// Remove deletes a user on behalf of by. Only managers may remove users, and
// never themselves.
func (d *Directory) Remove(ctx context.Context, by Actor, username string) error {
	if !by.Privileged() {
		return ErrForbidden
	}
	if by.ID == username {
		return fmt.Errorf("%w: cannot remove yourself", ErrForbidden)
	}
	return d.store.Delete(ctx, username)
}

// Touch records activity for username.
func (d *Directory) Touch(ctx context.Context, username string) error {
	return d.store.Touch(ctx, username, d.now().UTC())
}

// Online lists users active within window, leaving out exclude.
func (d *Directory) Online(ctx context.Context, window time.Duration, exclude string) ([]string, error) {
	names, err := d.store.ActiveSince(ctx, d.now().UTC().Add(-window))
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		if n != exclude {
			out = append(out, n)
		}
	}
	return out, nil
}
