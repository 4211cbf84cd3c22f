// Package vocab manages the department and status vocabularies tasks refer to.
//
// Vocabulary references on tasks are soft: removing a value from the active
// vocabulary leaves existing tasks untouched, and they keep the value until
// someone edits it.
package vocab

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/cases"
)

// Kind names one of the vocabularies.
type Kind string

const (
	Departments Kind = "department"
	Statuses    Kind = "status"
)

var (
	ErrUnknownKind  = errors.New("unknown vocabulary")
	ErrUnknownValue = errors.New("value not in vocabulary")
	ErrEmptyName    = errors.New("vocabulary value is empty")
)

// ParseKind accepts singular and plural forms.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "department", "departments", "dept", "depts":
		return Departments, nil
	case "status", "statuses":
		return Statuses, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Store persists vocabulary values in insertion order.
type Store interface {
	List(ctx context.Context, kind Kind) ([]string, error)

	// Add appends name. A duplicate (compared case-insensitively) reports
	// false with a nil error.
	Add(ctx context.Context, kind Kind, name string) (bool, error)

	// Remove drops name from the active vocabulary. It reports whether a
	// value was removed.
	Remove(ctx context.Context, kind Kind, name string) (bool, error)

	// Seed inserts names only when the vocabulary is empty and returns how
	// many were inserted.
	Seed(ctx context.Context, kind Kind, names []string) (int, error)
}

// Vocabulary is a point-in-time view of both vocabularies.
type Vocabulary struct {
	Departments []string `json:"departments"`
	Statuses    []string `json:"statuses"`
	Initial     string   `json:"initial_status"`
	Terminal    string   `json:"terminal_status"`
}

// HasStatus reports whether s is an active status.
func (v *Vocabulary) HasStatus(s string) bool { return slices.Contains(v.Statuses, s) }

// HasDepartment reports whether d is an active department.
func (v *Vocabulary) HasDepartment(d string) bool { return slices.Contains(v.Departments, d) }

// ValidateStatus accepts an active status, or current, which a task may keep
// after the value left the vocabulary.
func (v *Vocabulary) ValidateStatus(s, current string) error {
	if s == current && s != "" {
		return nil
	}
	if !v.HasStatus(s) {
		return fmt.Errorf("%w: status %q", ErrUnknownValue, s)
	}
	return nil
}

// ValidateDepartment works like ValidateStatus for departments. An empty
// vocabulary accepts anything, mirroring the "General" fallback.
func (v *Vocabulary) ValidateDepartment(d, current string) error {
	if d == current && d != "" {
		return nil
	}
	if len(v.Departments) == 0 {
		return nil
	}
	if !v.HasDepartment(d) {
		return fmt.Errorf("%w: department %q", ErrUnknownValue, d)
	}
	return nil
}

// Provider resolves the active vocabulary.
type Provider interface {
	Snapshot(ctx context.Context) (*Vocabulary, error)
}

// Service is a Provider backed by a Store with configured initial and
// terminal statuses.
type Service struct {
	store Store

	mu       sync.RWMutex
	initial  string
	terminal string
}

var _ Provider = (*Service)(nil)

// NewService returns a Service. Empty initial or terminal values are pinned
// to the first and last seed status by Seed. A Service that was never seeded
// falls back to the first and last stored status.
func NewService(store Store, initial, terminal string) *Service {
	return &Service{store: store, initial: initial, terminal: terminal}
}

// Store exposes the underlying store for admin operations.
func (s *Service) Store() Store { return s.store }

// Snapshot loads both vocabularies and resolves the designated statuses.
func (s *Service) Snapshot(ctx context.Context) (*Vocabulary, error) {
	depts, err := s.store.List(ctx, Departments)
	if err != nil {
		return nil, err
	}
	statuses, err := s.store.List(ctx, Statuses)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	v := &Vocabulary{Departments: depts, Statuses: statuses, Initial: s.initial, Terminal: s.terminal}
	s.mu.RUnlock()
	if v.Initial == "" && len(statuses) > 0 {
		v.Initial = statuses[0]
	}
	if v.Terminal == "" && len(statuses) > 0 {
		v.Terminal = statuses[len(statuses)-1]
	}
	return v, nil
}

// Seed seeds both vocabularies from defaults when they are empty, and pins
// any undesignated initial or terminal status to the ends of statuses.
// Statuses added later never move the designations.
func (s *Service) Seed(ctx context.Context, departments, statuses []string) error {
	if _, err := s.store.Seed(ctx, Departments, departments); err != nil {
		return fmt.Errorf("seed departments: %w", err)
	}
	if _, err := s.store.Seed(ctx, Statuses, statuses); err != nil {
		return fmt.Errorf("seed statuses: %w", err)
	}
	if len(statuses) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initial == "" {
		s.initial = strings.TrimSpace(statuses[0])
	}
	if s.terminal == "" {
		s.terminal = strings.TrimSpace(statuses[len(statuses)-1])
	}
	return nil
}

// sameValue compares vocabulary values ignoring case and surrounding space.
// A Caser is stateful, so each comparison gets its own.
func sameValue(a, b string) bool {
	fold := cases.Fold()
	return fold.String(strings.TrimSpace(a)) == fold.String(strings.TrimSpace(b))
}

// containsFolded reports whether names already holds name under sameValue.
func containsFolded(names []string, name string) bool {
	for _, n := range names {
		if sameValue(n, name) {
			return true
		}
	}
	return false
}

func normalize(kind Kind, name string) (string, error) {
	if kind != Departments && kind != Statuses {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	return name, nil
}
