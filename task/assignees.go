package task

import (
	"encoding/json"
	"strings"
)

// assigneeSep separates actor identifiers in the stored form.
const assigneeSep = ","

// Assignees is the ordered set of actors a task is assigned to. Order is kept
// for display only; membership never depends on it.
type Assignees []string

// ParseAssignees decodes the stored form. Each element is trimmed, blanks are
// dropped and duplicates collapse to their first occurrence.
func ParseAssignees(s string) Assignees {
	return NewAssignees(s)
}

// NewAssignees normalizes a list of identifiers the same way ParseAssignees
// does. An identifier holding the separator is split, so no member ever
// contains it.
func NewAssignees(ids ...string) Assignees {
	var out Assignees
	seen := make(map[string]struct{}, len(ids))
	for _, raw := range ids {
		for _, id := range strings.Split(raw, assigneeSep) {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// String encodes the set for storage.
func (a Assignees) String() string { return strings.Join(a, assigneeSep) }

// Contains reports whether id is an exact member of the set.
func (a Assignees) Contains(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	for _, m := range a {
		if m == id {
			return true
		}
	}
	return false
}

// Len returns the number of assignees.
func (a Assignees) Len() int { return len(a) }

// Clone returns an independent copy.
func (a Assignees) Clone() Assignees {
	if a == nil {
		return nil
	}
	out := make(Assignees, len(a))
	copy(out, a)
	return out
}

// MarshalJSON always emits an array, never null.
func (a Assignees) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(a))
}

// UnmarshalJSON accepts either an array of identifiers or the delimited
// string form ("alice, bob").
func (a *Assignees) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*a = NewAssignees(list...)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*a = ParseAssignees(s)
	return nil
}
