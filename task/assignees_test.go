package task

import (
	"encoding/json"
	"testing"
)

func TestParseAssignees(t *testing.T) {
	a := ParseAssignees(" alice, bob ,,alice,carol ")
	if got := a.String(); got != "alice,bob,carol" {
		t.Errorf("String() = %q, want alice,bob,carol", got)
	}
	if a.Len() != 3 {
		t.Errorf("Len() = %d, want 3", a.Len())
	}
	if empty := ParseAssignees(""); empty.Len() != 0 {
		t.Errorf("empty input produced %v", empty)
	}
}

func TestAssignees_ContainsIsExact(t *testing.T) {
	a := ParseAssignees("alice, bob")
	tests := []struct {
		id   string
		want bool
	}{
		{"bob", true},
		{" bob ", true},
		{"alice", true},
		{"bo", false},
		{"ali", false},
		{"alice, bob", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := a.Contains(tt.id); got != tt.want {
			t.Errorf("Contains(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestAssignees_JSON(t *testing.T) {
	var fromString struct {
		A Assignees `json:"a"`
	}
	if err := json.Unmarshal([]byte(`{"a":"alice, bob"}`), &fromString); err != nil {
		t.Fatalf("unmarshal string form: %v", err)
	}
	if !fromString.A.Contains("bob") || fromString.A.Len() != 2 {
		t.Errorf("string form decoded to %v", fromString.A)
	}

	var fromArray struct {
		A Assignees `json:"a"`
	}
	if err := json.Unmarshal([]byte(`{"a":[" carol ","dave"]}`), &fromArray); err != nil {
		t.Fatalf("unmarshal array form: %v", err)
	}
	if fromArray.A.String() != "carol,dave" {
		t.Errorf("array form decoded to %v", fromArray.A)
	}

	out, err := json.Marshal(struct {
		A Assignees `json:"a"`
	}{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"a":[]}` {
		t.Errorf("nil set marshalled as %s", out)
	}
}

func TestAssignees_ArrayElementsAreSplit(t *testing.T) {
	var in struct {
		A Assignees `json:"a"`
	}
	if err := json.Unmarshal([]byte(`{"a":["alice,bob","bob, carol"]}`), &in); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := in.A.String(); got != "alice,bob,carol" {
		t.Errorf("decoded to %q, want alice,bob,carol", got)
	}
	if !in.A.Contains("alice") {
		t.Error("alice missing from decoded set")
	}
	if got := NewAssignees("dave,erin", "dave").String(); got != "dave,erin" {
		t.Errorf("NewAssignees = %q, want dave,erin", got)
	}
}
