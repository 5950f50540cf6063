package utils

import (
	"regexp"
	"testing"
)

func TestGenerateSessionID(t *testing.T) {
	id1 := GenerateSessionID()
	id2 := GenerateSessionID()

	if id1 == id2 {
		t.Error("expected different session IDs")
	}

	pattern := regexp.MustCompile(`^[a-z0-9]{12}$`)
	if !pattern.MatchString(id1) {
		t.Errorf("session ID %q does not match expected format", id1)
	}
}

func TestGenerateEndpointID(t *testing.T) {
	id1 := GenerateEndpointID()
	id2 := GenerateEndpointID()

	if id1 == id2 {
		t.Error("expected different endpoint IDs")
	}
	if len(id1) != 36 {
		t.Errorf("expected UUID format, got %q", id1)
	}
}

func TestGenerateDisplayName(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z][a-z]+_[A-Z][a-z]+_[1-9][0-9]{2}$`)

	name := GenerateDisplayName(nil)
	if !pattern.MatchString(name) {
		t.Errorf("display name %q does not match Adjective_Noun_NNN", name)
	}
}

func TestGenerateDisplayName_SkipsTaken(t *testing.T) {
	seen := map[string]bool{}
	first := GenerateDisplayName(nil)
	seen[first] = true

	// A taken predicate rejecting the first pick must still terminate
	// with a different name.
	next := GenerateDisplayName(func(name string) bool {
		return seen[name]
	})
	if next == first {
		t.Errorf("expected a name other than %q", first)
	}
}
