// Package uuid provides identifier generation and validation for queued
// mutations.
package uuid

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// MutationPrefix marks identifiers generated for queued mutations.
const MutationPrefix = "mut_"

// UUID v4 format: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// NewMutationID generates a new mutation identifier.
func NewMutationID() string {
	return MutationPrefix + uuid.New().String()
}

// IsValid checks if a string is a valid UUID v4.
func IsValid(s string) bool {
	return uuidV4Regex.MatchString(s)
}

// IsMutationID reports whether s was produced by NewMutationID.
func IsMutationID(s string) bool {
	rest, ok := strings.CutPrefix(s, MutationPrefix)
	return ok && IsValid(rest)
}

// ValidateMutationID returns an error if s is not a mutation identifier.
func ValidateMutationID(s string) error {
	if !IsMutationID(s) {
		return fmt.Errorf("invalid mutation id: %q", s)
	}
	return nil
}
