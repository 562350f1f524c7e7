// Package joincode generates the shared secrets that admit users to private groups.
package joincode

import (
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet has 32 symbols and leaves out the look-alikes 0, O, 1 and I.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Length is the number of symbols in a join code.
const Length = 8

// Generate returns a new join code drawn from a cryptographically secure source.
func Generate() (string, error) {
	code, err := gonanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("generate join code: %w", err)
	}
	return code, nil
}

// Valid reports whether s has the shape of a join code. Comparison against a
// stored code stays case-sensitive, so lowercase input is not valid.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(Alphabet, r) {
			return false
		}
	}
	return true
}
