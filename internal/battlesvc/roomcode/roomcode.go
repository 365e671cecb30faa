// Package roomcode generates the short join codes players type to enter
// a battle. Codes are random, never sequential, so active rooms cannot
// be enumerated. Collision handling belongs to the matchmaking service,
// which retries generation; the generator itself is stateless.
package roomcode

import (
	"crypto/rand"
	"fmt"
	"io"
)

// Alphabet drops 0/O and 1/I/L so codes survive being read aloud or
// typed from a phone screen.
const Alphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// Length of every generated code.
const Length = 6

type Generator struct {
	src io.Reader
}

// New returns a generator backed by crypto/rand.
func New() *Generator {
	return &Generator{src: rand.Reader}
}

// NewWithSource returns a generator reading randomness from src. Tests
// pass a seeded math/rand reader to get deterministic codes.
func NewWithSource(src io.Reader) *Generator {
	return &Generator{src: src}
}

// Generate returns one code of Length characters from Alphabet.
func (g *Generator) Generate() (string, error) {
	buf := make([]byte, Length)
	if _, err := io.ReadFull(g.src, buf); err != nil {
		return "", fmt.Errorf("roomcode: read random source: %w", err)
	}

	code := make([]byte, Length)
	for i, b := range buf {
		code[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(code), nil
}

// Valid reports whether code has the expected length and alphabet. Used
// to reject malformed join requests before hitting the store.
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		found := false
		for j := 0; j < len(Alphabet); j++ {
			if code[i] == Alphabet[j] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
