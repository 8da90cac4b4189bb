// Package ident mints the identifiers carried by every document and every
// first-class entity (session, probe, channel, epoch, element, DAQ system,
// file navigator, sync rule).
//
// An identifier is an opaque 128-bit value rendered as 32 lowercase hex
// characters. Identifiers are UUIDv7 values with the hyphens removed, so they
// sort by creation time, which helps when reading logs and directory listings.
package ident

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Len is the length of the rendered identifier.
const Len = 32

// ID is a 128-bit identifier.
type ID [16]byte

// New mints a new identifier.
//
// Panics if the system random source fails (should never happen in practice).
func New() ID {
	return ID(uuid.Must(uuid.NewV7()))
}

// NewString mints a new identifier and returns its rendered form.
func NewString() string {
	return New().String()
}

// String renders the identifier as 32 lowercase hex characters.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero identifier.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Parse decodes a rendered identifier. Hyphenated UUID text is accepted too,
// so identifiers minted by other tools can be read back.
func Parse(s string) (ID, error) {
	var id ID
	clean := strings.ReplaceAll(strings.TrimSpace(s), "-", "")
	if len(clean) != Len {
		return id, fmt.Errorf("identifier %q: want %d hex characters, got %d", s, Len, len(clean))
	}
	if _, err := hex.Decode(id[:], []byte(strings.ToLower(clean))); err != nil {
		return id, fmt.Errorf("identifier %q: %w", s, err)
	}
	return id, nil
}

// Valid reports whether s is a well-formed rendered identifier.
func Valid(s string) bool {
	if len(s) != Len {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// Generator mints identifiers. Implemented by UUIDv7Generator (production)
// and FixedGenerator (tests).
type Generator interface {
	Generate() string
}

// UUIDv7Generator mints time-sortable identifiers. It is stateless and safe
// for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a fresh rendered identifier.
func (UUIDv7Generator) Generate() string {
	return NewString()
}

// FixedGenerator returns predetermined identifiers in order.
//
// Panics once all identifiers have been consumed, to catch tests that mint
// more identifiers than they expect.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined identifier.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all identifiers exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
