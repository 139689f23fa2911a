// Package serial generates human-readable ticket serials of the form
// PPP-XXXX-XXXX-XXXX and the short tags gate devices stamp on redemptions.
package serial

import (
	"fmt"
	"regexp"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet leaves out 0 and O, which staff confuse when typing serials by hand.
const Alphabet = "ABCDEFGHIJKLMNPQRSTUVWXYZ123456789"

const (
	prefixLen = 3
	groupLen  = 4
	groups    = 3
)

var pattern = regexp.MustCompile(`^[A-Z0-9]{3}(-[` + Alphabet + `]{4}){3}$`)

// New returns a random serial for the given ticket type. Serials are unique
// with overwhelming probability only; the store's primary key is the real guard.
func New(typeName string) (string, error) {
	var b strings.Builder
	b.Grow(prefixLen + groups*(groupLen+1))
	b.WriteString(Prefix(typeName))
	for i := 0; i < groups; i++ {
		part, err := RandomChars(groupLen)
		if err != nil {
			return "", err
		}
		b.WriteByte('-')
		b.WriteString(part)
	}
	return b.String(), nil
}

// Prefix is the first three characters of the upper-cased type name,
// padded with X when the name is shorter.
func Prefix(typeName string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(typeName)) {
		if b.Len() == prefixLen {
			break
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	for b.Len() < prefixLen {
		b.WriteByte('X')
	}
	return b.String()
}

// DeviceTag returns a GATE-XXXX identifier for a scanning device.
func DeviceTag() (string, error) {
	part, err := RandomChars(groupLen)
	if err != nil {
		return "", err
	}
	return "GATE-" + part, nil
}

// RandomChars draws n characters uniformly from Alphabet.
func RandomChars(n int) (string, error) {
	s, err := gonanoid.Generate(Alphabet, n)
	if err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return s, nil
}

// Normalize cleans up a manually entered serial.
func Normalize(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Valid reports whether s has the serial shape.
func Valid(s string) bool {
	return pattern.MatchString(s)
}
