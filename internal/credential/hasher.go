// Package credential hashes and verifies admin passwords with bcrypt.
//
// bcrypt only reads the first 72 bytes of its input, and golang.org/x/crypto
// rejects anything longer. Secrets above that size are truncated before
// hashing and before verifying, so stored digests keep verifying against the
// same truncated form. A secret longer than 72 bytes is therefore equivalent
// to its 72-byte prefix.
package credential

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// MaxSecretBytes is the largest input bcrypt accepts.
const MaxSecretBytes = 72

var ErrInvalidCost = errors.New("bcrypt cost out of range")

// Hasher turns raw passwords into bcrypt digests.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher using the given bcrypt cost. Zero selects bcrypt.DefaultCost.
func NewHasher(cost int) (*Hasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCost, cost)
	}
	return &Hasher{cost: cost}, nil
}

// Hash returns the bcrypt digest of the (possibly truncated) secret.
func (h *Hasher) Hash(secret string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(Truncate(secret)), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether secret matches digest. Malformed digests never match.
func (h *Hasher) Verify(secret, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(Truncate(secret))) == nil
}

// Truncate cuts secret to MaxSecretBytes. When the cut lands inside a
// multi-byte character, the incomplete trailing bytes are dropped rather than
// kept as invalid UTF-8.
func Truncate(secret string) string {
	if len(secret) <= MaxSecretBytes {
		return secret
	}
	return strings.ToValidUTF8(secret[:MaxSecretBytes], "")
}
