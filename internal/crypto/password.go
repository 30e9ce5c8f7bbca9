package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// AlgorithmPBKDF2SHA256 tags hashes produced by the current scheme so
	// verification stays correct if the default parameters change later.
	AlgorithmPBKDF2SHA256 = "pbkdf2-sha256"

	// DefaultIterations follows the current OWASP recommendation for
	// PBKDF2-HMAC-SHA256.
	DefaultIterations = 600_000

	saltLength = 16
	keyLength  = 32
)

// HashResult is the output of password hashing. All parameters needed for
// verification travel with the hash; the plaintext is never recoverable.
type HashResult struct {
	Algorithm  string
	Iterations int
	Salt       []byte
	Hash       []byte
}

// Encode renders the result as a single storable string:
// algorithm$iterations$salt$hash with base64url-encoded binary parts.
func (h HashResult) Encode() string {
	return fmt.Sprintf("%s$%d$%s$%s",
		h.Algorithm,
		h.Iterations,
		base64.RawURLEncoding.EncodeToString(h.Salt),
		base64.RawURLEncoding.EncodeToString(h.Hash))
}

// DecodeHash parses a string produced by HashResult.Encode.
func DecodeHash(encoded string) (HashResult, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 {
		return HashResult{}, fmt.Errorf("malformed password hash: expected 4 fields, got %d", len(parts))
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return HashResult{}, fmt.Errorf("malformed password hash: bad iteration count %q", parts[1])
	}
	salt, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return HashResult{}, fmt.Errorf("malformed password hash: %w", err)
	}
	hash, err := base64.RawURLEncoding.DecodeString(parts[3])
	if err != nil {
		return HashResult{}, fmt.Errorf("malformed password hash: %w", err)
	}
	return HashResult{Algorithm: parts[0], Iterations: iterations, Salt: salt, Hash: hash}, nil
}

// Hasher derives salted, iterated one-way password hashes.
type Hasher struct {
	iterations int
}

// NewHasher creates a Hasher with the given iteration count. Non-positive
// values fall back to DefaultIterations; configuration load rejects them
// before a Hasher is ever built in production.
func NewHasher(iterations int) *Hasher {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Hasher{iterations: iterations}
}

// Hash derives a fresh hash for the plaintext with a random salt.
func (h *Hasher) Hash(password string) (HashResult, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return HashResult{}, fmt.Errorf("failed to generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), salt, h.iterations, keyLength, sha256.New)
	return HashResult{
		Algorithm:  AlgorithmPBKDF2SHA256,
		Iterations: h.iterations,
		Salt:       salt,
		Hash:       key,
	}, nil
}

// Verify recomputes the hash with the stored parameters and compares in
// constant time. Unknown algorithm tags verify as false, never as an error
// that could leak scheme details.
func (h *Hasher) Verify(password string, stored HashResult) bool {
	if stored.Algorithm != AlgorithmPBKDF2SHA256 || stored.Iterations <= 0 {
		return false
	}
	key := pbkdf2.Key([]byte(password), stored.Salt, stored.Iterations, len(stored.Hash), sha256.New)
	return subtle.ConstantTimeCompare(key, stored.Hash) == 1
}
