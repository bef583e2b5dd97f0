package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// MinimumIterations is the lowest PBKDF2 iteration count considered safe.
	MinimumIterations = 32000
	// DefaultSaltLength is the length in bytes of newly generated salts.
	DefaultSaltLength = 16
	// HashLength is the length in bytes of a password hash.
	HashLength = 32
)

// HashPassword derives a password hash with PBKDF2-HMAC-SHA256.
func HashPassword(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, HashLength, sha256.New)
}

// GenerateSalt returns n random bytes.
func GenerateSalt(n int) ([]byte, error) {
	salt := make([]byte, n)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// EncodeHex returns the upper case hex form used for stored hashes and salts.
func EncodeHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// DecodeHex accepts hex in either case.
func DecodeHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// Hasher hashes and verifies passwords with a fixed iteration count.
type Hasher struct {
	Iterations int
	// Hash and salt checked against when the account does not exist, so that
	// a missing account costs the same as a wrong password.
	dummySalt []byte
	dummyHash []byte
}

// NewHasher returns a Hasher, warning through logger when iterations is below
// MinimumIterations.
func NewHasher(logger *logrus.Logger, iterations int) (*Hasher, error) {
	if iterations < MinimumIterations {
		logger.Warnf("password hash iteration count %d is below the recommended minimum of %d",
			iterations, MinimumIterations)
	}
	if iterations < 1 {
		return nil, fmt.Errorf("invalid password hash iteration count %d", iterations)
	}

	salt, err := GenerateSalt(DefaultSaltLength)
	if err != nil {
		return nil, err
	}
	return &Hasher{
		Iterations: iterations,
		dummySalt:  salt,
		dummyHash:  HashPassword("", salt, iterations),
	}, nil
}

// Hash generates a new salt and returns the hex encoded hash and salt for password.
func (h *Hasher) Hash(password string) (hashHex, saltHex string, err error) {
	salt, err := GenerateSalt(DefaultSaltLength)
	if err != nil {
		return "", "", err
	}
	return EncodeHex(HashPassword(password, salt, h.Iterations)), EncodeHex(salt), nil
}

// Verify reports whether password matches the stored hex hash and salt.
// Malformed stored values never match.
func (h *Hasher) Verify(password, hashHex, saltHex string) bool {
	salt, err := DecodeHex(saltHex)
	if err != nil {
		h.VerifyDummy(password)
		return false
	}
	expected, err := DecodeHex(hashHex)
	if err != nil {
		h.VerifyDummy(password)
		return false
	}
	got := HashPassword(password, salt, h.Iterations)
	return subtle.ConstantTimeCompare(expected, got) == 1
}

// VerifyDummy spends the same work as Verify without any account.
func (h *Hasher) VerifyDummy(password string) {
	got := HashPassword(password, h.dummySalt, h.Iterations)
	subtle.ConstantTimeCompare(h.dummyHash, got)
}
