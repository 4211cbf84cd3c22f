package actor

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
	"golang.org/x/crypto/bcrypt"
)

// HashScheme selects the algorithm for new password hashes.
type HashScheme string

const (
	HashBcrypt   HashScheme = "bcrypt"
	HashArgon2id HashScheme = "argon2id"
)

// HashPassword hashes password with scheme. Unknown schemes use bcrypt.
func HashPassword(scheme HashScheme, password string) (string, error) {
	if scheme == HashArgon2id {
		return argon2id.CreateHash(password, argon2id.DefaultParams)
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword verifies password against a stored hash. The format is taken
// from the hash itself, so accounts keep working when the configured scheme
// changes. Bare 64-character hex digests are unsalted SHA-256 hashes carried
// over from imported accounts.
func CheckPassword(hash, password string) (bool, error) {
	switch {
	case strings.HasPrefix(hash, "$argon2id$"):
		return argon2id.ComparePasswordAndHash(password, hash)
	case strings.HasPrefix(hash, "$2"):
		err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
		if err == bcrypt.ErrMismatchedHashAndPassword {
			return false, nil
		}
		return err == nil, err
	case len(hash) == sha256.Size*2:
		sum := sha256.Sum256([]byte(password))
		return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(strings.ToLower(hash))) == 1, nil
	}
	return false, fmt.Errorf("unrecognised password hash format")
}
