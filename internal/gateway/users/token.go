package users

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	tokenIterations = 10000
	tokenKeyLength  = 512
	tokenSaltLength = 32
)

// GenerateToken derives a new random access token for a user.
func GenerateToken(username string, created time.Time) (string, error) {
	salt := make([]byte, tokenSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, "error generating token salt")
	}
	password := []byte(username + created.UTC().Format(time.RFC3339Nano))
	key := pbkdf2.Key(password, salt, tokenIterations, tokenKeyLength, sha512.New)
	return hex.EncodeToString(key), nil
}
