package console

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

// The admin password is stored as a salted iterated hash in the server
// config, encoded as pbkdf2-sha256$<iterations>$<salt>$<key> with
// base64 (raw, url-safe) salt and key.
const (
	hashScheme     = "pbkdf2-sha256"
	hashIterations = 100000
	saltLen        = 16
	keyLen         = 32
)

// HashPassword encodes password for the admin.password_hash config
// key. Each call salts freshly, so encodings of the same password
// differ.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), salt, hashIterations, keyLen, sha256.New)
	enc := base64.RawURLEncoding
	return fmt.Sprintf("%s$%d$%s$%s",
		hashScheme, hashIterations, enc.EncodeToString(salt), enc.EncodeToString(key)), nil
}

// VerifyPassword reports whether password matches the stored encoding.
// Malformed encodings verify as false rather than erroring: a mangled
// config entry must fail login, not crash it.
func VerifyPassword(encoded, password string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != hashScheme {
		return false
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false
	}
	enc := base64.RawURLEncoding
	salt, err := enc.DecodeString(parts[2])
	if err != nil {
		return false
	}
	want, err := enc.DecodeString(parts[3])
	if err != nil || len(want) == 0 {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
