package auth

import (
	"fmt"

	"github.com/alexedwards/argon2id"
)

// phantomHash is a hash of a random throwaway password, verified on login
// misses so unknown identifiers cost the same as wrong passwords.
const phantomHash = "$argon2id$v=19$m=65536,t=3,p=2$c29tZXNhbHR2YWx1ZQ$RdescudvJCsgt3ub+b+dWRWJTmaaJObG"

// Hasher hashes and verifies passwords with argon2id.
type Hasher struct {
	params *argon2id.Params
}

// NewHasher creates a Hasher with the given argon2id parameters.
func NewHasher(memory, iterations uint32, parallelism uint8, saltLen, keyLen uint32) *Hasher {
	return &Hasher{params: &argon2id.Params{
		Memory:      memory,
		Iterations:  iterations,
		Parallelism: parallelism,
		SaltLength:  saltLen,
		KeyLength:   keyLen,
	}}
}

// Hash hashes a password.
func (h *Hasher) Hash(password string) (string, error) {
	hash, err := argon2id.CreateHash(password, h.params)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// Verify checks whether a plaintext password matches the given hash.
func (h *Hasher) Verify(password, hash string) (bool, error) {
	match, err := argon2id.ComparePasswordAndHash(password, hash)
	if err != nil {
		return false, fmt.Errorf("verify password: %w", err)
	}
	return match, nil
}
