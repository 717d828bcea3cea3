package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
)

const tokenPrefix = "exs_"

// minSecretLen rejects secrets short enough to guess
const minSecretLen = 16

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrInvalidToken  = errors.New("invalid token format")
)

// Store holds the accepted bearer tokens, keyed by secret digest
type Store struct {
	mu     sync.RWMutex
	tokens map[[sha256.Size]byte]Token
}

// NewStore creates an empty token store
func NewStore() *Store {
	return &Store{tokens: make(map[[sha256.Size]byte]Token)}
}

// Add accepts secret with the given name and scope
func (s *Store) Add(secret string, t Token) error {
	if len(secret) < minSecretLen {
		return fmt.Errorf("%w: token %q is shorter than %d characters", ErrInvalidToken, t.Name, minSecretLen)
	}
	if !ValidScope(t.Scope) {
		return fmt.Errorf("%w: token %q has unknown scope %q", ErrInvalidToken, t.Name, t.Scope)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[sha256.Sum256([]byte(secret))] = t
	return nil
}

// ValidateToken returns the token for secret
func (s *Store) ValidateToken(secret string) (*Token, error) {
	if secret == "" {
		return nil, ErrInvalidToken
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[sha256.Sum256([]byte(secret))]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return &t, nil
}

// Len returns the number of accepted tokens
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// GenerateToken returns a new random secret suitable for Add
func GenerateToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return tokenPrefix + hex.EncodeToString(b), nil
}

func maskToken(secret string) string {
	if len(secret) <= 12 {
		return "***"
	}
	return secret[:8] + "..." + secret[len(secret)-4:]
}
