// Package auth issues and checks the opaque bearer tokens guarding
// governance mutations. Login is a shared admin credential; tokens live in
// Redis with a 12 hour TTL so revocation is a key delete.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const tokenTTL = 12 * time.Hour

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// Service validates credentials and manages tokens.
type Service struct {
	rdb      *redis.Client
	username string
	password string
}

func NewService(rdb *redis.Client, username, password string) *Service {
	return &Service{rdb: rdb, username: username, password: password}
}

// Enabled reports whether admin credentials were configured. Without them
// governance mutations are rejected outright.
func (s *Service) Enabled() bool {
	return s.username != "" && s.password != ""
}

// Login checks the shared credential in constant time and issues a token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	if !s.Enabled() {
		return "", ErrInvalidCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1
	if !userOK || !passOK {
		return "", ErrInvalidCredentials
	}

	token := uuid.NewString()
	if err := s.rdb.Set(ctx, "auth:token:"+token, username, tokenTTL).Err(); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

// Verify checks a bearer token against the store.
func (s *Service) Verify(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	err := s.rdb.Get(ctx, "auth:token:"+token).Err()
	if err == redis.Nil {
		return ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	return nil
}

// Middleware rejects requests lacking a valid Authorization: Bearer token.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header { // prefix absent
			token = ""
		}
		if err := s.Verify(r.Context(), token); err != nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
