// Package share issues and verifies short-lived capability tokens that
// grant read access to one backup without full authentication.
package share

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vaultis/vaultis/internal/apperr"
)

type claims struct {
	BackupID string `json:"bid"`
	jwt.RegisteredClaims
}

// Signer mints and verifies share grants.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl}
}

// TTL returns the grant lifetime.
func (s *Signer) TTL() time.Duration { return s.ttl }

// Grant binds a backup id to a bearer for the signer's TTL.
func (s *Signer) Grant(backupID, userID string, now time.Time) (string, error) {
	c := claims{
		BackupID: backupID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign share grant: %w", err)
	}
	return signed, nil
}

// Verify checks the token and returns the backup id and owner it grants
// access to. Invalid or expired tokens fail with Forbidden.
func (s *Signer) Verify(tokenString string) (backupID, userID string, err error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", "", apperr.Wrap(apperr.KindForbidden, "share link is invalid or expired", err)
	}
	if c.BackupID == "" {
		return "", "", apperr.New(apperr.KindForbidden, "share link is invalid or expired")
	}
	return c.BackupID, c.Subject, nil
}
