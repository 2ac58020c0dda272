package share

import (
	"testing"
	"time"

	"github.com/vaultis/vaultis/internal/apperr"
)

func TestGrantVerifyRoundTrip(t *testing.T) {
	s := NewSigner("test-secret", time.Hour)

	token, err := s.Grant("backup-1", "user-1", time.Now())
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	backupID, userID, err := s.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if backupID != "backup-1" || userID != "user-1" {
		t.Errorf("got (%q, %q), want (backup-1, user-1)", backupID, userID)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	s := NewSigner("test-secret", time.Hour)

	token, err := s.Grant("backup-1", "user-1", time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	_, _, err = s.Verify(token)
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("kind = %v, want Forbidden", apperr.KindOf(err))
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	token, err := NewSigner("secret-a", time.Hour).Grant("backup-1", "user-1", time.Now())
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	_, _, err = NewSigner("secret-b", time.Hour).Verify(token)
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("kind = %v, want Forbidden", apperr.KindOf(err))
	}
}

func TestVerifyGarbage(t *testing.T) {
	s := NewSigner("test-secret", time.Hour)
	if _, _, err := s.Verify("not-a-token"); apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("kind = %v, want Forbidden", apperr.KindOf(err))
	}
}
