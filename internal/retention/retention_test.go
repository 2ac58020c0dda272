package retention

import (
	"testing"

	"github.com/vaultis/vaultis/internal/model"
)

func guestData(expiresAtMs int64) map[string]any {
	return map[string]any{
		model.BackupDataRetention: GuestRetention(expiresAtMs),
	}
}

func TestIsExpiredBoundary(t *testing.T) {
	const expires = int64(1_700_000_000_000)

	if IsExpired(guestData(expires), expires-1) {
		t.Error("one millisecond before the window closes the backup is live")
	}
	if !IsExpired(guestData(expires), expires) {
		t.Error("at the expiry instant the backup is expired")
	}
	if !IsExpired(guestData(expires), expires+1) {
		t.Error("after expiry the backup is expired")
	}
}

func TestIsExpiredIgnoresOwnedBackups(t *testing.T) {
	if IsExpired(map[string]any{}, 1) {
		t.Error("backup without retention metadata never expires")
	}
	if IsExpired(map[string]any{
		model.BackupDataRetention: map[string]any{
			model.RetentionClass:       "owned",
			model.RetentionExpiresAtMs: int64(1),
		},
	}, 2) {
		t.Error("non-guest retention class never expires")
	}
}

func TestIsExpiredToleratesJSONNumbers(t *testing.T) {
	// A round trip through the data column produces float64.
	data := map[string]any{
		model.BackupDataRetention: map[string]any{
			model.RetentionClass:       model.RetentionClassGuest,
			model.RetentionExpiresAtMs: float64(1000),
		},
	}
	if !IsExpired(data, 1000) {
		t.Error("float64 expiry should be honored")
	}
	// Malformed expiry is treated as not expired rather than guessed at.
	data[model.BackupDataRetention].(map[string]any)[model.RetentionExpiresAtMs] = "soon"
	if IsExpired(data, 1000) {
		t.Error("non-numeric expiry should never expire a backup")
	}
}
