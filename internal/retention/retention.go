// Package retention decides when guest backups expire and reclaims their
// rows and object-storage footprint. Owned (unmarked) backups are never
// touched.
package retention

import "github.com/vaultis/vaultis/internal/model"

// IsExpired reports whether the backup's retention metadata marks it as a
// guest backup whose window closed at or before nowMs. It is a pure
// function of the stored data and the caller's clock reading.
func IsExpired(data map[string]any, nowMs int64) bool {
	retention, ok := data[model.BackupDataRetention].(map[string]any)
	if !ok {
		return false
	}
	class, _ := retention[model.RetentionClass].(string)
	if class != model.RetentionClassGuest {
		return false
	}
	expires, ok := numberMs(retention[model.RetentionExpiresAtMs])
	if !ok {
		return false
	}
	return expires <= nowMs
}

// GuestRetention builds the retention metadata for a time-boxed backup.
func GuestRetention(expiresAtMs int64) map[string]any {
	return map[string]any{
		model.RetentionClass:       model.RetentionClassGuest,
		model.RetentionExpiresAtMs: expiresAtMs,
	}
}

// numberMs tolerates the numeric types a JSON round trip can produce.
func numberMs(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
