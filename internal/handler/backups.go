package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vaultis/vaultis/internal/apperr"
	"github.com/vaultis/vaultis/internal/auth"
	"github.com/vaultis/vaultis/internal/model"
	"github.com/vaultis/vaultis/internal/retention"
	"github.com/vaultis/vaultis/internal/share"
	"github.com/vaultis/vaultis/internal/storage"
	"github.com/vaultis/vaultis/internal/store"
)

// BackupHandler serves backup listings, downloads, deletion, and share
// grants.
type BackupHandler struct {
	backups   *store.BackupStore
	media     *store.MediaFileStore
	collector *retention.Collector
	gateway   *storage.Gateway
	signer    *share.Signer
	baseURL   string
	logger    *slog.Logger
}

func NewBackupHandler(backups *store.BackupStore, media *store.MediaFileStore, collector *retention.Collector, gateway *storage.Gateway, signer *share.Signer, baseURL string, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{
		backups:   backups,
		media:     media,
		collector: collector,
		gateway:   gateway,
		signer:    signer,
		baseURL:   baseURL,
		logger:    logger,
	}
}

// List handles GET /api/backups. Listings go through the retention
// collector so in-flight and expired backups never surface.
func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	backups, err := h.collector.VisibleBackups(r.Context(), userID, time.Now().UTC())
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	if backups == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, backups)
}

// Get handles GET /api/backups/{id}
func (h *BackupHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	b, err := h.loadOwned(r.PathValue("id"), userID)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}

	files, err := h.media.ListByBackup(b.ID)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"backup":      b,
		"media_files": files,
	})
}

// Download handles GET /api/backups/{id}/download
func (h *BackupHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	b, err := h.loadOwned(r.PathValue("id"), userID)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}

	h.presignArchive(w, r, b)
}

// Delete handles DELETE /api/backups/{id}
func (h *BackupHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	if err := h.collector.DeleteBackupAndStorage(r.Context(), r.PathValue("id"), userID); err != nil {
		respondErr(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, nil)
}

// Share handles POST /api/backups/{id}/share
func (h *BackupHandler) Share(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	b, err := h.loadOwned(r.PathValue("id"), userID)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}

	token, err := h.signer.Grant(b.ID, userID, time.Now().UTC())
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	respondOK(w, http.StatusOK, map[string]any{
		"share_url":          h.baseURL + "/share/" + token,
		"expires_in_seconds": int(h.signer.TTL().Seconds()),
	})
}

// ShareRead handles GET /share/{token}, the only unauthenticated read path.
// The grant token carries the backup id and owner; everything else is
// re-verified here.
func (h *BackupHandler) ShareRead(w http.ResponseWriter, r *http.Request) {
	backupID, ownerID, err := h.signer.Verify(r.PathValue("token"))
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}

	b, err := h.loadOwned(backupID, ownerID)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}

	h.presignArchive(w, r, b)
}

// loadOwned fetches a live backup owned by userID. Expired guest backups
// are treated as gone even before the sweeper reaches them.
func (h *BackupHandler) loadOwned(backupID, userID string) (*model.Backup, error) {
	b, err := h.backups.GetByID(backupID)
	if err != nil {
		return nil, err
	}
	if b == nil || b.UserID != userID {
		return nil, apperr.Newf(apperr.KindNotFound, "backup %s not found", backupID)
	}
	if retention.IsExpired(b.Data, time.Now().UnixMilli()) {
		return nil, apperr.Newf(apperr.KindNotFound, "backup %s not found", backupID)
	}
	return b, nil
}

func (h *BackupHandler) presignArchive(w http.ResponseWriter, r *http.Request, b *model.Backup) {
	archivePath, err := h.gateway.ResolveArchivePath(r.Context(), b)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	if archivePath == "" {
		respondErr(w, h.logger, apperr.New(apperr.KindNotFound, "backup has no archive"))
		return
	}

	username, _ := b.Data[model.BackupDataUsername].(string)
	downloadName := username + "-backup.zip"

	url, expires, err := h.gateway.PresignDownload(r.Context(), archivePath, downloadName)
	if err != nil {
		respondErr(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"download_url":       url,
		"expires_in_seconds": expires,
	})
}
