package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/vaultis/vaultis/internal/apperr"
	"github.com/vaultis/vaultis/internal/model"
)

// GatewayConfig bounds what the intake gateway accepts and signs.
type GatewayConfig struct {
	MaxUploadBytes    int64
	QuotaBytes        int64
	AllowedExtensions []string
	AllowedMIMETypes  []string
	UploadExpiry      time.Duration
	DownloadExpiry    time.Duration
}

func (c *GatewayConfig) applyDefaults() {
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = 2 << 30 // 2 GiB
	}
	if c.QuotaBytes == 0 {
		c.QuotaBytes = 10 << 30
	}
	if len(c.AllowedExtensions) == 0 {
		c.AllowedExtensions = []string{".zip"}
	}
	if len(c.AllowedMIMETypes) == 0 {
		c.AllowedMIMETypes = []string{"application/zip", "application/x-zip-compressed", "application/octet-stream"}
	}
	if c.UploadExpiry == 0 {
		c.UploadExpiry = 15 * time.Minute
	}
	if c.DownloadExpiry == 0 {
		c.DownloadExpiry = time.Hour
	}
}

// Gateway issues time-boxed presigned URLs and guards staged object paths.
type Gateway struct {
	cfg     GatewayConfig
	bucket  string
	client  s3API
	presign presignAPI
	logger  *slog.Logger
}

func NewGateway(cfg GatewayConfig, bucket string, client s3API, presign presignAPI, logger *slog.Logger) *Gateway {
	cfg.applyDefaults()
	return &Gateway{
		cfg:     cfg,
		bucket:  bucket,
		client:  client,
		presign: presign,
		logger:  logger,
	}
}

// PresignedUpload is what the upload wizard needs to stage an archive.
type PresignedUpload struct {
	UploadURL        string `json:"upload_url"`
	StagedPath       string `json:"staged_path"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

// PresignUpload validates the request and signs a PUT URL for a staged,
// user-namespaced object path. usedBytes is the caller's current storage
// footprint; the projected total must stay within the per-account quota.
func (g *Gateway) PresignUpload(ctx context.Context, userID, fileName string, fileSize int64, fileType string, usedBytes int64) (*PresignedUpload, error) {
	if fileName == "" {
		return nil, apperr.New(apperr.KindBadRequest, "file name is required")
	}
	if fileSize <= 0 {
		return nil, apperr.New(apperr.KindBadRequest, "file size must be positive")
	}
	if fileSize > g.cfg.MaxUploadBytes {
		return nil, apperr.Newf(apperr.KindPayloadTooLarge, "file exceeds maximum upload size of %d bytes", g.cfg.MaxUploadBytes)
	}
	if usedBytes+fileSize > g.cfg.QuotaBytes {
		return nil, apperr.New(apperr.KindPayloadTooLarge, "account storage quota exceeded")
	}
	if !g.extensionAllowed(fileName) {
		return nil, apperr.Newf(apperr.KindBadRequest, "file type not allowed: %s", path.Ext(fileName))
	}
	if fileType != "" && !g.mimeAllowed(fileType) {
		return nil, apperr.Newf(apperr.KindBadRequest, "content type not allowed: %s", fileType)
	}

	staged := StagedPath(userID, fileName)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(g.bucket),
		Key:           aws.String(staged),
		ContentLength: aws.Int64(fileSize),
	}
	if fileType != "" {
		input.ContentType = aws.String(fileType)
	}
	req, err := g.presign.PresignPutObject(ctx, input, func(o *s3.PresignOptions) {
		o.Expires = g.cfg.UploadExpiry
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "failed to prepare upload", fmt.Errorf("presign put %s: %w", staged, err))
	}

	return &PresignedUpload{
		UploadURL:        req.URL,
		StagedPath:       staged,
		ExpiresInSeconds: int(g.cfg.UploadExpiry.Seconds()),
	}, nil
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeFileName strips every character outside [A-Za-z0-9._-].
func SanitizeFileName(name string) string {
	name = path.Base(name)
	name = unsafeFileChars.ReplaceAllString(name, "")
	if name == "" || name == "." || name == ".." {
		name = "upload"
	}
	return name
}

// StagedPath builds the user-namespaced staging key for an upload.
func StagedPath(userID, fileName string) string {
	return fmt.Sprintf("%s/job-inputs/%s-%s", userID, uuid.NewString(), SanitizeFileName(fileName))
}

// EnsureUserScopedStagedPath rejects any staged path whose leading segment
// is not the caller's user id. It is the guard between the discard endpoint
// and cross-tenant deletion.
func EnsureUserScopedStagedPath(stagedPath, userID string) error {
	clean := path.Clean(stagedPath)
	if clean != stagedPath || strings.HasPrefix(clean, "/") || strings.HasPrefix(clean, "..") {
		return apperr.New(apperr.KindInvalidPath, "invalid staged path")
	}
	prefix := userID + "/job-inputs/"
	if userID == "" || !strings.HasPrefix(clean, prefix) || len(clean) == len(prefix) {
		return apperr.New(apperr.KindInvalidPath, "staged path is not scoped to this account")
	}
	return nil
}

// Discard deletes a staged object. Deleting a missing object is not an
// error, so a retried discard succeeds.
func (g *Gateway) Discard(ctx context.Context, stagedPath string) error {
	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(stagedPath),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil
		}
		return apperr.Wrap(apperr.KindUpstream, "failed to discard upload", fmt.Errorf("delete %s: %w", stagedPath, err))
	}
	return nil
}

// ObjectStat reports whether an object exists and how large it is.
func (g *Gateway) ObjectStat(ctx context.Context, objectPath string) (bool, int64, error) {
	out, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(objectPath),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("head %s: %w", objectPath, err)
	}
	var size int64
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return true, size, nil
}

// Download streams an object's contents. The caller owns the reader.
func (g *Gateway) Download(ctx context.Context, objectPath string) (io.ReadCloser, int64, error) {
	out, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(objectPath),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w", objectPath, err)
	}
	var size int64
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}

// Copy copies an object within the bucket.
func (g *Gateway) Copy(ctx context.Context, src, dst string) error {
	_, err := g.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(g.bucket),
		CopySource: aws.String(url.PathEscape(g.bucket + "/" + src)),
		Key:        aws.String(dst),
	})
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return nil
}

// DeleteAll removes the given objects in one batch call. Missing objects are
// not errors; S3 treats their deletion as a success.
func (g *Gateway) DeleteAll(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	objects := make([]types.ObjectIdentifier, 0, len(paths))
	for _, p := range paths {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(p)})
	}
	_, err := g.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(g.bucket),
		Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return fmt.Errorf("delete %d objects: %w", len(paths), err)
	}
	return nil
}

// CanonicalArchivePath is the derived archive location used when the column
// is absent (schema drift from rows written before the column existed).
func CanonicalArchivePath(userID, backupID string) string {
	return fmt.Sprintf("%s/archives/%s.zip", userID, backupID)
}

// ResolveArchivePath finds the backup's archive object: the stored column
// wins, then the path embedded in the data document, then the canonical path
// probed for existence. Returns "" when no archive object can be found.
func (g *Gateway) ResolveArchivePath(ctx context.Context, b *model.Backup) (string, error) {
	if b.ArchiveFilePath != "" {
		return b.ArchiveFilePath, nil
	}
	if embedded, _ := b.Data[model.BackupDataArchiveFilePath].(string); embedded != "" {
		return embedded, nil
	}
	canonical := CanonicalArchivePath(b.UserID, b.ID)
	exists, _, err := g.ObjectStat(ctx, canonical)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", nil
	}
	return canonical, nil
}

// PresignDownload signs a short-lived GET URL with a suggested filename.
func (g *Gateway) PresignDownload(ctx context.Context, objectPath, downloadName string) (string, int, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(objectPath),
	}
	if downloadName != "" {
		disposition := fmt.Sprintf("attachment; filename=%q", SanitizeFileName(downloadName))
		input.ResponseContentDisposition = aws.String(disposition)
	}
	req, err := g.presign.PresignGetObject(ctx, input, func(o *s3.PresignOptions) {
		o.Expires = g.cfg.DownloadExpiry
	})
	if err != nil {
		return "", 0, apperr.Wrap(apperr.KindUpstream, "failed to prepare download", fmt.Errorf("presign get %s: %w", objectPath, err))
	}
	return req.URL, int(g.cfg.DownloadExpiry.Seconds()), nil
}

func (g *Gateway) extensionAllowed(fileName string) bool {
	ext := strings.ToLower(path.Ext(fileName))
	for _, allowed := range g.cfg.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

func (g *Gateway) mimeAllowed(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	for _, allowed := range g.cfg.AllowedMIMETypes {
		if mime == allowed {
			return true
		}
	}
	return false
}
