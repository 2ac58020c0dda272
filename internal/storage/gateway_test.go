package storage

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/vaultis/vaultis/internal/apperr"
	"github.com/vaultis/vaultis/internal/model"
)

type fakeS3 struct {
	objects map[string][]byte
	deleted []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	unescaped, err := url.PathUnescape(*in.CopySource)
	if err != nil {
		return nil, err
	}
	src := strings.TrimPrefix(unescaped, "test-bucket/")
	data, ok := f.objects[src]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.objects[*in.Key] = data
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &types.NoSuchKey{}
	}
	delete(f.objects, *in.Key)
	f.deleted = append(f.deleted, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	for _, obj := range in.Delete.Objects {
		delete(f.objects, *obj.Key)
		f.deleted = append(f.deleted, *obj.Key)
	}
	return &s3.DeleteObjectsOutput{}, nil
}

type fakePresign struct{}

func (fakePresign) PresignPutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: "https://signed.example/put/" + *in.Key}, nil
}

func (fakePresign) PresignGetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: "https://signed.example/get/" + *in.Key}, nil
}

func newTestGateway(client *fakeS3) *Gateway {
	return NewGateway(GatewayConfig{
		MaxUploadBytes: 1000,
		QuotaBytes:     5000,
	}, "test-bucket", client, fakePresign{}, slog.Default())
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"archive.zip", "archive.zip"},
		{"my archive (1).zip", "myarchive1.zip"},
		{"../../etc/passwd", "passwd"},
		{"..", "upload"},
		{"", "upload"},
		{"spaces and/slashes.zip", "slashes.zip"},
	}
	for _, tt := range tests {
		if got := SanitizeFileName(tt.in); got != tt.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnsureUserScopedStagedPath(t *testing.T) {
	valid := "user-1/job-inputs/abc-archive.zip"
	if err := EnsureUserScopedStagedPath(valid, "user-1"); err != nil {
		t.Errorf("valid path rejected: %v", err)
	}

	rejected := []struct {
		name, path, user string
	}{
		{"other tenant", "user-2/job-inputs/abc.zip", "user-1"},
		{"traversal", "user-1/job-inputs/../../user-2/archives/b.zip", "user-1"},
		{"absolute", "/user-1/job-inputs/abc.zip", "user-1"},
		{"bare prefix", "user-1/job-inputs/", "user-1"},
		{"empty user", "user-1/job-inputs/abc.zip", ""},
		{"outside staging area", "user-1/archives/b.zip", "user-1"},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			err := EnsureUserScopedStagedPath(tt.path, tt.user)
			if apperr.KindOf(err) != apperr.KindInvalidPath {
				t.Errorf("kind = %v, want InvalidPath", apperr.KindOf(err))
			}
		})
	}
}

func TestPresignUploadValidation(t *testing.T) {
	g := newTestGateway(newFakeS3())
	ctx := context.Background()

	tests := []struct {
		name     string
		fileName string
		size     int64
		mime     string
		used     int64
		wantKind apperr.Kind
	}{
		{"missing name", "", 10, "", 0, apperr.KindBadRequest},
		{"zero size", "a.zip", 0, "", 0, apperr.KindBadRequest},
		{"too large", "a.zip", 2000, "", 0, apperr.KindPayloadTooLarge},
		{"quota exceeded", "a.zip", 500, "", 4800, apperr.KindPayloadTooLarge},
		{"bad extension", "a.exe", 10, "", 0, apperr.KindBadRequest},
		{"bad mime", "a.zip", 10, "text/html", 0, apperr.KindBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.PresignUpload(ctx, "user-1", tt.fileName, tt.size, tt.mime, tt.used)
			if apperr.KindOf(err) != tt.wantKind {
				t.Errorf("kind = %v, want %v", apperr.KindOf(err), tt.wantKind)
			}
		})
	}
}

func TestPresignUploadSuccess(t *testing.T) {
	g := newTestGateway(newFakeS3())

	got, err := g.PresignUpload(context.Background(), "user-1", "archive.zip", 500, "application/zip", 0)
	if err != nil {
		t.Fatalf("presign upload: %v", err)
	}
	if !strings.HasPrefix(got.StagedPath, "user-1/job-inputs/") {
		t.Errorf("staged path %q not scoped to user", got.StagedPath)
	}
	if !strings.HasSuffix(got.StagedPath, "-archive.zip") {
		t.Errorf("staged path %q should end with the sanitized name", got.StagedPath)
	}
	if got.UploadURL == "" {
		t.Error("expected a signed URL")
	}
	if err := EnsureUserScopedStagedPath(got.StagedPath, "user-1"); err != nil {
		t.Errorf("issued path fails its own scope check: %v", err)
	}
}

func TestDiscardIsIdempotent(t *testing.T) {
	client := newFakeS3()
	client.objects["user-1/job-inputs/abc-a.zip"] = []byte("data")
	g := newTestGateway(client)
	ctx := context.Background()

	if err := g.Discard(ctx, "user-1/job-inputs/abc-a.zip"); err != nil {
		t.Fatalf("first discard: %v", err)
	}
	// The object is gone now; a retried discard still succeeds.
	if err := g.Discard(ctx, "user-1/job-inputs/abc-a.zip"); err != nil {
		t.Fatalf("second discard: %v", err)
	}
}

func TestObjectStat(t *testing.T) {
	client := newFakeS3()
	client.objects["u/archives/b.zip"] = []byte("12345")
	g := newTestGateway(client)

	exists, size, err := g.ObjectStat(context.Background(), "u/archives/b.zip")
	if err != nil || !exists || size != 5 {
		t.Errorf("got (%v, %d, %v), want (true, 5, nil)", exists, size, err)
	}

	exists, _, err = g.ObjectStat(context.Background(), "u/archives/missing.zip")
	if err != nil || exists {
		t.Errorf("missing object: got (%v, %v), want (false, nil)", exists, err)
	}
}

func TestResolveArchivePathPrecedence(t *testing.T) {
	client := newFakeS3()
	g := newTestGateway(client)
	ctx := context.Background()

	// Column wins.
	b := &model.Backup{ID: "b1", UserID: "u1", ArchiveFilePath: "col/path.zip"}
	if got, _ := g.ResolveArchivePath(ctx, b); got != "col/path.zip" {
		t.Errorf("got %q, want column path", got)
	}

	// Embedded data path next.
	b = &model.Backup{ID: "b1", UserID: "u1", Data: map[string]any{
		model.BackupDataArchiveFilePath: "data/path.zip",
	}}
	if got, _ := g.ResolveArchivePath(ctx, b); got != "data/path.zip" {
		t.Errorf("got %q, want embedded path", got)
	}

	// Canonical path only if the object actually exists.
	b = &model.Backup{ID: "b1", UserID: "u1", Data: map[string]any{}}
	if got, _ := g.ResolveArchivePath(ctx, b); got != "" {
		t.Errorf("got %q, want empty for missing canonical object", got)
	}
	client.objects["u1/archives/b1.zip"] = []byte("zip")
	if got, _ := g.ResolveArchivePath(ctx, b); got != "u1/archives/b1.zip" {
		t.Errorf("got %q, want canonical path", got)
	}
}

func TestCopyAndDeleteAll(t *testing.T) {
	client := newFakeS3()
	client.objects["u1/job-inputs/x-a.zip"] = []byte("zipdata")
	g := newTestGateway(client)
	ctx := context.Background()

	if err := g.Copy(ctx, "u1/job-inputs/x-a.zip", "u1/archives/b1.zip"); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if _, ok := client.objects["u1/archives/b1.zip"]; !ok {
		t.Fatal("copy did not create the destination object")
	}

	if err := g.DeleteAll(ctx, []string{"u1/job-inputs/x-a.zip", "u1/archives/b1.zip"}); err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if len(client.objects) != 0 {
		t.Errorf("objects remain after DeleteAll: %v", client.objects)
	}
}
