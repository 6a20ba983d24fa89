// Package gcsuploader archives statements to Google Cloud Storage and fetches
// gs:// inputs to local files.
package gcsuploader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const defaultTimeout = 2 * time.Minute

// Uploader wraps one storage client for the lifetime of the process.
// It assumes Application Default Credentials are configured.
type Uploader struct {
	client  *storage.Client
	bucket  string
	timeout time.Duration
}

// NewUploader creates the storage client. bucket is where Archive writes.
func NewUploader(ctx context.Context, bucket string) (*Uploader, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewUploader: create storage client: %w", err)
	}
	return &Uploader{client: client, bucket: bucket, timeout: defaultTimeout}, nil
}

// Close releases the storage client.
func (u *Uploader) Close() error {
	return u.client.Close()
}

// Archive uploads a statement under a dated object name and returns its gs:// URI.
func (u *Uploader) Archive(ctx context.Context, filePath, sourceFile, requestID string) (string, error) {
	if u.bucket == "" {
		return "", fmt.Errorf("Archive: no bucket configured")
	}
	objectName := ObjectName(time.Now().UTC(), requestID, sourceFile)
	if err := u.UploadFile(ctx, objectName, filePath); err != nil {
		return "", err
	}
	return fmt.Sprintf("gs://%s/%s", u.bucket, objectName), nil
}

// UploadFile uploads a local file to the bucket under the given object name.
func (u *Uploader) UploadFile(ctx context.Context, objectName, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open file %q: %w", filePath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	w := u.client.Bucket(u.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType(filePath)

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy file to GCS writer: %w", err)
	}

	// Close to finalize the upload
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

// FetchToTemp downloads gcsURI into a temporary file that keeps the object's
// extension. The caller removes the file with the returned cleanup.
func (u *Uploader) FetchToTemp(ctx context.Context, gcsURI string) (string, func(), error) {
	bucketName, objectPath, err := ParseGCSURI(gcsURI)
	if err != nil {
		return "", nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	rc, err := u.client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("FetchToTemp: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	f, err := os.CreateTemp("", "statement-*"+path.Ext(objectPath))
	if err != nil {
		return "", nil, fmt.Errorf("FetchToTemp: creating temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }

	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("FetchToTemp: reading bytes: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("FetchToTemp: closing temp file: %w", err)
	}
	return f.Name(), cleanup, nil
}

// ParseGCSURI splits gs://bucket/path/to/object.
func ParseGCSURI(gcsURI string) (bucket, object string, err error) {
	if !IsGCSURI(gcsURI) {
		return "", "", fmt.Errorf("invalid GCS URI: %s", gcsURI)
	}
	parts := strings.SplitN(strings.TrimPrefix(gcsURI, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", gcsURI)
	}
	return parts[0], parts[1], nil
}

// IsGCSURI reports whether s names a Cloud Storage object.
func IsGCSURI(s string) bool {
	return strings.HasPrefix(s, "gs://")
}

// ExtractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// ObjectName builds statements/YYYY/MM/DD/<request id>-<file name>.
func ObjectName(now time.Time, requestID, sourceFile string) string {
	name := filepath.Base(sourceFile)
	if requestID != "" {
		name = requestID + "-" + name
	}
	return path.Join("statements", now.Format("2006/01/02"), name)
}

func contentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".pdf":
		return "application/pdf"
	case ".csv":
		return "text/csv"
	}
	return "application/octet-stream"
}
