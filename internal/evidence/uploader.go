// Package evidence gathers and archives incident evidence: it records the
// pre-authorized screen stream for a configured duration and uploads the
// resulting blob to the external storage service, yielding the public URL
// stored on the incident record.
package evidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured is returned when the uploader was built without storage
// credentials; calls short-circuit instead of reaching the network.
var ErrNotConfigured = errors.New("evidence storage is not configured")

// Uploader stores an evidence blob and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, blob []byte, name string) (string, error)
}

// recordingMIMEType is the content type of uploaded screen recordings.
const recordingMIMEType = "video/webm"

// StorageUploader uploads blobs to the external object storage over REST.
type StorageUploader struct {
	// baseURL is the storage service root.
	baseURL string
	// bucket receives the evidence objects.
	bucket string
	// apiKey authenticates every request.
	apiKey string
	// httpClient performs the requests.
	httpClient *http.Client
	// disabled short-circuits uploads when credentials are missing.
	disabled bool
}

// NewStorageUploader builds the storage client. Missing URL, bucket, or key
// produce a disabled uploader.
func NewStorageUploader(baseURL, bucket, apiKey string, timeout time.Duration) *StorageUploader {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &StorageUploader{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		bucket:  bucket,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		disabled: baseURL == "" || bucket == "" || apiKey == "",
	}
}

// Configured reports whether the uploader can reach the storage service.
func (u *StorageUploader) Configured() bool {
	return !u.disabled
}

// Upload stores the blob under the given object name and returns its public
// URL.
func (u *StorageUploader) Upload(ctx context.Context, blob []byte, name string) (string, error) {
	if u.disabled {
		return "", ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", u.baseURL, u.bucket, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(blob))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", recordingMIMEType)
	req.Header.Set("Authorization", "Bearer "+u.apiKey)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload evidence: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		payload, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("evidence storage returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", u.baseURL, u.bucket, name), nil
}
