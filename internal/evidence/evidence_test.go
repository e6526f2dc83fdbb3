package evidence

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestUploadReturnsPublicURL checks the request shape and URL construction.
func TestUploadReturnsPublicURL(t *testing.T) {
	t.Parallel()

	var uploadedPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.Equal(t, "video/webm", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Equal(t, []byte{1, 2, 3}, body)

		uploadedPath = r.URL.Path

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	uploader := NewStorageUploader(server.URL, "evidence", "secret", time.Second)
	require.True(t, uploader.Configured())

	url, err := uploader.Upload(context.Background(), []byte{1, 2, 3}, "incident-1.webm")
	require.NoError(t, err)
	require.Equal(t, "/storage/v1/object/evidence/incident-1.webm", uploadedPath)
	require.Equal(t, server.URL+"/storage/v1/object/public/evidence/incident-1.webm", url)
}

// TestUploadErrorStatus surfaces non-2xx responses.
func TestUploadErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bucket not found", http.StatusNotFound)
	}))
	defer server.Close()

	uploader := NewStorageUploader(server.URL, "evidence", "secret", time.Second)

	_, err := uploader.Upload(context.Background(), []byte{1}, "x.webm")
	require.ErrorContains(t, err, "404")
}

// TestUploaderNotConfigured short-circuits without network access.
func TestUploaderNotConfigured(t *testing.T) {
	t.Parallel()

	uploader := NewStorageUploader("", "", "", time.Second)
	require.False(t, uploader.Configured())

	_, err := uploader.Upload(context.Background(), []byte{1}, "x.webm")
	require.ErrorIs(t, err, ErrNotConfigured)
}

// stubScreen returns a fixed blob or error.
type stubScreen struct {
	blob []byte
	err  error
}

func (s *stubScreen) Record(context.Context, time.Duration) ([]byte, error) {
	return s.blob, s.err
}

func (s *stubScreen) Close() error {
	return nil
}

// stubUploader records its input and returns a fixed URL or error.
type stubUploader struct {
	url  string
	err  error
	name string
	blob []byte
}

func (s *stubUploader) Upload(_ context.Context, blob []byte, name string) (string, error) {
	s.blob = blob
	s.name = name

	return s.url, s.err
}

// TestArchiverRecordsAndUploads wires recording into upload.
func TestArchiverRecordsAndUploads(t *testing.T) {
	t.Parallel()

	uploader := &stubUploader{url: "https://x/y"}
	archiver := NewArchiver(uploader, time.Second)

	url, err := archiver.Archive(context.Background(), &stubScreen{blob: []byte{7}}, "42")
	require.NoError(t, err)
	require.Equal(t, "https://x/y", url)
	require.Equal(t, []byte{7}, uploader.blob)
	require.True(t, strings.HasPrefix(uploader.name, "incident-42-"))
	require.True(t, strings.HasSuffix(uploader.name, ".webm"))
}

// TestArchiverPropagatesFailures reports recording and upload errors.
func TestArchiverPropagatesFailures(t *testing.T) {
	t.Parallel()

	errRecording := errors.New("capture denied")

	archiver := NewArchiver(&stubUploader{url: "https://x/y"}, time.Second)

	_, err := archiver.Archive(context.Background(), &stubScreen{err: errRecording}, "42")
	require.ErrorIs(t, err, errRecording)

	errUpload := errors.New("storage down")

	archiver = NewArchiver(&stubUploader{err: errUpload}, time.Second)

	_, err = archiver.Archive(context.Background(), &stubScreen{blob: []byte{1}}, "42")
	require.ErrorIs(t, err, errUpload)
}
