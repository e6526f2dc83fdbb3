package evidence

import (
	"context"
	"fmt"
	"time"

	"github.com/pintubhai440/secure-recoder/internal/media"
)

// Archiver turns an alert into archived evidence: record the screen, then
// upload the blob.
type Archiver struct {
	// uploader stores recordings.
	uploader Uploader
	// duration is the recording length per incident.
	duration time.Duration
}

// NewArchiver builds an archiver recording for the given duration.
func NewArchiver(uploader Uploader, duration time.Duration) *Archiver {
	return &Archiver{
		uploader: uploader,
		duration: duration,
	}
}

// Archive records the provided screen stream and uploads the result. The
// returned URL is empty only alongside a non-nil error.
func (a *Archiver) Archive(ctx context.Context, screen media.Screen, incidentID string) (string, error) {
	blob, err := screen.Record(ctx, a.duration)
	if err != nil {
		return "", fmt.Errorf("record screen: %w", err)
	}

	name := fmt.Sprintf("incident-%s-%d.webm", incidentID, time.Now().Unix())

	url, err := a.uploader.Upload(ctx, blob, name)
	if err != nil {
		return "", fmt.Errorf("archive recording: %w", err)
	}

	return url, nil
}
