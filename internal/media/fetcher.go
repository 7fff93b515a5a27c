// ABOUTME: Attachment preparation: fetches queued media and produces embeddable items.
// ABOUTME: Validates size, base64-encodes the payload, and computes its MD5 checksum.

package media

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/wecom-gateway/internal/stream"
)

const (
	// DefaultMaxBytes is the platform's cap on an embedded attachment
	// payload before encoding.
	DefaultMaxBytes = 2 << 20 // 2 MiB

	defaultFetchTimeout = 10 * time.Second
)

// Fetcher prepares attachments by downloading their source URLs. It
// implements stream.AttachmentPreparer.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

// NewFetcher creates a Fetcher with the default HTTP timeout and size cap.
func NewFetcher(logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:   &http.Client{Timeout: defaultFetchTimeout},
		maxBytes: DefaultMaxBytes,
		logger:   logger.With("component", "media"),
	}
}

// Prepare downloads the source and returns an embeddable item: base64
// payload plus hex MD5 checksum. Oversized or unreachable sources fail;
// the registry skips failed items and keeps finalizing the rest.
func (f *Fetcher) Prepare(ctx context.Context, src stream.AttachmentSource) (stream.AttachmentItem, error) {
	if src.URL == "" {
		return stream.AttachmentItem{}, fmt.Errorf("media: empty source url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return stream.AttachmentItem{}, fmt.Errorf("media: creating request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return stream.AttachmentItem{}, fmt.Errorf("media: fetching source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stream.AttachmentItem{}, fmt.Errorf("media: fetching source: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return stream.AttachmentItem{}, fmt.Errorf("media: reading source: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return stream.AttachmentItem{}, fmt.Errorf("media: source exceeds %d bytes", f.maxBytes)
	}
	if len(body) == 0 {
		return stream.AttachmentItem{}, fmt.Errorf("media: source is empty")
	}

	sum := md5.Sum(body)
	kind := src.Kind
	if kind == "" {
		kind = "image"
	}

	f.logger.Debug("attachment prepared", "kind", kind, "bytes", len(body))
	return stream.AttachmentItem{
		Type:     kind,
		Payload:  base64.StdEncoding.EncodeToString(body),
		Checksum: hex.EncodeToString(sum[:]),
	}, nil
}
