// ABOUTME: Tests for the attachment fetcher.
// ABOUTME: Covers successful preparation, size limits, and fetch failures.

package media

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wecom-gateway/internal/stream"
)

func TestFetcher_Prepare(t *testing.T) {
	payload := []byte("fake image bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f := NewFetcher(nil)
	item, err := f.Prepare(context.Background(), stream.AttachmentSource{Kind: "image", URL: srv.URL})
	require.NoError(t, err)

	assert.Equal(t, "image", item.Type)
	assert.Equal(t, base64.StdEncoding.EncodeToString(payload), item.Payload)

	sum := md5.Sum(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), item.Checksum)
}

func TestFetcher_DefaultsKindToImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	f := NewFetcher(nil)
	item, err := f.Prepare(context.Background(), stream.AttachmentSource{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "image", item.Type)
}

func TestFetcher_RejectsOversizedSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 1024)))
	}))
	defer srv.Close()

	f := NewFetcher(nil)
	f.maxBytes = 512

	_, err := f.Prepare(context.Background(), stream.AttachmentSource{URL: srv.URL})
	assert.ErrorContains(t, err, "exceeds")
}

func TestFetcher_RejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(nil)
	_, err := f.Prepare(context.Background(), stream.AttachmentSource{URL: srv.URL})
	assert.ErrorContains(t, err, "status 404")
}

func TestFetcher_RejectsEmptyURL(t *testing.T) {
	f := NewFetcher(nil)
	_, err := f.Prepare(context.Background(), stream.AttachmentSource{})
	assert.ErrorContains(t, err, "empty source url")
}

func TestFetcher_RejectsEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	f := NewFetcher(nil)
	_, err := f.Prepare(context.Background(), stream.AttachmentSource{URL: srv.URL})
	assert.ErrorContains(t, err, "empty")
}
