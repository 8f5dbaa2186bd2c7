package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Lllllllleong/assetmanifest/internal/apperrors"
	"github.com/Lllllllleong/assetmanifest/internal/blobstore"
	"github.com/Lllllllleong/assetmanifest/internal/manifest"
)

const (
	maxPutRetries  = 4
	initialBackoff = 500 * time.Millisecond
	maxFetchBytes  = 64 << 20
)

// fetchBytes reads url from the blob store when it lives there, and over HTTP otherwise.
func (s *Service) fetchBytes(ctx context.Context, url string) ([]byte, error) {
	if _, ok := s.blobs.PathFor(url); ok {
		data, err := s.blobs.Get(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", url, err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.Invalid("url", err.Error())
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &apperrors.UpstreamFetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &apperrors.UpstreamFetchError{URL: url, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body of %s: %w", url, err)
	}
	return data, nil
}

// putWithRetry uploads data with exponential backoff. Precondition failures are not retried.
func (s *Service) putWithRetry(ctx context.Context, path string, data []byte, opts blobstore.PutOptions) (string, error) {
	backoff := initialBackoff
	var lastErr error

	for i := 0; i < maxPutRetries; i++ {
		url, err := s.blobs.Put(ctx, path, data, opts)
		if err == nil {
			return url, nil
		}
		if errors.Is(err, apperrors.ErrConflict) {
			return "", err
		}

		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"objectPath", path,
			"attempt", i+1,
			"maxRetries", maxPutRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "objectPath", path, "error", ctx.Err())
			return "", ctx.Err()
		}
	}
	slog.Error("Upload failed after all retries.", "objectPath", path, "error", lastErr)
	return "", fmt.Errorf("upload for %s failed after all retries: %w", path, lastErr)
}

// probeOutcome is the result of checking whether an asset URL still resolves.
type probeOutcome int

const (
	probeExists probeOutcome = iota
	probeMissing
	probeIndeterminate
)

func (p probeOutcome) String() string {
	switch p {
	case probeExists:
		return "exists"
	case probeMissing:
		return "missing"
	default:
		return "indeterminate"
	}
}

// probe fetches url directly, bypassing caches. Only 404 and 410 count as missing;
// anything that is not a clear answer is indeterminate.
func (s *Service) probe(ctx context.Context, url string) (probeOutcome, int) {
	status, err := s.probeOnce(ctx, http.MethodHead, url)
	if err == nil && status == http.StatusMethodNotAllowed {
		status, err = s.probeOnce(ctx, http.MethodGet, url)
	}
	if err != nil {
		return probeIndeterminate, 0
	}
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return probeMissing, status
	case status >= 200 && status <= 299:
		return probeExists, status
	default:
		return probeIndeterminate, status
	}
}

func (s *Service) probeOnce(ctx context.Context, method, url string) (int, error) {
	fetchURL, err := manifest.CacheBusted(url, s.now())
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, method, fetchURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Cache-Control", "no-cache, no-store, max-age=0")
	req.Header.Set("Pragma", "no-cache")
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	return resp.StatusCode, nil
}
