package bundle

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPFetcher downloads bundles over HTTP(S)
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *zap.Logger
}

// HTTPOption configures an HTTPFetcher
type HTTPOption func(*HTTPFetcher)

// WithHTTPClient sets the HTTP client
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithHTTPMaxBytes sets the response size cap
func WithHTTPMaxBytes(n int64) HTTPOption {
	return func(f *HTTPFetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// WithHTTPLogger sets the logger
func WithHTTPLogger(logger *zap.Logger) HTTPOption {
	return func(f *HTTPFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewHTTPFetcher creates an HTTP fetcher with a 30s client timeout
func NewHTTPFetcher(opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		maxBytes: DefaultMaxBytes,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch implements Fetcher
func (f *HTTPFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid bundle URL: %w", err)
	}
	req.Header.Set("Accept", "application/javascript, text/javascript, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bundle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.logger.Warn("Bundle fetch returned non-success status",
			zap.String("location", location),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("failed to fetch bundle: unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	data, err := readLimited(resp.Body, f.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}
	f.logger.Debug("Fetched bundle", zap.String("location", location), zap.Int("size_bytes", len(data)))
	return data, nil
}
