// Package bundle fetches widget bundle sources from files, HTTP endpoints and Azure Blob Storage.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
)

// DefaultMaxBytes caps the size of a fetched bundle
const DefaultMaxBytes int64 = 5 << 20

var (
	// ErrUnsupportedScheme is returned by Router for locations no fetcher handles
	ErrUnsupportedScheme = errors.New("unsupported bundle location scheme")

	// ErrTooLarge is returned when a bundle exceeds the fetcher's byte cap
	ErrTooLarge = errors.New("bundle exceeds maximum size")
)

// Fetcher reads the bundle stored at location
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc func(ctx context.Context, location string) ([]byte, error)

// Fetch implements Fetcher
func (f FetcherFunc) Fetch(ctx context.Context, location string) ([]byte, error) {
	return f(ctx, location)
}

// Router dispatches locations to fetchers by URL prefix, then by scheme.
// A location without a scheme is treated as "file".
type Router struct {
	schemes  map[string]Fetcher
	prefixes map[string]Fetcher
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{
		schemes:  make(map[string]Fetcher),
		prefixes: make(map[string]Fetcher),
	}
}

// Handle routes locations with the given scheme to f
func (r *Router) Handle(scheme string, f Fetcher) *Router {
	r.schemes[strings.ToLower(scheme)] = f
	return r
}

// HandlePrefix routes locations starting with prefix to f. Prefix routes win over
// scheme routes, so a blob service URL can be sent to an authenticated fetcher.
func (r *Router) HandlePrefix(prefix string, f Fetcher) *Router {
	r.prefixes[strings.ToLower(prefix)] = f
	return r
}

// Fetch implements Fetcher
func (r *Router) Fetch(ctx context.Context, location string) ([]byte, error) {
	f, err := r.route(location)
	if err != nil {
		return nil, err
	}
	return f.Fetch(ctx, location)
}

func (r *Router) route(location string) (Fetcher, error) {
	lower := strings.ToLower(location)

	// longest prefix first
	prefixes := make([]string, 0, len(r.prefixes))
	for p := range r.prefixes {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			return r.prefixes[p], nil
		}
	}

	scheme := schemeOf(location)
	if f, ok := r.schemes[scheme]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
}

func schemeOf(location string) string {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// single-letter schemes are Windows drive letters
		return "file"
	}
	return strings.ToLower(u.Scheme)
}

// readLimited reads r up to maxBytes, failing with ErrTooLarge beyond it
func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}
