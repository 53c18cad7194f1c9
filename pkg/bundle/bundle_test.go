package bundle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileFetcher(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "widgets/chart.js", "module.exports = function () {};")

	f, err := NewFileFetcher()
	require.NoError(t, err)

	data, err := f.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "module.exports = function () {};", string(data))

	data, err = f.Fetch(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	_, err = f.Fetch(context.Background(), filepath.Join(dir, "missing.js"))
	assert.Error(t, err)

	_, err = f.Fetch(context.Background(), filepath.Join(dir, "widgets"))
	assert.Error(t, err)
}

func TestFileFetcherRoots(t *testing.T) {
	dir := t.TempDir()
	inside := writeFile(t, filepath.Join(dir, "bundles"), "chart.js", "x")
	outside := writeFile(t, dir, "secret.js", "y")

	f, err := NewFileFetcher(filepath.Join(dir, "bundles"))
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), inside)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), outside)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside the allowed roots")

	_, err = f.Fetch(context.Background(), filepath.Join(dir, "bundles", "..", "secret.js"))
	require.Error(t, err)
}

func TestFileFetcherRootsRejectSymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	bundles := filepath.Join(dir, "bundles")
	writeFile(t, bundles, "chart.js", "x")
	secret := writeFile(t, dir, "secret.txt", "token")
	if err := os.Symlink(secret, filepath.Join(bundles, "widget.js")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Symlink(dir, filepath.Join(bundles, "up")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	f, err := NewFileFetcher(bundles)
	require.NoError(t, err)

	tests := []struct {
		name     string
		location string
	}{
		{name: "file symlink", location: filepath.Join(bundles, "widget.js")},
		{name: "directory symlink", location: filepath.Join(bundles, "up", "secret.txt")},
		{name: "file url", location: "file://" + filepath.Join(bundles, "widget.js")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := f.Fetch(context.Background(), tt.location)
			require.Error(t, err)
			assert.Empty(t, data)
		})
	}

	data, err := f.Fetch(context.Background(), filepath.Join(bundles, "chart.js"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestFileFetcherMaxBytes(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "big.js", strings.Repeat("a", 64))

	f, err := NewFileFetcher()
	require.NoError(t, err)
	f.WithMaxBytes(16)

	_, err = f.Fetch(context.Background(), path)
	assert.True(t, errors.Is(err, ErrTooLarge))
}

func TestHTTPFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chart.js":
			_, _ = w.Write([]byte("exports.Chart = function () {};"))
		case "/big.js":
			_, _ = w.Write([]byte(strings.Repeat("b", 128)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	f := NewHTTPFetcher(WithHTTPClient(server.Client()), WithHTTPMaxBytes(64), WithHTTPLogger(zap.NewNop()))

	data, err := f.Fetch(context.Background(), server.URL+"/chart.js")
	require.NoError(t, err)
	assert.Equal(t, "exports.Chart = function () {};", string(data))

	_, err = f.Fetch(context.Background(), server.URL+"/missing.js")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	_, err = f.Fetch(context.Background(), server.URL+"/big.js")
	assert.True(t, errors.Is(err, ErrTooLarge))
}

func TestHTTPFetcherHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTPFetcher(WithHTTPClient(server.Client())).Fetch(ctx, server.URL+"/slow.js")
	assert.Error(t, err)
}

func TestRouter(t *testing.T) {
	var got []string
	named := func(name string) Fetcher {
		return FetcherFunc(func(_ context.Context, location string) ([]byte, error) {
			got = append(got, name+":"+location)
			return []byte(name), nil
		})
	}

	r := NewRouter().
		Handle("file", named("file")).
		Handle("https", named("http")).
		Handle(BlobScheme, named("blob")).
		HandlePrefix("https://acct.blob.core.windows.net", named("blob-url"))

	tests := []struct {
		location string
		want     string
	}{
		{"/srv/bundles/chart.js", "file"},
		{"bundles/chart.js", "file"},
		{"file:///srv/chart.js", "file"},
		{"https://cdn.example.com/chart.js", "http"},
		{"HTTPS://cdn.example.com/chart.js", "http"},
		{"azblob://widgets/chart.js", "blob"},
		{"https://acct.blob.core.windows.net/widgets/chart.js", "blob-url"},
	}
	for _, tt := range tests {
		data, err := r.Fetch(context.Background(), tt.location)
		require.NoError(t, err, tt.location)
		assert.Equal(t, tt.want, string(data), tt.location)
	}
	assert.Len(t, got, len(tests))

	_, err := r.Fetch(context.Background(), "ftp://example.com/chart.js")
	assert.True(t, errors.Is(err, ErrUnsupportedScheme))
}

func TestNewBlobFetcherValidation(t *testing.T) {
	_, err := NewBlobFetcher("", "widgets", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection string is required")

	_, err = NewBlobFetcher("DefaultEndpointsProtocol=https;EndpointSuffix=core.windows.net", "widgets", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account name and key are required")

	b, err := NewBlobFetcher("DefaultEndpointsProtocol=https;AccountName=test;AccountKey=dGVzdA==;EndpointSuffix=core.windows.net", "widgets", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://test.blob.core.windows.net", b.ServiceURL())

	dev, err := NewBlobFetcher("UseDevelopmentStorage=true", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:10000/devstoreaccount1", dev.ServiceURL())
}

func TestBlobExtractPath(t *testing.T) {
	b, err := NewBlobFetcher("AccountName=test;AccountKey=dGVzdA==;BlobEndpoint=http://127.0.0.1:10000/test", "widgets", nil)
	require.NoError(t, err)

	tests := []struct {
		ref           string
		wantContainer string
		wantPath      string
		wantErr       bool
	}{
		{ref: "azblob://bundles/chart/v1.js", wantContainer: "bundles", wantPath: "chart/v1.js"},
		{ref: "chart.js", wantContainer: "widgets", wantPath: "chart.js"},
		{ref: "widgets/chart/v1.js", wantContainer: "widgets", wantPath: "chart/v1.js"},
		{ref: "http://127.0.0.1:10000/test/widgets/chart.js?sig=abc", wantContainer: "widgets", wantPath: "chart.js"},
		{ref: "azblob://widgets/my%20chart.js", wantContainer: "widgets", wantPath: "my chart.js"},
		{ref: "", wantErr: true},
	}

	for _, tt := range tests {
		container, path, err := b.extractBlobPath(tt.ref)
		if tt.wantErr {
			assert.Error(t, err, tt.ref)
			continue
		}
		require.NoError(t, err, tt.ref)
		assert.Equal(t, tt.wantContainer, container, tt.ref)
		assert.Equal(t, tt.wantPath, path, tt.ref)
	}
}

func TestParseConnectionString(t *testing.T) {
	params := parseConnectionString("AccountName=acct; AccountKey=a2V5==;;BlobEndpoint=http://localhost:10000/acct;bogus")

	assert.Equal(t, "acct", params["AccountName"])
	assert.Equal(t, "a2V5==", params["AccountKey"])
	assert.Equal(t, "http://localhost:10000/acct", params["BlobEndpoint"])
	assert.NotContains(t, params, "bogus")
}
