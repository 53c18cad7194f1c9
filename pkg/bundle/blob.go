package bundle

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"go.uber.org/zap"
)

// BlobScheme is the location scheme handled by BlobFetcher: azblob://<container>/<path>
const BlobScheme = "azblob"

// Well-known Azurite development account, selected by UseDevelopmentStorage=true
const (
	devStorageAccount  = "devstoreaccount1"
	devStorageKey      = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="
	devStorageEndpoint = "http://127.0.0.1:10000/devstoreaccount1"
)

// BlobFetcher downloads bundles from Azure Blob Storage using a shared-key connection string.
// It accepts azblob://<container>/<path> locations and full blob URLs under its service URL.
type BlobFetcher struct {
	client     *azblob.Client
	serviceURL string
	container  string
	maxBytes   int64
	logger     *zap.Logger
}

// NewBlobFetcher creates a blob fetcher. defaultContainer is used for blob URLs and
// paths that do not name a container; it may be empty.
func NewBlobFetcher(connectionString, defaultContainer string, logger *zap.Logger) (*BlobFetcher, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	params := parseConnectionString(connectionString)
	accountName := params["AccountName"]
	accountKey := params["AccountKey"]
	serviceURL := params["BlobEndpoint"]
	if strings.EqualFold(params["UseDevelopmentStorage"], "true") {
		accountName, accountKey = devStorageAccount, devStorageKey
		if serviceURL == "" {
			serviceURL = devStorageEndpoint
		}
	}
	if accountName == "" || accountKey == "" {
		return nil, fmt.Errorf("account name and key are required in the connection string")
	}
	if serviceURL == "" {
		suffix := params["EndpointSuffix"]
		if suffix == "" {
			suffix = "core.windows.net"
		}
		serviceURL = fmt.Sprintf("https://%s.blob.%s", accountName, suffix)
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	var clientOpts *azblob.ClientOptions
	if strings.HasPrefix(strings.ToLower(serviceURL), "http://") {
		clientOpts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				InsecureAllowCredentialWithHTTP: true,
			},
		}
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &BlobFetcher{
		client:     client,
		serviceURL: strings.TrimRight(serviceURL, "/"),
		container:  defaultContainer,
		maxBytes:   DefaultMaxBytes,
		logger:     logger,
	}, nil
}

// ServiceURL returns the blob service endpoint, suitable for Router.HandlePrefix
func (b *BlobFetcher) ServiceURL() string {
	return b.serviceURL
}

// WithMaxBytes sets the size cap
func (b *BlobFetcher) WithMaxBytes(n int64) *BlobFetcher {
	if n > 0 {
		b.maxBytes = n
	}
	return b
}

// Fetch implements Fetcher
func (b *BlobFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	container, blobPath, err := b.extractBlobPath(location)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.DownloadStream(ctx, container, blobPath, nil)
	if err != nil {
		b.logger.Warn("Failed to download bundle blob",
			zap.String("container", container),
			zap.String("blob_path", blobPath),
			zap.Error(err))
		return nil, fmt.Errorf("failed to download blob: %w", err)
	}
	defer resp.Body.Close()

	data, err := readLimited(resp.Body, b.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob data: %w", err)
	}

	b.logger.Debug("Downloaded bundle blob",
		zap.String("container", container),
		zap.String("blob_path", blobPath),
		zap.Int("size_bytes", len(data)))
	return data, nil
}

func parseConnectionString(connectionString string) map[string]string {
	parts := strings.Split(connectionString, ";")
	params := make(map[string]string, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.Index(part, "=")
		if idx <= 0 {
			continue
		}
		params[part[:idx]] = part[idx+1:]
	}
	return params
}

// extractBlobPath splits a location into container and blob path
func (b *BlobFetcher) extractBlobPath(reference string) (string, string, error) {
	ref := strings.TrimSpace(reference)
	if ref == "" {
		return "", "", fmt.Errorf("blob reference is required")
	}

	if strings.HasPrefix(strings.ToLower(ref), BlobScheme+"://") {
		ref = ref[len(BlobScheme)+3:]
	} else {
		if strings.HasPrefix(strings.ToLower(ref), strings.ToLower(b.serviceURL)) {
			ref = ref[len(b.serviceURL):]
		}
		if idx := strings.Index(ref, "?"); idx != -1 {
			ref = ref[:idx]
		}
		if u, err := url.Parse(ref); err == nil && u.Host != "" {
			ref = u.Path
		}
	}

	if decoded, err := url.PathUnescape(ref); err == nil && decoded != "" {
		ref = decoded
	}
	ref = strings.TrimPrefix(ref, "/")

	if b.container != "" && !strings.Contains(ref, "/") {
		return b.container, ref, nil
	}
	if b.container != "" && strings.HasPrefix(ref, b.container+"/") {
		return b.container, strings.TrimPrefix(ref, b.container+"/"), nil
	}

	container, blobPath, ok := strings.Cut(ref, "/")
	if !ok || container == "" || blobPath == "" {
		return "", "", fmt.Errorf("blob location %s does not name a container and path", reference)
	}
	return container, blobPath, nil
}
