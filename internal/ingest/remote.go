package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

var ErrChecksumMismatch = errors.New("checksum mismatch")

// FetchFunc downloads one source to dest.
type FetchFunc func(ctx context.Context, source Source, dest string) error

var (
	fetchersMu sync.RWMutex
	fetchers   = map[string]FetchFunc{
		"http":  fetchHTTP,
		"https": fetchHTTP,
		"s3":    fetchS3,
		"gs":    fetchGCS,
	}
)

// RegisterFetcher installs or replaces the fetcher for a URI scheme.
func RegisterFetcher(scheme string, fn FetchFunc) {
	fetchersMu.Lock()
	defer fetchersMu.Unlock()
	fetchers[strings.ToLower(scheme)] = fn
}

func fetcherFor(scheme string) (FetchFunc, bool) {
	fetchersMu.RLock()
	defer fetchersMu.RUnlock()
	fn, ok := fetchers[scheme]
	return fn, ok
}

// Source describes a remote data file. ExpectedChecksum, when set, is
// verified after download (SHA-256 hex).
type Source struct {
	URI              string
	ExpectedChecksum string
	Filename         string
}

func (s Source) scheme() string {
	u, err := url.Parse(s.URI)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

func (s Source) localName() string {
	if s.Filename != "" {
		return s.Filename
	}
	u, err := url.Parse(s.URI)
	if err != nil {
		return "download"
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "download"
	}
	return name
}

// FetchResult reports where a fetched file landed and what it hashed to.
type FetchResult struct {
	LocalPath string
	URI       string
	Checksum  string
	Size      int64
	FromCache bool
}

// cacheSlot names the per-source subdirectory under cacheDir. Slots are
// content-addressed by the expected checksum when one is given; without a
// checksum there is nothing to validate a cached copy against, so the slot
// is keyed by the full URI and never served as a cache hit.
func (s Source) cacheSlot() string {
	if s.ExpectedChecksum != "" {
		return s.ExpectedChecksum
	}
	sum := sha256.Sum256([]byte(s.URI))
	return "uri-" + hex.EncodeToString(sum[:16])
}

// Fetch downloads a remote source into cacheDir. A cached copy is reused
// only when the source declares an expected checksum and the copy still
// matches it; sources without a checksum are always re-fetched. Downloads
// are written to a temp file and renamed so a partial download is never
// visible.
func Fetch(ctx context.Context, source Source, cacheDir string) (FetchResult, error) {
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "crochet-cache")
	}
	slotDir := filepath.Join(cacheDir, source.cacheSlot())
	if err := os.MkdirAll(slotDir, 0o755); err != nil {
		return FetchResult{}, fmt.Errorf("failed to create cache directory: %w", err)
	}
	dest := filepath.Join(slotDir, source.localName())

	if source.ExpectedChecksum != "" {
		if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
			sum, err := FileChecksum(dest)
			if err == nil && sum == source.ExpectedChecksum {
				log.Debug().Str("uri", source.URI).Str("path", dest).Msg("remote source served from cache")
				return FetchResult{LocalPath: dest, URI: source.URI, Checksum: sum, Size: info.Size(), FromCache: true}, nil
			}
		}
	}

	fetcher, ok := fetcherFor(source.scheme())
	if !ok {
		return FetchResult{}, fmt.Errorf("unsupported URI scheme '%s'", source.scheme())
	}
	if err := fetcher(ctx, source, dest); err != nil {
		return FetchResult{}, err
	}

	sum, err := FileChecksum(dest)
	if err != nil {
		return FetchResult{}, err
	}
	if source.ExpectedChecksum != "" && sum != source.ExpectedChecksum {
		os.Remove(dest)
		return FetchResult{}, fmt.Errorf("'%s': expected %s, got %s: %w",
			source.URI, source.ExpectedChecksum, sum, ErrChecksumMismatch)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return FetchResult{}, err
	}
	return FetchResult{LocalPath: dest, URI: source.URI, Checksum: sum, Size: info.Size()}, nil
}

func fetchHTTP(ctx context.Context, source Source, dest string) error {
	client := &http.Client{Timeout: 2 * time.Minute}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URI, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for '%s': %w", source.URI, err)
	}
	req.Header.Set("User-Agent", "crochet")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch '%s': %w", source.URI, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch '%s': HTTP %d", source.URI, resp.StatusCode)
	}
	return writeAtomic(dest, resp.Body)
}

// fetchS3 handles s3://bucket/key URIs. Endpoint and credentials come from
// the conventional AWS environment variables.
func fetchS3(ctx context.Context, source Source, dest string) error {
	endpoint := os.Getenv("AWS_ENDPOINT_URL")
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}
	creds := credentials.NewStaticV4(
		os.Getenv("AWS_ACCESS_KEY_ID"),
		os.Getenv("AWS_SECRET_ACCESS_KEY"),
		os.Getenv("AWS_SESSION_TOKEN"))
	return fetchObjectStore(ctx, source, dest, endpoint, creds)
}

// fetchGCS handles gs://bucket/key URIs through Cloud Storage's
// S3-interoperable XML API, authenticated with HMAC keys.
func fetchGCS(ctx context.Context, source Source, dest string) error {
	endpoint := os.Getenv("GCS_ENDPOINT_URL")
	if endpoint == "" {
		endpoint = "storage.googleapis.com"
	}
	creds := credentials.NewStaticV2(
		os.Getenv("GCS_HMAC_ACCESS_KEY_ID"),
		os.Getenv("GCS_HMAC_SECRET_ACCESS_KEY"), "")
	return fetchObjectStore(ctx, source, dest, endpoint, creds)
}

func fetchObjectStore(ctx context.Context, source Source, dest, endpoint string, creds *credentials.Credentials) error {
	u, err := url.Parse(source.URI)
	if err != nil {
		return fmt.Errorf("invalid object URI '%s': %w", source.URI, err)
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return fmt.Errorf("invalid object URI '%s': bucket and key are required", source.URI)
	}

	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	client, err := minio.New(endpoint, &minio.Options{Creds: creds, Secure: true})
	if err != nil {
		return fmt.Errorf("failed to build object store client: %w", err)
	}

	obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to fetch '%s': %w", source.URI, err)
	}
	defer obj.Close()
	return writeAtomic(dest, obj)
}

func writeAtomic(dest string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".part-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to finalize download: %w", err)
	}
	return nil
}
