// Package storage puts shop photos into an S3-compatible bucket and maps
// between object keys and their public URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"backend-ratemycoffee/internal/config"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store is the object storage used by the photo service.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	KeyFromURL(rawURL string) (string, bool)
}

var ErrNotConfigured = errors.New("object storage is not configured")

// URLs builds and parses public object URLs for one bucket.
type URLs struct {
	Bucket    string
	Endpoint  string // scheme://host[:port]
	PublicURL string // Supabase project URL, optional
}

// Public returns the Supabase public URL when PublicURL is set, else the
// path-style endpoint URL.
func (u URLs) Public(key string) string {
	key = strings.TrimLeft(key, "/")
	if base := strings.TrimRight(u.PublicURL, "/"); base != "" {
		return base + "/storage/v1/object/public/" + u.Bucket + "/" + key
	}
	if base := strings.TrimRight(u.Endpoint, "/"); base != "" {
		return base + "/" + u.Bucket + "/" + key
	}
	return key
}

// KeyFromURL recovers the object key from a public, path-style or
// virtual-host-style URL of this bucket.
func (u URLs) KeyFromURL(rawURL string) (string, bool) {
	if u.Bucket == "" {
		return "", false
	}
	var prefixes []string
	if base := strings.TrimRight(u.PublicURL, "/"); base != "" {
		prefixes = append(prefixes, base+"/storage/v1/object/public/"+u.Bucket+"/")
	}
	if base := strings.TrimRight(u.Endpoint, "/"); base != "" {
		prefixes = append(prefixes, base+"/"+u.Bucket+"/")
		if parsed, err := url.Parse(base); err == nil && parsed.Host != "" {
			prefixes = append(prefixes, parsed.Scheme+"://"+u.Bucket+"."+parsed.Host+"/")
		}
	}
	for _, p := range prefixes {
		if key, ok := strings.CutPrefix(rawURL, p); ok && key != "" {
			return key, true
		}
	}
	return "", false
}

// ObjectKey is shops/{id}/{yyyy}/{mm}/{dd}/{uuid}.{ext}.
func ObjectKey(shopID int64, ext string, now time.Time) string {
	key := fmt.Sprintf("shops/%d/%s/%s", shopID, now.UTC().Format("2006/01/02"), uuid.NewString())
	if ext = strings.ToLower(strings.TrimPrefix(ext, ".")); ext != "" {
		key += "." + ext
	}
	return key
}

// ExtOf returns the lower-case extension of a file name without the dot.
func ExtOf(filename string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
}

type MinioStore struct {
	client *minio.Client
	bucket string
	urls   URLs
}

// NewMinioStore connects lazily; no request is made until the first Put.
// It returns ErrNotConfigured when no endpoint is set.
func NewMinioStore(cfg config.Config) (*MinioStore, error) {
	if cfg.S3Endpoint == "" {
		return nil, ErrNotConfigured
	}
	host, secure, err := splitEndpoint(cfg.S3Endpoint, cfg.S3UseSSL)
	if err != nil {
		return nil, err
	}
	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := newMinioFn(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, err
	}
	scheme := "http"
	if secure {
		scheme = "https"
	}
	return &MinioStore{
		client: client,
		bucket: cfg.S3Bucket,
		urls:   URLs{Bucket: cfg.S3Bucket, Endpoint: scheme + "://" + host, PublicURL: cfg.S3PublicURL},
	}, nil
}

var newMinioFn = minio.New

// splitEndpoint accepts host[:port] or a URL; an explicit scheme wins over
// useSSL.
func splitEndpoint(endpoint string, useSSL bool) (string, bool, error) {
	if !strings.Contains(endpoint, "://") {
		return strings.TrimRight(endpoint, "/"), useSSL, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, err
	}
	if strings.Trim(u.Path, "/") != "" {
		return "", false, fmt.Errorf("s3 endpoint %q must not contain a path", endpoint)
	}
	return u.Host, u.Scheme == "https", nil
}

func (s *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"x-amz-acl": "public-read"},
	})
	if err != nil {
		return "", err
	}
	return s.urls.Public(key), nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}

func (s *MinioStore) KeyFromURL(rawURL string) (string, bool) {
	return s.urls.KeyFromURL(rawURL)
}
