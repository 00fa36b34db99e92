// Package objects stores task images in the fs-jetstream task-images bucket
// and serves them publicly over HTTP.
package objects

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	fsjetstream "github.com/go-monolith/mono/plugin/fs-jetstream"

	"github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/gateway"
)

// ErrObjectNotFound is returned when no object is stored under a key.
var ErrObjectNotFound = errors.New("object not found")

// ErrInvalidKey is returned for keys that are empty or escape the owner prefix.
var ErrInvalidKey = errors.New("invalid object key")

// PublicPrefix is the URL path under which bucket objects are served.
const PublicPrefix = "/storage/v1/object/public/" + gateway.ImageBucket + "/"

var contentTypeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".bmp":  "image/bmp",
	".avif": "image/avif",
}

// detectContentType picks a content type from the key's extension, then
// from the payload itself.
func detectContentType(key string, data []byte) string {
	if ct, ok := contentTypeByExt[strings.ToLower(path.Ext(key))]; ok {
		return ct
	}
	return http.DetectContentType(data)
}

// cleanKey rejects keys with traversal segments or without an owner prefix.
func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
		}
	}
	if gateway.OwnerOf(key) == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	return key, nil
}

// Object is a stored image with its metadata.
type Object struct {
	Key         string
	ContentType string
	Size        int64
	Digest      string
	ModTime     time.Time
}

// Service writes and reads task images.
type Service struct {
	bucket  fsjetstream.FileStoragePort
	baseURL string
}

// NewService creates a service over bucket. baseURL is the scheme and host
// public URLs are built on.
func NewService(bucket fsjetstream.FileStoragePort, baseURL string) *Service {
	return &Service{bucket: bucket, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// PublicURL returns the public URL of key.
func (s *Service) PublicURL(key string) string {
	return s.baseURL + PublicPrefix + key
}

// Upload stores img under key on behalf of ownerID and returns its public
// URL. The key's first segment must be the owner.
func (s *Service) Upload(ctx context.Context, ownerID, key string, img task.Image) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if gateway.OwnerOf(key) != ownerID {
		return "", fmt.Errorf("%w: key %s is outside the caller's folder", gateway.ErrForbidden, key)
	}
	if err := gateway.ValidateImage(img); err != nil {
		return "", err
	}

	contentType := img.ContentType
	if contentType == "" {
		contentType = detectContentType(key, img.Data)
	}

	_, err = s.bucket.Put(ctx, key, img.Data,
		fsjetstream.WithDescription(fmt.Sprintf("Task image: %s", img.Name)),
		fsjetstream.WithHeaders(map[string]string{
			"Content-Type":  contentType,
			"Original-Name": img.Name,
			"Owner":         ownerID,
			"Uploaded-At":   time.Now().UTC().Format(time.RFC3339),
		}),
	)
	if err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}
	return s.PublicURL(key), nil
}

// Open returns the object stored under key.
func (s *Service) Open(key string) ([]byte, *Object, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, nil, ErrObjectNotFound
	}
	info, err := s.bucket.Stat(key)
	if err != nil || info == nil {
		return nil, nil, ErrObjectNotFound
	}
	data, err := s.bucket.Get(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read object: %w", err)
	}

	contentType := info.Headers["Content-Type"]
	if contentType == "" {
		contentType = detectContentType(key, data)
	}
	return data, &Object{
		Key:         key,
		ContentType: contentType,
		Size:        int64(info.Size),
		Digest:      info.Digest,
		ModTime:     info.ModTime,
	}, nil
}

// List returns the keys stored for ownerID.
func (s *Service) List(ownerID string) ([]string, error) {
	infos, err := s.bucket.List(fsjetstream.WithPrefix(ownerID + "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, info.Name)
	}
	return keys, nil
}
