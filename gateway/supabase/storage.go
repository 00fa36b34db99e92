package supabase

import (
	"context"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/gateway"
)

// escapeKey percent-encodes each segment of an object key.
func escapeKey(key string) string {
	segs := strings.Split(strings.TrimPrefix(key, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// PublicURL returns the public URL of an object in the image bucket.
func (g *Gateway) PublicURL(key string) string {
	return g.cfg.URL + "/storage/v1/object/public/" + gateway.ImageBucket + "/" + escapeKey(key)
}

func imageContentType(img task.Image, key string) string {
	if img.ContentType != "" {
		return img.ContentType
	}
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(key))); ct != "" {
		return ct
	}
	return http.DetectContentType(img.Data)
}

// UploadImage stores img in the task-images bucket under key and returns its
// public URL. Existing objects are not overwritten.
func (g *Gateway) UploadImage(ctx context.Context, key string, img task.Image) (string, error) {
	if err := gateway.ValidateImage(img); err != nil {
		return "", err
	}
	err := g.sendAuthed(ctx, request{
		method: fiber.MethodPost,
		path:   "/storage/v1/object/" + gateway.ImageBucket + "/" + escapeKey(key),
		headers: map[string]string{
			"x-upsert":      "false",
			"Cache-Control": "max-age=3600",
		},
		body:        img.Data,
		contentType: imageContentType(img, key),
	}, nil)
	if err != nil {
		return "", err
	}
	return g.PublicURL(key), nil
}
