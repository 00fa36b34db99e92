package objects

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/taskflow/gateway"
)

const (
	CodeUnauthenticated   = "unauthenticated"
	CodeEmailNotConfirmed = "email_not_confirmed"
	CodeForbidden         = "forbidden"
	CodeTooLarge          = "image_too_large"
	CodeInvalidKey        = "invalid_key"
	CodeInternal          = "internal"
)

func errorCode(err error) string {
	switch {
	case errors.Is(err, gateway.ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, gateway.ErrEmailNotConfirmed):
		return CodeEmailNotConfirmed
	case errors.Is(err, gateway.ErrForbidden):
		return CodeForbidden
	case errors.Is(err, gateway.ErrImageTooLarge):
		return CodeTooLarge
	case errors.Is(err, ErrInvalidKey):
		return CodeInvalidKey
	default:
		return CodeInternal
	}
}

// UploadRequest stores an image under Path for the token's owner.
type UploadRequest struct {
	Token       string `json:"token"`
	Path        string `json:"path"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// UploadResponse carries the public URL of the stored image.
type UploadResponse struct {
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Err converts a failed response back into an error.
func (r UploadResponse) Err() error {
	var sentinel error
	switch r.Code {
	case "":
		return nil
	case CodeUnauthenticated:
		sentinel = gateway.ErrUnauthenticated
	case CodeEmailNotConfirmed:
		sentinel = gateway.ErrEmailNotConfirmed
	case CodeForbidden:
		sentinel = gateway.ErrForbidden
	case CodeTooLarge:
		sentinel = gateway.ErrImageTooLarge
	case CodeInvalidKey:
		sentinel = ErrInvalidKey
	default:
		return errors.New(r.Error)
	}
	if r.Error == "" || r.Error == sentinel.Error() {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, strings.TrimPrefix(r.Error, sentinel.Error()+": "))
}
