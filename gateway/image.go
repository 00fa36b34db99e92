package gateway

import (
	"fmt"
	"path"
	"strings"

	nanoid "github.com/jaevor/go-nanoid"

	"github.com/example/taskflow/domain/task"
)

// MaxImageBytes is the largest accepted image payload. Exactly 2 MiB is allowed.
const MaxImageBytes = 2 << 20

// ImageBucket is the storage bucket holding task images.
const ImageBucket = "task-images"

var randomName func() string

func init() {
	gen, err := nanoid.Standard(21)
	if err != nil {
		panic(fmt.Sprintf("nanoid generator: %v", err))
	}
	randomName = gen
}

// ValidateImage enforces the size cap before any upload is attempted.
func ValidateImage(img task.Image) error {
	if img.Size() > MaxImageBytes {
		return fmt.Errorf("%w: %d bytes", ErrImageTooLarge, img.Size())
	}
	return nil
}

// ImagePath builds the storage key "<userID>/<random>.<ext>" for an upload.
// The extension is taken from filename and lower-cased; a name without an
// extension produces a key without one.
func ImagePath(userID, filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if ext == "" {
		return userID + "/" + randomName()
	}
	return userID + "/" + randomName() + "." + ext
}

// OwnerOf returns the user prefix of a storage key.
func OwnerOf(key string) string {
	owner, _, ok := strings.Cut(strings.TrimPrefix(key, "/"), "/")
	if !ok {
		return ""
	}
	return owner
}
