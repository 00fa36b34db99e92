package objects

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	"github.com/example/taskflow/domain/task"
)

// ObjectsAdapter implements ObjectsPort over the objects module's service
// container.
type ObjectsAdapter struct {
	container mono.ServiceContainer
}

var _ ObjectsPort = (*ObjectsAdapter)(nil)

// NewObjectsAdapter creates a new ObjectsAdapter.
func NewObjectsAdapter(container mono.ServiceContainer) *ObjectsAdapter {
	if container == nil {
		panic("objects adapter requires non-nil ServiceContainer")
	}
	return &ObjectsAdapter{container: container}
}

func (a *ObjectsAdapter) Upload(ctx context.Context, token, path string, img task.Image) (string, error) {
	req := UploadRequest{
		Token:       token,
		Path:        path,
		Name:        img.Name,
		ContentType: img.ContentType,
		Data:        img.Data,
	}
	var resp UploadResponse
	if err := helper.CallRequestReplyService(
		ctx,
		a.container,
		ServiceUpload,
		json.Marshal,
		json.Unmarshal,
		&req,
		&resp,
	); err != nil {
		return "", fmt.Errorf("%s request failed: %w", ServiceUpload, err)
	}
	if err := resp.Err(); err != nil {
		return "", err
	}
	return resp.URL, nil
}
