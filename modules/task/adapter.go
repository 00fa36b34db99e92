package task

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"

	"github.com/example/taskflow/domain/task"
)

// TaskPort defines the task operations other modules use.
type TaskPort interface {
	List(ctx context.Context, token string, q task.Query) ([]task.Task, error)
	Create(ctx context.Context, token string, nt task.NewTask) (*task.Task, error)
	Update(ctx context.Context, token, id string, p task.Patch) (*task.Task, error)
	Delete(ctx context.Context, token, id string) (int, error)
}

// TaskAdapter implements TaskPort over the task module's service container.
type TaskAdapter struct {
	container mono.ServiceContainer
}

var _ TaskPort = (*TaskAdapter)(nil)

// NewTaskAdapter creates a new TaskAdapter.
func NewTaskAdapter(container mono.ServiceContainer) *TaskAdapter {
	if container == nil {
		panic("task adapter requires non-nil ServiceContainer")
	}
	return &TaskAdapter{container: container}
}

// call invokes a request-reply service with a typed response.
func call[T any](ctx context.Context, container mono.ServiceContainer, service string, req any, resp *T) error {
	if err := helper.CallRequestReplyService(
		ctx,
		container,
		service,
		json.Marshal,
		json.Unmarshal,
		req,
		resp,
	); err != nil {
		return fmt.Errorf("%s request failed: %w", service, err)
	}
	return nil
}

func (a *TaskAdapter) List(ctx context.Context, token string, q task.Query) ([]task.Task, error) {
	var resp ListResponse
	req := ListRequest{Token: token, Filter: string(q.Filter), Search: q.Search}
	if err := call(ctx, a.container, ServiceList, &req, &resp); err != nil {
		return nil, err
	}
	if resp.Failed() {
		return nil, resp.Failure.Err()
	}
	if resp.Tasks == nil {
		return []task.Task{}, nil
	}
	return resp.Tasks, nil
}

func (a *TaskAdapter) Create(ctx context.Context, token string, nt task.NewTask) (*task.Task, error) {
	var resp TaskResponse
	if err := call(ctx, a.container, ServiceCreate, &CreateRequest{Token: token, Task: nt}, &resp); err != nil {
		return nil, err
	}
	if resp.Failed() {
		return nil, resp.Failure.Err()
	}
	return resp.Task, nil
}

func (a *TaskAdapter) Update(ctx context.Context, token, id string, p task.Patch) (*task.Task, error) {
	var resp TaskResponse
	if err := call(ctx, a.container, ServiceUpdate, &UpdateRequest{Token: token, ID: id, Patch: p}, &resp); err != nil {
		return nil, err
	}
	if resp.Failed() {
		return nil, resp.Failure.Err()
	}
	return resp.Task, nil
}

func (a *TaskAdapter) Delete(ctx context.Context, token, id string) (int, error) {
	var resp DeleteResponse
	if err := call(ctx, a.container, ServiceDelete, &DeleteRequest{Token: token, ID: id}, &resp); err != nil {
		return 0, err
	}
	if resp.Failed() {
		return 0, resp.Failure.Err()
	}
	return resp.Deleted, nil
}
