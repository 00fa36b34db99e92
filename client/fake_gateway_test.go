package client

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/gateway"
)

var baseTime = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

// fakeGateway is an in-memory gateway. The func fields override the default
// behavior of the matching method when set.
type fakeGateway struct {
	mu      sync.Mutex
	user    *task.User
	tasks   []task.Task
	nextID  int
	feed    func(task.ChangeEvent)
	uploads []string

	listCalls   int
	createCalls int
	updateCalls int

	listFn    func(ctx context.Context, q task.Query) ([]task.Task, error)
	uploadFn  func(ctx context.Context, path string, img task.Image) (string, error)
	createFn  func(ctx context.Context, t task.NewTask) (*task.Task, error)
	deleteFn  func(ctx context.Context, id string) (int, error)
	signInFn  func(ctx context.Context, email, password string) (*task.User, error)
	signUpFn  func(ctx context.Context, email, password string) (*gateway.SignUpResult, error)
	resendFn  func(ctx context.Context, email string) error
	currentFn func(ctx context.Context) (*task.User, error)
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func newFakeGateway(user *task.User) *fakeGateway {
	return &fakeGateway{user: user}
}

func confirmedUser() *task.User {
	return &task.User{ID: "user-1", Email: "ana@example.com", EmailConfirmed: true}
}

func (g *fakeGateway) seed(titles ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, title := range titles {
		g.nextID++
		g.tasks = append(g.tasks, task.Task{
			ID:        fmt.Sprintf("t-%d", g.nextID),
			UserID:    "user-1",
			Title:     title,
			CreatedAt: baseTime.Add(time.Duration(g.nextID) * time.Minute),
		})
	}
}

func (g *fakeGateway) emit(ev task.ChangeEvent) {
	g.mu.Lock()
	fn := g.feed
	g.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (g *fakeGateway) ListCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.listCalls
}

func (g *fakeGateway) CurrentUser(ctx context.Context) (*task.User, error) {
	if g.currentFn != nil {
		return g.currentFn(ctx)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.user == nil {
		return nil, nil
	}
	u := *g.user
	return &u, nil
}

func (g *fakeGateway) ListTasks(ctx context.Context, q task.Query) ([]task.Task, error) {
	g.mu.Lock()
	g.listCalls++
	g.mu.Unlock()
	if g.listFn != nil {
		return g.listFn(ctx, q)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	var out []task.Task
	for _, t := range g.tasks {
		if q.Matches(t) {
			out = append(out, t)
		}
	}
	task.SortNewestFirst(out)
	return out, nil
}

func (g *fakeGateway) CreateTask(ctx context.Context, nt task.NewTask) (*task.Task, error) {
	g.mu.Lock()
	g.createCalls++
	g.mu.Unlock()
	if g.createFn != nil {
		return g.createFn(ctx, nt)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	t := task.Task{
		ID:          fmt.Sprintf("t-%d", g.nextID),
		UserID:      g.user.ID,
		Title:       nt.Title,
		Description: nt.Description,
		ImageURL:    nt.ImageURL,
		CreatedAt:   baseTime.Add(time.Duration(g.nextID) * time.Minute),
	}
	g.tasks = append(g.tasks, t)
	return &t, nil
}

func (g *fakeGateway) UpdateTask(_ context.Context, id string, p task.Patch) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updateCalls++
	for i, t := range g.tasks {
		if t.ID == id {
			g.tasks[i] = p.Apply(t)
			return true, nil
		}
	}
	return false, nil
}

func (g *fakeGateway) DeleteTask(ctx context.Context, id string) (int, error) {
	if g.deleteFn != nil {
		return g.deleteFn(ctx, id)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	before := len(g.tasks)
	g.tasks = slices.DeleteFunc(g.tasks, func(t task.Task) bool { return t.ID == id })
	return before - len(g.tasks), nil
}

func (g *fakeGateway) UploadImage(ctx context.Context, path string, img task.Image) (string, error) {
	if g.uploadFn != nil {
		return g.uploadFn(ctx, path, img)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.uploads = append(g.uploads, path)
	return "https://cdn.example.com/task-images/" + path, nil
}

func (g *fakeGateway) SubscribeToTaskChanges(_ context.Context, fn func(task.ChangeEvent)) (func(), error) {
	g.mu.Lock()
	g.feed = fn
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		g.feed = nil
		g.mu.Unlock()
	}, nil
}

func (g *fakeGateway) SignIn(ctx context.Context, email, password string) (*task.User, error) {
	if g.signInFn != nil {
		return g.signInFn(ctx, email, password)
	}
	return nil, gateway.ErrInvalidCredentials
}

func (g *fakeGateway) SignUp(ctx context.Context, email, password string) (*gateway.SignUpResult, error) {
	if g.signUpFn != nil {
		return g.signUpFn(ctx, email, password)
	}
	return &gateway.SignUpResult{User: task.User{ID: "user-2", Email: email}, ConfirmationRequired: true}, nil
}

func (g *fakeGateway) SignOut(context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.user = nil
	return nil
}

func (g *fakeGateway) ResendConfirmation(ctx context.Context, email string) error {
	if g.resendFn != nil {
		return g.resendFn(ctx, email)
	}
	return nil
}

func (g *fakeGateway) VerifyEmail(_ context.Context, email, code string) (*task.User, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if code != "123456" || g.user == nil {
		return nil, gateway.ErrInvalidConfirmation
	}
	g.user.EmailConfirmed = true
	u := *g.user
	return &u, nil
}

func titles(tasks []task.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Title
	}
	return out
}
