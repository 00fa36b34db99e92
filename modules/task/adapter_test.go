package task

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-monolith/mono"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/modules/auth"
)

// consumerModule depends on auth and task and keeps their adapters.
type consumerModule struct {
	auth  *auth.AuthAdapter
	tasks *TaskAdapter
}

func (m *consumerModule) Name() string                  { return "consumer" }
func (m *consumerModule) Dependencies() []string        { return []string{"auth", "task"} }
func (m *consumerModule) Start(_ context.Context) error { return nil }
func (m *consumerModule) Stop(_ context.Context) error  { return nil }
func (m *consumerModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "auth":
		m.auth = auth.NewAuthAdapter(container)
	case "task":
		m.tasks = NewTaskAdapter(container)
	}
}

func TestTaskAdapter_RoundTrip(t *testing.T) {
	app, err := mono.NewMonoApplication(mono.WithLogLevel(mono.LogLevelError))
	if err != nil {
		t.Fatalf("failed to create application: %v", err)
	}

	authModule := auth.NewModuleWithConfig(auth.Config{
		DBPath:      filepath.Join(t.TempDir(), "auth.db"),
		AutoConfirm: true,
		BcryptCost:  bcrypt.MinCost,
		JWT:         auth.DefaultJWTConfig(),
	})
	taskModule := NewModuleWithRepository(setupTestRepository(t))
	consumer := &consumerModule{}
	for _, m := range []mono.Module{authModule, taskModule, consumer} {
		if err := app.Register(m); err != nil {
			t.Fatalf("failed to register %s: %v", m.Name(), err)
		}
	}
	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("failed to start application: %v", err)
	}
	t.Cleanup(func() { _ = app.Stop(context.Background()) })

	session, _, err := consumer.auth.SignUp(ctx, "ana@example.com", "secret123")
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	token := session.Tokens.AccessToken

	created, err := consumer.tasks.Create(ctx, token, task.NewTask{Title: "Buy milk"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.UserID != session.User.ID || created.Title != "Buy milk" {
		t.Errorf("Create() = %+v", created)
	}

	listed, err := consumer.tasks.List(ctx, token, task.Query{Filter: task.FilterAll, Search: "milk"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !equalIDs(ids(listed), []string{created.ID}) {
		t.Errorf("List() = %v, want [%s]", ids(listed), created.ID)
	}

	updated, err := consumer.tasks.Update(ctx, token, created.ID, task.CompletionPatch(true))
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated == nil || !updated.IsCompleted {
		t.Errorf("Update() = %+v, want completed", updated)
	}

	removed, err := consumer.tasks.Delete(ctx, token, created.ID)
	if err != nil || removed != 1 {
		t.Fatalf("Delete() = %d, %v; want 1", removed, err)
	}
	removed, err = consumer.tasks.Delete(ctx, token, created.ID)
	if err != nil || removed != 0 {
		t.Errorf("second Delete() = %d, %v; want 0", removed, err)
	}
}
