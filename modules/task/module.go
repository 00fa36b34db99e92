package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/taskflow/domain/task"
	"github.com/example/taskflow/events"
	"github.com/example/taskflow/gateway"
	"github.com/example/taskflow/modules/auth"
	"github.com/example/taskflow/modules/cache"
)

// Service names registered by the task module.
const (
	ServiceList   = "list"
	ServiceCreate = "create"
	ServiceUpdate = "update"
	ServiceDelete = "delete"
)

// TokenValidator resolves an access token to its claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken string) (*auth.Claims, error)
}

// TaskModule owns the tasks table. Every request carries an access token and
// the owner is always taken from its claims.
type TaskModule struct {
	dbPath      string
	databaseURL string

	repo        Repository
	service     *Service
	validator   TokenValidator
	cachePlugin *cache.PluginModule
	eventBus    mono.EventBus
}

var (
	_ mono.Module                = (*TaskModule)(nil)
	_ mono.ServiceProviderModule = (*TaskModule)(nil)
	_ mono.DependentModule       = (*TaskModule)(nil)
	_ mono.EventEmitterModule    = (*TaskModule)(nil)
	_ mono.UsePluginModule       = (*TaskModule)(nil)
	_ mono.HealthCheckableModule = (*TaskModule)(nil)
)

// NewModule creates a TaskModule. DATABASE_URL selects PostgreSQL; otherwise
// tasks live in the SQLite file at DB_PATH.
func NewModule() *TaskModule {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "taskflow.db"
	}
	return &TaskModule{
		dbPath:      dbPath,
		databaseURL: os.Getenv("DATABASE_URL"),
	}
}

// NewModuleWithRepository creates a TaskModule over an existing repository.
func NewModuleWithRepository(repo Repository) *TaskModule {
	return &TaskModule{repo: repo}
}

func (m *TaskModule) Name() string {
	return "task"
}

func (m *TaskModule) Dependencies() []string {
	return []string{"auth"}
}

func (m *TaskModule) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	if dependency == "auth" {
		m.validator = auth.NewAuthAdapter(container)
	}
}

// SetPlugin receives the cache plugin. The port is read at Start.
func (m *TaskModule) SetPlugin(alias string, plugin mono.PluginModule) {
	if alias != "cache" {
		return
	}
	if cachePlugin, ok := plugin.(*cache.PluginModule); ok {
		m.cachePlugin = cachePlugin
		log.Println("[task] Cache plugin injected")
	}
}

func (m *TaskModule) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

func (m *TaskModule) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.TaskChangedV1.ToBase(),
	}
}

// Start opens the task store and builds the service.
func (m *TaskModule) Start(ctx context.Context) error {
	if m.validator == nil {
		return fmt.Errorf("auth dependency not set")
	}

	driver := "injected"
	if m.repo == nil {
		repo, name, err := m.openRepository(ctx)
		if err != nil {
			return err
		}
		m.repo = repo
		driver = name
	}

	var lists cache.TaskLists
	if m.cachePlugin != nil {
		lists = m.cachePlugin.Lists()
	}
	m.service = NewService(m.repo, lists, m.publish)

	log.Printf("[task] Module started (store: %s, cache: %t)", driver, lists != nil && lists.Enabled())
	return nil
}

func (m *TaskModule) openRepository(ctx context.Context) (Repository, string, error) {
	if m.databaseURL != "" {
		pool, err := pgxpool.New(ctx, m.databaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create connection pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, "", fmt.Errorf("failed to ping database: %w", err)
		}
		repo := NewPostgresRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			pool.Close()
			return nil, "", err
		}
		return repo, "postgres", nil
	}

	db, err := gorm.Open(sqlite.Open(m.dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to connect to database: %w", err)
	}
	repo := NewGormRepository(db)
	if err := repo.Migrate(); err != nil {
		repo.Close()
		return nil, "", fmt.Errorf("failed to migrate database: %w", err)
	}
	return repo, "sqlite:" + m.dbPath, nil
}

func (m *TaskModule) Stop(_ context.Context) error {
	if m.repo != nil {
		if err := m.repo.Close(); err != nil {
			log.Printf("[task] Error closing store: %v", err)
		}
	}
	log.Println("[task] Module stopped")
	return nil
}

func (m *TaskModule) Health(ctx context.Context) mono.HealthStatus {
	if m.service == nil {
		return mono.HealthStatus{Healthy: false, Message: "service not initialized"}
	}
	if err := m.service.Ping(ctx); err != nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: fmt.Sprintf("database ping failed: %v", err),
		}
	}
	return mono.HealthStatus{Healthy: true, Message: "operational"}
}

// Service returns the task service; nil before Start.
func (m *TaskModule) Service() *Service {
	return m.service
}

func (m *TaskModule) RegisterServices(container mono.ServiceContainer) error {
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceList, json.Unmarshal, json.Marshal, m.handleList,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceList, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceCreate, json.Unmarshal, json.Marshal, m.handleCreate,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceCreate, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceUpdate, json.Unmarshal, json.Marshal, m.handleUpdate,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceUpdate, err)
	}
	if err := helper.RegisterTypedRequestReplyService(
		container, ServiceDelete, json.Unmarshal, json.Marshal, m.handleDelete,
	); err != nil {
		return fmt.Errorf("failed to register %s service: %w", ServiceDelete, err)
	}

	log.Printf("[task] Registered services: list, create, update, delete")
	return nil
}

// authorize returns the owner behind token. Writes additionally require a
// confirmed email address.
func (m *TaskModule) authorize(ctx context.Context, token string, write bool) (string, error) {
	if token == "" {
		return "", gateway.ErrUnauthenticated
	}
	claims, err := m.validator.ValidateToken(ctx, token)
	if err != nil {
		return "", err
	}
	if write && !claims.EmailConfirmed {
		return "", gateway.ErrEmailNotConfirmed
	}
	return claims.UserID, nil
}

func (m *TaskModule) handleList(ctx context.Context, req ListRequest, _ *mono.Msg) (ListResponse, error) {
	userID, err := m.authorize(ctx, req.Token, false)
	if err != nil {
		return ListResponse{Failure: failure(err)}, nil
	}
	filter, err := task.ParseFilter(req.Filter)
	if err != nil {
		return ListResponse{Failure: failure(err)}, nil
	}
	tasks, cached, err := m.service.List(ctx, userID, task.Query{Filter: filter, Search: req.Search})
	if err != nil {
		log.Printf("[task] List failed for %s: %v", userID, err)
		return ListResponse{Failure: failure(err)}, nil
	}
	return ListResponse{Tasks: tasks, Cached: cached}, nil
}

func (m *TaskModule) handleCreate(ctx context.Context, req CreateRequest, _ *mono.Msg) (TaskResponse, error) {
	userID, err := m.authorize(ctx, req.Token, true)
	if err != nil {
		return TaskResponse{Failure: failure(err)}, nil
	}
	t, err := m.service.Create(ctx, userID, req.Task)
	if err != nil {
		return TaskResponse{Failure: failure(err)}, nil
	}
	return TaskResponse{Task: t}, nil
}

func (m *TaskModule) handleUpdate(ctx context.Context, req UpdateRequest, _ *mono.Msg) (TaskResponse, error) {
	userID, err := m.authorize(ctx, req.Token, true)
	if err != nil {
		return TaskResponse{Failure: failure(err)}, nil
	}
	t, err := m.service.Update(ctx, userID, req.ID, req.Patch)
	if err != nil {
		return TaskResponse{Failure: failure(err)}, nil
	}
	return TaskResponse{Task: t}, nil
}

func (m *TaskModule) handleDelete(ctx context.Context, req DeleteRequest, _ *mono.Msg) (DeleteResponse, error) {
	userID, err := m.authorize(ctx, req.Token, true)
	if err != nil {
		return DeleteResponse{Failure: failure(err)}, nil
	}
	n, err := m.service.Delete(ctx, userID, req.ID)
	if err != nil {
		return DeleteResponse{Failure: failure(err)}, nil
	}
	return DeleteResponse{Deleted: n}, nil
}

func (m *TaskModule) publish(event events.TaskChangedEvent) {
	if m.eventBus == nil {
		return
	}
	if err := events.TaskChangedV1.Publish(m.eventBus, event, nil); err != nil {
		log.Printf("[task] Warning: failed to publish TaskChanged event for %s: %v", event.UserID, err)
	}
}
