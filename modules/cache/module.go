package cache

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/storage/redis/v3"

	"github.com/example/taskflow/domain/task"
)

// DefaultTTL bounds how long a cached task list may be served.
const DefaultTTL = 2 * time.Minute

// PluginModule serves the task list cache to the task module. With an empty
// Redis address it serves the no-op cache.
type PluginModule struct {
	container types.ServiceContainer
	lists     TaskLists
	redisAddr string
	ttl       time.Duration
}

var (
	_ mono.PluginModule          = (*PluginModule)(nil)
	_ mono.HealthCheckableModule = (*PluginModule)(nil)
)

func NewPluginModule(redisAddr string) *PluginModule {
	return &PluginModule{
		redisAddr: redisAddr,
		ttl:       DefaultTTL,
		lists:     Noop(),
	}
}

func (m *PluginModule) Name() string { return "cache" }

func (m *PluginModule) Start(_ context.Context) error {
	if m.redisAddr == "" {
		log.Println("[cache] REDIS_ADDR not set, task list caching disabled")
		return nil
	}
	host, port := parseRedisAddr(m.redisAddr)
	m.lists = NewTaskLists(redis.New(redis.Config{Host: host, Port: port}), "taskflow:", m.ttl)
	log.Printf("[cache] Caching task lists in Redis at %s for %s", m.redisAddr, m.ttl)
	return nil
}

func (m *PluginModule) Stop(_ context.Context) error {
	if err := m.lists.Close(); err != nil {
		return fmt.Errorf("failed to close task list cache: %w", err)
	}
	return nil
}

func (m *PluginModule) SetContainer(container types.ServiceContainer) { m.container = container }
func (m *PluginModule) Container() types.ServiceContainer             { return m.container }

// Lists returns the task list cache. It is the no-op cache until Start
// connects to Redis.
func (m *PluginModule) Lists() TaskLists {
	return m.lists
}

// Health looks up a reserved user's list, which exercises both the
// generation and the list read against Redis.
func (m *PluginModule) Health(ctx context.Context) mono.HealthStatus {
	if !m.lists.Enabled() {
		return mono.HealthStatus{Healthy: true, Message: "disabled"}
	}
	if _, err := m.lists.Lookup(ctx, "__health__", task.Query{Filter: task.FilterAll}); err != nil {
		return mono.HealthStatus{Healthy: false, Message: fmt.Sprintf("health check failed: %v", err)}
	}
	return mono.HealthStatus{Healthy: true, Message: "operational"}
}

// parseRedisAddr parses "host:port", falling back to 127.0.0.1:6379.
func parseRedisAddr(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "127.0.0.1", 6379
	}
	if host == "" {
		host = "127.0.0.1"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		port = 6379
	}
	return host, port
}
