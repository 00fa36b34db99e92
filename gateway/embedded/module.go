package embedded

import (
	"context"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/taskflow/modules/auth"
	"github.com/example/taskflow/modules/feed"
	"github.com/example/taskflow/modules/objects"
	taskmod "github.com/example/taskflow/modules/task"
)

// Module collects the ports of the embedded modules and hands out one
// Gateway per client session.
type Module struct {
	ports  Ports
	logger types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)
var _ mono.DependentModule = (*Module)(nil)

// NewModule creates the gateway module. objs may be nil, in which case
// uploads go through the objects module's upload service.
func NewModule(objs objects.ObjectsPort, hub *feed.Hub, logger types.Logger) *Module {
	return &Module{
		ports:  Ports{Objects: objs, Feed: hub},
		logger: logger,
	}
}

func (m *Module) Name() string {
	return "gateway"
}

func (m *Module) Dependencies() []string {
	return []string{"auth", "task", "objects"}
}

func (m *Module) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	switch dependency {
	case "auth":
		m.ports.Auth = auth.NewAuthAdapter(container)
	case "task":
		m.ports.Tasks = taskmod.NewTaskAdapter(container)
	case "objects":
		if m.ports.Objects == nil {
			m.ports.Objects = objects.NewObjectsAdapter(container)
		}
	}
}

func (m *Module) Start(_ context.Context) error {
	if m.ports.Auth == nil || m.ports.Tasks == nil || m.ports.Objects == nil {
		return fmt.Errorf("gateway dependencies not set")
	}
	if m.ports.Feed == nil {
		return fmt.Errorf("feed hub not set")
	}
	m.logger.Info("Embedded gateway ready")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	return nil
}

// NewGateway returns a Gateway with no session. Valid after Start.
func (m *Module) NewGateway() *Gateway {
	return New(m.ports, m.logger.WithModule("gateway"))
}
