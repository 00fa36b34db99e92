// Package feed delivers task change events from the bus to in-process
// subscribers, scoped per user.
package feed

import (
	"context"
	"fmt"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/taskflow/events"
)

// FeedModule consumes TaskChanged events and fans them out through a Hub.
type FeedModule struct {
	hub    *Hub
	logger types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*FeedModule)(nil)
var _ mono.EventConsumerModule = (*FeedModule)(nil)
var _ mono.HealthCheckableModule = (*FeedModule)(nil)

// NewModule creates a new FeedModule.
func NewModule(logger types.Logger) *FeedModule {
	return &FeedModule{
		hub:    NewHub(DefaultBuffer, logger),
		logger: logger,
	}
}

// Name returns the module name.
func (m *FeedModule) Name() string {
	return "feed"
}

func (m *FeedModule) Start(_ context.Context) error {
	m.logger.Info("Feed module started")
	return nil
}

// Stop closes every subscription.
func (m *FeedModule) Stop(_ context.Context) error {
	subscribers := m.hub.SubscriberCount()
	m.hub.Close()
	m.logger.Info("Feed module stopped", "subscribers", subscribers)
	return nil
}

func (m *FeedModule) Health(_ context.Context) mono.HealthStatus {
	published, dropped := m.hub.Stats()
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"subscribers": m.hub.SubscriberCount(),
			"users":       m.hub.UserCount(),
			"published":   published,
			"dropped":     dropped,
		},
	}
}

// RegisterEventConsumers registers event handlers.
func (m *FeedModule) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.TaskChangedV1, m.handleTaskChanged, m,
	); err != nil {
		return fmt.Errorf("failed to register TaskChanged consumer: %w", err)
	}

	m.logger.Info("Registered event consumers", "events", []string{"TaskChanged.v1"})
	return nil
}

func (m *FeedModule) handleTaskChanged(_ context.Context, event events.TaskChangedEvent, _ *mono.Msg) error {
	if event.UserID == "" {
		m.logger.Warn("Ignoring TaskChanged event without user", "type", event.Type)
		return nil
	}
	delivered := m.hub.Publish(event.UserID, event.ChangeEvent())
	m.logger.Debug("Fanned out task change",
		"user_id", event.UserID,
		"type", event.Type,
		"subscribers", delivered)
	return nil
}

// Hub returns the subscription hub for the embedded gateway.
func (m *FeedModule) Hub() *Hub {
	return m.hub
}
