package service

import (
	"context"

	"github.com/flowbotio/flowbot/engine"
	"github.com/flowbotio/flowbot/model"
	"github.com/flowbotio/flowbot/persistence"
)

// ExecutionService is the thin facade the transport layer talks to.
type ExecutionService struct {
	coordinator *engine.Coordinator
	cursors     persistence.CursorStore
}

func NewExecutionService(coordinator *engine.Coordinator, cursors persistence.CursorStore) *ExecutionService {
	return &ExecutionService{
		coordinator: coordinator,
		cursors:     cursors,
	}
}

func (s *ExecutionService) HandleEvent(ctx context.Context, msg model.InboundMessage) model.Result {
	return s.coordinator.HandleInboundMessage(ctx, msg)
}

func (s *ExecutionService) Deactivate(botId string) {
	s.coordinator.Deactivate(botId)
}

func (s *ExecutionService) Activate(botId string) {
	s.coordinator.Activate(botId)
}

func (s *ExecutionService) GetCursor(ctx context.Context, botId, contactId string) (*model.ExecutionCursor, error) {
	return s.cursors.Get(ctx, botId, contactId)
}

func (s *ExecutionService) TickDueDelays(ctx context.Context) (int, error) {
	return s.coordinator.TickDueDelays(ctx)
}
