package channel

import (
	"context"
	"fmt"

	"github.com/flowbotio/flowbot/logger"
	"github.com/flowbotio/flowbot/model"
	"go.uber.org/zap"
)

// DeliveryError is any failure reported by the messaging channel when
// sending an action. The engine treats it as a normal outcome: the
// remaining actions of the batch are aborted and the cursor is kept.
type DeliveryError struct {
	ActionType model.ActionType
	Reason     string
}

func (e DeliveryError) Error() string {
	return fmt.Sprintf("channel delivery of %s failed: %s", e.ActionType, e.Reason)
}

// Delivery is the channel-send capability the engine dispatches
// outbound actions to. Implementations live outside the engine; the
// engine only cares whether a send succeeded.
type Delivery interface {
	Send(ctx context.Context, botId, contactId string, action model.OutboundAction) error
}

var _ Delivery = new(logDelivery)

// logDelivery is the dev-mode sink: it logs every action instead of
// hitting a real channel.
type logDelivery struct{}

func NewLogDelivery() *logDelivery {
	return &logDelivery{}
}

func (d *logDelivery) Send(ctx context.Context, botId, contactId string, action model.OutboundAction) error {
	logger.Info("outbound action",
		zap.String("botId", botId),
		zap.String("contactId", contactId),
		zap.String("type", string(action.Type)),
		zap.Any("action", action))
	return nil
}
