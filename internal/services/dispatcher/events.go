package dispatcher

import (
	"context"

	"github.com/notifyd/notifyd/internal/domain/delivery"
	"github.com/notifyd/notifyd/internal/obs"
	kafkax "github.com/notifyd/notifyd/internal/repository/kafka"
	"go.uber.org/zap"
)

// EventFanout enqueues one webhook job per active subscriber of the
// event.
type EventFanout interface {
	TriggerEvent(ctx context.Context, eventType string, payload map[string]any) (int, error)
}

// EventController feeds business events arriving on Kafka into the
// webhook fan-out, so producers can trigger webhooks without touching
// the HTTP API.
type EventController struct {
	log    *zap.Logger
	sub    *kafkax.Consumer
	fanout EventFanout
}

func NewEventController(log *zap.Logger, sub *kafkax.Consumer, fanout EventFanout) *EventController {
	if log == nil {
		log = zap.L()
	}
	return &EventController{
		log:    log.With(zap.String("component", "dispatcher.events")),
		sub:    sub,
		fanout: fanout,
	}
}

// Run consumes until ctx cancels. Malformed or unknown events are
// logged and committed; redelivering them cannot help.
func (c *EventController) Run(ctx context.Context) error {
	handler := kafkax.JSONHandler[kafkax.BusinessEvent](func(ctx context.Context, key []byte, ev *kafkax.BusinessEvent) error {
		n, err := c.fanout.TriggerEvent(ctx, ev.EventType, ev.Payload)
		if err != nil {
			if delivery.IsValidation(err) {
				obs.WithTrace(ctx, c.log).Warn("dropping invalid business event",
					zap.String("event_type", ev.EventType), zap.Error(err))
				return nil
			}
			return err
		}
		obs.WithTrace(ctx, c.log).Info("business event fanned out",
			zap.String("event_type", ev.EventType), zap.Int("webhooks", n))
		return nil
	})
	return c.sub.Consume(ctx, handler)
}
