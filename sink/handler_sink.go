package sink

import (
	"context"

	"wechat-bridge/domain/event"
)

// HandlerSink fans every notification out to a chain of event handlers.
// Each handler filters on the notification types it cares about, so a
// host subscribes per type by registering the matching handler.
type HandlerSink struct {
	handlers []event.Handler
}

func NewHandlerSink(handlers ...event.Handler) *HandlerSink {
	return &HandlerSink{handlers: handlers}
}

// Consume implements the EventSink interface.
func (h *HandlerSink) Consume(ctx context.Context, n event.Notification) error {
	for _, handler := range h.handlers {
		handler.Handle(n)
	}
	return nil
}
