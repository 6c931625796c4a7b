package event

import (
	"log/slog"
	"sync"

	"wechat-bridge/errors"
)

// PresenceChangedHandler tracks presence notifications. It is triggered
// each time the registry mutates a record. Useful for updating
// observability metrics, logging, or telemetry.
type PresenceChangedHandler struct {
	log     *slog.Logger
	mu      sync.Mutex
	counter *Counter
}

func NewPresenceChangedHandler(log *slog.Logger, counter *Counter) *PresenceChangedHandler {
	return &PresenceChangedHandler{log: log, counter: counter}
}

func (p *PresenceChangedHandler) Handle(n Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch n.Type {
	case PresenceChangedType:
		if _, ok := n.Payload.(PresenceChanged); !ok {
			p.log.Error(errors.ErrMalformedEvent.Error())
			return
		}
		p.counter.Increment(PresenceChangedType)
	}
}
