package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/microshop/orders/pkg/errorbank"
)

// Bus is an in-process Caller that dispatches directly to mounted routers.
// It backs the inproc messaging driver and the transport-level tests.
type Bus struct {
	mu      sync.RWMutex
	routers map[string]*Router
}

// NewBus constructs an empty in-process bus.
func NewBus() *Bus {
	return &Bus{routers: make(map[string]*Router)}
}

// Mount exposes a router on the given topic.
func (b *Bus) Mount(topic string, r *Router) {
	if topic == "" || r == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routers[topic] = r
}

// Handle is a convenience for mounting a single command handler on a topic.
func (b *Bus) Handle(topic, cmd string, h Handler) {
	b.mu.Lock()
	router, ok := b.routers[topic]
	if !ok {
		router = NewRouter()
		b.routers[topic] = router
	}
	b.mu.Unlock()
	router.Register(cmd, h)
}

// Call dispatches the command synchronously on the mounted router.
func (b *Bus) Call(ctx context.Context, topic, cmd string, payload, result any) error {
	b.mu.RLock()
	router, ok := b.routers[topic]
	b.mu.RUnlock()
	if !ok {
		return errorbank.FailedDependency(fmt.Sprintf("no service mounted on topic %q", topic))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return errorbank.Internal("encode request", errorbank.WithCause(err))
	}
	rep := router.Dispatch(ctx, Envelope{Cmd: cmd, Data: data})
	return decodeReply(rep, result)
}
