package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/fx"

	"github.com/microshop/orders/pkg/errorbank"
)

// Envelope is the request frame carried on a service request topic.
type Envelope struct {
	Cmd  string          `json:"cmd"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Reply is the response frame published back to the caller.
type Reply struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error *WireError      `json:"error,omitempty"`
}

// WireError carries an application failure across the bus.
type WireError struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error satisfies the error interface.
func (e *WireError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// AppError rehydrates the wire error into the shared taxonomy.
func (e *WireError) AppError() *errorbank.AppError {
	if e == nil {
		return nil
	}
	kind := errorbank.Kind(e.Kind)
	switch kind {
	case errorbank.KindBadRequest, errorbank.KindConflict, errorbank.KindNotFound,
		errorbank.KindUnprocessableEntity, errorbank.KindFailedDependency, errorbank.KindInternal:
	default:
		kind = errorbank.KindInternal
	}
	return errorbank.New(kind, e.Message, errorbank.WithDetails(e.Details))
}

// wireErrorFrom flattens any error into its wire form.
func wireErrorFrom(err error) *WireError {
	appErr := errorbank.From(err)
	return &WireError{
		Kind:    string(appErr.Kind()),
		Message: appErr.Message(),
		Details: appErr.Details(),
	}
}

// Handler processes a decoded command payload and returns a response value.
type Handler func(ctx context.Context, data json.RawMessage) (any, error)

// Caller issues a command to a remote service and decodes the reply into result.
// A nil result discards the reply payload.
type Caller interface {
	Call(ctx context.Context, topic, cmd string, payload, result any) error
}

// Router maps command names to handlers for one service request topic.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRouter constructs an empty command router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Module provides the router and the configured caller to Fx.
var Module = fx.Options(
	fx.Provide(NewRouter),
	fx.Provide(NewCaller),
)

// Register binds a command name to a handler. Later registrations win.
func (r *Router) Register(cmd string, h Handler) {
	if cmd == "" || h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[cmd] = h
}

// Commands lists the registered command names.
func (r *Router) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmds := make([]string, 0, len(r.handlers))
	for c := range r.handlers {
		cmds = append(cmds, c)
	}
	return cmds
}

// Dispatch runs the handler for the envelope and folds the outcome into a Reply.
func (r *Router) Dispatch(ctx context.Context, env Envelope) Reply {
	r.mu.RLock()
	handler, ok := r.handlers[env.Cmd]
	r.mu.RUnlock()
	if !ok {
		return Reply{Error: wireErrorFrom(errorbank.NotFound(fmt.Sprintf("unknown command %q", env.Cmd)))}
	}

	result, err := handler(ctx, env.Data)
	if err != nil {
		return Reply{Error: wireErrorFrom(err)}
	}
	if result == nil {
		return Reply{}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return Reply{Error: wireErrorFrom(errorbank.Internal("encode reply", errorbank.WithCause(err)))}
	}
	return Reply{Data: data}
}

// decodeReply applies a reply to the caller-supplied result value.
func decodeReply(rep Reply, result any) error {
	if rep.Error != nil {
		return rep.Error.AppError()
	}
	if result == nil || len(rep.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(rep.Data, result); err != nil {
		return errorbank.Internal("decode reply", errorbank.WithCause(err))
	}
	return nil
}
