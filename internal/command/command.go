// Package command composes the stages a command passes through before and
// after its handler.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var ErrHandlerNotFound = errors.New("command handler not found")

type Command interface {
	CommandType() string
}

// Validator is implemented by commands that can check their own input.
type Validator interface {
	Validate() error
}

// Idempotent is implemented by commands carrying a caller-supplied key.
type Idempotent interface {
	Command
	IdempotencyKey() string
}

type HandlerFunc func(ctx context.Context, cmd Command) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that mws[0] runs first.
func Chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Bus routes commands by type through a shared middleware stack.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[string]HandlerFunc
	middlewares []Middleware
}

func NewBus(mws ...Middleware) *Bus {
	return &Bus{handlers: make(map[string]HandlerFunc), middlewares: mws}
}

func (b *Bus) Register(commandType string, h HandlerFunc) {
	b.mu.Lock()
	b.handlers[commandType] = h
	b.mu.Unlock()
}

// Use appends middlewares; they apply to every later Execute.
func (b *Bus) Use(mws ...Middleware) {
	b.mu.Lock()
	b.middlewares = append(b.middlewares, mws...)
	b.mu.Unlock()
}

func (b *Bus) Execute(ctx context.Context, cmd Command) (any, error) {
	b.mu.RLock()
	h, ok := b.handlers[cmd.CommandType()]
	mws := b.middlewares
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, cmd.CommandType())
	}
	return Chain(h, mws...)(ctx, cmd)
}

// Decode converts a pipeline result into T. Results that went through the
// idempotency stage arrive as json.RawMessage.
func Decode[T any](res any) (T, error) {
	var out T
	switch v := res.(type) {
	case T:
		return v, nil
	case json.RawMessage:
		if err := json.Unmarshal(v, &out); err != nil {
			return out, fmt.Errorf("decode result: %w", err)
		}
		return out, nil
	case []byte:
		if err := json.Unmarshal(v, &out); err != nil {
			return out, fmt.Errorf("decode result: %w", err)
		}
		return out, nil
	default:
		return out, fmt.Errorf("decode result: unexpected %T", res)
	}
}
