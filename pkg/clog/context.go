// Package clog carries structured log attributes through context so that a
// single request-scoped log line can be enriched from anywhere below the
// middleware. It wraps log/slog; no logger of its own.
package clog

import (
	"context"
	"sync"
)

type ctxAttrs struct {
	mu         sync.RWMutex
	attributes map[string]any
}

type ctxAttrsKey struct{}

// ContextWithAttrs returns a context carrying an empty attribute bag.
func ContextWithAttrs(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxAttrsKey{}, &ctxAttrs{
		attributes: make(map[string]any),
	})
}

// AddAttribute records a key/value on the context's bag. No-op when the
// context does not carry one.
func AddAttribute(ctx context.Context, key string, value any) {
	bag, ok := ctx.Value(ctxAttrsKey{}).(*ctxAttrs)
	if !ok {
		return
	}
	bag.mu.Lock()
	defer bag.mu.Unlock()
	bag.attributes[key] = value
}

func AddAttributes(ctx context.Context, attributes map[string]any) {
	bag, ok := ctx.Value(ctxAttrsKey{}).(*ctxAttrs)
	if !ok {
		return
	}
	bag.mu.Lock()
	defer bag.mu.Unlock()
	for k, v := range attributes {
		bag.attributes[k] = v
	}
}

// GetAttributes returns a copy of the context's attribute bag, or nil.
func GetAttributes(ctx context.Context) map[string]any {
	bag, ok := ctx.Value(ctxAttrsKey{}).(*ctxAttrs)
	if !ok {
		return nil
	}
	bag.mu.RLock()
	defer bag.mu.RUnlock()
	copied := make(map[string]any, len(bag.attributes))
	for k, v := range bag.attributes {
		copied[k] = v
	}
	return copied
}

const (
	ErrorAttributeKey = "error.message"
	StackAttributeKey = "error.stack"
)

func AddError(ctx context.Context, err error) {
	AddAttribute(ctx, ErrorAttributeKey, err)
}

func AddStack(ctx context.Context, stack string) {
	AddAttribute(ctx, StackAttributeKey, stack)
}
