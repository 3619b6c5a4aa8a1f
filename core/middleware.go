// Package core provides the fundamental building blocks of the offshore ORM.
// This file defines the middleware system, which allows cross-cutting concerns
// (logging, metrics, auditing, etc.) to be applied to every adapter call.
package core

import (
	"context"
	"log/slog"
	"time"
)

// Operation represents the type of adapter call being executed by the ORM.
//
// It is used within middlewares to distinguish between creates, updates,
// destroys, counts and queries.
type Operation string

const (
	// OperationCreate corresponds to a create operation.
	OperationCreate Operation = "create"
	// OperationUpdate corresponds to an update operation.
	OperationUpdate Operation = "update"
	// OperationDestroy corresponds to a destroy operation.
	OperationDestroy Operation = "destroy"
	// OperationFind corresponds to a query (find) operation.
	OperationFind Operation = "find"
	// OperationJoin corresponds to an adapter-native join.
	OperationJoin Operation = "join"
	// OperationCount corresponds to a count operation.
	OperationCount Operation = "count"
)

// OperationPayload is the payload every middleware receives.
type OperationPayload struct {
	Collection string
	Connection string
	Criteria   *Criteria
	Values     any
}

// Handler is the function signature executed by the ORM pipeline.
//
// It receives a context, the operation type, and the operation payload.
// Handlers are composed by middlewares to add cross-cutting logic.
type Handler func(ctx context.Context, op Operation, payload *OperationPayload) error

// Middleware is a function that wraps a Handler with additional logic.
//
// Middlewares are chained per registry and executed for every adapter call.
// They follow the decorator pattern.
type Middleware func(next Handler) Handler

// Use registers a middleware on the registry, applied to all operations of
// its collections.
//
// Middlewares are executed in reverse registration order: the most
// recently registered middleware is executed first.
func (r *Registry) Use(mw Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewareList = append(r.middlewareList, mw)
}

// runMiddlewares applies the chain of middlewares to the final handler.
func (r *Registry) runMiddlewares(final Handler) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h := final
	// Apply in reverse order (last registered runs first).
	for i := len(r.middlewareList) - 1; i >= 0; i-- {
		h = r.middlewareList[i](h)
	}
	return h
}

// dispatchOperation executes an adapter call through the middleware chain.
//
// The exec function contains the core logic of the operation and is wrapped
// by the registered middlewares.
func (r *Registry) dispatchOperation(ctx context.Context, op Operation, payload *OperationPayload, exec func(ctx context.Context) error) error {
	handler := r.runMiddlewares(func(ctx context.Context, op Operation, payload *OperationPayload) error {
		return exec(ctx)
	})
	return handler(ctx, op, payload)
}

// DebugMiddleware logs all operations passing through the ORM.
//
// It measures execution time and logs both success and error cases at
// debug level.
//
// Example:
//
//	registry.Use(core.DebugMiddleware(logger.Get()))
func DebugMiddleware(log *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, op Operation, payload *OperationPayload) error {
			start := time.Now()
			attrs := []any{
				slog.String("op", string(op)),
				slog.String("collection", payload.Collection),
				slog.String("connection", payload.Connection),
			}
			if payload.Criteria != nil {
				attrs = append(attrs, slog.String("criteria", Serialize(payload.Criteria)))
			}
			err := next(ctx, op, payload)
			attrs = append(attrs, slog.Duration("took", time.Since(start)))
			if err != nil {
				log.DebugContext(ctx, "operation failed", append(attrs, slog.Any("error", err))...)
			} else {
				log.DebugContext(ctx, "operation succeeded", attrs...)
			}
			return err
		}
	}
}
