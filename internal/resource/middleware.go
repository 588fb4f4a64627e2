package resource

import "context"

// OperationContext carries the mutable arguments of one operation through
// the middleware chain (spec.md §4.3: "ctx.args is mutable; ctx.resource is
// the resource; next() continues the chain").
type OperationContext struct {
	Operation string
	Resource  *Resource
	Args      map[string]interface{}
}

// Next invokes the remainder of the middleware chain (and ultimately the
// core operation), returning its result.
type Next func(ctx context.Context) (interface{}, error)

// Middleware wraps one operation end-to-end. Middleware runs outside the
// hook pipeline: it sees the call and the response, hooks see only the
// pending payload/result at specific points inside the core operation
// (spec.md §4.5: "middleware wraps hooks").
type Middleware func(ctx context.Context, opCtx *OperationContext, next Next) (interface{}, error)

// UseMiddleware registers mw for the named operation, executed in
// registration order around the call and its response.
func (r *Resource) UseMiddleware(operation string, mw Middleware) {
	r.middleware[operation] = append(r.middleware[operation], mw)
}

// runMiddleware builds the chain for operation and invokes it, with core
// as the innermost function.
func (r *Resource) runMiddleware(ctx context.Context, operation string, args map[string]interface{}, core Next) (interface{}, error) {
	chain := r.middleware[operation]
	if len(chain) == 0 {
		return core(ctx)
	}

	opCtx := &OperationContext{Operation: operation, Resource: r, Args: args}

	var invoke func(i int) Next
	invoke = func(i int) Next {
		if i >= len(chain) {
			return core
		}
		return func(ctx context.Context) (interface{}, error) {
			return chain[i](ctx, opCtx, invoke(i+1))
		}
	}
	return invoke(0)(ctx)
}
