package resource

import (
	"context"
	"fmt"
)

// HookPoint names one of the well-defined points a hook can attach to
// (spec.md §4.3).
type HookPoint string

const (
	BeforeInsert HookPoint = "beforeInsert"
	AfterInsert  HookPoint = "afterInsert"
	BeforeUpdate HookPoint = "beforeUpdate"
	AfterUpdate  HookPoint = "afterUpdate"
	BeforeDelete HookPoint = "beforeDelete"
	AfterDelete  HookPoint = "afterDelete"
	BeforeQuery  HookPoint = "beforeQuery"
	AfterQuery   HookPoint = "afterQuery"
)

// HookFunc may mutate the pending payload (before-hooks) or the result
// (after-hooks) by returning a non-nil replacement; returning nil means
// "no change" (spec.md §4.5).
type HookFunc func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error)

// namedHook pairs a hook with the name it was registered under, so
// persisted hook definitions can be re-resolved against the process-level
// registry on reconnect (spec.md §4.3: "persistHooks=true").
type namedHook struct {
	name string
	fn   HookFunc
}

// registry is the process-level map of hook name -> implementation that
// lets a manifest-persisted hook definition (name + config only, no
// closure) be re-materialized after a process restart.
var registry = map[string]HookFunc{}

// RegisterHook adds fn to the process-level hook registry under name, so
// AddHook(point, name) can resolve it after reconnect even if this
// resource instance is rebuilt from scratch.
func RegisterHook(name string, fn HookFunc) {
	registry[name] = fn
}

// AddHook attaches a named, registry-resolved hook to a point, in
// registration order. persistHooks resources additionally record the name
// (not the closure) in the resource's manifest entry, via hookPersister, so
// a future process can re-attach it by name.
func (r *Resource) AddHook(point HookPoint, name string) error {
	fn, ok := registry[name]
	if !ok {
		return errHookNotRegistered(name)
	}
	r.hooks[point] = append(r.hooks[point], namedHook{name: name, fn: fn})

	if r.persistHooks && r.hookPersister != nil {
		if err := r.hookPersister(r.namedHooksByPoint()); err != nil {
			return fmt.Errorf("persisting hook %q: %w", name, err)
		}
	}
	return nil
}

// RestoreHook re-attaches a previously persisted hook by name, without
// triggering hookPersister again — used when rehydrating a resource from
// the manifest on reconnect (spec.md §4.3: "re-materialized on reconnect by
// looking up a process-level registry"). It reports whether name is
// currently registered; an unregistered name is not an error here, since
// the registering process may simply not have started yet.
func (r *Resource) RestoreHook(point HookPoint, name string) bool {
	fn, ok := registry[name]
	if !ok {
		return false
	}
	r.hooks[point] = append(r.hooks[point], namedHook{name: name, fn: fn})
	return true
}

// namedHooksByPoint reports, for every hook point, the names of its
// registered (non-inline) hooks in attachment order — the shape
// hookPersister writes into catalog.VersionEntry.Hooks.
func (r *Resource) namedHooksByPoint() map[HookPoint][]string {
	out := make(map[HookPoint][]string, len(r.hooks))
	for point, hooks := range r.hooks {
		var names []string
		for _, h := range hooks {
			if h.name != "" {
				names = append(names, h.name)
			}
		}
		if len(names) > 0 {
			out[point] = names
		}
	}
	return out
}

// AddInlineHook attaches an unnamed hook directly, for callers that do not
// need it to survive a process restart (persistHooks is then a no-op for
// this hook).
func (r *Resource) AddInlineHook(point HookPoint, fn HookFunc) {
	r.hooks[point] = append(r.hooks[point], namedHook{fn: fn})
}

// runHooks executes every hook registered at point in order. A before-hook
// error aborts the operation (spec.md §4.5: "an exception in beforeX
// aborts the op"); an after-hook error is reported via the event bus but
// does not roll back the already-committed mutation.
func (r *Resource) runHooks(ctx context.Context, point HookPoint, payload map[string]interface{}) (map[string]interface{}, error) {
	for _, h := range r.hooks[point] {
		next, err := h.fn(ctx, payload)
		if err != nil {
			if isAfterPoint(point) {
				if r.events != nil {
					r.events.Emit("hookError", map[string]interface{}{
						"resource": r.name,
						"point":    point,
						"hook":     h.name,
						"error":    err.Error(),
					})
				}
				continue
			}
			return payload, err
		}
		if next != nil {
			payload = next
		}
	}
	return payload, nil
}

func isAfterPoint(p HookPoint) bool {
	switch p {
	case AfterInsert, AfterUpdate, AfterDelete, AfterQuery:
		return true
	}
	return false
}

type hookNotRegisteredError struct{ name string }

func (e *hookNotRegisteredError) Error() string {
	return "hook not registered in process-level registry: " + e.name
}

func errHookNotRegistered(name string) error { return &hookNotRegisteredError{name: name} }
